package tenx

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/singlecell.report/internal/httputil"
)

// Fetch mirrors the three dataset files from a URL prefix into cacheDir and
// returns the directory ready for Load. Files already present in the cache
// are not re-downloaded. Network errors propagate to the caller.
func Fetch(baseURL, cacheDir string) (string, error) {
	return FetchWith(httputil.NewStandardClient(nil), baseURL, cacheDir)
}

// FetchWith is Fetch with an injectable HTTP client.
func FetchWith(client httputil.Getter, baseURL, cacheDir string) (string, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("tenx: creating cache dir: %w", err)
	}
	base := strings.TrimRight(baseURL, "/")
	for _, name := range []string{matrixNames[0], featureNames[0], barcodeNames[0]} {
		dst := filepath.Join(cacheDir, name)
		if _, err := os.Stat(dst); err == nil {
			continue
		}
		if err := download(client, base+"/"+name, dst); err != nil {
			return "", err
		}
	}
	return cacheDir, nil
}

func download(client httputil.Getter, url, dst string) error {
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("tenx: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tenx: fetching %s: status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("tenx: writing %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
