package tenx

import (
	"compress/gzip"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/singlecell.report/internal/httputil"
)

func writeGz(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(content)); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip %s: %v", path, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
}

const testMatrix = `%%MatrixMarket matrix coordinate integer general
% test dataset
3 2 4
1 1 5
3 1 2
2 2 1
3 2 7
`

func writeTestDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeGz(t, filepath.Join(dir, "matrix.mtx.gz"), testMatrix)
	writeGz(t, filepath.Join(dir, "features.tsv.gz"),
		"ENSG01\tMT-CO1\tGene Expression\nENSG02\tACTB\tGene Expression\nENSG03\tCD3E\tGene Expression\n")
	writeGz(t, filepath.Join(dir, "barcodes.tsv.gz"), "AAAC-1\nTTTG-1\n")
	return dir
}

func TestLoad(t *testing.T) {
	exp, err := Load(writeTestDataset(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if exp.NGenes() != 3 || exp.NCells() != 2 {
		t.Fatalf("dims = %dx%d, want 3x2", exp.NGenes(), exp.NCells())
	}
	if got := exp.Counts().At(0, 0); got != 5 {
		t.Errorf("counts(0,0) = %v, want 5", got)
	}
	if got := exp.Counts().At(2, 1); got != 7 {
		t.Errorf("counts(2,1) = %v, want 7", got)
	}
	if sym := exp.RowData().Strings("symbol"); sym[0] != "MT-CO1" {
		t.Errorf("symbol[0] = %q, want MT-CO1", sym[0])
	}
	if bc := exp.ColData().Strings("barcode"); bc[1] != "TTTG-1" {
		t.Errorf("barcode[1] = %q, want TTTG-1", bc[1])
	}
	if err := exp.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadUncompressedAndGenesNaming(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "matrix.mtx"), []byte(testMatrix), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "genes.tsv"), []byte("G1\nG2\nG3\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "barcodes.tsv"), []byte("A\nB\n"), 0644); err != nil {
		t.Fatal(err)
	}
	exp, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Single-column features fall back to ID as symbol.
	if sym := exp.RowData().Strings("symbol"); sym[0] != "G1" {
		t.Errorf("symbol[0] = %q, want G1", sym[0])
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestLoadDimensionMismatch(t *testing.T) {
	dir := writeTestDataset(t)
	// Overwrite barcodes with the wrong number of cells.
	writeGz(t, filepath.Join(dir, "barcodes.tsv.gz"), "AAAC-1\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for barcode count mismatch")
	}
}

func TestLoadEntryCountMismatch(t *testing.T) {
	dir := t.TempDir()
	bad := strings.Replace(testMatrix, "3 2 4", "3 2 5", 1)
	writeGz(t, filepath.Join(dir, "matrix.mtx.gz"), bad)
	writeGz(t, filepath.Join(dir, "features.tsv.gz"), "G1\nG2\nG3\n")
	writeGz(t, filepath.Join(dir, "barcodes.tsv.gz"), "A\nB\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for declared/actual entry mismatch")
	}
}

func TestFetchCachesFiles(t *testing.T) {
	dir := writeTestDataset(t)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.ServeFile(w, r, filepath.Join(dir, filepath.Base(r.URL.Path)))
	}))
	defer srv.Close()

	cache := t.TempDir()
	got, err := Fetch(srv.URL, cache)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got != cache {
		t.Errorf("Fetch dir = %q, want %q", got, cache)
	}
	if hits != 3 {
		t.Errorf("server hits = %d, want 3", hits)
	}
	if _, err := Load(cache); err != nil {
		t.Fatalf("Load fetched dataset: %v", err)
	}

	// Second fetch is a no-op.
	if _, err := Fetch(srv.URL, cache); err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if hits != 3 {
		t.Errorf("server hits after cached fetch = %d, want 3", hits)
	}
}

func TestFetchPropagatesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Fetch(srv.URL, t.TempDir())
	if err == nil || !strings.Contains(err.Error(), fmt.Sprint(http.StatusNotFound)) {
		t.Fatalf("error = %v, want 404 status error", err)
	}
}

func TestFetchWithInjectedClient(t *testing.T) {
	mock := httputil.NewMockGetter().
		AddResponse("http://data.example/matrix.mtx.gz", http.StatusOK, "fake matrix").
		AddResponse("http://data.example/features.tsv.gz", http.StatusOK, "fake features").
		AddResponse("http://data.example/barcodes.tsv.gz", http.StatusOK, "fake barcodes")

	cache := t.TempDir()
	dir, err := FetchWith(mock, "http://data.example/", cache)
	if err != nil {
		t.Fatalf("FetchWith: %v", err)
	}
	if dir != cache {
		t.Errorf("dir = %s, want %s", dir, cache)
	}
	if mock.RequestCount() != 3 {
		t.Errorf("requests = %d, want 3", mock.RequestCount())
	}
	body, err := os.ReadFile(filepath.Join(cache, "matrix.mtx.gz"))
	if err != nil || string(body) != "fake matrix" {
		t.Errorf("mirrored matrix = %q err=%v", body, err)
	}
}
