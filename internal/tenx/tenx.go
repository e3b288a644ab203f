// Package tenx loads count matrices stored in the 10x Genomics triplet
// layout: a MatrixMarket coordinate file plus gene and barcode TSV tables,
// any of which may be gzip-compressed.
//
// A dataset identifier is a directory (or, via Fetch, a URL prefix cached to
// a local directory) containing matrix.mtx[.gz], features.tsv[.gz] and
// barcodes.tsv[.gz]. The older genes.tsv naming is accepted as a fallback.
package tenx

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// ErrNotFound is returned when a dataset directory is missing one of the
// expected files.
var ErrNotFound = errors.New("tenx: dataset file not found")

// candidate file names per component, checked in order.
var (
	matrixNames  = []string{"matrix.mtx.gz", "matrix.mtx"}
	featureNames = []string{"features.tsv.gz", "features.tsv", "genes.tsv.gz", "genes.tsv"}
	barcodeNames = []string{"barcodes.tsv.gz", "barcodes.tsv"}
)

// Load reads a dataset directory into an Experiment with raw counts, gene
// IDs/symbols and cell barcodes populated. All failures are wrapped and
// propagate to the caller; there is no retry.
func Load(dir string) (*scexp.Experiment, error) {
	matrixPath, err := findFile(dir, matrixNames)
	if err != nil {
		return nil, err
	}
	featurePath, err := findFile(dir, featureNames)
	if err != nil {
		return nil, err
	}
	barcodePath, err := findFile(dir, barcodeNames)
	if err != nil {
		return nil, err
	}

	genes, cells, entries, err := readMatrixMarket(matrixPath)
	if err != nil {
		return nil, fmt.Errorf("tenx: reading %s: %w", matrixPath, err)
	}
	ids, symbols, err := readFeatures(featurePath)
	if err != nil {
		return nil, fmt.Errorf("tenx: reading %s: %w", featurePath, err)
	}
	barcodes, err := readLines(barcodePath)
	if err != nil {
		return nil, fmt.Errorf("tenx: reading %s: %w", barcodePath, err)
	}

	if len(ids) != genes {
		return nil, fmt.Errorf("tenx: matrix has %d genes but %s lists %d", genes, filepath.Base(featurePath), len(ids))
	}
	if len(barcodes) != cells {
		return nil, fmt.Errorf("tenx: matrix has %d cells but %s lists %d", cells, filepath.Base(barcodePath), len(barcodes))
	}

	counts, err := scexp.NewCSC(genes, cells, entries)
	if err != nil {
		return nil, fmt.Errorf("tenx: building counts: %w", err)
	}
	exp := scexp.NewExperiment(counts)
	if err := exp.RowData().SetStrings("id", ids); err != nil {
		return nil, err
	}
	if err := exp.RowData().SetStrings("symbol", symbols); err != nil {
		return nil, err
	}
	if err := exp.ColData().SetStrings("barcode", barcodes); err != nil {
		return nil, err
	}
	return exp, nil
}

func findFile(dir string, names []string) (string, error) {
	for _, name := range names {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("tenx: none of %v in %s: %w", names, dir, ErrNotFound)
}

// open returns a reader for path, transparently decoding gzip.
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &gzipFile{gz: gz, f: f}, nil
}

type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipFile) Close() error {
	gzErr := g.gz.Close()
	fErr := g.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}

// readMatrixMarket parses a coordinate-format MatrixMarket file with integer
// or real entries, 1-based indices.
func readMatrixMarket(path string) (rows, cols int, entries []scexp.Triplet, err error) {
	r, err := open(path)
	if err != nil {
		return 0, 0, nil, err
	}
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<20)

	if !sc.Scan() {
		return 0, 0, nil, errors.New("empty file")
	}
	header := sc.Text()
	if !strings.HasPrefix(header, "%%MatrixMarket") {
		return 0, 0, nil, fmt.Errorf("not a MatrixMarket file: %q", header)
	}
	if !strings.Contains(header, "coordinate") {
		return 0, 0, nil, fmt.Errorf("unsupported MatrixMarket format: %q", header)
	}

	// Skip comments, then read the size line.
	var sizeLine string
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		sizeLine = line
		break
	}
	if sizeLine == "" {
		return 0, 0, nil, errors.New("missing size line")
	}
	fields := strings.Fields(sizeLine)
	if len(fields) != 3 {
		return 0, 0, nil, fmt.Errorf("malformed size line: %q", sizeLine)
	}
	rows, err = strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("bad row count: %w", err)
	}
	cols, err = strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("bad column count: %w", err)
	}
	nnz, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, nil, fmt.Errorf("bad entry count: %w", err)
	}

	entries = make([]scexp.Triplet, 0, nnz)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "%") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return 0, 0, nil, fmt.Errorf("malformed entry: %q", line)
		}
		i, err := strconv.Atoi(fields[0])
		if err != nil {
			return 0, 0, nil, fmt.Errorf("bad row index in %q: %w", line, err)
		}
		j, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, 0, nil, fmt.Errorf("bad column index in %q: %w", line, err)
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return 0, 0, nil, fmt.Errorf("bad value in %q: %w", line, err)
		}
		if v < 0 {
			return 0, 0, nil, fmt.Errorf("negative count in %q", line)
		}
		entries = append(entries, scexp.Triplet{Row: i - 1, Col: j - 1, Val: v})
	}
	if err := sc.Err(); err != nil {
		return 0, 0, nil, err
	}
	if len(entries) != nnz {
		return 0, 0, nil, fmt.Errorf("size line declares %d entries, file has %d", nnz, len(entries))
	}
	return rows, cols, entries, nil
}

// readFeatures parses a features/genes TSV; column 1 is the gene ID, column 2
// the symbol. Single-column files use the ID as the symbol.
func readFeatures(path string) (ids, symbols []string, err error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, nil, err
	}
	ids = make([]string, len(lines))
	symbols = make([]string, len(lines))
	for i, line := range lines {
		fields := strings.Split(line, "\t")
		ids[i] = fields[0]
		if len(fields) > 1 {
			symbols[i] = fields[1]
		} else {
			symbols[i] = fields[0]
		}
	}
	return ids, symbols, nil
}

func readLines(path string) ([]string, error) {
	r, err := open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<20)
	var lines []string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
