package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/singlecell.report/internal/cluster"
	"github.com/banshee-data/singlecell.report/internal/normalize"
	"github.com/banshee-data/singlecell.report/internal/qc"
	storage "github.com/banshee-data/singlecell.report/internal/storage/sqlite"
)

const (
	testGenes = 60
	testCells = 150
)

// writeDataset generates a small two-population dataset in the on-disk
// layout the loader expects. Gene 0 is mitochondrial so the QC subset rule
// has something to match.
func writeDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(99))

	type entry struct{ row, col, val int }
	var entries []entry
	for j := 0; j < testCells; j++ {
		markerLo, markerHi := 1, testGenes/3
		if j >= testCells/2 {
			markerLo, markerHi = testGenes/3, 2*testGenes/3
		}
		// Mito gene: low background everywhere.
		entries = append(entries, entry{0, j, 1 + rng.Intn(2)})
		for g := 1; g < testGenes; g++ {
			v := 1 + rng.Intn(4)
			if g >= markerLo && g < markerHi {
				v += 15 + rng.Intn(10)
			}
			entries = append(entries, entry{g, j, v})
		}
	}

	var mtx strings.Builder
	mtx.WriteString("%%MatrixMarket matrix coordinate integer general\n")
	fmt.Fprintf(&mtx, "%d %d %d\n", testGenes, testCells, len(entries))
	for _, e := range entries {
		fmt.Fprintf(&mtx, "%d %d %d\n", e.row+1, e.col+1, e.val)
	}
	if err := os.WriteFile(filepath.Join(dir, "matrix.mtx"), []byte(mtx.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	var features strings.Builder
	features.WriteString("ENSG0000\tMT-CO1\tGene Expression\n")
	for g := 1; g < testGenes; g++ {
		fmt.Fprintf(&features, "ENSG%04d\tGENE%d\tGene Expression\n", g, g)
	}
	if err := os.WriteFile(filepath.Join(dir, "features.tsv"), []byte(features.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	var barcodes strings.Builder
	for j := 0; j < testCells; j++ {
		fmt.Fprintf(&barcodes, "CELL%04d-1\n", j)
	}
	if err := os.WriteFile(filepath.Join(dir, "barcodes.tsv"), []byte(barcodes.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

// testConfig scales the thresholds down to the synthetic dataset.
func testConfig() *Config {
	minDetected := 10
	prelimK := 4
	batch := 50
	nTop := 30
	nComp := 5
	neighbors := 8
	sweepMin, sweepMax := 2, 6
	chosen := 3
	seed := int64(42)
	return &Config{
		MinDetected:     &minDetected,
		PrelimK:         &prelimK,
		PrelimBatchSize: &batch,
		NTopGenes:       &nTop,
		NComponents:     &nComp,
		Neighbors:       &neighbors,
		SweepMinK:       &sweepMin,
		SweepMaxK:       &sweepMax,
		ChosenK:         &chosen,
		Seed:            &seed,
	}
}

func TestRunEndToEnd(t *testing.T) {
	dataDir := writeDataset(t)
	outDir := filepath.Join(t.TempDir(), "out")

	db, err := storage.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	store := storage.NewRunStore(db)

	rt := Runtime{DataDir: dataDir, OutDir: outDir, Store: store}
	cfg := testConfig()

	res, err := Run(context.Background(), rt, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	exp := res.Experiment

	// Every surviving cell satisfies the exclusion rules.
	detected := exp.ColData().Ints(qc.ColDetected)
	sums := exp.ColData().Floats(qc.ColSum)
	for j := 0; j < exp.NCells(); j++ {
		if detected[j] < cfg.GetMinDetected() {
			t.Errorf("cell %d detected=%d below floor", j, detected[j])
		}
		if sums[j] > cfg.GetMaxSum() {
			t.Errorf("cell %d sum=%f above ceiling", j, sums[j])
		}
	}

	// Dimensions stay aligned after every stage.
	if err := exp.Validate(); err != nil {
		t.Errorf("experiment inconsistent after run: %v", err)
	}

	// Embedding shapes.
	for _, name := range []string{"PCA", "GLMPCA"} {
		emb := exp.ReducedDim(name)
		if emb == nil {
			t.Fatalf("embedding %q missing", name)
		}
		r, c := emb.Dims()
		if r != exp.NCells() || c != cfg.GetNComponents() {
			t.Errorf("%s dims = %dx%d, want %dx%d", name, r, c, exp.NCells(), cfg.GetNComponents())
		}
	}
	if exp.ReducedDim("NBFactors") != nil {
		t.Error("NB factors computed despite being disabled")
	}

	// Label columns: one per cell, alphabet within the configured k.
	for name, maxK := range map[string]int{
		LabelsPrelim: cfg.GetPrelimK(),
		LabelsKMeans: cfg.GetChosenK(),
	} {
		assign, k, ok := exp.Labels(name)
		if !ok {
			t.Fatalf("label set %q missing", name)
		}
		if len(assign) != exp.NCells() {
			t.Errorf("%s has %d labels for %d cells", name, len(assign), exp.NCells())
		}
		if k > maxK {
			t.Errorf("%s has %d levels, configured max %d", name, k, maxK)
		}
	}
	if _, _, ok := exp.Labels(LabelsLouvain); !ok {
		t.Fatal("louvain labels missing")
	}

	// Size factors present and positive.
	sf := exp.ColData().Floats(normalize.ColSizeFactor)
	if sf == nil {
		t.Fatal("size factors missing")
	}
	for j, v := range sf {
		if v <= 0 {
			t.Errorf("size factor %d = %v", j, v)
		}
	}

	// Sweep covers the configured range.
	if len(res.Sweep) != cfg.GetSweepMaxK()-cfg.GetSweepMinK()+1 {
		t.Errorf("sweep has %d points", len(res.Sweep))
	}

	// Report files exist.
	for _, name := range []string{"embedding.png", "elbow.png", "report.html", "crosstab.txt"} {
		if info, err := os.Stat(filepath.Join(outDir, name)); err != nil || info.Size() == 0 {
			t.Errorf("report file %s missing or empty: %v", name, err)
		}
	}

	// Run persisted with labels and sweep.
	if res.RunID == "" {
		t.Fatal("run not persisted")
	}
	stored, err := store.Get(res.RunID)
	if err != nil {
		t.Fatalf("stored run: %v", err)
	}
	if stored.NCellsKept != exp.NCells() || stored.NGenesKept != exp.NGenes() {
		t.Errorf("stored summary %+v does not match experiment %dx%d", stored, exp.NGenes(), exp.NCells())
	}
	labels, err := store.Labels(res.RunID, LabelsLouvain)
	if err != nil || len(labels) != exp.NCells() {
		t.Errorf("stored louvain labels: len=%d err=%v", len(labels), err)
	}
	sweep, err := store.Sweep(res.RunID)
	if err != nil || len(sweep) != len(res.Sweep) {
		t.Errorf("stored sweep: len=%d err=%v", len(sweep), err)
	}
}

func TestRunReproducible(t *testing.T) {
	dataDir := writeDataset(t)
	cfg := testConfig()

	rt := Runtime{DataDir: dataDir}
	first, err := Run(context.Background(), rt, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Run(context.Background(), rt, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	a, _, _ := first.Experiment.Labels(LabelsPrelim)
	b, _, _ := second.Experiment.Labels(LabelsPrelim)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("preliminary labels diverged at cell %d: %d vs %d", i, a[i], b[i])
		}
	}

	sfA := first.Experiment.ColData().Floats(normalize.ColSizeFactor)
	sfB := second.Experiment.ColData().Floats(normalize.ColSizeFactor)
	for i := range sfA {
		if sfA[i] != sfB[i] {
			t.Fatalf("size factors diverged at cell %d: %v vs %v", i, sfA[i], sfB[i])
		}
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Runtime{DataDir: writeDataset(t)}, testConfig())
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestRunBadDataDir(t *testing.T) {
	_, err := Run(context.Background(), Runtime{DataDir: t.TempDir()}, testConfig())
	if err == nil {
		t.Fatal("expected error for empty data dir")
	}
}

func TestLoadConfigOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	body := `{"chosen_k": 8, "seed": 7}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GetChosenK() != 8 {
		t.Errorf("chosen_k = %d, want 8", cfg.GetChosenK())
	}
	if cfg.GetSeed() != 7 {
		t.Errorf("seed = %d, want 7", cfg.GetSeed())
	}
	// Omitted fields keep the compiled defaults.
	if cfg.GetPrelimK() != DefaultPrelimK {
		t.Errorf("prelim_k = %d, want %d", cfg.GetPrelimK(), DefaultPrelimK)
	}
	if cfg.GetMADMultiplier() != qc.DefaultMADMultiplier {
		t.Errorf("mad_multiplier = %v", cfg.GetMADMultiplier())
	}
}

func TestConfigValidate(t *testing.T) {
	bad := EmptyConfig()
	k := 40
	bad.ChosenK = &k
	if err := bad.Validate(); err == nil {
		t.Error("chosen_k outside sweep range accepted")
	}

	bad = EmptyConfig()
	pattern := "["
	bad.MitoPattern = &pattern
	if err := bad.Validate(); err == nil {
		t.Error("invalid mito_pattern accepted")
	}

	bad = EmptyConfig()
	emb := "UMAP"
	bad.Embedding = &emb
	if err := bad.Validate(); err == nil {
		t.Error("unknown embedding accepted")
	}

	if err := EmptyConfig().Validate(); err != nil {
		t.Errorf("defaults rejected: %v", err)
	}
}

func TestConfigMitoPatternDefault(t *testing.T) {
	re := EmptyConfig().GetMitoPattern()
	if !re.MatchString("MT-CO1") {
		t.Error("default pattern misses MT-CO1")
	}
	if re.MatchString("ATP5F1A") {
		t.Error("default pattern matches a nuclear gene")
	}

	cfg := EmptyConfig()
	pattern := "^mt-"
	cfg.MitoPattern = &pattern
	if !cfg.GetMitoPattern().MatchString("mt-co1") {
		t.Error("overridden pattern misses mt-co1")
	}
}

func TestConfigBatchSizesIndependent(t *testing.T) {
	cfg := EmptyConfig()
	prelim := 100
	cfg.PrelimBatchSize = &prelim

	if got := cfg.GetPrelimBatchSize(); got != 100 {
		t.Errorf("prelim batch = %d, want 100", got)
	}
	if got := cfg.GetSweepBatchSize(); got != cluster.DefaultBatchSize {
		t.Errorf("sweep batch = %d, want default %d", got, cluster.DefaultBatchSize)
	}

	sweep := 250
	cfg.SweepBatchSize = &sweep
	if got := cfg.GetSweepBatchSize(); got != 250 {
		t.Errorf("sweep batch = %d, want 250", got)
	}

	bad := EmptyConfig()
	zero := 0
	bad.SweepBatchSize = &zero
	if err := bad.Validate(); err == nil {
		t.Error("sweep_batch_size of 0 accepted")
	}
}
