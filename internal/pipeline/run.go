package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/banshee-data/singlecell.report/internal/cluster"
	"github.com/banshee-data/singlecell.report/internal/normalize"
	"github.com/banshee-data/singlecell.report/internal/qc"
	"github.com/banshee-data/singlecell.report/internal/reduce"
	"github.com/banshee-data/singlecell.report/internal/report"
	"github.com/banshee-data/singlecell.report/internal/scexp"
	storage "github.com/banshee-data/singlecell.report/internal/storage/sqlite"
	"github.com/banshee-data/singlecell.report/internal/tenx"
)

// Label set names written by the pipeline.
const (
	LabelsPrelim  = "kmeans_prelim"
	LabelsLouvain = "louvain"
	LabelsKMeans  = "kmeans"
)

// Runtime bundles the external dependencies of a run. Passing a Runtime
// through Run makes wiring explicit and testing deterministic. A nil Store
// disables persistence; an empty OutDir disables report files.
type Runtime struct {
	DataDir string
	OutDir  string
	Store   *storage.RunStore
}

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage   string
	Elapsed time.Duration
}

// RunResult summarises a completed run.
type RunResult struct {
	RunID        string
	Experiment   *scexp.Experiment
	Sweep        []cluster.ElbowPoint
	CellsRemoved int
	GenesRemoved int
	Timings      []StageTiming
}

// Run executes the full analysis sequentially: each stage materialises its
// output before the next starts, and any stage error aborts the run.
func Run(ctx context.Context, rt Runtime, cfg *Config) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res := &RunResult{}
	seed := cfg.GetSeed()

	// Load
	start, err := stageStart(ctx, "load")
	if err != nil {
		return nil, err
	}
	exp, err := tenx.Load(rt.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load stage: %w", err)
	}
	nGenesLoaded, nCellsLoaded := exp.NGenes(), exp.NCells()
	res.Experiment = exp
	res.finish("load", start)
	log.Printf("pipeline: loaded %d genes x %d cells from %s", nGenesLoaded, nCellsLoaded, rt.DataDir)

	// QC
	start, err = stageStart(ctx, "qc")
	if err != nil {
		return nil, err
	}
	subsets := map[string]*regexp.Regexp{"Mito": cfg.GetMitoPattern()}
	if err := qc.Metrics(exp, subsets); err != nil {
		return nil, fmt.Errorf("qc stage: %w", err)
	}
	filter := qc.CellFilter{
		MADMultiplier: cfg.GetMADMultiplier(),
		MinDetected:   cfg.GetMinDetected(),
		MaxSum:        cfg.GetMaxSum(),
		SubsetName:    "Mito",
	}
	cellsRemoved, err := qc.FilterCells(exp, filter)
	if err != nil {
		return nil, fmt.Errorf("qc stage: %w", err)
	}
	genesRemoved, err := qc.FilterGenes(exp, cfg.GetGeneMinCount(), cfg.GetGeneMinFraction())
	if err != nil {
		return nil, fmt.Errorf("qc stage: %w", err)
	}
	res.CellsRemoved, res.GenesRemoved = cellsRemoved, genesRemoved
	res.finish("qc", start)
	log.Printf("pipeline: qc removed %d cells and %d genes, %d x %d remain",
		cellsRemoved, genesRemoved, exp.NGenes(), exp.NCells())

	// Preliminary clustering on raw counts
	start, err = stageStart(ctx, "prelim")
	if err != nil {
		return nil, err
	}
	prelim := cluster.MiniBatchKMeans{
		K:         cfg.GetPrelimK(),
		BatchSize: cfg.GetPrelimBatchSize(),
		Seed:      seed,
	}
	prelimRes, err := prelim.FitCells(exp.Counts())
	if err != nil {
		return nil, fmt.Errorf("prelim stage: %w", err)
	}
	if err := exp.SetLabels(LabelsPrelim, prelimRes.Labels, prelimRes.K); err != nil {
		return nil, fmt.Errorf("prelim stage: %w", err)
	}
	res.finish("prelim", start)
	log.Printf("pipeline: preliminary k-means assigned %d clusters (wcss=%.1f)", prelimRes.K, prelimRes.WCSS)

	// Normalisation
	start, err = stageStart(ctx, "normalize")
	if err != nil {
		return nil, err
	}
	sf, err := normalize.PooledSizeFactors(exp.Counts(), prelimRes.Labels, prelimRes.K, cfg.GetMinMean())
	if err != nil {
		return nil, fmt.Errorf("normalize stage: %w", err)
	}
	if err := exp.ColData().SetFloats(normalize.ColSizeFactor, sf); err != nil {
		return nil, fmt.Errorf("normalize stage: %w", err)
	}
	if err := normalize.LogNormCounts(exp, sf); err != nil {
		return nil, fmt.Errorf("normalize stage: %w", err)
	}
	res.finish("normalize", start)
	log.Printf("pipeline: pooled size factors computed over %d clusters", prelimRes.K)

	// Reduction
	start, err = stageStart(ctx, "reduce")
	if err != nil {
		return nil, err
	}
	pcaCfg := reduce.PCAConfig{
		NTopGenes:   cfg.GetNTopGenes(),
		NComponents: cfg.GetNComponents(),
		Oversample:  reduce.DefaultOversample,
		PowerIters:  reduce.DefaultPowerIters,
		Seed:        seed,
	}
	if err := reduce.PCA(exp, pcaCfg); err != nil {
		return nil, fmt.Errorf("reduce stage (PCA): %w", err)
	}
	if err := reduce.GLMPCA(exp, pcaCfg); err != nil {
		return nil, fmt.Errorf("reduce stage (GLM-PCA): %w", err)
	}
	if cfg.GetNBFactors() {
		nbCfg := reduce.DefaultNBFactorsConfig()
		nbCfg.NTopGenes = cfg.GetNTopGenes()
		nbCfg.Seed = seed
		if err := reduce.NBFactors(exp, nbCfg); err != nil {
			return nil, fmt.Errorf("reduce stage (NB factors): %w", err)
		}
	}
	res.finish("reduce", start)
	log.Printf("pipeline: embeddings computed: %v", exp.ReducedDimNames())

	// Final clustering on the configured embedding
	start, err = stageStart(ctx, "cluster")
	if err != nil {
		return nil, err
	}
	emb := exp.ReducedDim(cfg.GetEmbedding())
	if emb == nil {
		return nil, fmt.Errorf("cluster stage: embedding %q not computed", cfg.GetEmbedding())
	}
	neighbors, err := cluster.KNN(emb, cfg.GetNeighbors())
	if err != nil {
		return nil, fmt.Errorf("cluster stage: %w", err)
	}
	louvainRes, err := cluster.Louvain(cluster.SNNGraph(neighbors), seed)
	if err != nil {
		return nil, fmt.Errorf("cluster stage: %w", err)
	}
	if err := exp.SetLabels(LabelsLouvain, louvainRes.Labels, louvainRes.K); err != nil {
		return nil, fmt.Errorf("cluster stage: %w", err)
	}

	sweep, err := cluster.Sweep(emb, cfg.GetSweepMinK(), cfg.GetSweepMaxK(), cfg.GetSweepBatchSize(), seed)
	if err != nil {
		return nil, fmt.Errorf("cluster stage: %w", err)
	}
	res.Sweep = sweep
	final := cluster.MiniBatchKMeans{
		K:         cfg.GetChosenK(),
		BatchSize: cfg.GetSweepBatchSize(),
		Seed:      seed,
	}
	finalRes, err := final.FitRows(emb)
	if err != nil {
		return nil, fmt.Errorf("cluster stage: %w", err)
	}
	if err := exp.SetLabels(LabelsKMeans, finalRes.Labels, finalRes.K); err != nil {
		return nil, fmt.Errorf("cluster stage: %w", err)
	}
	res.finish("cluster", start)
	log.Printf("pipeline: louvain found %d communities, k-means labelled %d clusters",
		louvainRes.K, finalRes.K)

	// Report
	if rt.OutDir != "" {
		start, err = stageStart(ctx, "report")
		if err != nil {
			return nil, err
		}
		if err := writeReports(exp, cfg, sweep, rt.OutDir); err != nil {
			return nil, fmt.Errorf("report stage: %w", err)
		}
		res.finish("report", start)
		log.Printf("pipeline: reports written to %s", rt.OutDir)
	}

	// Persist
	if rt.Store != nil {
		start, err = stageStart(ctx, "store")
		if err != nil {
			return nil, err
		}
		runID, err := persist(rt.Store, exp, cfg, res, nGenesLoaded, nCellsLoaded, rt.DataDir)
		if err != nil {
			return nil, fmt.Errorf("store stage: %w", err)
		}
		res.RunID = runID
		res.finish("store", start)
		log.Printf("pipeline: run %s persisted", runID)
	}

	return res, nil
}

// stageStart aborts between stages once the context is cancelled.
func stageStart(ctx context.Context, stage string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, fmt.Errorf("%s stage: %w", stage, err)
	}
	return time.Now(), nil
}

func (r *RunResult) finish(stage string, start time.Time) {
	r.Timings = append(r.Timings, StageTiming{Stage: stage, Elapsed: time.Since(start)})
}

// writeReports renders the PNG plots, the interactive HTML page and the
// cross-tabulation into dir.
func writeReports(exp *scexp.Experiment, cfg *Config, sweep []cluster.ElbowPoint, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	embedding := cfg.GetEmbedding()
	if err := report.SaveEmbeddingScatter(exp, embedding, LabelsLouvain, filepath.Join(dir, "embedding.png")); err != nil {
		return err
	}
	if err := report.SaveElbowCurve(sweep, filepath.Join(dir, "elbow.png")); err != nil {
		return err
	}

	html, err := os.Create(filepath.Join(dir, "report.html"))
	if err != nil {
		return fmt.Errorf("create report.html: %w", err)
	}
	defer html.Close()
	if err := report.WriteHTML(exp, map[string]string{embedding: LabelsLouvain}, sweep, html); err != nil {
		return err
	}

	tab, err := report.CrossTab(exp, LabelsLouvain, LabelsKMeans)
	if err != nil {
		return err
	}
	rendered := report.RenderCrossTab(tab, LabelsLouvain, LabelsKMeans)
	if err := os.WriteFile(filepath.Join(dir, "crosstab.txt"), []byte(rendered+"\n"), 0o644); err != nil {
		return fmt.Errorf("write crosstab: %w", err)
	}
	return nil
}

// persist records the run, its label sets and the sweep curve in the store.
func persist(store *storage.RunStore, exp *scexp.Experiment, cfg *Config, res *RunResult, nGenesLoaded, nCellsLoaded int, dataset string) (string, error) {
	params, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal params: %w", err)
	}
	run := &storage.AnalysisRun{
		Dataset:      dataset,
		ParamsJSON:   params,
		NGenesLoaded: nGenesLoaded,
		NCellsLoaded: nCellsLoaded,
		NGenesKept:   exp.NGenes(),
		NCellsKept:   exp.NCells(),
	}
	if err := store.Insert(run); err != nil {
		return "", err
	}

	barcodes := exp.ColData().Strings("barcode")
	for _, name := range exp.LabelNames() {
		assign, _, _ := exp.Labels(name)
		if err := store.SaveLabels(run.RunID, name, barcodes, assign); err != nil {
			return "", err
		}
	}
	if err := store.SaveSweep(run.RunID, res.Sweep); err != nil {
		return "", err
	}
	return run.RunID, nil
}
