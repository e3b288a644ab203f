// Command singlecell runs the full single-cell RNA-seq analysis over a 10x
// Genomics count directory: QC filtering, pooled normalisation, PCA and
// GLM-PCA embeddings, graph and k-means clustering, and report rendering.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/singlecell.report/internal/pipeline"
	storage "github.com/banshee-data/singlecell.report/internal/storage/sqlite"
	"github.com/banshee-data/singlecell.report/internal/tenx"
	"github.com/banshee-data/singlecell.report/internal/version"
)

var (
	dataDir    = flag.String("data", "", "Directory with matrix.mtx[.gz], features.tsv[.gz], barcodes.tsv[.gz]")
	fetchURL   = flag.String("fetch", "", "Base URL to mirror the dataset from into -data before running")
	configPath = flag.String("config", "", "JSON config overlay (omitted fields keep defaults)")
	outDir     = flag.String("out", "out", "Directory for report files (empty disables reports)")
	dbPath     = flag.String("db", "", "SQLite run database (empty disables persistence)")
	seed       = flag.Int64("seed", 0, "Random seed for sketching, k-means and Louvain")
	nbFactors  = flag.Bool("nb-factors", false, "Also fit the negative-binomial factor model")
	verbose    = flag.Bool("v", false, "Log per-stage timings")
)

// applyFlagOverrides merges flag values into cfg for the flags the user
// actually passed, so config-file values survive unset flags.
func applyFlagOverrides(cfg *pipeline.Config, set map[string]bool) {
	if set["seed"] {
		cfg.Seed = seed
	}
	if set["nb-factors"] {
		cfg.NBFactors = nbFactors
	}
}

func main() {
	flag.Parse()

	log.Printf("singlecell.report %s", version.String())

	if *dataDir == "" {
		log.Fatal("-data directory is required")
	}

	cfg := pipeline.EmptyConfig()
	if *configPath != "" {
		var err error
		cfg, err = pipeline.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	// Explicitly passed flags override the file; defaults do not.
	flagsSet := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { flagsSet[f.Name] = true })
	applyFlagOverrides(cfg, flagsSet)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *fetchURL != "" {
		log.Printf("mirroring dataset from %s", *fetchURL)
		if _, err := tenx.Fetch(*fetchURL, *dataDir); err != nil {
			log.Fatalf("failed to fetch dataset: %v", err)
		}
	}

	rt := pipeline.Runtime{DataDir: *dataDir, OutDir: *outDir}
	if *dbPath != "" {
		db, err := storage.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open run database: %v", err)
		}
		defer db.Close()
		rt.Store = storage.NewRunStore(db)
	}

	res, err := pipeline.Run(ctx, rt, cfg)
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}

	if *verbose {
		for _, st := range res.Timings {
			log.Printf("stage %-10s %v", st.Stage, st.Elapsed)
		}
	}
	log.Printf("done: %d genes x %d cells analysed (removed %d cells, %d genes)",
		res.Experiment.NGenes(), res.Experiment.NCells(), res.CellsRemoved, res.GenesRemoved)
	if res.RunID != "" {
		log.Printf("run recorded as %s", res.RunID)
	}
}
