// Package pipeline wires the analysis stages into a single sequential run:
// load, QC, preliminary clustering, normalisation, reduction, final
// clustering, reporting and optional persistence.
package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/banshee-data/singlecell.report/internal/cluster"
	"github.com/banshee-data/singlecell.report/internal/normalize"
	"github.com/banshee-data/singlecell.report/internal/qc"
	"github.com/banshee-data/singlecell.report/internal/reduce"
)

// Default values for fields omitted from the config JSON.
const (
	DefaultSweepMinK = 5
	DefaultSweepMaxK = 20
	DefaultChosenK   = 13
	DefaultPrelimK   = 10
	DefaultEmbedding = reduce.NameGLMPCA
)

// Config holds the tunable parameters of a run. The schema is a JSON overlay:
// fields omitted from the file keep their compiled defaults, so partial
// configs are safe.
type Config struct {
	// QC params
	MADMultiplier   *float64 `json:"mad_multiplier,omitempty"`
	MinDetected     *int     `json:"min_detected,omitempty"`
	MaxSum          *float64 `json:"max_sum,omitempty"`
	GeneMinCount    *float64 `json:"gene_min_count,omitempty"`
	GeneMinFraction *float64 `json:"gene_min_fraction,omitempty"`
	MitoPattern     *string  `json:"mito_pattern,omitempty"`

	// Preliminary clustering params
	PrelimK         *int `json:"prelim_k,omitempty"`
	PrelimBatchSize *int `json:"prelim_batch_size,omitempty"`

	// Normalisation params
	MinMean *float64 `json:"min_mean,omitempty"`

	// Reduction params
	NTopGenes   *int  `json:"n_top_genes,omitempty"`
	NComponents *int  `json:"n_components,omitempty"`
	NBFactors   *bool `json:"nb_factors,omitempty"`

	// Final clustering params
	Embedding      *string `json:"embedding,omitempty"`
	Neighbors      *int    `json:"neighbors,omitempty"`
	SweepMinK      *int    `json:"sweep_min_k,omitempty"`
	SweepMaxK      *int    `json:"sweep_max_k,omitempty"`
	SweepBatchSize *int    `json:"sweep_batch_size,omitempty"`
	ChosenK        *int    `json:"chosen_k,omitempty"`

	Seed *int64 `json:"seed,omitempty"`
}

// EmptyConfig returns a Config with all fields unset.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file. Fields omitted from the file
// retain their compiled defaults.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.MADMultiplier != nil && *c.MADMultiplier <= 0 {
		return fmt.Errorf("mad_multiplier must be positive, got %f", *c.MADMultiplier)
	}
	if c.MinDetected != nil && *c.MinDetected < 0 {
		return fmt.Errorf("min_detected must be non-negative, got %d", *c.MinDetected)
	}
	if c.GeneMinFraction != nil && (*c.GeneMinFraction < 0 || *c.GeneMinFraction > 1) {
		return fmt.Errorf("gene_min_fraction must be between 0 and 1, got %f", *c.GeneMinFraction)
	}
	if c.MitoPattern != nil {
		if _, err := regexp.Compile(*c.MitoPattern); err != nil {
			return fmt.Errorf("invalid mito_pattern %q: %w", *c.MitoPattern, err)
		}
	}
	if c.PrelimK != nil && *c.PrelimK < 1 {
		return fmt.Errorf("prelim_k must be positive, got %d", *c.PrelimK)
	}
	if c.NComponents != nil && *c.NComponents < 1 {
		return fmt.Errorf("n_components must be positive, got %d", *c.NComponents)
	}
	if c.Neighbors != nil && *c.Neighbors < 1 {
		return fmt.Errorf("neighbors must be positive, got %d", *c.Neighbors)
	}
	if c.PrelimBatchSize != nil && *c.PrelimBatchSize < 1 {
		return fmt.Errorf("prelim_batch_size must be positive, got %d", *c.PrelimBatchSize)
	}
	if c.SweepBatchSize != nil && *c.SweepBatchSize < 1 {
		return fmt.Errorf("sweep_batch_size must be positive, got %d", *c.SweepBatchSize)
	}
	if c.Embedding != nil {
		switch *c.Embedding {
		case reduce.NamePCA, reduce.NameGLMPCA, reduce.NameNBFactors:
		default:
			return fmt.Errorf("unknown embedding %q", *c.Embedding)
		}
	}
	minK, maxK := c.GetSweepMinK(), c.GetSweepMaxK()
	if minK < 1 || maxK < minK {
		return fmt.Errorf("invalid sweep range [%d,%d]", minK, maxK)
	}
	if k := c.GetChosenK(); k < minK || k > maxK {
		return fmt.Errorf("chosen_k %d outside sweep range [%d,%d]", k, minK, maxK)
	}
	return nil
}

// GetMADMultiplier returns the mad_multiplier value or the default.
func (c *Config) GetMADMultiplier() float64 {
	if c.MADMultiplier == nil {
		return qc.DefaultMADMultiplier
	}
	return *c.MADMultiplier
}

// GetMinDetected returns the min_detected value or the default.
func (c *Config) GetMinDetected() int {
	if c.MinDetected == nil {
		return qc.DefaultMinDetected
	}
	return *c.MinDetected
}

// GetMaxSum returns the max_sum value or the default.
func (c *Config) GetMaxSum() float64 {
	if c.MaxSum == nil {
		return qc.DefaultMaxSum
	}
	return *c.MaxSum
}

// GetGeneMinCount returns the gene_min_count value or the default.
func (c *Config) GetGeneMinCount() float64 {
	if c.GeneMinCount == nil {
		return qc.DefaultGeneMinCount
	}
	return *c.GeneMinCount
}

// GetGeneMinFraction returns the gene_min_fraction value or the default.
func (c *Config) GetGeneMinFraction() float64 {
	if c.GeneMinFraction == nil {
		return qc.DefaultGeneMinFraction
	}
	return *c.GeneMinFraction
}

// GetMitoPattern returns the compiled mitochondrial gene pattern.
func (c *Config) GetMitoPattern() *regexp.Regexp {
	if c.MitoPattern == nil {
		return qc.DefaultMitoPattern
	}
	return regexp.MustCompile(*c.MitoPattern)
}

// GetPrelimK returns the prelim_k value or the default.
func (c *Config) GetPrelimK() int {
	if c.PrelimK == nil {
		return DefaultPrelimK
	}
	return *c.PrelimK
}

// GetPrelimBatchSize returns the prelim_batch_size value or the default.
func (c *Config) GetPrelimBatchSize() int {
	if c.PrelimBatchSize == nil {
		return cluster.DefaultBatchSize
	}
	return *c.PrelimBatchSize
}

// GetSweepBatchSize returns the sweep_batch_size value or the default. It
// governs the k-means sweep and the final fit, independently of the
// preliminary pass.
func (c *Config) GetSweepBatchSize() int {
	if c.SweepBatchSize == nil {
		return cluster.DefaultBatchSize
	}
	return *c.SweepBatchSize
}

// GetMinMean returns the min_mean value or the default.
func (c *Config) GetMinMean() float64 {
	if c.MinMean == nil {
		return normalize.DefaultMinMean
	}
	return *c.MinMean
}

// GetNTopGenes returns the n_top_genes value or the default.
func (c *Config) GetNTopGenes() int {
	if c.NTopGenes == nil {
		return reduce.DefaultNTopGenes
	}
	return *c.NTopGenes
}

// GetNComponents returns the n_components value or the default.
func (c *Config) GetNComponents() int {
	if c.NComponents == nil {
		return reduce.DefaultNComponents
	}
	return *c.NComponents
}

// GetNBFactors reports whether the negative-binomial factor model runs.
// Disabled unless explicitly enabled.
func (c *Config) GetNBFactors() bool {
	if c.NBFactors == nil {
		return false
	}
	return *c.NBFactors
}

// GetEmbedding returns the embedding the final clusterers consume.
func (c *Config) GetEmbedding() string {
	if c.Embedding == nil {
		return DefaultEmbedding
	}
	return *c.Embedding
}

// GetNeighbors returns the neighbors value or the default.
func (c *Config) GetNeighbors() int {
	if c.Neighbors == nil {
		return cluster.DefaultNeighbors
	}
	return *c.Neighbors
}

// GetSweepMinK returns the sweep_min_k value or the default.
func (c *Config) GetSweepMinK() int {
	if c.SweepMinK == nil {
		return DefaultSweepMinK
	}
	return *c.SweepMinK
}

// GetSweepMaxK returns the sweep_max_k value or the default.
func (c *Config) GetSweepMaxK() int {
	if c.SweepMaxK == nil {
		return DefaultSweepMaxK
	}
	return *c.SweepMaxK
}

// GetChosenK returns the chosen_k value or the default.
func (c *Config) GetChosenK() int {
	if c.ChosenK == nil {
		return DefaultChosenK
	}
	return *c.ChosenK
}

// GetSeed returns the seed value, defaulting to 0.
func (c *Config) GetSeed() int64 {
	if c.Seed == nil {
		return 0
	}
	return *c.Seed
}
