package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/singlecell.report/internal/cluster"
)

// AnalysisRun represents one completed pipeline run over a dataset.
type AnalysisRun struct {
	RunID        string          `json:"run_id"`
	Dataset      string          `json:"dataset"`
	ParamsJSON   json.RawMessage `json:"params_json,omitempty"`
	NGenesLoaded int             `json:"n_genes_loaded"`
	NCellsLoaded int             `json:"n_cells_loaded"`
	NGenesKept   int             `json:"n_genes_kept"`
	NCellsKept   int             `json:"n_cells_kept"`
	CreatedAt    int64           `json:"created_at"`
}

// CellLabel is one cell's cluster assignment within a stored label set.
type CellLabel struct {
	CellIndex int    `json:"cell_index"`
	Barcode   string `json:"barcode"`
	Cluster   int    `json:"cluster"`
}

// RunStore provides persistence for analysis runs, their cluster labels and
// model-selection sweeps.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// Insert persists a new run. If RunID is empty, a UUID is generated.
func (s *RunStore) Insert(run *AnalysisRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().UnixNano()
	}

	var paramsStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO analysis_runs (
				run_id, dataset, params_json,
				n_genes_loaded, n_cells_loaded, n_genes_kept, n_cells_kept,
				created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Dataset, paramsStr,
			run.NGenesLoaded, run.NCellsLoaded, run.NGenesKept, run.NCellsKept,
			run.CreatedAt,
		)
		return err
	})
}

// Get returns a single run by ID.
func (s *RunStore) Get(runID string) (*AnalysisRun, error) {
	row := s.db.QueryRow(`
		SELECT run_id, dataset, params_json,
		       n_genes_loaded, n_cells_loaded, n_genes_kept, n_cells_kept,
		       created_at
		FROM analysis_runs
		WHERE run_id = ?`, runID)

	var run AnalysisRun
	var paramsStr sql.NullString
	err := row.Scan(
		&run.RunID, &run.Dataset, &paramsStr,
		&run.NGenesLoaded, &run.NCellsLoaded, &run.NGenesKept, &run.NCellsKept,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	if paramsStr.Valid {
		run.ParamsJSON = json.RawMessage(paramsStr.String)
	}
	return &run, nil
}

// List returns all runs ordered by creation time descending.
func (s *RunStore) List() ([]*AnalysisRun, error) {
	rows, err := s.db.Query(`
		SELECT run_id, dataset, params_json,
		       n_genes_loaded, n_cells_loaded, n_genes_kept, n_cells_kept,
		       created_at
		FROM analysis_runs
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*AnalysisRun
	for rows.Next() {
		var run AnalysisRun
		var paramsStr sql.NullString
		if err := rows.Scan(
			&run.RunID, &run.Dataset, &paramsStr,
			&run.NGenesLoaded, &run.NCellsLoaded, &run.NGenesKept, &run.NCellsKept,
			&run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if paramsStr.Valid {
			run.ParamsJSON = json.RawMessage(paramsStr.String)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// SaveLabels stores one named label set for a run, replacing any previous
// labels of that name. barcodes and assign run parallel over cells.
func (s *RunStore) SaveLabels(runID, labelSet string, barcodes []string, assign []int) error {
	if len(barcodes) != len(assign) {
		return fmt.Errorf("save labels: %d barcodes for %d assignments", len(barcodes), len(assign))
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin label transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM run_labels WHERE run_id = ? AND label_set = ?`, runID, labelSet); err != nil {
			return fmt.Errorf("clear labels: %w", err)
		}
		stmt, err := tx.Prepare(`
			INSERT INTO run_labels (run_id, label_set, cell_index, barcode, cluster)
			VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare label insert: %w", err)
		}
		defer stmt.Close()

		for i := range assign {
			if _, err := stmt.Exec(runID, labelSet, i, barcodes[i], assign[i]); err != nil {
				return fmt.Errorf("insert label %d: %w", i, err)
			}
		}
		return tx.Commit()
	})
}

// Labels returns one named label set for a run in cell order.
func (s *RunStore) Labels(runID, labelSet string) ([]CellLabel, error) {
	rows, err := s.db.Query(`
		SELECT cell_index, barcode, cluster
		FROM run_labels
		WHERE run_id = ? AND label_set = ?
		ORDER BY cell_index`, runID, labelSet)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer rows.Close()

	var labels []CellLabel
	for rows.Next() {
		var l CellLabel
		if err := rows.Scan(&l.CellIndex, &l.Barcode, &l.Cluster); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// LabelSets returns the names of the label sets stored for a run.
func (s *RunStore) LabelSets(runID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT label_set FROM run_labels
		WHERE run_id = ?
		ORDER BY label_set`, runID)
	if err != nil {
		return nil, fmt.Errorf("query label sets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan label set: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SaveSweep stores the model-selection sweep for a run, replacing any
// previous curve.
func (s *RunStore) SaveSweep(runID string, points []cluster.ElbowPoint) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin sweep transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM run_sweep WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("clear sweep: %w", err)
		}
		for _, p := range points {
			if _, err := tx.Exec(`INSERT INTO run_sweep (run_id, k, wcss) VALUES (?, ?, ?)`,
				runID, p.K, p.WCSS); err != nil {
				return fmt.Errorf("insert sweep point k=%d: %w", p.K, err)
			}
		}
		return tx.Commit()
	})
}

// Sweep returns the stored model-selection curve for a run ordered by k.
func (s *RunStore) Sweep(runID string) ([]cluster.ElbowPoint, error) {
	rows, err := s.db.Query(`
		SELECT k, wcss FROM run_sweep
		WHERE run_id = ?
		ORDER BY k`, runID)
	if err != nil {
		return nil, fmt.Errorf("query sweep: %w", err)
	}
	defer rows.Close()

	var points []cluster.ElbowPoint
	for rows.Next() {
		var p cluster.ElbowPoint
		if err := rows.Scan(&p.K, &p.WCSS); err != nil {
			return nil, fmt.Errorf("scan sweep point: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Delete removes a run and its labels and sweep.
func (s *RunStore) Delete(runID string) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`DELETE FROM analysis_runs WHERE run_id = ?`, runID)
		return err
	})
}
