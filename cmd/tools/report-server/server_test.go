package main

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/banshee-data/singlecell.report/internal/cluster"
	storage "github.com/banshee-data/singlecell.report/internal/storage/sqlite"
	"github.com/banshee-data/singlecell.report/internal/testutil"
)

func setupServer(t *testing.T) (*server, *storage.RunStore) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "runs.db"))
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := storage.NewRunStore(db)
	return newServer(store), store
}

func seedRun(t *testing.T, store *storage.RunStore) *storage.AnalysisRun {
	t.Helper()
	run := &storage.AnalysisRun{Dataset: "pbmc4k", NCellsKept: 3, NGenesKept: 100}
	testutil.AssertNoError(t, store.Insert(run))
	testutil.AssertNoError(t, store.SaveLabels(run.RunID, "louvain",
		[]string{"AAAC-1", "AAAG-1", "AACT-1"}, []int{0, 1, 0}))
	testutil.AssertNoError(t, store.SaveSweep(run.RunID,
		[]cluster.ElbowPoint{{K: 5, WCSS: 100}, {K: 6, WCSS: 80}}))
	return run
}

func TestListRuns(t *testing.T) {
	srv, store := setupServer(t)
	seedRun(t, store)

	rec := testutil.NewTestRecorder()
	srv.routes().ServeHTTP(rec, testutil.NewTestRequest("GET", "/api/runs"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var runs []storage.AnalysisRun
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	if len(runs) != 1 || runs[0].Dataset != "pbmc4k" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestGetRun(t *testing.T) {
	srv, store := setupServer(t)
	run := seedRun(t, store)

	rec := testutil.NewTestRecorder()
	srv.routes().ServeHTTP(rec, testutil.NewTestRequest("GET", "/api/runs/"+run.RunID))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got struct {
		storage.AnalysisRun
		LabelSets []string `json:"label_sets"`
	}
	testutil.AssertNoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	if got.RunID != run.RunID {
		t.Errorf("run_id = %s, want %s", got.RunID, run.RunID)
	}
	if len(got.LabelSets) != 1 || got.LabelSets[0] != "louvain" {
		t.Errorf("label_sets = %v", got.LabelSets)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv, _ := setupServer(t)
	rec := testutil.NewTestRecorder()
	srv.routes().ServeHTTP(rec, testutil.NewTestRequest("GET", "/api/runs/missing"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestElbowChart(t *testing.T) {
	srv, store := setupServer(t)
	run := seedRun(t, store)

	rec := testutil.NewTestRecorder()
	srv.routes().ServeHTTP(rec, testutil.NewTestRequest("GET", "/runs/"+run.RunID+"/elbow"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "Cluster Count Sweep") {
		t.Error("elbow chart title missing")
	}
}

func TestElbowChartNoSweep(t *testing.T) {
	srv, store := setupServer(t)
	run := &storage.AnalysisRun{Dataset: "bare"}
	testutil.AssertNoError(t, store.Insert(run))

	rec := testutil.NewTestRecorder()
	srv.routes().ServeHTTP(rec, testutil.NewTestRequest("GET", "/runs/"+run.RunID+"/elbow"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestClusterChart(t *testing.T) {
	srv, store := setupServer(t)
	run := seedRun(t, store)

	rec := testutil.NewTestRecorder()
	srv.routes().ServeHTTP(rec, testutil.NewTestRequest("GET", "/runs/"+run.RunID+"/clusters"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "louvain") {
		t.Error("cluster chart missing label set name")
	}
}

func TestIndexPage(t *testing.T) {
	srv, store := setupServer(t)
	seedRun(t, store)

	rec := testutil.NewTestRecorder()
	srv.routes().ServeHTTP(rec, testutil.NewTestRequest("GET", "/"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "pbmc4k") {
		t.Error("index missing run row")
	}
}
