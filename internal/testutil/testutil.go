// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// RandomExperiment builds a dense seeded count matrix with small positive
// integer counts, for tests that need a plausible Experiment but no
// particular structure.
func RandomExperiment(t *testing.T, nGenes, nCells int, seed int64) *scexp.Experiment {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	entries := make([]scexp.Triplet, 0, nGenes*nCells)
	for j := 0; j < nCells; j++ {
		for g := 0; g < nGenes; g++ {
			entries = append(entries, scexp.Triplet{Row: g, Col: j, Val: float64(1 + rng.Intn(5))})
		}
	}
	counts, err := scexp.NewCSC(nGenes, nCells, entries)
	if err != nil {
		t.Fatalf("building count matrix: %v", err)
	}
	return scexp.NewExperiment(counts)
}
