package main

import (
	"database/sql"
	"errors"
	"fmt"
	"html"
	"net/http"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/singlecell.report/internal/httputil"
	storage "github.com/banshee-data/singlecell.report/internal/storage/sqlite"
)

type server struct {
	store *storage.RunStore
}

func newServer(store *storage.RunStore) *server {
	return &server{store: store}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/elbow", s.handleElbowChart)
	mux.HandleFunc("GET /runs/{id}/clusters", s.handleClusterChart)
	return mux
}

// handleIndex renders a plain HTML table of stored runs with chart links.
func (s *server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	runs, err := s.store.List()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><head><title>Analysis Runs</title></head><body><h1>Analysis Runs</h1><table border=\"1\" cellpadding=\"4\">")
	fmt.Fprint(w, "<tr><th>Run</th><th>Dataset</th><th>Cells kept</th><th>Genes kept</th><th>Created</th><th>Charts</th></tr>")
	for _, run := range runs {
		created := time.Unix(0, run.CreatedAt).Format(time.RFC3339)
		id := html.EscapeString(run.RunID)
		fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td>%d</td><td>%d</td><td>%s</td>",
			id, html.EscapeString(run.Dataset), run.NCellsKept, run.NGenesKept, created)
		fmt.Fprintf(w, `<td><a href="/runs/%s/elbow">elbow</a> <a href="/runs/%s/clusters">clusters</a></td></tr>`, id, id)
	}
	fmt.Fprint(w, "</table></body></html>")
}

// handleListRuns returns all stored runs as JSON, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, runs)
}

// handleGetRun returns one run with its label set names.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(r.PathValue("id"))
	if errors.Is(err, sql.ErrNoRows) {
		httputil.NotFound(w, "no such run")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	sets, err := s.store.LabelSets(run.RunID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}

	httputil.WriteJSONOK(w, struct {
		*storage.AnalysisRun
		LabelSets []string `json:"label_sets"`
	}{run, sets})
}

// handleElbowChart renders the stored model-selection sweep as an ECharts
// line chart.
func (s *server) handleElbowChart(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	points, err := s.store.Sweep(runID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(points) == 0 {
		httputil.NotFound(w, "no sweep recorded for run")
		return
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cluster Count Sweep", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cluster Count Sweep", Subtitle: fmt.Sprintf("run=%s", runID)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "k"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "WCSS"}),
	)
	xs := make([]string, 0, len(points))
	ys := make([]opts.LineData, 0, len(points))
	for _, p := range points {
		xs = append(xs, fmt.Sprintf("%d", p.K))
		ys = append(ys, opts.LineData{Value: p.WCSS})
	}
	line.SetXAxis(xs)
	line.AddSeries("WCSS", ys, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := line.Render(w); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
	}
}

// handleClusterChart renders cluster size distributions for every stored
// label set of a run as ECharts bar charts.
func (s *server) handleClusterChart(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	sets, err := s.store.LabelSets(runID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if len(sets) == 0 {
		httputil.NotFound(w, "no labels recorded for run")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	for _, set := range sets {
		labels, err := s.store.Labels(runID, set)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		sizes := map[int]int{}
		for _, l := range labels {
			sizes[l.Cluster]++
		}
		clusters := make([]int, 0, len(sizes))
		for c := range sizes {
			clusters = append(clusters, c)
		}
		sort.Ints(clusters)

		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cluster Sizes", Width: "900px", Height: "400px"}),
			charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("Cluster sizes: %s", set), Subtitle: fmt.Sprintf("run=%s cells=%d", runID, len(labels))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		xs := make([]string, 0, len(clusters))
		ys := make([]opts.BarData, 0, len(clusters))
		for _, c := range clusters {
			xs = append(xs, fmt.Sprintf("%d", c))
			ys = append(ys, opts.BarData{Value: sizes[c]})
		}
		bar.SetXAxis(xs)
		bar.AddSeries("cells", ys)
		if err := bar.Render(w); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
	}
}
