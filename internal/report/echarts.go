package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/singlecell.report/internal/cluster"
	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// embeddingScatter builds an interactive 2D scatter of the first two
// embedding columns with one series per cluster level.
func embeddingScatter(exp *scexp.Experiment, embedding, labels string) (*charts.Scatter, error) {
	emb := exp.ReducedDim(embedding)
	if emb == nil {
		return nil, fmt.Errorf("report: no embedding named %q", embedding)
	}
	assign, k, ok := exp.Labels(labels)
	if !ok {
		return nil, fmt.Errorf("report: no labels named %q", labels)
	}
	nCells, nDims := emb.Dims()
	if nDims < 2 {
		return nil, fmt.Errorf("report: embedding %q has %d dimensions, need 2", embedding, nDims)
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cell Embedding", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: embedding, Subtitle: fmt.Sprintf("labels=%s cells=%d clusters=%d", labels, nCells, k)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: embedding + " 1", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: embedding + " 2", NameLocation: "middle", NameGap: 30}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	for level := 0; level < k; level++ {
		data := make([]opts.ScatterData, 0, nCells/k+1)
		for i := 0; i < nCells; i++ {
			if assign[i] != level {
				continue
			}
			data = append(data, opts.ScatterData{Value: []interface{}{emb.At(i, 0), emb.At(i, 1)}})
		}
		scatter.AddSeries(fmt.Sprintf("cluster %d", level), data,
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}))
	}
	return scatter, nil
}

// elbowLine builds an interactive line chart of a cluster-count sweep.
func elbowLine(points []cluster.ElbowPoint) (*charts.Line, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("report: empty sweep")
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cluster Count Sweep", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Cluster Count Sweep", Subtitle: "within-cluster sum of squares by k"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "k"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "WCSS"}),
	)

	xs := make([]string, 0, len(points))
	ys := make([]opts.LineData, 0, len(points))
	for _, ep := range points {
		xs = append(xs, fmt.Sprintf("%d", ep.K))
		ys = append(ys, opts.LineData{Value: ep.WCSS})
	}
	line.SetXAxis(xs)
	line.AddSeries("WCSS", ys, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	return line, nil
}

// WriteHTML renders a single-page interactive report: one scatter per stored
// embedding/label pair plus the sweep elbow curve, if present.
func WriteHTML(exp *scexp.Experiment, pairs map[string]string, sweep []cluster.ElbowPoint, w io.Writer) error {
	page := components.NewPage()
	page.PageTitle = "Single-cell Analysis Report"

	embeddings := make([]string, 0, len(pairs))
	for name := range pairs {
		embeddings = append(embeddings, name)
	}
	sort.Strings(embeddings)

	for _, embedding := range embeddings {
		scatter, err := embeddingScatter(exp, embedding, pairs[embedding])
		if err != nil {
			return err
		}
		page.AddCharts(scatter)
	}
	if len(sweep) > 0 {
		line, err := elbowLine(sweep)
		if err != nil {
			return err
		}
		page.AddCharts(line)
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render report page: %w", err)
	}
	return nil
}
