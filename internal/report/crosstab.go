// Package report renders the outputs of a completed analysis run: PNG
// embedding and elbow plots, ECharts HTML pages, and cluster cross-tabulation
// tables for comparing label sets.
package report

import (
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// CrossTab counts the co-occurrence of two label sets stored on the
// experiment. Entry (i, j) of the result is the number of cells assigned to
// level i of labels a and level j of labels b.
func CrossTab(exp *scexp.Experiment, a, b string) (*mat.Dense, error) {
	la, ka, ok := exp.Labels(a)
	if !ok {
		return nil, fmt.Errorf("report: no labels named %q", a)
	}
	lb, kb, ok := exp.Labels(b)
	if !ok {
		return nil, fmt.Errorf("report: no labels named %q", b)
	}
	out := mat.NewDense(ka, kb, nil)
	for i := range la {
		out.Set(la[i], lb[i], out.At(la[i], lb[i])+1)
	}
	return out, nil
}

// RenderCrossTab formats a cross-tabulation as a bordered text table with
// labels a as rows and labels b as columns, including marginal totals.
func RenderCrossTab(tab *mat.Dense, a, b string) string {
	rows, cols := tab.Dims()

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.SetTitle(fmt.Sprintf("%s vs %s", a, b))

	header := make(table.Row, cols+2)
	header[0] = a + `\` + b
	for j := 0; j < cols; j++ {
		header[j+1] = strconv.Itoa(j)
	}
	header[cols+1] = "total"
	tw.AppendHeader(header)

	colTotals := make([]int, cols)
	for i := 0; i < rows; i++ {
		r := make(table.Row, cols+2)
		r[0] = strconv.Itoa(i)
		rowTotal := 0
		for j := 0; j < cols; j++ {
			n := int(tab.At(i, j))
			r[j+1] = strconv.Itoa(n)
			rowTotal += n
			colTotals[j] += n
		}
		r[cols+1] = strconv.Itoa(rowTotal)
		tw.AppendRow(r)
	}

	footer := make(table.Row, cols+2)
	footer[0] = "total"
	grand := 0
	for j, n := range colTotals {
		footer[j+1] = strconv.Itoa(n)
		grand += n
	}
	footer[cols+1] = strconv.Itoa(grand)
	tw.AppendFooter(footer)

	configs := make([]table.ColumnConfig, 0, cols+2)
	for j := 0; j < cols+2; j++ {
		align := text.AlignRight
		if j == 0 {
			align = text.AlignLeft
		}
		configs = append(configs, table.ColumnConfig{
			Number:      j + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
