package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/singlecell.report/internal/cluster"
	"github.com/banshee-data/singlecell.report/internal/scexp"
)

// SaveEmbeddingScatter renders the first two columns of a stored embedding as
// a PNG scatter plot, one colored series per cluster level.
func SaveEmbeddingScatter(exp *scexp.Experiment, embedding, labels, path string) error {
	emb := exp.ReducedDim(embedding)
	if emb == nil {
		return fmt.Errorf("report: no embedding named %q", embedding)
	}
	assign, k, ok := exp.Labels(labels)
	if !ok {
		return fmt.Errorf("report: no labels named %q", labels)
	}
	nCells, nDims := emb.Dims()
	if nDims < 2 {
		return fmt.Errorf("report: embedding %q has %d dimensions, need 2", embedding, nDims)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s colored by %s", embedding, labels)
	p.X.Label.Text = embedding + " 1"
	p.Y.Label.Text = embedding + " 2"
	p.Legend.Top = true

	colors := generateColors(k)
	for level := 0; level < k; level++ {
		pts := make(plotter.XYs, 0, nCells/k+1)
		for i := 0; i < nCells; i++ {
			if assign[i] != level {
				continue
			}
			pts = append(pts, plotter.XY{X: emb.At(i, 0), Y: emb.At(i, 1)})
		}
		if len(pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("cluster %d: %w", level, err)
		}
		sc.GlyphStyle.Color = colors[level]
		sc.GlyphStyle.Radius = vg.Points(1.5)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("%d", level), sc)
	}

	if err := p.Save(8*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save scatter plot: %w", err)
	}
	return nil
}

// SaveElbowCurve renders a model-selection sweep as a PNG line plot of
// within-cluster sum of squares against k.
func SaveElbowCurve(points []cluster.ElbowPoint, path string) error {
	if len(points) == 0 {
		return fmt.Errorf("report: empty sweep")
	}

	p := plot.New()
	p.Title.Text = "Cluster Count Sweep"
	p.X.Label.Text = "k"
	p.Y.Label.Text = "Within-cluster Sum of Squares"

	pts := make(plotter.XYs, 0, len(points))
	for _, ep := range points {
		pts = append(pts, plotter.XY{X: float64(ep.K), Y: ep.WCSS})
	}
	line, scatter, err := plotter.NewLinePoints(pts)
	if err != nil {
		return fmt.Errorf("failed to build elbow series: %w", err)
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	scatter.GlyphStyle.Color = line.Color
	scatter.GlyphStyle.Radius = vg.Points(2)
	p.Add(line, scatter)

	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save elbow plot: %w", err)
	}
	return nil
}

// generateColors creates a palette of distinct colors for cluster series.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	default:
		return p
	}
}
