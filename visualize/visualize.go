// Package visualize renders digit images and training curves to PNG files.
package visualize

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/digitrec/dataset"
	"github.com/YuminosukeSato/digitrec/pkg/errors"
)

// digitGrid exposes a block of flattened digit images as one large heatmap
// grid, rows*cols images arranged left to right, top to bottom.
type digitGrid struct {
	x          mat.Matrix
	rows, cols int
}

func (g digitGrid) Dims() (c, r int) {
	return g.cols * dataset.ImgSize, g.rows * dataset.ImgSize
}

func (g digitGrid) X(c int) float64 { return float64(c) }
func (g digitGrid) Y(r int) float64 { return float64(r) }

func (g digitGrid) Z(c, r int) float64 {
	// Heatmap rows grow upward; image rows grow downward.
	flipped := g.rows*dataset.ImgSize - 1 - r
	tileRow := flipped / dataset.ImgSize
	tileCol := c / dataset.ImgSize
	sample := tileRow*g.cols + tileCol

	n, _ := g.x.Dims()
	if sample >= n {
		return 0
	}
	px := (flipped%dataset.ImgSize)*dataset.ImgSize + c%dataset.ImgSize
	return g.x.At(sample, px)
}

// TilePlot draws the first rows*cols images of X as a tiled heatmap and
// writes it to path as a PNG. Each row of X is one flattened 28x28 image.
func TilePlot(X mat.Matrix, rows, cols int, title, path string) error {
	if rows <= 0 || cols <= 0 {
		return errors.NewValidationError("tiles", "rows and cols must be positive", rows*cols)
	}
	n, px := X.Dims()
	if n == 0 {
		return errors.NewModelError("visualize.TilePlot", "empty data", errors.ErrEmptyData)
	}
	if px != dataset.NumPixels {
		return errors.NewDimensionError("visualize.TilePlot", dataset.NumPixels, px, 1)
	}

	p := plot.New()
	p.Title.Text = title
	p.HideAxes()

	hm := plotter.NewHeatMap(digitGrid{x: X, rows: rows, cols: cols}, palette.Heat(16, 1))
	p.Add(hm)

	w := vg.Length(cols) * vg.Inch
	h := vg.Length(rows) * vg.Inch
	if err := p.Save(w, h, path); err != nil {
		return errors.Wrapf(err, "visualize: saving tile plot to %s", path)
	}
	return nil
}

// LossPlot draws per-epoch training loss as a line chart PNG.
func LossPlot(history []float64, title, path string) error {
	if len(history) == 0 {
		return errors.NewModelError("visualize.LossPlot", "empty history", errors.ErrEmptyData)
	}

	pts := make(plotter.XYs, len(history))
	for i, loss := range history {
		pts[i].X = float64(i + 1)
		pts[i].Y = loss
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "cross-entropy loss"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "visualize: building loss line")
	}
	p.Add(line, plotter.NewGrid())

	if err := p.Save(6*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "visualize: saving loss plot to %s", path)
	}
	return nil
}
