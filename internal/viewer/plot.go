package viewer

import (
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sweepscan/internal/cloud"
)

// projectionSize is the edge length of the side-view PNG.
const projectionSize = 6 * vg.Inch

// renderProjection writes a PNG of the cloud seen along the sweep axis: every
// point plotted at (Y, Z).
func renderProjection(w io.Writer, points []cloud.Point3D) error {
	p := plot.New()
	p.Title.Text = "Point cloud, side view"
	p.X.Label.Text = "Y (mm)"
	p.Y.Label.Text = "Z (mm)"
	p.Add(plotter.NewGrid())

	if len(points) > 0 {
		xys := make(plotter.XYs, len(points))
		for i, pt := range points {
			xys[i] = plotter.XY{X: pt.Y, Y: pt.Z}
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return err
		}
		s.GlyphStyle.Color = color.RGBA{R: 0x1f, G: 0x9e, B: 0x89, A: 0xff}
		s.GlyphStyle.Radius = vg.Points(1)
		p.Add(s)
	}

	wt, err := p.WriterTo(projectionSize, projectionSize, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
