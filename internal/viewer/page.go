package viewer

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/sweepscan/internal/cloud"
	"github.com/banshee-data/sweepscan/internal/fusion"
)

const controlsHTML = `<div style="font-family:sans-serif;margin:12px">
<p>%s</p>
<form method="post" action="/api/reset?redirect=1" style="display:inline"><button>Reset</button></form>
<form method="post" action="/api/toggle?redirect=1" style="display:inline"><button>%s</button></form>
<form method="post" action="/api/advance?redirect=1" style="display:inline"><button>Advance</button></form>
<a href="/api/cloud.png">side view</a> &middot; <a href="/api/cloud">json</a>
</div>
`

// stride returns the sampling step that keeps n points within limit.
func stride(n, limit int) int {
	if limit <= 0 || n <= limit {
		return 1
	}
	return int(math.Ceil(float64(n) / float64(limit)))
}

// renderPage writes the 3-D scatter page for points with the command buttons
// below the chart. The mode button is labelled with the current mode.
func renderPage(w io.Writer, points []cloud.Point3D, snap fusion.Snapshot, maxPoints int) error {
	step := stride(len(points), maxPoints)
	data := make([]opts.Chart3DData, 0, len(points)/step+1)
	for i := 0; i < len(points); i += step {
		p := points[i]
		data = append(data, opts.Chart3DData{Value: []interface{}{p.X, p.Y, p.Z}})
	}

	scatter := charts.NewScatter3D()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Sweep Scan 3D", Theme: "dark", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Point cloud",
			Subtitle: fmt.Sprintf("points=%d shown=%d stride=%d key=%g", len(points), len(data), step, snap.Key),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "sweep"}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "Y (mm)"}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "Z (mm)"}),
		charts.WithGrid3DOpts(opts.Grid3D{BoxWidth: 200, BoxHeight: 100, BoxDepth: 100}),
	)
	scatter.AddSeries("cloud", data, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#35b779"}))

	var chart bytes.Buffer
	if err := scatter.Render(&chart); err != nil {
		return err
	}

	status := fmt.Sprintf("%s, %d buckets", snap.Mode, len(snap.Keys))
	if snap.Halted {
		status += ", acquisition stopped"
	}
	controls := fmt.Sprintf(controlsHTML, html.EscapeString(status), html.EscapeString(snap.Mode))

	page := chart.Bytes()
	if i := bytes.LastIndex(page, []byte("</body>")); i >= 0 {
		out := make([]byte, 0, len(page)+len(controls))
		out = append(out, page[:i]...)
		out = append(out, controls...)
		page = append(out, page[i:]...)
	} else {
		page = append(page, controls...)
	}
	_, err := w.Write(page)
	return err
}
