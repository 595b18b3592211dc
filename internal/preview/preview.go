// Package preview renders top-down XY views of an aligned scene: the
// transformed, filtered cloud plus the scene's hotspot markers. HTML output
// uses go-echarts; raster output uses gonum/plot encoded as PNG or WebP.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"strings"

	"github.com/HugoSmits86/nativewebp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/panotour/internal/pointcloud"
)

// DefaultMaxPoints bounds the number of cloud points drawn.
const DefaultMaxPoints = 8000

// AssetsHost serves the echarts javascript. Empty uses the go-echarts default CDN.
var AssetsHost = ""

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("preview: unknown image format")

// Format is a raster output encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// ParseFormat accepts "png" or "webp" in any case. Empty means PNG.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatWebP {
		return "image/webp"
	}
	return "image/png"
}

// Scene is what a preview draws. Cloud is already in the world frame.
type Scene struct {
	Title    string
	Cloud    *pointcloud.Cloud
	Hotspots []r3.Vec
}

// view is the downsampled XY projection shared by both renderers.
type view struct {
	points   []r3.Vec
	hotspots []r3.Vec
	stride   int
	pad      float64
}

func project(s Scene, maxPoints int) view {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	n := 0
	if s.Cloud != nil {
		n = s.Cloud.Len()
	}

	// Downsample by stride to stay within maxPoints
	stride := 1
	if n > maxPoints {
		stride = int(math.Ceil(float64(n) / float64(maxPoints)))
	}

	v := view{stride: stride, points: make([]r3.Vec, 0, n/stride+1)}
	maxAbs := 0.0
	track := func(p r3.Vec) {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	for i := 0; i < n; i += stride {
		p := s.Cloud.Point(i)
		track(p)
		v.points = append(v.points, p)
	}
	for _, h := range s.Hotspots {
		track(h)
		v.hotspots = append(v.hotspots, h)
	}

	v.pad = maxAbs * 1.05
	if v.pad == 0 {
		v.pad = 1.0
	}
	return v
}

// RenderHTML writes a square go-echarts scatter page with a "points" and a
// "hotspots" series.
func RenderHTML(w io.Writer, s Scene, maxPoints int) error {
	v := project(s, maxPoints)

	points := make([]opts.ScatterData, 0, len(v.points))
	for _, p := range v.points {
		points = append(points, opts.ScatterData{Value: []interface{}{p.X, p.Y}})
	}
	markers := make([]opts.ScatterData, 0, len(v.hotspots))
	for i, h := range v.hotspots {
		markers = append(markers, opts.ScatterData{Name: fmt.Sprintf("hotspot %d", i), Value: []interface{}{h.X, h.Y}})
	}

	title := s.Title
	if title == "" {
		title = "Scene preview"
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("points=%d stride=%d hotspots=%d", len(points), v.stride, len(markers))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -v.pad, Max: v.pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -v.pad, Max: v.pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("points", points, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	scatter.AddSeries("hotspots", markers, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))

	// Render into a buffer so a failed render writes nothing.
	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// RenderImage writes a size×size raster plot of the scene in format f.
func RenderImage(w io.Writer, s Scene, f Format, maxPoints int, size vg.Length) error {
	if size <= 0 {
		size = 6 * vg.Inch
	}
	v := project(s, maxPoints)

	p := plot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.X.Min, p.X.Max = -v.pad, v.pad
	p.Y.Min, p.Y.Max = -v.pad, v.pad
	p.Add(plotter.NewGrid())

	if len(v.points) > 0 {
		sc, err := plotter.NewScatter(toXYs(v.points))
		if err != nil {
			return fmt.Errorf("points: %w", err)
		}
		sc.GlyphStyle.Radius = vg.Points(0.6)
		sc.GlyphStyle.Color = color.RGBA{R: 70, G: 110, B: 200, A: 255}
		p.Add(sc)
	}
	if len(v.hotspots) > 0 {
		hs, err := plotter.NewScatter(toXYs(v.hotspots))
		if err != nil {
			return fmt.Errorf("hotspots: %w", err)
		}
		hs.GlyphStyle.Radius = vg.Points(4)
		hs.GlyphStyle.Color = color.RGBA{R: 230, G: 60, B: 40, A: 255}
		hs.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(hs)
		p.Legend.Add("hotspots", hs)
	}

	c := vgimg.New(size, size)
	p.Draw(draw.New(c))

	switch f {
	case FormatWebP:
		if err := nativewebp.Encode(w, c.Image(), nil); err != nil {
			return fmt.Errorf("encode webp: %w", err)
		}
		return nil
	case FormatPNG, "":
		if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(w); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

func toXYs(pts []r3.Vec) plotter.XYs {
	xys := make(plotter.XYs, len(pts))
	for i, p := range pts {
		xys[i] = plotter.XY{X: p.X, Y: p.Y}
	}
	return xys
}
