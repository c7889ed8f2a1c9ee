package align

import (
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA premultiplies alpha for canvas, which expects premultiplied RGBA.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

// VectorRenderer draws a Preview as SVG or as an anti-aliased PNG.
// Canvas units are millimeters.
type VectorRenderer struct {
	Preview      *Preview
	Scale        float64           // canvas mm per scene unit
	Padding      float64           // mm
	MarkerRadius float64           // mm
	GridSpacing  float64           // scene units; 0 disables the grid
	Resolution   canvas.Resolution // PNG only
}

// NewVectorRenderer returns a renderer for scenes in meters drawn at 1:1.
func NewVectorRenderer(preview *Preview) *VectorRenderer {
	return &VectorRenderer{
		Preview:      preview,
		Scale:        1000,
		Padding:      15,
		MarkerRadius: DefaultMarkerRadius,
		GridSpacing:  0.05,
		Resolution:   canvas.DPI(DefaultResolution),
	}
}

// ApplyConfig copies the marker size and PNG resolution from cfg.
func (r *VectorRenderer) ApplyConfig(cfg RenderConfig) {
	if cfg.MarkerRadius > 0 {
		r.MarkerRadius = cfg.MarkerRadius
	}
	if cfg.Resolution > 0 {
		r.Resolution = canvas.DPI(cfg.Resolution)
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (r *VectorRenderer) size() (orb.Bound, float64, float64) {
	b := r.Preview.Bound()
	width := (b.Max[0]-b.Min[0])*r.Scale + 2*r.Padding
	height := (b.Max[1]-b.Min[1])*r.Scale + 2*r.Padding
	return b, width, height
}

// RenderToSVG writes the preview as SVG.
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	bound, width, height := r.size()
	out := svg.New(w, width, height, nil)
	r.renderToCanvas(out, bound, width, height)
	return out.Close()
}

// RenderToPNG writes the preview as PNG at r.Resolution.
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	bound, width, height := r.size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, bound, width, height)
	return png.Encode(w, rast)
}

func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, bound orb.Bound, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(pt orb.Point) (float64, float64) {
		return (pt[0]-bound.Min[0])*r.Scale + r.Padding, (pt[1]-bound.Min[1])*r.Scale + r.Padding
	}

	if r.GridSpacing > 0 {
		r.renderGrid(renderer, bound, toCanvas)
	}

	proj := r.Preview.Projection
	aligned := map[string]orb.Point{}
	for _, layer := range r.Preview.Layers {
		if layer.Name != LayerAligned {
			continue
		}
		for _, e := range layer.Electrodes {
			if IsFiducial(e.Label) {
				aligned[e.Label], _ = Project(e.Position, proj)
			}
		}
	}

	for _, layer := range r.Preview.Layers {
		lc := r.Preview.color(layer.Name)
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(lc.Marker)}
		style.Stroke = canvas.Paint{Color: canvas.Transparent}

		for _, e := range layer.Electrodes {
			pt, _ := Project(e.Position, proj)
			cx, cy := toCanvas(pt)

			switch layer.Name {
			case LayerPicks:
				cross := canvas.DefaultStyle
				cross.Fill = canvas.Paint{Color: canvas.Transparent}
				cross.Stroke = canvas.Paint{Color: nrgbaToRGBA(lc.Marker)}
				cross.StrokeWidth = r.MarkerRadius / 3
				s := r.MarkerRadius * 1.5
				p := &canvas.Path{}
				p.MoveTo(cx-s, cy-s)
				p.LineTo(cx+s, cy+s)
				p.MoveTo(cx-s, cy+s)
				p.LineTo(cx+s, cy-s)
				renderer.RenderPath(p, cross, canvas.Identity)

				// Residual from the picked fiducial to where it landed.
				if target, ok := aligned[e.Label]; ok {
					tx, ty := toCanvas(target)
					res := cross
					res.StrokeWidth = r.MarkerRadius / 5
					res.Dashes = []float64{1, 1}
					line := &canvas.Path{}
					line.MoveTo(cx, cy)
					line.LineTo(tx, ty)
					renderer.RenderPath(line, res, canvas.Identity)
				}
			case LayerSource:
				renderer.RenderPath(canvas.Circle(r.MarkerRadius*0.6).Translate(cx, cy), style, canvas.Identity)
			default:
				renderer.RenderPath(canvas.Circle(r.MarkerRadius).Translate(cx, cy), style, canvas.Identity)
			}
		}
	}
}

func (r *VectorRenderer) renderGrid(renderer canvasRenderer, bound orb.Bound, toCanvas func(orb.Point) (float64, float64)) {
	gridStyle := canvas.DefaultStyle
	gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
	gridStyle.StrokeWidth = 0.2
	gridStyle.Dashes = []float64{2, 2}

	for x := math.Ceil(bound.Min[0]/r.GridSpacing) * r.GridSpacing; x <= bound.Max[0]; x += r.GridSpacing {
		x1, y1 := toCanvas(orb.Point{x, bound.Min[1]})
		x2, y2 := toCanvas(orb.Point{x, bound.Max[1]})
		p := &canvas.Path{}
		p.MoveTo(x1, y1)
		p.LineTo(x2, y2)
		renderer.RenderPath(p, gridStyle, canvas.Identity)
	}
	for y := math.Ceil(bound.Min[1]/r.GridSpacing) * r.GridSpacing; y <= bound.Max[1]; y += r.GridSpacing {
		x1, y1 := toCanvas(orb.Point{bound.Min[0], y})
		x2, y2 := toCanvas(orb.Point{bound.Max[0], y})
		p := &canvas.Path{}
		p.MoveTo(x1, y1)
		p.LineTo(x2, y2)
		renderer.RenderPath(p, gridStyle, canvas.Identity)
	}
}
