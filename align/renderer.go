package align

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// LayerColor is the palette of one preview layer.
type LayerColor struct {
	Marker color.NRGBA
	Label  color.NRGBA
}

// Preview layer names.
const (
	LayerSource  = "source"
	LayerAligned = "aligned"
	LayerPicks   = "picks"
)

// DefaultLayerColors returns the palette keyed by layer name.
func DefaultLayerColors() map[string]LayerColor {
	return map[string]LayerColor{
		LayerSource: {
			Marker: color.NRGBA{160, 160, 160, 255},
			Label:  color.NRGBA{110, 110, 110, 255},
		},
		LayerAligned: {
			Marker: color.NRGBA{30, 90, 200, 255},
			Label:  color.NRGBA{0, 0, 139, 255},
		},
		LayerPicks: {
			Marker: color.NRGBA{220, 30, 30, 255},
			Label:  color.NRGBA{139, 0, 0, 255},
		},
	}
}

// PreviewLayer is one group of labeled points drawn in the same color.
type PreviewLayer struct {
	Name       string
	Electrodes []Electrode
}

// Preview is an orthographic view of the alignment: the source montage, the
// aligned montage and the picked fiducials.
type Preview struct {
	Projection Projection
	Layers     []PreviewLayer
	Colors     map[string]LayerColor
}

// NewPreview builds a preview. Nil sets and empty picks are left out. Picks are
// labeled with their fiducial role.
func NewPreview(proj Projection, source, aligned *LabeledPointSet, picks []r3.Vector) *Preview {
	p := &Preview{Projection: proj, Colors: DefaultLayerColors()}
	if source.Len() > 0 {
		p.Layers = append(p.Layers, PreviewLayer{Name: LayerSource, Electrodes: source.Electrodes()})
	}
	if aligned.Len() > 0 {
		p.Layers = append(p.Layers, PreviewLayer{Name: LayerAligned, Electrodes: aligned.Electrodes()})
	}
	if len(picks) > 0 {
		layer := PreviewLayer{Name: LayerPicks}
		for i, pt := range picks {
			if i >= len(FiducialRoles) {
				break
			}
			layer.Electrodes = append(layer.Electrodes, Electrode{Label: FiducialRoles[i], Position: pt})
		}
		p.Layers = append(p.Layers, layer)
	}
	return p
}

// HasDrawableContent reports whether any layer has points.
func (p *Preview) HasDrawableContent() bool {
	for _, l := range p.Layers {
		if len(l.Electrodes) > 0 {
			return true
		}
	}
	return false
}

// Bound returns the projected bound of every layer.
func (p *Preview) Bound() orb.Bound {
	var mp orb.MultiPoint
	for _, l := range p.Layers {
		for _, e := range l.Electrodes {
			pt, _ := Project(e.Position, p.Projection)
			mp = append(mp, pt)
		}
	}
	if len(mp) == 0 {
		return orb.Bound{}
	}
	return mp.Bound()
}

func (p *Preview) color(layer string) LayerColor {
	if c, ok := p.Colors[layer]; ok {
		return c
	}
	return LayerColor{Marker: color.NRGBA{0, 0, 0, 255}, Label: color.NRGBA{0, 0, 0, 255}}
}

// ProjectionRenderer rasterizes a Preview with text labels.
type ProjectionRenderer struct {
	Preview      *Preview
	Scale        float64 // pixels per scene unit
	Padding      int
	MarkerRadius int
	Labels       bool
}

// maxImageSize caps both image dimensions.
const maxImageSize = 4000

// NewProjectionRenderer returns a renderer sized for head-scale scenes in meters.
func NewProjectionRenderer(preview *Preview) *ProjectionRenderer {
	return &ProjectionRenderer{
		Preview:      preview,
		Scale:        2000,
		Padding:      40,
		MarkerRadius: 4,
		Labels:       true,
	}
}

// Render draws every layer in order; later layers paint over earlier ones.
func (r *ProjectionRenderer) Render() *image.RGBA {
	bound := r.Preview.Bound()
	scale := r.Scale

	w := bound.Max[0] - bound.Min[0]
	h := bound.Max[1] - bound.Min[1]
	if m := math.Max(w, h) * scale; m > maxImageSize {
		scale *= maxImageSize / m
	}

	width := int(w*scale) + 2*r.Padding
	height := int(h*scale) + 2*r.Padding
	if width <= 0 {
		width = 2*r.Padding + 1
	}
	if height <= 0 {
		height = 2*r.Padding + 1
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := color.RGBA{250, 250, 250, 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, bg)
		}
	}

	// Image rows grow downward; flip so the second projected axis points up.
	toImage := func(pt orb.Point) (int, int) {
		x := int((pt[0]-bound.Min[0])*scale) + r.Padding
		y := height - 1 - (int((pt[1]-bound.Min[1])*scale) + r.Padding)
		return x, y
	}

	for _, layer := range r.Preview.Layers {
		lc := r.Preview.color(layer.Name)
		marker := toRGBA(lc.Marker)
		label := toRGBA(lc.Label)

		for _, e := range layer.Electrodes {
			pt, _ := Project(e.Position, r.Preview.Projection)
			ix, iy := toImage(pt)
			if layer.Name == LayerPicks {
				drawCross(img, ix, iy, r.MarkerRadius+2, marker)
			} else {
				drawCircle(img, ix, iy, r.MarkerRadius, marker)
			}
			if r.Labels && (layer.Name != LayerSource || IsFiducial(e.Label)) {
				drawText(img, ix+r.MarkerRadius+2, iy+4, e.Label, label)
			}
		}
	}

	r.drawLegend(img)
	return img
}

// EncodePNG renders and writes a PNG to w.
func (r *ProjectionRenderer) EncodePNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG renders to a file.
func (r *ProjectionRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating preview: %w", err)
	}
	defer func() { _ = f.Close() }()

	return r.EncodePNG(f)
}

func (r *ProjectionRenderer) drawLegend(img *image.RGBA) {
	y := 15
	for _, layer := range r.Preview.Layers {
		lc := r.Preview.color(layer.Name)
		for dy := 0; dy < 10; dy++ {
			for dx := 0; dx < 10; dx++ {
				img.Set(8+dx, y+dy-8, lc.Marker)
			}
		}
		drawText(img, 24, y, fmt.Sprintf("%s (%d)", layer.Name, len(layer.Electrodes)), color.RGBA{0, 0, 0, 255})
		y += 16
	}
	drawText(img, 8, img.Bounds().Max.Y-8, "view "+string(r.Preview.Projection), color.RGBA{80, 80, 80, 255})
}

func toRGBA(c color.NRGBA) color.RGBA {
	r, g, b, a := c.RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}

func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				setClipped(img, cx+dx, cy+dy, c)
			}
		}
	}
}

func drawCross(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	for d := -size; d <= size; d++ {
		setClipped(img, cx+d, cy+d, c)
		setClipped(img, cx+d, cy-d, c)
		setClipped(img, cx+d+1, cy+d, c)
		setClipped(img, cx+d+1, cy-d, c)
	}
}

func setClipped(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
