package align

import (
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func alignedPreview(t *testing.T) *Preview {
	t.Helper()
	run := knownRun(t)
	return NewPreview(ProjectionXZ, run.Source, run.Aligned, run.TargetFiducials.Points())
}

func TestNewPreview_Layers(t *testing.T) {
	p := alignedPreview(t)

	if len(p.Layers) != 3 {
		t.Fatalf("got %d layers, want 3", len(p.Layers))
	}
	names := []string{p.Layers[0].Name, p.Layers[1].Name, p.Layers[2].Name}
	if names[0] != LayerSource || names[1] != LayerAligned || names[2] != LayerPicks {
		t.Errorf("layer order = %v", names)
	}
	for i, e := range p.Layers[2].Electrodes {
		if e.Label != FiducialRoles[i] {
			t.Errorf("pick %d labeled %q, want %q", i, e.Label, FiducialRoles[i])
		}
	}
}

func TestHasDrawableContent(t *testing.T) {
	if NewPreview(ProjectionXY, nil, nil, nil).HasDrawableContent() {
		t.Error("empty preview should have no drawable content")
	}
	picksOnly := NewPreview(ProjectionXY, nil, nil, headTriple().Points()[:1])
	if !picksOnly.HasDrawableContent() {
		t.Error("a single pick should be drawable")
	}
}

func TestProjectionRenderer_Render(t *testing.T) {
	r := NewProjectionRenderer(alignedPreview(t))
	img := r.Render()

	b := img.Bounds()
	if b.Dx() <= 2*r.Padding || b.Dy() <= 2*r.Padding {
		t.Fatalf("image too small: %v", b)
	}
	if b.Dx() > maxImageSize+2*r.Padding || b.Dy() > maxImageSize+2*r.Padding {
		t.Errorf("image exceeds cap: %v", b)
	}

	pickColor := toRGBA(DefaultLayerColors()[LayerPicks].Marker)
	found := false
	for y := b.Min.Y; y < b.Max.Y && !found; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == pickColor {
				found = true
				break
			}
		}
	}
	if !found {
		t.Error("no pick marker pixels drawn")
	}
}

func TestProjectionRenderer_CapsLargeScenes(t *testing.T) {
	set := mustSet(t, []Electrode{{"a", vec(0, 0, 0)}, {"b", vec(100, 0, 50)}})
	r := NewProjectionRenderer(NewPreview(ProjectionXZ, set, nil, nil))

	b := r.Render().Bounds()
	if b.Dx() > maxImageSize+2*r.Padding+1 {
		t.Errorf("width %d exceeds cap", b.Dx())
	}
}

func TestProjectionRenderer_SinglePoint(t *testing.T) {
	set := mustSet(t, []Electrode{{"nas", vec(0.1, 0.2, 0.3)}})
	r := NewProjectionRenderer(NewPreview(ProjectionXY, set, nil, nil))

	b := r.Render().Bounds()
	if b.Dx() != 2*r.Padding && b.Dx() != 2*r.Padding+1 {
		t.Errorf("single point width = %d", b.Dx())
	}
}

func TestProjectionRenderer_SavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.png")
	if err := NewProjectionRenderer(alignedPreview(t)).SavePNG(path); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("output is not a PNG: %v", err)
	}
}

func TestPreview_UnknownLayerColor(t *testing.T) {
	p := &Preview{Colors: DefaultLayerColors()}
	if got := p.color("other"); got.Marker != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("fallback color = %v", got.Marker)
	}
}

func TestProjectionRenderer_EncodePNG(t *testing.T) {
	var buf bytes.Buffer
	if err := NewProjectionRenderer(alignedPreview(t)).EncodePNG(&buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")) {
		t.Error("missing PNG signature")
	}
}
