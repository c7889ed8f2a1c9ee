package align

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func TestProject(t *testing.T) {
	p := vec(1, 2, 3)
	tests := []struct {
		proj      Projection
		wantPoint orb.Point
		wantDepth float64
	}{
		{ProjectionXY, orb.Point{1, 2}, 3},
		{ProjectionXZ, orb.Point{1, 3}, 2},
		{ProjectionYZ, orb.Point{2, 3}, 1},
	}
	for _, tt := range tests {
		t.Run(string(tt.proj), func(t *testing.T) {
			pt, depth := Project(p, tt.proj)
			if pt != tt.wantPoint || depth != tt.wantDepth {
				t.Errorf("Project() = %v, %v; want %v, %v", pt, depth, tt.wantPoint, tt.wantDepth)
			}
		})
	}
}

func TestProjectedBound(t *testing.T) {
	a := mustSet(t, []Electrode{{"a", vec(0, 0, 0)}, {"b", vec(1, 5, 2)}})
	b := mustSet(t, []Electrode{{"c", vec(-1, 0, 4)}})

	got := ProjectedBound(ProjectionXZ, a, nil, b)
	want := orb.Bound{Min: orb.Point{-1, 0}, Max: orb.Point{1, 4}}
	if got != want {
		t.Errorf("ProjectedBound() = %v, want %v", got, want)
	}

	if got := ProjectedBound(ProjectionXY); got != (orb.Bound{}) {
		t.Errorf("empty bound = %v", got)
	}
}

func TestProjectToGeoJSON(t *testing.T) {
	set := montage(t)
	fc, err := ProjectToGeoJSON(set, ProjectionXY)
	if err != nil {
		t.Fatalf("ProjectToGeoJSON: %v", err)
	}

	if len(fc.Features) != set.Len()+1 {
		t.Fatalf("got %d features, want %d points + outline", len(fc.Features), set.Len())
	}

	for i, e := range set.Electrodes() {
		f := fc.Features[i]
		if f.ID != e.Label || f.Properties["label"] != e.Label {
			t.Errorf("feature %d labeled %v", i, f.ID)
		}
		if _, ok := f.Geometry.(orb.Point); !ok {
			t.Errorf("feature %d geometry = %T", i, f.Geometry)
		}
		_, isRole := f.Properties["role"]
		if isRole != IsFiducial(e.Label) {
			t.Errorf("%s: role property present = %v", e.Label, isRole)
		}
	}

	outline := fc.Features[len(fc.Features)-1]
	if outline.Properties["kind"] != "outline" {
		t.Fatalf("last feature kind = %v", outline.Properties["kind"])
	}
	poly, ok := outline.Geometry.(orb.Polygon)
	if !ok {
		t.Fatalf("outline geometry = %T", outline.Geometry)
	}
	// Cz lies inside the hull of the other points in the xy plane.
	if n := len(poly[0]); n != 6 {
		t.Errorf("hull ring has %d points, want 5 + closing", n)
	}
	if area, _ := outline.Properties["area"].(float64); area <= 0 {
		t.Errorf("area = %v", outline.Properties["area"])
	}
}

func TestProjectToGeoJSON_CollinearHasNoOutline(t *testing.T) {
	set := mustSet(t, []Electrode{{"a", vec(0, 0, 0)}, {"b", vec(1, 0, 0)}, {"c", vec(2, 0, 0)}})
	fc, err := ProjectToGeoJSON(set, ProjectionXY)
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.Features) != 3 {
		t.Errorf("got %d features, want 3", len(fc.Features))
	}
}

func TestProjectToGeoJSON_InvalidProjection(t *testing.T) {
	if _, err := ProjectToGeoJSON(montage(t), "xx"); err == nil {
		t.Error("expected error for unknown projection")
	}
}

func TestGeoJSONSerialization(t *testing.T) {
	fc, err := ProjectToGeoJSON(montage(t), ProjectionXZ)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	back, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("UnmarshalFeatureCollection: %v", err)
	}
	if len(back.Features) != len(fc.Features) {
		t.Errorf("feature count %d -> %d", len(fc.Features), len(back.Features))
	}
	if back.Features[1].Properties.MustString("role", "") != "nas" {
		t.Errorf("nas role lost: %v", back.Features[1].Properties)
	}
}

func TestNearestSpacing(t *testing.T) {
	got := NearestSpacing(orb.MultiPoint{{0, 0}, {3, 4}, {3, 5}})
	want := []float64{5, 1, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("spacing[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if s := NearestSpacing(orb.MultiPoint{{1, 1}}); s[0] != 0 {
		t.Errorf("single point spacing = %v", s[0])
	}
}

func TestConvexHull(t *testing.T) {
	square := []orb.Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0.5, 0.5}, {0.5, 0}}
	hull := convexHull(square)
	if len(hull) != 4 {
		t.Fatalf("hull = %v, want the 4 corners", hull)
	}
	ring := append(orb.Ring(hull), hull[0])
	if ring.Orientation() != orb.CCW {
		t.Errorf("hull orientation = %v, want CCW", ring.Orientation())
	}
}
