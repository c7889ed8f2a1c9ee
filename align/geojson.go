package align

import (
	"fmt"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Project drops one axis of p according to proj and returns the remaining
// 2D coordinates together with the dropped (depth) coordinate.
func Project(p r3.Vector, proj Projection) (orb.Point, float64) {
	switch proj {
	case ProjectionXY:
		return orb.Point{p.X, p.Y}, p.Z
	case ProjectionYZ:
		return orb.Point{p.Y, p.Z}, p.X
	default:
		return orb.Point{p.X, p.Z}, p.Y
	}
}

// ProjectSet projects every point of set in insertion order.
func ProjectSet(set *LabeledPointSet, proj Projection) orb.MultiPoint {
	mp := make(orb.MultiPoint, 0, set.Len())
	for _, p := range set.Points() {
		pt, _ := Project(p, proj)
		mp = append(mp, pt)
	}
	return mp
}

// ProjectedBound returns the 2D bound covering all sets under proj. Nil and
// empty sets are skipped; the zero Bound is returned when nothing remains.
func ProjectedBound(proj Projection, sets ...*LabeledPointSet) orb.Bound {
	var (
		bound orb.Bound
		seen  bool
	)
	for _, set := range sets {
		if set.Len() == 0 {
			continue
		}
		b := ProjectSet(set, proj).Bound()
		if !seen {
			bound, seen = b, true
			continue
		}
		bound = bound.Union(b)
	}
	return bound
}

// ProjectToGeoJSON exports set as a FeatureCollection of Point features in the
// chosen projection. Each feature carries its label, depth, the distance to
// its nearest projected neighbor and, for fiducials, its role. When the
// projected points span an area, a Polygon feature with the convex outline of
// the montage is appended.
func ProjectToGeoJSON(set *LabeledPointSet, proj Projection) (*geojson.FeatureCollection, error) {
	if !proj.Valid() {
		return nil, fmt.Errorf("unknown projection %q", proj)
	}

	projected := ProjectSet(set, proj)
	spacing := NearestSpacing(projected)

	fc := geojson.NewFeatureCollection()
	for i, e := range set.Electrodes() {
		_, depth := Project(e.Position, proj)
		f := geojson.NewFeature(projected[i])
		f.ID = e.Label
		f.Properties["label"] = e.Label
		f.Properties["depth"] = depth
		f.Properties["spacing"] = spacing[i]
		f.Properties["projection"] = string(proj)
		if IsFiducial(e.Label) {
			f.Properties["role"] = e.Label
		}
		fc.Append(f)
	}

	if outline := montageOutline(projected); outline != nil {
		area := planar.Area(outline)
		if area > 0 {
			centroid, _ := planar.CentroidArea(outline)
			f := geojson.NewFeature(outline)
			f.Properties["kind"] = "outline"
			f.Properties["area"] = area
			f.Properties["centroid"] = []float64{centroid[0], centroid[1]}
			fc.Append(f)
		}
	}
	return fc, nil
}

// montageOutline returns the closed convex hull of points, or nil for fewer
// than three distinct points.
func montageOutline(points orb.MultiPoint) orb.Polygon {
	hull := convexHull(points)
	if len(hull) < 3 {
		return nil
	}
	hull = append(hull, hull[0])
	return orb.Polygon{orb.Ring(hull)}
}

// convexHull is Andrew's monotone chain; collinear points are dropped and the
// hull is returned counter-clockwise without the closing point.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		return append([]orb.Point(nil), points...)
	}

	sorted := append([]orb.Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	hull := make([]orb.Point, 0, 2*len(sorted))
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(sorted) - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}

// NearestSpacing returns, for each projected point, the planar distance to its
// closest neighbor. Single points get 0.
func NearestSpacing(points orb.MultiPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		best := -1.0
		for j, q := range points {
			if i == j {
				continue
			}
			if d := planar.Distance(p, q); best < 0 || d < best {
				best = d
			}
		}
		if best > 0 {
			out[i] = best
		}
	}
	return out
}
