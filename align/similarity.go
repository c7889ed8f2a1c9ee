package align

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
)

// EulerAngles holds rotations in degrees about each axis.
type EulerAngles struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Offset is a translation in output units.
type Offset struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Vector returns the offset as an r3.Vector.
func (o Offset) Vector() r3.Vector {
	return vec(o.X, o.Y, o.Z)
}

// SimilarityParams is a manual rotation, translation and uniform scale.
// It is only used for interactive fine tuning after the rigid solve.
type SimilarityParams struct {
	Rotation    EulerAngles `yaml:"rotation" json:"rotation"`
	Translation Offset      `yaml:"translation" json:"translation"`
	Scale       float64     `yaml:"scale" json:"scale"`
}

// IdentitySimilarity leaves points unchanged.
func IdentitySimilarity() SimilarityParams {
	return SimilarityParams{Scale: 1}
}

// IsIdentity reports whether applying p would be a no-op.
func (p SimilarityParams) IsIdentity() bool {
	return p == IdentitySimilarity()
}

// RotationMatrix returns Rz·Ry·Rx for the configured angles.
func (p SimilarityParams) RotationMatrix() Matrix3 {
	return EulerZYX(p.Rotation.Z, p.Rotation.Y, p.Rotation.X)
}

// ApplySimilarity scales each point, rotates it about pivot and translates it:
// p' = R·(s·p - pivot) + pivot + t. NaN and Inf propagate.
func ApplySimilarity(points []r3.Vector, params SimilarityParams, pivot r3.Vector) []r3.Vector {
	rot := params.RotationMatrix()
	t := params.Translation.Vector()
	return TransformPoints(points, func(p r3.Vector) r3.Vector {
		scaled := p.Mul(params.Scale)
		return rot.MulVec(scaled.Sub(pivot)).Add(pivot).Add(t)
	})
}

// ApplySimilarityToSet applies params to every point of set and returns a new set.
func ApplySimilarityToSet(set *LabeledPointSet, params SimilarityParams, pivot r3.Vector) *LabeledPointSet {
	rot := params.RotationMatrix()
	t := params.Translation.Vector()
	return set.Map(func(p r3.Vector) r3.Vector {
		return rot.MulVec(p.Mul(params.Scale).Sub(pivot)).Add(pivot).Add(t)
	})
}

// Slider ranges of the manual adjustment panel.
const (
	SliderRotationLimit    = 180
	SliderTranslationLimit = 100
	SliderScaleMin         = 50
	SliderScaleMax         = 200
)

// SliderParams are raw integer slider positions: degrees, millimeters and percent.
type SliderParams struct {
	RX, RY, RZ int
	TX, TY, TZ int
	Scale      int
}

// DefaultSliders returns the neutral slider positions.
func DefaultSliders() SliderParams {
	return SliderParams{Scale: 100}
}

// Params converts slider positions into SimilarityParams, clamping each slider
// to its range. Translations are converted from mm to m and scale from percent.
func (s SliderParams) Params() SimilarityParams {
	return SimilarityParams{
		Rotation: EulerAngles{
			X: float64(clamp(s.RX, -SliderRotationLimit, SliderRotationLimit)),
			Y: float64(clamp(s.RY, -SliderRotationLimit, SliderRotationLimit)),
			Z: float64(clamp(s.RZ, -SliderRotationLimit, SliderRotationLimit)),
		},
		Translation: Offset{
			X: float64(clamp(s.TX, -SliderTranslationLimit, SliderTranslationLimit)) / 1000.0,
			Y: float64(clamp(s.TY, -SliderTranslationLimit, SliderTranslationLimit)) / 1000.0,
			Z: float64(clamp(s.TZ, -SliderTranslationLimit, SliderTranslationLimit)) / 1000.0,
		},
		Scale: float64(clamp(s.Scale, SliderScaleMin, SliderScaleMax)) / 100.0,
	}
}

// ParseSliders reads "rx,ry,rz,tx,ty,tz,scale" slider positions.
func ParseSliders(s string) (SliderParams, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 7 {
		return SliderParams{}, fmt.Errorf("sliders: want 7 comma-separated values (rx,ry,rz,tx,ty,tz,scale), got %d", len(parts))
	}
	var v [7]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return SliderParams{}, fmt.Errorf("sliders: value %d: %w", i+1, err)
		}
		v[i] = n
	}
	return SliderParams{RX: v[0], RY: v[1], RZ: v[2], TX: v[3], TY: v[4], TZ: v[5], Scale: v[6]}, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
