package align

import (
	"math"

	"github.com/golang/geo/r3"
)

// Fiducial role labels as they appear in electrode files.
const (
	RoleNasion        = "nas"
	RoleLeftJunction  = "lhj"
	RoleRightJunction = "rhj"
)

// FiducialRoles is the fixed order in which fiducials are picked and solved.
var FiducialRoles = [3]string{RoleNasion, RoleLeftJunction, RoleRightJunction}

// IsFiducial reports whether label names one of the fiducial roles.
func IsFiducial(label string) bool {
	for _, role := range FiducialRoles {
		if role == label {
			return true
		}
	}
	return false
}

// FiducialTriple holds one point per fiducial role, indexed in FiducialRoles order.
type FiducialTriple [3]r3.Vector

// NewFiducialTriple builds a triple from explicitly named roles.
func NewFiducialTriple(nas, lhj, rhj r3.Vector) FiducialTriple {
	return FiducialTriple{nas, lhj, rhj}
}

// Nasion returns the nas point.
func (f FiducialTriple) Nasion() r3.Vector { return f[0] }

// Left returns the lhj point.
func (f FiducialTriple) Left() r3.Vector { return f[1] }

// Right returns the rhj point.
func (f FiducialTriple) Right() r3.Vector { return f[2] }

// Role returns the point for a role label.
func (f FiducialTriple) Role(label string) (r3.Vector, bool) {
	for i, role := range FiducialRoles {
		if role == label {
			return f[i], true
		}
	}
	return r3.Vector{}, false
}

// Centroid returns the mean of the three fiducials.
func (f FiducialTriple) Centroid() r3.Vector {
	return Centroid(f[:])
}

// Points returns the fiducials as a slice in role order.
func (f FiducialTriple) Points() []r3.Vector {
	out := make([]r3.Vector, 3)
	copy(out, f[:])
	return out
}

// AxisFlip is a per-axis sign applied to source points before solving.
type AxisFlip struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// IdentityFlip leaves every axis unchanged.
func IdentityFlip() AxisFlip {
	return AxisFlip{X: 1, Y: 1, Z: 1}
}

// FlipCandidates enumerates all sign combinations, identity first.
// The order is fixed so flip-search ties resolve deterministically.
func FlipCandidates() []AxisFlip {
	return []AxisFlip{
		{1, 1, 1}, {1, 1, -1}, {1, -1, 1}, {-1, 1, 1},
		{-1, -1, 1}, {-1, 1, -1}, {1, -1, -1}, {-1, -1, -1},
	}
}

// Apply multiplies p component-wise by the flip signs.
func (f AxisFlip) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{X: p.X * f.X, Y: p.Y * f.Y, Z: p.Z * f.Z}
}

// IsIdentity reports whether no axis is flipped.
func (f AxisFlip) IsIdentity() bool {
	return f == IdentityFlip()
}

// Valid reports whether every component is exactly +1 or -1.
func (f AxisFlip) Valid() bool {
	for _, s := range []float64{f.X, f.Y, f.Z} {
		if s != 1 && s != -1 {
			return false
		}
	}
	return true
}

// Matrix3 is a row-major 3x3 matrix.
type Matrix3 [3][3]float64

// IdentityMatrix returns the 3x3 identity.
func IdentityMatrix() Matrix3 {
	return Matrix3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// MulVec returns m·v.
func (m Matrix3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

// Mul returns m·o.
func (m Matrix3) Mul(o Matrix3) Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out[i][j] += m[i][k] * o[k][j]
			}
		}
	}
	return out
}

// Transpose returns mᵗ.
func (m Matrix3) Transpose() Matrix3 {
	var out Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = m[j][i]
		}
	}
	return out
}

// Det returns the determinant.
func (m Matrix3) Det() float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}

// MaxAbsDiff returns the largest element-wise difference between m and o.
func (m Matrix3) MaxAbsDiff(o Matrix3) float64 {
	maxDiff := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			maxDiff = math.Max(maxDiff, math.Abs(m[i][j]-o[i][j]))
		}
	}
	return maxDiff
}

// RigidTransform is a proper rotation followed by a translation: p' = R·p + t.
// Values are produced by the solver and never mutated afterwards.
type RigidTransform struct {
	Rotation    Matrix3   `json:"rotation"`
	Translation r3.Vector `json:"translation"`
}

// IdentityTransform returns a transform that leaves points unchanged.
func IdentityTransform() RigidTransform {
	return RigidTransform{Rotation: IdentityMatrix()}
}

// Apply maps a single point.
func (t RigidTransform) Apply(p r3.Vector) r3.Vector {
	return t.Rotation.MulVec(p).Add(t.Translation)
}

// Inverse returns the transform that undoes t.
func (t RigidTransform) Inverse() RigidTransform {
	rt := t.Rotation.Transpose()
	return RigidTransform{
		Rotation:    rt,
		Translation: rt.MulVec(t.Translation).Mul(-1),
	}
}

// Alignment is the output of the rigid solver.
type Alignment struct {
	Transform RigidTransform `json:"transform"`
	Flip      AxisFlip       `json:"flip"`
	// Residual is the Frobenius norm of the stacked fiducial residuals.
	Residual float64 `json:"residual"`
	// FiducialErrors holds the per-role distance after alignment.
	FiducialErrors [3]float64 `json:"fiducialErrors"`
}

// Apply maps p through the flip and the rigid transform: R·(p ⊙ flip) + t.
func (a Alignment) Apply(p r3.Vector) r3.Vector {
	return a.Transform.Apply(a.Flip.Apply(p))
}

// ApplyAll maps every point of set, fiducials included, into a new set.
func (a Alignment) ApplyAll(set *LabeledPointSet) *LabeledPointSet {
	return set.Map(a.Apply)
}

// Electrode is one labeled coordinate.
type Electrode struct {
	Label    string    `json:"label"`
	Position r3.Vector `json:"position"`
}

// Centroid returns the mean of points, or the zero vector for an empty slice.
func Centroid(points []r3.Vector) r3.Vector {
	if len(points) == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}
