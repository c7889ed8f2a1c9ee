package align

import (
	"math"

	"github.com/golang/geo/r3"
)

func vec(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// TransformPoints applies fn to each point and returns a new slice.
func TransformPoints(points []r3.Vector, fn func(r3.Vector) r3.Vector) []r3.Vector {
	result := make([]r3.Vector, len(points))
	for i, p := range points {
		result[i] = fn(p)
	}
	return result
}

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// RotationX returns a rotation about the x axis (degrees, right-handed).
func RotationX(deg float64) Matrix3 {
	c, s := math.Cos(DegToRad(deg)), math.Sin(DegToRad(deg))
	return Matrix3{
		{1, 0, 0},
		{0, c, -s},
		{0, s, c},
	}
}

// RotationY returns a rotation about the y axis (degrees, right-handed).
func RotationY(deg float64) Matrix3 {
	c, s := math.Cos(DegToRad(deg)), math.Sin(DegToRad(deg))
	return Matrix3{
		{c, 0, s},
		{0, 1, 0},
		{-s, 0, c},
	}
}

// RotationZ returns a rotation about the z axis (degrees, right-handed).
func RotationZ(deg float64) Matrix3 {
	c, s := math.Cos(DegToRad(deg)), math.Sin(DegToRad(deg))
	return Matrix3{
		{c, -s, 0},
		{s, c, 0},
		{0, 0, 1},
	}
}

// EulerZYX composes intrinsic z-y'-x'' rotations: R = Rz·Ry·Rx.
func EulerZYX(rz, ry, rx float64) Matrix3 {
	return RotationZ(rz).Mul(RotationY(ry)).Mul(RotationX(rx))
}

// RotationAngle returns the rotation angle of a proper rotation in degrees.
func RotationAngle(m Matrix3) float64 {
	c := (m[0][0] + m[1][1] + m[2][2] - 1) / 2
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c) * 180 / math.Pi
}

// PairwiseDistances returns |p_i - p_j| for every i < j in row-major order.
func PairwiseDistances(points []r3.Vector) []float64 {
	var out []float64
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			out = append(out, points[i].Distance(points[j]))
		}
	}
	return out
}
