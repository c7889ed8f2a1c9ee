package align

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

const (
	// rankTolerance is the relative singular value below which a direction of
	// a centered fiducial triple counts as collapsed.
	rankTolerance = 1e-10

	// flipTieTolerance is the relative residual margin a later flip candidate
	// must beat to replace an earlier one.
	flipTieTolerance = 1e-9
)

// SolveRigid computes the rigid transform that best maps the source fiducials
// onto the target fiducials in the least-squares sense (Kabsch).
//
// With searchFlips the eight axis sign combinations are tried on the source and
// the candidate with the smallest residual wins; ties keep the earliest
// candidate in FlipCandidates order, so the identity flip is preferred.
// Collinear or coincident triples fail with *DegenerateInputError.
func SolveRigid(source, target FiducialTriple, searchFlips bool) (Alignment, error) {
	candidates, err := EvaluateFlips(source, target, searchFlips)
	if err != nil {
		return Alignment{}, err
	}

	tol := flipTieTolerance * math.Max(1, tripleSpread(target))
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Residual < best.Residual-tol {
			best = c
		}
	}
	return best, nil
}

// EvaluateFlips solves once per flip candidate and returns every result in
// enumeration order. Without searchFlips only the identity flip is evaluated.
func EvaluateFlips(source, target FiducialTriple, searchFlips bool) ([]Alignment, error) {
	if rank := TripleRank(source); rank < 2 {
		return nil, &DegenerateInputError{Which: "source", Rank: rank}
	}
	if rank := TripleRank(target); rank < 2 {
		return nil, &DegenerateInputError{Which: "target", Rank: rank}
	}

	flips := []AxisFlip{IdentityFlip()}
	if searchFlips {
		flips = FlipCandidates()
	}

	results := make([]Alignment, 0, len(flips))
	for _, flip := range flips {
		var flipped FiducialTriple
		for i, p := range source {
			flipped[i] = flip.Apply(p)
		}

		transform, err := kabsch(flipped[:], target[:])
		if err != nil {
			return nil, fmt.Errorf("flip %v: %w", flip, err)
		}

		a := Alignment{Transform: transform, Flip: flip}
		a.Residual, a.FiducialErrors = residuals(transform, flipped, target)
		results = append(results, a)
	}
	return results, nil
}

// kabsch returns R, t minimizing Σ|R·src_i + t - tgt_i|² with det(R) = +1.
//
// H = Aᵗ·B with A, B the centered source and target rows. For H = U·S·Vᵗ the
// optimal rotation is R = V·Uᵗ; a negative determinant is corrected by
// negating the column of V paired with the smallest singular value.
func kabsch(src, tgt []r3.Vector) (RigidTransform, error) {
	c1 := Centroid(src)
	c2 := Centroid(tgt)

	a := centeredRows(src, c1)
	b := centeredRows(tgt, c2)

	var h mat.Dense
	h.Mul(a.T(), b)

	var svd mat.SVD
	if ok := svd.Factorize(&h, mat.SVDFull); !ok {
		return RigidTransform{}, fmt.Errorf("SVD of cross-covariance failed")
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	var rot Matrix3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot[i][j] = r.At(i, j)
		}
	}

	return RigidTransform{
		Rotation:    rot,
		Translation: c2.Sub(rot.MulVec(c1)),
	}, nil
}

// residuals returns the Frobenius norm of the stacked residual and the
// per-fiducial distances.
func residuals(t RigidTransform, src, tgt FiducialTriple) (float64, [3]float64) {
	var perPoint [3]float64
	sumSq := 0.0
	for i := range src {
		d := t.Apply(src[i]).Sub(tgt[i])
		sq := d.Dot(d)
		sumSq += sq
		perPoint[i] = math.Sqrt(sq)
	}
	return math.Sqrt(sumSq), perPoint
}

// TripleRank returns the numerical rank (0-2) of the centered triple.
// Rank 2 means the points span a plane; lower ranks are collinear or coincident.
func TripleRank(f FiducialTriple) int {
	m := centeredRows(f[:], f.Centroid())

	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDNone); !ok {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 || math.IsNaN(values[0]) {
		return 0
	}

	rank := 0
	for _, s := range values {
		if s > rankTolerance*values[0] {
			rank++
		}
	}
	return rank
}

// tripleSpread is the root-sum-square distance of the points from their centroid.
func tripleSpread(f FiducialTriple) float64 {
	c := f.Centroid()
	sum := 0.0
	for _, p := range f {
		sum += p.Sub(c).Norm2()
	}
	return math.Sqrt(sum)
}

// centeredRows stacks points minus c as rows of an n×3 matrix.
func centeredRows(points []r3.Vector, c r3.Vector) *mat.Dense {
	data := make([]float64, 0, 3*len(points))
	for _, p := range points {
		d := p.Sub(c)
		data = append(data, d.X, d.Y, d.Z)
	}
	return mat.NewDense(len(points), 3, data)
}

// IsProperRotation reports whether m is orthonormal with determinant +1 within tol.
func IsProperRotation(m Matrix3, tol float64) bool {
	if math.Abs(m.Det()-1) > tol {
		return false
	}
	return m.Mul(m.Transpose()).MaxAbsDiff(IdentityMatrix()) <= tol
}
