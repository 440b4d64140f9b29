package geom

import (
	"math"

	"gonum.org/v1/gonum/floats/scalar"
)

// DefaultToleranceFactor is the relative slack applied to coordinate
// comparisons when the caller does not configure one.
const DefaultToleranceFactor = 1e-6

// ScaledTol returns an absolute tolerance proportional to the magnitude of
// the values being compared, so matching stays stable across unit systems.
// The factor itself is the floor for values near zero.
func ScaledTol(factor float64, values ...float64) float64 {
	m := 1.0
	for _, v := range values {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return factor * m
}

// Close reports whether a and b agree within a magnitude-scaled tolerance.
func Close(a, b, factor float64) bool {
	return scalar.EqualWithinAbsOrRel(a, b, factor, factor)
}

// PointsClose reports whether two 3D points agree component-wise within tol.
func PointsClose(a, b [3]float64, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol &&
		math.Abs(a[1]-b[1]) <= tol &&
		math.Abs(a[2]-b[2]) <= tol
}

// Dist2 returns the squared euclidean distance between two points.
func Dist2(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return dx*dx + dy*dy + dz*dz
}
