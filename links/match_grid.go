package links

import (
	"math"

	"github.com/notargets/ghostsync/descriptor"
	"github.com/notargets/ghostsync/geom"
	"gonum.org/v1/gonum/mat"
)

// MatchImage tests two implicit grid descriptors for adjacency. They match
// only if dimensionality, spacing and orientation agree within a
// magnitude-scaled tolerance; the neighbor's extent is then rigidly shifted
// into local index space by the integer offset implied by the origin
// difference divided by spacing. A non-integer offset means the grids are
// staggered and can never link.
func MatchImage(local, nbr *descriptor.Grid, tolFactor float64) (GridLink, bool) {
	if local.Empty() || nbr.Empty() {
		return GridLink{}, false
	}
	if local.Extent.Dimensionality() != nbr.Extent.Dimensionality() {
		return GridLink{}, false
	}
	for a := 0; a < 3; a++ {
		if !geom.Close(local.Spacing[a], nbr.Spacing[a], tolFactor) {
			return GridLink{}, false
		}
	}
	ld := descriptor.DirectionOf(local.Direction)
	nd := descriptor.DirectionOf(nbr.Direction)
	lm := mat.NewDense(3, 3, ld[:])
	nm := mat.NewDense(3, 3, nd[:])
	if !mat.EqualApprox(lm, nm, tolFactor) {
		return GridLink{}, false
	}

	var shift [3]int
	for a := 0; a < 3; a++ {
		sp := local.Spacing[a]
		if sp == 0 {
			if !geom.Close(local.Origin[a], nbr.Origin[a], tolFactor) {
				return GridLink{}, false
			}
			continue
		}
		off := (nbr.Origin[a] - local.Origin[a]) / sp
		rounded := math.Round(off)
		tol := geom.ScaledTol(tolFactor, off, 1)
		if math.Abs(off-rounded) > tol {
			return GridLink{}, false
		}
		shift[a] = int(rounded)
	}

	shifted := nbr.Extent.Shift(shift[0], shift[1], shift[2])
	adj, ovl, ok := geom.Classify(local.Extent, shifted)
	if !ok {
		return GridLink{}, false
	}
	// Local index -> neighbor index undoes the shift.
	return GridLink{
		Neighbor:  nbr.GID,
		Extent:    shifted,
		Adjacency: adj,
		Overlap:   ovl,
		Map:       IdentityMap([3]int{-shift[0], -shift[1], -shift[2]}),
	}, true
}

// MatchRectilinear tests two rectilinear grid descriptors. The per-axis
// shift is found by locating where one coordinate array's endpoints are
// contained in the other's, covering both containment and corner-touch
// cases; coordinate values over the shared range must agree.
func MatchRectilinear(local, nbr *descriptor.Grid, tolFactor float64) (GridLink, bool) {
	if local.Empty() || nbr.Empty() {
		return GridLink{}, false
	}
	if local.Extent.Dimensionality() != nbr.Extent.Dimensionality() {
		return GridLink{}, false
	}
	lc := [3][]float64{local.X, local.Y, local.Z}
	nc := [3][]float64{nbr.X, nbr.Y, nbr.Z}
	var shift [3]int
	for a := 0; a < 3; a++ {
		rel, ok := axisShift(lc[a], nc[a], tolFactor)
		if !ok {
			return GridLink{}, false
		}
		// rel is the position of nbr's first coordinate within local's
		// array; convert to an extent-space shift.
		shift[a] = local.Extent.Min(a) + rel - nbr.Extent.Min(a)
	}
	shifted := nbr.Extent.Shift(shift[0], shift[1], shift[2])
	adj, ovl, ok := geom.Classify(local.Extent, shifted)
	if !ok {
		return GridLink{}, false
	}
	return GridLink{
		Neighbor:  nbr.GID,
		Extent:    shifted,
		Adjacency: adj,
		Overlap:   ovl,
		Map:       IdentityMap([3]int{-shift[0], -shift[1], -shift[2]}),
	}, true
}

// axisShift finds rel such that nbr[i] == local[rel+i] over the overlapping
// range. rel may be negative (local contained in nbr) or len(local)-1
// (corner touch). Returns false when the arrays share no coordinate or
// disagree over the shared range.
func axisShift(local, nbr []float64, tolFactor float64) (int, bool) {
	if len(local) == 0 || len(nbr) == 0 {
		return 0, false
	}
	tol := geom.ScaledTol(tolFactor,
		local[0], local[len(local)-1], nbr[0], nbr[len(nbr)-1])

	// Locate nbr's first coordinate inside local.
	if idx, ok := findCoord(local, nbr[0], tol); ok {
		return idx, coordsAgree(local, nbr, idx, tol)
	}
	// Otherwise local's first coordinate must sit inside nbr.
	if idx, ok := findCoord(nbr, local[0], tol); ok {
		return -idx, coordsAgree(local, nbr, -idx, tol)
	}
	return 0, false
}

// findCoord locates v in the ascending array c within tol.
func findCoord(c []float64, v, tol float64) (int, bool) {
	lo, hi := 0, len(c)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		switch {
		case math.Abs(c[mid]-v) <= tol:
			return mid, true
		case c[mid] < v:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return 0, false
}

// coordsAgree verifies local[rel+i] == nbr[i] for the overlapping index
// range.
func coordsAgree(local, nbr []float64, rel int, tol float64) bool {
	for i := range nbr {
		li := rel + i
		if li < 0 {
			continue
		}
		if li >= len(local) {
			break
		}
		if math.Abs(local[li]-nbr[i]) > tol {
			return false
		}
	}
	return true
}
