package geom

// AdjacencyMask records, per side, whether a neighbor extent touches the
// local extent on that side after being shifted into local index space.
// Bit layout: -x, +x, -y, +y, -z, +z.
type AdjacencyMask uint8

const (
	AdjMinX AdjacencyMask = 1 << iota
	AdjMaxX
	AdjMinY
	AdjMaxY
	AdjMinZ
	AdjMaxZ
)

// OverlapMask records, per axis, whether the index ranges of two extents
// overlap in more than a single shared point layer. Bit layout: x, y, z.
type OverlapMask uint8

const (
	OverlapX OverlapMask = 1 << iota
	OverlapY
	OverlapZ
)

// Count returns the number of set bits.
func (m AdjacencyMask) Count() int {
	n := 0
	for b := AdjacencyMask(1); b < 1<<6; b <<= 1 {
		if m&b != 0 {
			n++
		}
	}
	return n
}

// Side reports whether the mask touches on the given axis and side
// (side 0 = min, 1 = max).
func (m AdjacencyMask) Side(axis, side int) bool {
	return m&(1<<uint(2*axis+side)) != 0
}

// Has reports whether axis overlaps.
func (m OverlapMask) Has(axis int) bool { return m&(1<<uint(axis)) != 0 }

// Classify compares a local extent with a neighbor extent already shifted
// into local index space. It returns the adjacency and overlap masks and
// whether the pair is geometrically adjacent at all: adjacent means every
// axis range either overlaps or shares exactly one point layer, and at least
// one axis only shares the single layer (a face, edge or corner contact).
// Two extents that interpenetrate on all axes also count as adjacent (the
// partial-overlap case handled by the planner's clamping).
func Classify(local, neighbor Extent) (AdjacencyMask, OverlapMask, bool) {
	if !local.Valid() || !neighbor.Valid() {
		return 0, 0, false
	}
	var adj AdjacencyMask
	var ovl OverlapMask
	for a := 0; a < 3; a++ {
		lmin, lmax := local.Min(a), local.Max(a)
		nmin, nmax := neighbor.Min(a), neighbor.Max(a)
		lo, hi := max(lmin, nmin), min(lmax, nmax)
		switch {
		case lo > hi:
			// Disjoint on this axis: no contact at all.
			return 0, 0, false
		case lo == hi:
			// Exactly one shared point layer.
			switch {
			case lmin == lmax && nmin == nmax:
				// Both extents degenerate and coincident on this axis
				// (e.g. two 2D grids in the same plane): overlapping.
				ovl |= 1 << uint(a)
			case lo == lmin && hi == nmax:
				adj |= 1 << uint(2*a) // neighbor touches below local
			case lo == nmin && hi == lmax:
				adj |= 1 << uint(2*a+1) // neighbor touches above local
			default:
				// Shared layer strictly interior to one side.
				ovl |= 1 << uint(a)
			}
		default:
			ovl |= 1 << uint(a)
		}
	}
	// Contact exists on all axes; adjacency requires at least one touching
	// axis or full interpenetration.
	if adj == 0 && ovl != OverlapX|OverlapY|OverlapZ {
		return 0, 0, false
	}
	return adj, ovl, true
}
