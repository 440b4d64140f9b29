// Package geom provides the integer index-space and world-space geometry
// primitives shared by all structured ghost routines: extents, adjacency
// classification, bounding boxes and magnitude-scaled tolerances.
package geom

import "fmt"

// Extent describes an axis-aligned index range of a structured partition as
// [imin, imax, jmin, jmax, kmin, kmax]. A degenerate axis (min == max)
// represents a lower-dimensional grid. An extent with min > max on any axis
// is empty and participates in nothing.
type Extent [6]int

// EmptyExtent is the canonical empty extent.
var EmptyExtent = Extent{0, -1, 0, -1, 0, -1}

// Valid reports whether min <= max holds on all three axes.
func (e Extent) Valid() bool {
	return e[0] <= e[1] && e[2] <= e[3] && e[4] <= e[5]
}

// Min returns the lower bound along axis (0=i, 1=j, 2=k).
func (e Extent) Min(axis int) int { return e[2*axis] }

// Max returns the upper bound along axis.
func (e Extent) Max(axis int) int { return e[2*axis+1] }

// PointDims returns the number of points along each axis.
func (e Extent) PointDims() [3]int {
	return [3]int{e[1] - e[0] + 1, e[3] - e[2] + 1, e[5] - e[4] + 1}
}

// CellDims returns the number of cells along each axis. A degenerate axis
// contributes one cell layer so 2D/1D grids still have cells.
func (e Extent) CellDims() [3]int {
	d := e.PointDims()
	for a := 0; a < 3; a++ {
		if d[a] > 1 {
			d[a]--
		}
	}
	return d
}

// NumPoints returns the total point count, 0 for invalid extents.
func (e Extent) NumPoints() int {
	if !e.Valid() {
		return 0
	}
	d := e.PointDims()
	return d[0] * d[1] * d[2]
}

// NumCells returns the total cell count, 0 for invalid extents.
func (e Extent) NumCells() int {
	if !e.Valid() {
		return 0
	}
	d := e.CellDims()
	return d[0] * d[1] * d[2]
}

// Degenerate reports whether the extent is flat along axis.
func (e Extent) Degenerate(axis int) bool { return e[2*axis] == e[2*axis+1] }

// Dimensionality counts the non-degenerate axes (3 for a volume, 2 for a
// plane, and so on).
func (e Extent) Dimensionality() int {
	n := 0
	for a := 0; a < 3; a++ {
		if !e.Degenerate(a) {
			n++
		}
	}
	return n
}

// CellExtent returns the extent of cell indices: one less than the point
// extent along every non-degenerate axis.
func (e Extent) CellExtent() Extent {
	c := e
	for a := 0; a < 3; a++ {
		if !e.Degenerate(a) {
			c[2*a+1]--
		}
	}
	return c
}

// CellsWithin returns the cell-index extent of the cells whose corner points
// all lie inside e, judging axis degeneracy against the reference extent the
// region was cut from. A region one point thick along an axis the reference
// resolves contains no cells, so the result may be invalid.
func (e Extent) CellsWithin(ref Extent) Extent {
	c := e
	for a := 0; a < 3; a++ {
		if !ref.Degenerate(a) {
			c[2*a+1]--
		}
	}
	return c
}

// Contains reports whether index (i, j, k) lies inside the extent.
func (e Extent) Contains(i, j, k int) bool {
	return i >= e[0] && i <= e[1] && j >= e[2] && j <= e[3] && k >= e[4] && k <= e[5]
}

// ContainsExtent reports whether o lies entirely inside e.
func (e Extent) ContainsExtent(o Extent) bool {
	return o.Valid() && e.Contains(o[0], o[2], o[4]) && e.Contains(o[1], o[3], o[5])
}

// Intersect returns the overlap of two extents. The result may be invalid
// (empty) when the extents are disjoint.
func (e Extent) Intersect(o Extent) Extent {
	r := Extent{
		max(e[0], o[0]), min(e[1], o[1]),
		max(e[2], o[2]), min(e[3], o[3]),
		max(e[4], o[4]), min(e[5], o[5]),
	}
	return r
}

// Union returns the smallest extent containing both inputs. An invalid input
// is ignored.
func (e Extent) Union(o Extent) Extent {
	if !e.Valid() {
		return o
	}
	if !o.Valid() {
		return e
	}
	return Extent{
		min(e[0], o[0]), max(e[1], o[1]),
		min(e[2], o[2]), max(e[3], o[3]),
		min(e[4], o[4]), max(e[5], o[5]),
	}
}

// Grow inflates the extent by n on both sides of every non-degenerate axis.
func (e Extent) Grow(n int) Extent {
	g := e
	for a := 0; a < 3; a++ {
		if !e.Degenerate(a) {
			g[2*a] -= n
			g[2*a+1] += n
		}
	}
	return g
}

// Shift translates the extent by the given per-axis offset.
func (e Extent) Shift(di, dj, dk int) Extent {
	return Extent{e[0] + di, e[1] + di, e[2] + dj, e[3] + dj, e[4] + dk, e[5] + dk}
}

// Equal reports element-wise equality.
func (e Extent) Equal(o Extent) bool { return e == o }

// PointIndex returns the row-major linear index of point (i, j, k) within the
// extent, with i varying fastest.
func (e Extent) PointIndex(i, j, k int) int {
	d := e.PointDims()
	return (i - e[0]) + d[0]*((j-e[2])+d[1]*(k-e[4]))
}

// CellIndex returns the linear index of cell (i, j, k) within the cell extent.
func (e Extent) CellIndex(i, j, k int) int {
	return e.CellExtent().PointIndex(i, j, k)
}

// ForEachPoint visits every point index in the extent in linear storage order
// (i fastest, then j, then k). All structured routines iterate through this
// single helper so index arithmetic lives in one place.
func (e Extent) ForEachPoint(fn func(i, j, k int)) {
	if !e.Valid() {
		return
	}
	for k := e[4]; k <= e[5]; k++ {
		for j := e[2]; j <= e[3]; j++ {
			for i := e[0]; i <= e[1]; i++ {
				fn(i, j, k)
			}
		}
	}
}

// ForEachCell visits every cell index in the extent in linear storage order.
func (e Extent) ForEachCell(fn func(i, j, k int)) {
	e.CellExtent().ForEachPoint(fn)
}

func (e Extent) String() string {
	return fmt.Sprintf("[%d,%d %d,%d %d,%d]", e[0], e[1], e[2], e[3], e[4], e[5])
}
