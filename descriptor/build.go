package descriptor

import (
	"sort"

	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/mesh"
)

// BuildImage fingerprints an implicit grid. An invalid extent yields an
// empty descriptor that participates in no links.
func BuildImage(g *mesh.ImageGrid, rank int) *Grid {
	d := &Grid{GID: g.ID, Rank: rank, Kind: KindImage}
	interior := InteriorExtent(g.Ext, g.CellGhosts)
	if !interior.Valid() {
		d.Extent = geom.EmptyExtent
		return d
	}
	d.Extent = interior
	d.Origin = g.Origin
	d.Spacing = g.Spacing
	if g.Direction != nil {
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				d.Direction[3*r+c] = g.Direction.At(r, c)
			}
		}
	} else {
		d.Direction = IdentityDirection
	}
	d.Bounds = geom.EmptyBounds()
	for _, i := range []int{interior[0], interior[1]} {
		for _, j := range []int{interior[2], interior[3]} {
			for _, k := range []int{interior[4], interior[5]} {
				d.Bounds.Add(g.PointCoord(i, j, k))
			}
		}
	}
	return d
}

// BuildRectilinear fingerprints a rectilinear grid, slicing the coordinate
// arrays to the interior extent.
func BuildRectilinear(g *mesh.RectilinearGrid, rank int) *Grid {
	d := &Grid{GID: g.ID, Rank: rank, Kind: KindRectilinear}
	interior := InteriorExtent(g.Ext, g.CellGhosts)
	if !interior.Valid() || g.Validate() != nil {
		d.Extent = geom.EmptyExtent
		return d
	}
	d.Extent = interior
	d.X = sliceCoords(g.X, g.Ext[0], interior[0], interior[1])
	d.Y = sliceCoords(g.Y, g.Ext[2], interior[2], interior[3])
	d.Z = sliceCoords(g.Z, g.Ext[4], interior[4], interior[5])
	d.Bounds = geom.EmptyBounds()
	d.Bounds.Add([3]float64{d.X[0], d.Y[0], d.Z[0]})
	d.Bounds.Add([3]float64{d.X[len(d.X)-1], d.Y[len(d.Y)-1], d.Z[len(d.Z)-1]})
	return d
}

func sliceCoords(c []float64, base, lo, hi int) []float64 {
	out := make([]float64, hi-lo+1)
	copy(out, c[lo-base:hi-base+1])
	return out
}

// BuildStructured fingerprints a curvilinear grid by extracting its external
// faces. Degenerate axes contribute a single face.
func BuildStructured(g *mesh.StructuredGrid, rank int) *Grid {
	d := &Grid{GID: g.ID, Rank: rank, Kind: KindStructured}
	interior := InteriorExtent(g.Ext, g.CellGhosts)
	if !interior.Valid() || len(g.Points) != g.Ext.NumPoints() {
		d.Extent = geom.EmptyExtent
		return d
	}
	d.Extent = interior
	d.Bounds = geom.EmptyBounds()
	interior.ForEachPoint(func(i, j, k int) {
		d.Bounds.Add(g.PointCoord(i, j, k))
	})
	for axis := 0; axis < 3; axis++ {
		sides := 2
		if interior.Degenerate(axis) {
			sides = 1
		}
		for side := 0; side < sides; side++ {
			d.Faces = append(d.Faces, extractFace(g, interior, axis, side))
		}
	}
	return d
}

// extractFace copies one external face of the interior extent into a 2D
// point grid.
func extractFace(g *mesh.StructuredGrid, interior geom.Extent, axis, side int) Face {
	u, v := FaceAxes(axis)
	fixed := interior.Min(axis)
	if side == 1 {
		fixed = interior.Max(axis)
	}
	ni := interior.Max(u) - interior.Min(u) + 1
	nj := interior.Max(v) - interior.Min(v) + 1
	f := Face{Axis: axis, Side: side, Ni: ni, Nj: nj, Points: make([][3]float64, ni*nj)}
	for fj := 0; fj < nj; fj++ {
		for fi := 0; fi < ni; fi++ {
			var idx [3]int
			idx[axis] = fixed
			idx[u] = interior.Min(u) + fi
			idx[v] = interior.Min(v) + fj
			f.Points[fi+ni*fj] = g.PointCoord(idx[0], idx[1], idx[2])
		}
	}
	return f
}

// cellSource abstracts the two unstructured kinds for boundary extraction.
type cellSource interface {
	NumCells() int
	CellPoints(i int) []int64
}

type polySource struct{ m *mesh.PolyMesh }

func (s polySource) NumCells() int            { return s.m.Polys.Len() }
func (s polySource) CellPoints(i int) []int64 { return s.m.Polys.Cell(i) }

type meshSource struct{ m *mesh.UnstructuredMesh }

func (s meshSource) NumCells() int            { return s.m.Cells.Len() }
func (s meshSource) CellPoints(i int) []int64 { return s.m.Cells.Cell(i) }

// BuildPoly fingerprints a polygonal surface: its boundary is the set of
// points on edges used by exactly one non-ghost polygon.
func BuildPoly(m *mesh.PolyMesh, rank int) *Surface {
	d := &Surface{GID: m.ID, Rank: rank, Kind: KindPoly}
	boundary := boundaryPointsFromEdges(m, m.CellGhosts)
	fillSurface(d, boundary, m.Points, m.GlobalPointIDs)
	return d
}

// BuildUnstructured fingerprints a volumetric mesh: its boundary is the set
// of points on faces used by exactly one non-ghost cell. 1D/0D cells
// contribute all their points.
func BuildUnstructured(m *mesh.UnstructuredMesh, rank int) *Surface {
	d := &Surface{GID: m.ID, Rank: rank, Kind: KindUnstructured}
	counts := make(map[string][]int64)
	order := make([]string, 0)
	for c := 0; c < m.Cells.Len(); c++ {
		if cellIsGhost(m.CellGhosts, c) {
			continue
		}
		faces := m.CellFaces(c)
		if faces == nil {
			// Vertices and lines sit on the boundary by definition.
			for _, p := range m.Cells.Cell(c) {
				key := canonicalKey([]int64{p})
				if _, ok := counts[key]; !ok {
					order = append(order, key)
				}
				counts[key] = []int64{p}
			}
			continue
		}
		for _, f := range faces {
			key := canonicalKey(f)
			if prev, ok := counts[key]; ok && prev != nil {
				counts[key] = nil // interior face, seen twice
			} else if !ok {
				counts[key] = f
				order = append(order, key)
			}
		}
	}
	boundary := make([]int64, 0)
	seen := make(map[int64]bool)
	for _, key := range order {
		f := counts[key]
		if f == nil {
			continue
		}
		for _, p := range f {
			if !seen[p] {
				seen[p] = true
				boundary = append(boundary, p)
			}
		}
	}
	fillSurface(d, boundary, m.Points, m.GlobalPointIDs)
	return d
}

// boundaryPointsFromEdges collects points on edges used exactly once among
// non-ghost polygons, in first-seen order.
func boundaryPointsFromEdges(m *mesh.PolyMesh, ghosts []byte) []int64 {
	type edge struct{ a, b int64 }
	counts := make(map[edge]int)
	order := make([]edge, 0)
	for c := 0; c < m.Polys.Len(); c++ {
		if cellIsGhost(ghosts, c) {
			continue
		}
		poly := m.Polys.Cell(c)
		n := len(poly)
		for e := 0; e < n; e++ {
			a, b := poly[e], poly[(e+1)%n]
			if n == 2 && e == 1 {
				break // a line cell has one edge, not two
			}
			if a > b {
				a, b = b, a
			}
			key := edge{a, b}
			if counts[key] == 0 {
				order = append(order, key)
			}
			counts[key]++
		}
	}
	boundary := make([]int64, 0)
	seen := make(map[int64]bool)
	for _, e := range order {
		if counts[e] != 1 {
			continue
		}
		for _, p := range []int64{e.a, e.b} {
			if !seen[p] {
				seen[p] = true
				boundary = append(boundary, p)
			}
		}
	}
	return boundary
}

func cellIsGhost(ghosts []byte, c int) bool {
	return c < len(ghosts) && ghosts[c]&(mesh.GhostDuplicate|mesh.GhostHidden) != 0
}

// canonicalKey builds an order-independent signature for a face, the same
// trick used to pair shared faces when deriving element connectivity.
func canonicalKey(f []int64) string {
	s := make([]int64, len(f))
	copy(s, f)
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	key := make([]byte, 0, 8*len(s))
	for _, v := range s {
		for b := 0; b < 8; b++ {
			key = append(key, byte(v>>(8*b)))
		}
	}
	return string(key)
}

func fillSurface(d *Surface, boundary []int64, points [][3]float64, gids []int64) {
	if len(boundary) == 0 {
		return
	}
	d.Points = make([][3]float64, len(boundary))
	d.LocalIDs = make([]int64, len(boundary))
	d.Bounds = geom.EmptyBounds()
	if len(gids) > 0 {
		d.HasGlobalIDs = true
		d.GlobalIDs = make([]int64, len(boundary))
	}
	for i, p := range boundary {
		d.Points[i] = points[p]
		d.LocalIDs[i] = p
		d.Bounds.Add(points[p])
		if d.HasGlobalIDs {
			d.GlobalIDs[i] = gids[p]
		}
	}
}
