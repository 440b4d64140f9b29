// Package links confirms geometric adjacency between partitions and records
// it in a symmetric link map. Candidates are pre-filtered by inflated
// bounding-box overlap through an R-tree; confirmation is per dataset kind:
// extent arithmetic for implicit grids, coordinate-array containment for
// rectilinear grids, face-point sweeping for curvilinear grids and boundary
// point matching for unstructured meshes.
package links

import (
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/notargets/ghostsync/geom"
)

// IndexMap is a rigid map from local grid indices into a neighbor's index
// space: neighbor[Perm[a]] = Sign[a]*local[a] + Off[a]. Identity-permutation
// unit-sign maps cover implicit and rectilinear grids; curvilinear matches
// may permute and reflect axes.
type IndexMap struct {
	Perm [3]int
	Sign [3]int
	Off  [3]int
}

// IdentityMap returns the map with the given per-axis shift applied to local
// indices: neighbor[a] = local[a] + off[a].
func IdentityMap(off [3]int) IndexMap {
	return IndexMap{Perm: [3]int{0, 1, 2}, Sign: [3]int{1, 1, 1}, Off: off}
}

// Apply maps a local index triple into the neighbor's index space.
func (m IndexMap) Apply(idx [3]int) [3]int {
	var out [3]int
	for a := 0; a < 3; a++ {
		out[m.Perm[a]] = m.Sign[a]*idx[a] + m.Off[a]
	}
	return out
}

// Inverse returns the map from neighbor indices back to local indices.
func (m IndexMap) Inverse() IndexMap {
	var inv IndexMap
	for a := 0; a < 3; a++ {
		p := m.Perm[a]
		inv.Perm[p] = a
		inv.Sign[p] = m.Sign[a]
		inv.Off[p] = -m.Sign[a] * m.Off[a]
	}
	return inv
}

// ApplyExtent maps an extent through the index map, normalizing swapped
// bounds introduced by reflections.
func (m IndexMap) ApplyExtent(e geom.Extent) geom.Extent {
	lo := m.Apply([3]int{e[0], e[2], e[4]})
	hi := m.Apply([3]int{e[1], e[3], e[5]})
	var out geom.Extent
	for a := 0; a < 3; a++ {
		out[2*a], out[2*a+1] = lo[a], hi[a]
		if out[2*a] > out[2*a+1] {
			out[2*a], out[2*a+1] = out[2*a+1], out[2*a]
		}
	}
	return out
}

// GridLink records one confirmed structured adjacency from the local
// partition's point of view.
type GridLink struct {
	Neighbor int // neighbor gid

	// Extent is the neighbor's interior extent shifted into local index
	// space.
	Extent geom.Extent

	Adjacency geom.AdjacencyMask
	Overlap   geom.OverlapMask

	// Map converts local indices into the neighbor's index space.
	Map IndexMap
}

// SurfaceLink records one confirmed unstructured adjacency: the matched
// interface points in the canonical order both sides agree on (ascending
// boundary-point index of the lower-gid partition).
type SurfaceLink struct {
	Neighbor int

	// LocalPoints holds local mesh point ids of the matched interface
	// points; position k defines "the k-th interface point" the wire
	// encoding refers to.
	LocalPoints []int64

	// RemoteIdx holds, per matched point, the index into the neighbor's
	// descriptor point list.
	RemoteIdx []int
}

// Map is the symmetric neighbor graph for one synchronization pass.
type Map struct {
	neighbors map[int]map[int]bool
}

// NewMap returns an empty link map.
func NewMap() *Map {
	return &Map{neighbors: make(map[int]map[int]bool)}
}

// Add records a confirmed pair in both directions.
func (m *Map) Add(a, b int) {
	if a == b {
		return
	}
	if m.neighbors[a] == nil {
		m.neighbors[a] = make(map[int]bool)
	}
	if m.neighbors[b] == nil {
		m.neighbors[b] = make(map[int]bool)
	}
	m.neighbors[a][b] = true
	m.neighbors[b][a] = true
}

// Linked reports whether a and b are confirmed neighbors.
func (m *Map) Linked(a, b int) bool { return m.neighbors[a][b] }

// Neighbors returns the confirmed neighbor gids of a partition in ascending
// order, the order the assembler merges contributions in.
func (m *Map) Neighbors(gid int) []int {
	ns := make([]int, 0, len(m.neighbors[gid]))
	for n := range m.neighbors[gid] {
		ns = append(ns, n)
	}
	sort.Ints(ns)
	return ns
}

// Symmetric verifies the invariant that every link is recorded both ways.
func (m *Map) Symmetric() bool {
	for a, ns := range m.neighbors {
		for b := range ns {
			if !m.neighbors[b][a] {
				return false
			}
		}
	}
	return true
}

// Candidate is one partition's bounding box entered into the pre-filter.
type Candidate struct {
	GID    int
	Bounds geom.Bounds
}

type candidateEntry struct {
	gid  int
	rect rtreego.Rect
}

func (e *candidateEntry) Bounds() rtreego.Rect { return e.rect }

// CandidatePairs returns all pairs of candidates whose bounding boxes,
// inflated by a fraction of their magnitude, overlap. Pairs come back with
// the lower gid first and no duplicates. Invalid (empty) bounds are skipped.
func CandidatePairs(cands []Candidate, inflationFactor float64) [][2]int {
	tree := rtreego.NewTree(3, 4, 16)
	entries := make([]*candidateEntry, 0, len(cands))
	for _, c := range cands {
		if !c.Bounds.Valid() {
			continue
		}
		pad := geom.ScaledTol(inflationFactor, c.Bounds.MaxMagnitude())
		rect, err := c.Bounds.Rect(pad)
		if err != nil {
			continue
		}
		e := &candidateEntry{gid: c.GID, rect: rect}
		entries = append(entries, e)
		tree.Insert(e)
	}
	seen := make(map[[2]int]bool)
	var pairs [][2]int
	for _, e := range entries {
		for _, hit := range tree.SearchIntersect(e.rect) {
			o := hit.(*candidateEntry)
			if o.gid == e.gid {
				continue
			}
			a, b := e.gid, o.gid
			if a > b {
				a, b = b, a
			}
			key := [2]int{a, b}
			if !seen[key] {
				seen[key] = true
				pairs = append(pairs, key)
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs
}
