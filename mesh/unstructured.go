package mesh

import (
	"fmt"

	"github.com/notargets/ghostsync/geom"
)

// CellType tags each cell of an unstructured mesh. The set is closed: the
// engine dispatches over it when deriving cell faces.
type CellType uint8

const (
	VertexCell CellType = iota
	LineCell
	TriangleCell
	QuadCell
	PolygonCell
	TetraCell
	HexahedronCell
	WedgeCell
	PyramidCell
	PolyhedronCell
)

// Connectivity stores variable-size cells as an offsets array plus a flat
// index array, offsets having one more entry than there are cells. Indices
// are kept as int64 in memory; the wire layer narrows to 32 bits when the
// receiver's point count allows it.
type Connectivity struct {
	Offsets []int64
	Conn    []int64
}

// NewConnectivity returns an empty connectivity with capacity hints.
func NewConnectivity(cellHint, connHint int) Connectivity {
	return Connectivity{
		Offsets: append(make([]int64, 0, cellHint+1), 0),
		Conn:    make([]int64, 0, connHint),
	}
}

// Len returns the number of cells.
func (c *Connectivity) Len() int {
	if len(c.Offsets) == 0 {
		return 0
	}
	return len(c.Offsets) - 1
}

// Cell returns the indices of cell i. The returned slice aliases the
// underlying storage.
func (c *Connectivity) Cell(i int) []int64 {
	return c.Conn[c.Offsets[i]:c.Offsets[i+1]]
}

// Append adds a cell.
func (c *Connectivity) Append(ids ...int64) {
	if len(c.Offsets) == 0 {
		c.Offsets = append(c.Offsets, 0)
	}
	c.Conn = append(c.Conn, ids...)
	c.Offsets = append(c.Offsets, int64(len(c.Conn)))
}

// Validate checks monotone offsets and in-range indices.
func (c *Connectivity) Validate(numPoints int) error {
	if len(c.Offsets) == 0 {
		return nil
	}
	if c.Offsets[0] != 0 {
		return fmt.Errorf("connectivity offsets must start at 0, got %d", c.Offsets[0])
	}
	for i := 1; i < len(c.Offsets); i++ {
		if c.Offsets[i] < c.Offsets[i-1] {
			return fmt.Errorf("connectivity offsets not monotone at %d", i)
		}
	}
	if c.Offsets[len(c.Offsets)-1] != int64(len(c.Conn)) {
		return fmt.Errorf("connectivity final offset %d does not match index count %d",
			c.Offsets[len(c.Offsets)-1], len(c.Conn))
	}
	for _, id := range c.Conn {
		if id < 0 || id >= int64(numPoints) {
			return fmt.Errorf("connectivity index %d out of range [0,%d)", id, numPoints)
		}
	}
	return nil
}

// PolyMesh is a polygonal surface: points plus polygon connectivity.
type PolyMesh struct {
	Meta
	Points [][3]float64
	Polys  Connectivity

	// GlobalPointIDs is optional; when present on all linked partitions it
	// keys interface matching and ownership.
	GlobalPointIDs []int64
}

func (m *PolyMesh) NumPoints() int { return len(m.Points) }
func (m *PolyMesh) NumCells() int  { return m.Polys.Len() }

// Bounds returns the world-space bounding box of all points.
func (m *PolyMesh) Bounds() geom.Bounds {
	b := geom.EmptyBounds()
	for _, p := range m.Points {
		b.Add(p)
	}
	return b
}

// UnstructuredMesh is a volumetric mesh of mixed cell types, including
// polyhedra described by an extra two-level face buffer: FaceLocations lists,
// per cell, the face ids making up the cell (empty for non-polyhedral cells),
// and Faces lists the point ids of each face. Meshes with no polyhedra leave
// both buffers empty.
type UnstructuredMesh struct {
	Meta
	Points    [][3]float64
	Cells     Connectivity
	CellTypes []CellType

	Faces         Connectivity
	FaceLocations Connectivity

	GlobalPointIDs []int64
}

func (m *UnstructuredMesh) NumPoints() int { return len(m.Points) }
func (m *UnstructuredMesh) NumCells() int  { return m.Cells.Len() }

// Bounds returns the world-space bounding box of all points.
func (m *UnstructuredMesh) Bounds() geom.Bounds {
	b := geom.EmptyBounds()
	for _, p := range m.Points {
		b.Add(p)
	}
	return b
}

// Validate checks structural consistency of connectivity and tag arrays.
func (m *UnstructuredMesh) Validate() error {
	if m.Cells.Len() != len(m.CellTypes) {
		return fmt.Errorf("mesh %d: %d cells but %d cell types", m.ID, m.Cells.Len(), len(m.CellTypes))
	}
	if err := m.Cells.Validate(len(m.Points)); err != nil {
		return fmt.Errorf("mesh %d cells: %w", m.ID, err)
	}
	if m.Faces.Len() > 0 {
		if err := m.Faces.Validate(len(m.Points)); err != nil {
			return fmt.Errorf("mesh %d faces: %w", m.ID, err)
		}
	}
	return nil
}

// cellFaceTable lists, per closed-set cell type, which local vertex indices
// form each face of the cell. 2D cells expose their edges.
var cellFaceTable = map[CellType][][]int{
	TriangleCell: {{0, 1}, {1, 2}, {2, 0}},
	QuadCell:     {{0, 1}, {1, 2}, {2, 3}, {3, 0}},
	TetraCell:    {{0, 1, 2}, {0, 1, 3}, {1, 2, 3}, {0, 2, 3}},
	HexahedronCell: {
		{0, 1, 5, 4}, {1, 2, 6, 5}, {2, 3, 7, 6},
		{3, 0, 4, 7}, {0, 3, 2, 1}, {4, 5, 6, 7},
	},
	WedgeCell: {
		{0, 1, 2}, {3, 4, 5},
		{0, 1, 4, 3}, {1, 2, 5, 4}, {2, 0, 3, 5},
	},
	PyramidCell: {
		{0, 1, 2, 3},
		{0, 1, 4}, {1, 2, 4}, {2, 3, 4}, {3, 0, 4},
	},
}

// CellFaces returns the faces of cell i as point-id lists. Polygons expose
// their edges; polyhedra read the explicit face buffer.
func (m *UnstructuredMesh) CellFaces(i int) [][]int64 {
	cell := m.Cells.Cell(i)
	switch m.CellTypes[i] {
	case PolyhedronCell:
		locs := m.FaceLocations.Cell(i)
		faces := make([][]int64, len(locs))
		for fi, fid := range locs {
			faces[fi] = m.Faces.Cell(int(fid))
		}
		return faces
	case PolygonCell:
		n := len(cell)
		faces := make([][]int64, n)
		for e := 0; e < n; e++ {
			faces[e] = []int64{cell[e], cell[(e+1)%n]}
		}
		return faces
	default:
		tbl, ok := cellFaceTable[m.CellTypes[i]]
		if !ok {
			return nil
		}
		faces := make([][]int64, len(tbl))
		for fi, verts := range tbl {
			f := make([]int64, len(verts))
			for vi, v := range verts {
				f[vi] = cell[v]
			}
			faces[fi] = f
		}
		return faces
	}
}
