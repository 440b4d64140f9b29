// Package mesh holds the minimal mesh container types the ghost engine
// consumes: structured grids (implicit, rectilinear, curvilinear), polygonal
// surfaces and polyhedral volumes, together with named field arrays and
// per-element ghost-type bitmasks. The engine never depends on more than the
// small interfaces defined here.
package mesh

import (
	"fmt"

	"github.com/notargets/ghostsync/geom"
	"gonum.org/v1/gonum/mat"
)

// Association selects whether data attaches to points or cells.
type Association uint8

const (
	PointData Association = iota
	CellData
)

// Ghost-type bit flags. Every element appended beyond a partition's
// authoritative interior carries at least one of these.
const (
	// GhostDuplicate marks a non-authoritative copy owned by another
	// partition.
	GhostDuplicate byte = 1 << 0
	// GhostHidden marks an element present only for connectivity or stencil
	// completeness, excluded from computation.
	GhostHidden byte = 1 << 1
)

// Field is a named array with a fixed number of components per tuple.
type Field struct {
	Name  string
	Comps int
	Data  []float64 // length = tuples * Comps
}

// Tuples returns the number of tuples stored.
func (f *Field) Tuples() int {
	if f.Comps == 0 {
		return 0
	}
	return len(f.Data) / f.Comps
}

// Tuple returns the values of tuple i.
func (f *Field) Tuple(i int) []float64 {
	return f.Data[i*f.Comps : (i+1)*f.Comps]
}

// SetTuple overwrites tuple i.
func (f *Field) SetTuple(i int, v []float64) {
	copy(f.Data[i*f.Comps:(i+1)*f.Comps], v)
}

// FieldList is an ordered set of fields keyed by name.
type FieldList struct {
	fields []*Field
}

// Add appends a field, replacing any existing field of the same name.
func (fl *FieldList) Add(f *Field) {
	for i, g := range fl.fields {
		if g.Name == f.Name {
			fl.fields[i] = f
			return
		}
	}
	fl.fields = append(fl.fields, f)
}

// ByName returns the named field or nil.
func (fl *FieldList) ByName(name string) *Field {
	for _, f := range fl.fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Len returns the number of fields.
func (fl *FieldList) Len() int { return len(fl.fields) }

// At returns the i-th field in insertion order.
func (fl *FieldList) At(i int) *Field { return fl.fields[i] }

// Names returns the field names in insertion order.
func (fl *FieldList) Names() []string {
	names := make([]string, len(fl.fields))
	for i, f := range fl.fields {
		names[i] = f.Name
	}
	return names
}

// Meta carries the identity, field arrays and ghost bitmasks common to every
// dataset kind. The ID is the partition's global id, unique across all
// partitions of one synchronization pass.
type Meta struct {
	ID int

	PointArrays FieldList
	CellArrays  FieldList

	PointGhosts []byte
	CellGhosts  []byte
}

// GlobalID returns the partition's global id.
func (m *Meta) GlobalID() int { return m.ID }

// Arrays returns the field list for the given association.
func (m *Meta) Arrays(assoc Association) *FieldList {
	if assoc == PointData {
		return &m.PointArrays
	}
	return &m.CellArrays
}

// Ghosts returns the ghost bitmask for the association, or nil when absent.
func (m *Meta) Ghosts(assoc Association) []byte {
	if assoc == PointData {
		return m.PointGhosts
	}
	return m.CellGhosts
}

// SetGhosts installs a ghost bitmask.
func (m *Meta) SetGhosts(assoc Association, mask []byte) {
	if assoc == PointData {
		m.PointGhosts = mask
	} else {
		m.CellGhosts = mask
	}
}

// DataSet is the minimal surface every dataset kind exposes to the engine.
type DataSet interface {
	GlobalID() int
	NumPoints() int
	NumCells() int
	Arrays(assoc Association) *FieldList
	Ghosts(assoc Association) []byte
	SetGhosts(assoc Association, mask []byte)
}

// StructuredSet is implemented by the three structured kinds.
type StructuredSet interface {
	DataSet
	Extent() geom.Extent
	SetExtent(geom.Extent)
}

// ImageGrid is an implicit structured grid: geometry defined entirely by
// origin, spacing and an optional 3x3 direction matrix over an extent.
type ImageGrid struct {
	Meta
	Ext     geom.Extent
	Origin  [3]float64
	Spacing [3]float64
	// Direction is the grid orientation; nil means identity.
	Direction *mat.Dense
}

func (g *ImageGrid) Extent() geom.Extent     { return g.Ext }
func (g *ImageGrid) SetExtent(e geom.Extent) { g.Ext = e }
func (g *ImageGrid) NumPoints() int          { return g.Ext.NumPoints() }
func (g *ImageGrid) NumCells() int           { return g.Ext.NumCells() }

// PointCoord returns the world coordinate of grid point (i, j, k).
func (g *ImageGrid) PointCoord(i, j, k int) [3]float64 {
	local := [3]float64{
		float64(i) * g.Spacing[0],
		float64(j) * g.Spacing[1],
		float64(k) * g.Spacing[2],
	}
	if g.Direction != nil {
		var out [3]float64
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				out[r] += g.Direction.At(r, c) * local[c]
			}
		}
		local = out
	}
	return [3]float64{g.Origin[0] + local[0], g.Origin[1] + local[1], g.Origin[2] + local[2]}
}

// Bounds returns the world-space bounding box of the grid corners.
func (g *ImageGrid) Bounds() geom.Bounds {
	b := geom.EmptyBounds()
	if !g.Ext.Valid() {
		return b
	}
	for _, i := range []int{g.Ext[0], g.Ext[1]} {
		for _, j := range []int{g.Ext[2], g.Ext[3]} {
			for _, k := range []int{g.Ext[4], g.Ext[5]} {
				b.Add(g.PointCoord(i, j, k))
			}
		}
	}
	return b
}

// RectilinearGrid stores per-axis coordinate arrays over an extent. The
// coordinate arrays are indexed by extent-relative position: X[i-Ext[0]].
type RectilinearGrid struct {
	Meta
	Ext     geom.Extent
	X, Y, Z []float64
}

func (g *RectilinearGrid) Extent() geom.Extent     { return g.Ext }
func (g *RectilinearGrid) SetExtent(e geom.Extent) { g.Ext = e }
func (g *RectilinearGrid) NumPoints() int          { return g.Ext.NumPoints() }
func (g *RectilinearGrid) NumCells() int           { return g.Ext.NumCells() }

// Coords returns the coordinate array along axis.
func (g *RectilinearGrid) Coords(axis int) []float64 {
	switch axis {
	case 0:
		return g.X
	case 1:
		return g.Y
	default:
		return g.Z
	}
}

// SetCoords replaces the coordinate array along axis.
func (g *RectilinearGrid) SetCoords(axis int, c []float64) {
	switch axis {
	case 0:
		g.X = c
	case 1:
		g.Y = c
	default:
		g.Z = c
	}
}

// PointCoord returns the world coordinate of grid point (i, j, k).
func (g *RectilinearGrid) PointCoord(i, j, k int) [3]float64 {
	return [3]float64{
		g.X[i-g.Ext[0]],
		g.Y[j-g.Ext[2]],
		g.Z[k-g.Ext[4]],
	}
}

// Bounds returns the world-space bounding box.
func (g *RectilinearGrid) Bounds() geom.Bounds {
	b := geom.EmptyBounds()
	if !g.Ext.Valid() || len(g.X) == 0 || len(g.Y) == 0 || len(g.Z) == 0 {
		return b
	}
	b.Add([3]float64{g.X[0], g.Y[0], g.Z[0]})
	b.Add([3]float64{g.X[len(g.X)-1], g.Y[len(g.Y)-1], g.Z[len(g.Z)-1]})
	return b
}

// Validate checks that coordinate array lengths agree with the extent.
func (g *RectilinearGrid) Validate() error {
	d := g.Ext.PointDims()
	if len(g.X) != d[0] || len(g.Y) != d[1] || len(g.Z) != d[2] {
		return fmt.Errorf("rectilinear grid %d: coords (%d,%d,%d) do not match extent %v",
			g.ID, len(g.X), len(g.Y), len(g.Z), g.Ext)
	}
	return nil
}

// StructuredGrid is a curvilinear grid: explicit point positions in extent
// storage order (i fastest).
type StructuredGrid struct {
	Meta
	Ext    geom.Extent
	Points [][3]float64
}

func (g *StructuredGrid) Extent() geom.Extent     { return g.Ext }
func (g *StructuredGrid) SetExtent(e geom.Extent) { g.Ext = e }
func (g *StructuredGrid) NumPoints() int          { return g.Ext.NumPoints() }
func (g *StructuredGrid) NumCells() int           { return g.Ext.NumCells() }

// PointCoord returns the position of grid point (i, j, k).
func (g *StructuredGrid) PointCoord(i, j, k int) [3]float64 {
	return g.Points[g.Ext.PointIndex(i, j, k)]
}

// Bounds returns the world-space bounding box of all points.
func (g *StructuredGrid) Bounds() geom.Bounds {
	b := geom.EmptyBounds()
	for _, p := range g.Points {
		b.Add(p)
	}
	return b
}
