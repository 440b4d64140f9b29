package wire

import (
	"fmt"

	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/mesh"
	"github.com/notargets/ghostsync/plan"
)

// FieldBlock is one serialized field array, tuples gathered into the sent
// point/cell order.
type FieldBlock struct {
	Name  string
	Comps int
	Data  []float64
}

// GatherField packs the tuples named by ids from a source field.
func GatherField(f *mesh.Field, ids []int64) FieldBlock {
	b := FieldBlock{Name: f.Name, Comps: f.Comps, Data: make([]float64, 0, len(ids)*f.Comps)}
	for _, id := range ids {
		b.Data = append(b.Data, f.Tuple(int(id))...)
	}
	return b
}

func writeFieldBlocks(w *Writer, blocks []FieldBlock) {
	w.U32(uint32(len(blocks)))
	for _, b := range blocks {
		w.String(b.Name)
		w.U32(uint32(b.Comps))
		w.F64s(b.Data)
	}
}

func readFieldBlocks(r *Reader) []FieldBlock {
	n := int(r.U32())
	if r.Err() != nil || n <= 0 {
		return nil
	}
	blocks := make([]FieldBlock, 0, n)
	for i := 0; i < n; i++ {
		b := FieldBlock{Name: r.String(), Comps: int(r.U32())}
		b.Data = r.F64s()
		if r.Err() != nil {
			return nil
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// GridGhost carries one structured ghost contribution. SendExtent is in the
// SENDER's index space; the receiver maps it through the link's index map.
// SendCells names the cells whose data travels; it is carried separately
// because a region one point thick holds points but no cells. Points is
// populated for curvilinear grids only; implicit and rectilinear receivers
// reconstruct coordinates from the descriptor.
type GridGhost struct {
	From, To   int
	SendExtent geom.Extent
	SendCells  geom.Extent

	Points      [][3]float64
	PointFields []FieldBlock
	CellFields  []FieldBlock
}

// Encode serializes the contribution, compressing above threshold.
func (g *GridGhost) Encode(threshold int) []byte {
	var w Writer
	w.I64(int64(g.From))
	w.I64(int64(g.To))
	for _, v := range g.SendExtent {
		w.I64(int64(v))
	}
	for _, v := range g.SendCells {
		w.I64(int64(v))
	}
	w.Points(g.Points)
	writeFieldBlocks(&w, g.PointFields)
	writeFieldBlocks(&w, g.CellFields)
	return w.Bytes(threshold)
}

// DecodeGridGhost parses a structured contribution and validates the
// announced sizes against the extent.
func DecodeGridGhost(payload []byte) (*GridGhost, error) {
	r, err := NewReader(payload)
	if err != nil {
		return nil, err
	}
	g := &GridGhost{From: int(r.I64()), To: int(r.I64())}
	for i := range g.SendExtent {
		g.SendExtent[i] = int(r.I64())
	}
	for i := range g.SendCells {
		g.SendCells[i] = int(r.I64())
	}
	g.Points = r.PointsArr()
	g.PointFields = readFieldBlocks(r)
	g.CellFields = readFieldBlocks(r)
	if r.Err() != nil {
		return nil, fmt.Errorf("decoding grid ghost %d->%d: %w", g.From, g.To, r.Err())
	}
	np, nc := g.SendExtent.NumPoints(), g.SendCells.NumPoints()
	if len(g.Points) != 0 && len(g.Points) != np {
		return nil, fmt.Errorf("grid ghost %d->%d: %d points for extent %v: %w",
			g.From, g.To, len(g.Points), g.SendExtent, ErrSizeMismatch)
	}
	for _, b := range g.PointFields {
		if b.Comps <= 0 || len(b.Data) != np*b.Comps {
			return nil, fmt.Errorf("grid ghost %d->%d field %q: %w", g.From, g.To, b.Name, ErrSizeMismatch)
		}
	}
	for _, b := range g.CellFields {
		if b.Comps <= 0 || len(b.Data) != nc*b.Comps {
			return nil, fmt.Errorf("grid ghost %d->%d field %q: %w", g.From, g.To, b.Name, ErrSizeMismatch)
		}
	}
	return g, nil
}

// checkOffsets verifies an offsets array is monotone, starts at zero and
// ends at the flat array's length.
func checkOffsets(offs []int64, connLen int) error {
	if len(offs) == 0 {
		if connLen != 0 {
			return fmt.Errorf("no offsets for %d indices", connLen)
		}
		return nil
	}
	if offs[0] != 0 {
		return fmt.Errorf("offsets start at %d", offs[0])
	}
	for i := 1; i < len(offs); i++ {
		if offs[i] < offs[i-1] {
			return fmt.Errorf("offsets not monotone at %d", i)
		}
	}
	if offs[len(offs)-1] != int64(connLen) {
		return fmt.Errorf("final offset %d does not match index count %d", offs[len(offs)-1], connLen)
	}
	return nil
}

// EncodeRef packs a tagged point reference into its compact wire form:
// owned points keep their non-negative sent-table index, interface points
// become -(k+1) meaning "the k-th point already known to the receiver".
func EncodeRef(ref plan.PointRef) int64 {
	if ref.Kind == plan.InterfaceRef {
		return -int64(ref.Index) - 1
	}
	return int64(ref.Index)
}

// DecodeRef unpacks the wire form back into the tagged representation.
func DecodeRef(v int64) plan.PointRef {
	if v < 0 {
		return plan.PointRef{Kind: plan.InterfaceRef, Index: int(-v - 1)}
	}
	return plan.PointRef{Kind: plan.Owned, Index: int(v)}
}

// MeshGhost carries one unstructured ghost contribution. Connectivity
// indices refer to the sent-point table Refs; Points holds coordinates for
// owned entries only, in owned order.
type MeshGhost struct {
	From, To int

	Points    [][3]float64
	GlobalIDs []int64 // optional, parallel to Points
	Refs      []plan.PointRef

	CellOffsets []int64
	CellConn    []int64 // indices into Refs
	CellTypes   []mesh.CellType

	FaceOffsets []int64
	FaceConn    []int64 // indices into Refs
	LocOffsets  []int64
	LocConn     []int64 // indices into the Faces section

	PointFields []FieldBlock // tuples = len(Points), owned points only
	CellFields  []FieldBlock // tuples = number of cells
}

// NumCells returns the number of cells carried.
func (g *MeshGhost) NumCells() int {
	if len(g.CellOffsets) == 0 {
		return 0
	}
	return len(g.CellOffsets) - 1
}

// Encode serializes the contribution.
func (g *MeshGhost) Encode(threshold int) []byte {
	var w Writer
	w.I64(int64(g.From))
	w.I64(int64(g.To))
	w.Points(g.Points)
	w.I64s(g.GlobalIDs)

	refs := make([]int64, len(g.Refs))
	for i, ref := range g.Refs {
		refs[i] = EncodeRef(ref)
	}
	w.I64s(refs)

	w.I64s(g.CellOffsets)
	w.I64s(g.CellConn)
	types := make([]int64, len(g.CellTypes))
	for i, t := range g.CellTypes {
		types[i] = int64(t)
	}
	w.I64s(types)

	w.I64s(g.FaceOffsets)
	w.I64s(g.FaceConn)
	w.I64s(g.LocOffsets)
	w.I64s(g.LocConn)

	writeFieldBlocks(&w, g.PointFields)
	writeFieldBlocks(&w, g.CellFields)
	return w.Bytes(threshold)
}

// DecodeMeshGhost parses an unstructured contribution and validates section
// sizes against each other.
func DecodeMeshGhost(payload []byte) (*MeshGhost, error) {
	r, err := NewReader(payload)
	if err != nil {
		return nil, err
	}
	g := &MeshGhost{From: int(r.I64()), To: int(r.I64())}
	g.Points = r.PointsArr()
	g.GlobalIDs = r.I64s()

	for _, v := range r.I64s() {
		g.Refs = append(g.Refs, DecodeRef(v))
	}

	g.CellOffsets = r.I64s()
	g.CellConn = r.I64s()
	for _, v := range r.I64s() {
		g.CellTypes = append(g.CellTypes, mesh.CellType(v))
	}

	g.FaceOffsets = r.I64s()
	g.FaceConn = r.I64s()
	g.LocOffsets = r.I64s()
	g.LocConn = r.I64s()

	g.PointFields = readFieldBlocks(r)
	g.CellFields = readFieldBlocks(r)
	if r.Err() != nil {
		return nil, fmt.Errorf("decoding mesh ghost %d->%d: %w", g.From, g.To, r.Err())
	}

	if len(g.GlobalIDs) != 0 && len(g.GlobalIDs) != len(g.Points) {
		return nil, fmt.Errorf("mesh ghost %d->%d: %d global ids for %d points: %w",
			g.From, g.To, len(g.GlobalIDs), len(g.Points), ErrSizeMismatch)
	}
	if g.NumCells() != len(g.CellTypes) {
		return nil, fmt.Errorf("mesh ghost %d->%d: %d cells but %d types: %w",
			g.From, g.To, g.NumCells(), len(g.CellTypes), ErrSizeMismatch)
	}
	for _, sec := range []struct {
		name string
		offs []int64
		conn []int64
	}{
		{"cells", g.CellOffsets, g.CellConn},
		{"faces", g.FaceOffsets, g.FaceConn},
		{"face locations", g.LocOffsets, g.LocConn},
	} {
		if err := checkOffsets(sec.offs, len(sec.conn)); err != nil {
			return nil, fmt.Errorf("mesh ghost %d->%d %s: %v: %w", g.From, g.To, sec.name, err, ErrSizeMismatch)
		}
	}
	owned := 0
	for _, ref := range g.Refs {
		if ref.Kind == plan.Owned {
			if ref.Index != owned {
				return nil, fmt.Errorf("mesh ghost %d->%d: owned refs out of order: %w",
					g.From, g.To, ErrSizeMismatch)
			}
			owned++
		}
	}
	if owned != len(g.Points) {
		return nil, fmt.Errorf("mesh ghost %d->%d: %d owned refs but %d points: %w",
			g.From, g.To, owned, len(g.Points), ErrSizeMismatch)
	}
	for _, c := range g.CellConn {
		if c < 0 || int(c) >= len(g.Refs) {
			return nil, fmt.Errorf("mesh ghost %d->%d: connectivity index %d outside sent-point table: %w",
				g.From, g.To, c, ErrSizeMismatch)
		}
	}
	for _, b := range g.PointFields {
		if b.Comps <= 0 || len(b.Data) != len(g.Points)*b.Comps {
			return nil, fmt.Errorf("mesh ghost %d->%d field %q: %w", g.From, g.To, b.Name, ErrSizeMismatch)
		}
	}
	for _, b := range g.CellFields {
		if b.Comps <= 0 || len(b.Data) != g.NumCells()*b.Comps {
			return nil, fmt.Errorf("mesh ghost %d->%d field %q: %w", g.From, g.To, b.Name, ErrSizeMismatch)
		}
	}
	return g, nil
}
