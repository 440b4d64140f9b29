package ghost

import (
	"fmt"

	"github.com/notargets/ghostsync/descriptor"
	"github.com/notargets/ghostsync/mesh"
	"github.com/notargets/ghostsync/plan"
	"github.com/notargets/ghostsync/wire"
)

// SynchronizePoly exchanges ghost layers among polygonal surface partitions.
// Every rank participating in the channel must call it collectively with
// the same depth.
func SynchronizePoly(parts []*mesh.PolyMesh, depth int, opts *Options) ([]*mesh.PolyMesh, error) {
	outs, err := syncMeshes(&polyKind{parts: parts}, depth, opts)
	if err != nil {
		return nil, err
	}
	res := make([]*mesh.PolyMesh, len(outs))
	for i, o := range outs {
		res[i] = o.(*mesh.PolyMesh)
	}
	return res, nil
}

// SynchronizeUnstructured exchanges ghost layers among volumetric mesh
// partitions of mixed cell types, polyhedra included.
func SynchronizeUnstructured(parts []*mesh.UnstructuredMesh, depth int, opts *Options) ([]*mesh.UnstructuredMesh, error) {
	outs, err := syncMeshes(&unstructKind{parts: parts}, depth, opts)
	if err != nil {
		return nil, err
	}
	res := make([]*mesh.UnstructuredMesh, len(outs))
	for i, o := range outs {
		res[i] = o.(*mesh.UnstructuredMesh)
	}
	return res, nil
}

func ghosted(ghosts []byte, c int) bool {
	return c < len(ghosts) && ghosts[c]&(mesh.GhostDuplicate|mesh.GhostHidden) != 0
}

type polyKind struct {
	parts []*mesh.PolyMesh
}

func (k *polyKind) Count() int                 { return len(k.parts) }
func (k *polyKind) Dataset(i int) mesh.DataSet { return k.parts[i] }
func (k *polyKind) Points(i int) [][3]float64  { return k.parts[i].Points }
func (k *polyKind) GlobalIDs(i int) []int64    { return k.parts[i].GlobalPointIDs }

func (k *polyKind) Build(i, rank, gid int) *descriptor.Surface {
	k.parts[i].ID = gid
	return descriptor.BuildPoly(k.parts[i], rank)
}

func (k *polyKind) Topology(i int) plan.Topology { return polyTopo{m: k.parts[i]} }

type polyTopo struct {
	m *mesh.PolyMesh
}

func (t polyTopo) NumPoints() int           { return len(t.m.Points) }
func (t polyTopo) NumCells() int            { return t.m.Polys.Len() }
func (t polyTopo) CellPoints(c int) []int64 { return t.m.Polys.Cell(c) }
func (t polyTopo) CellDiscarded(c int) bool { return ghosted(t.m.CellGhosts, c) }

func (k *polyKind) AppendSend(i int, s *plan.SendSet, g *wire.MeshGhost) error {
	m := k.parts[i]
	offs := []int64{0}
	var conn []int64
	types := make([]mesh.CellType, 0, len(s.Cells))
	for _, c := range s.Cells {
		for _, p := range m.Polys.Cell(c) {
			ri, ok := s.RefOf[p]
			if !ok {
				return fmt.Errorf("polygon %d references point %d outside the send set", c, p)
			}
			conn = append(conn, int64(ri))
		}
		offs = append(offs, int64(len(conn)))
		types = append(types, mesh.PolygonCell)
	}
	g.CellOffsets, g.CellConn, g.CellTypes = offs, conn, types
	return nil
}

func (k *polyKind) NewBuilder(i int, keepCell []bool, pointMap []int64) meshBuilder {
	in := k.parts[i]
	out := &mesh.PolyMesh{Polys: mesh.NewConnectivity(in.Polys.Len(), len(in.Polys.Conn))}
	for c := 0; c < in.Polys.Len(); c++ {
		if !keepCell[c] {
			continue
		}
		cell := in.Polys.Cell(c)
		mapped := make([]int64, len(cell))
		for vi, p := range cell {
			mapped[vi] = pointMap[p]
		}
		out.Polys.Append(mapped...)
	}
	return &polyBuilder{out: out}
}

type polyBuilder struct {
	out *mesh.PolyMesh
}

func (b *polyBuilder) AppendCell(_ *wire.MeshGhost, _ int, conn []int64, _ []int64) error {
	b.out.Polys.Append(conn...)
	return nil
}

func (b *polyBuilder) Finish(pts [][3]float64, gids []int64, meta *mesh.Meta) mesh.DataSet {
	b.out.Points = pts
	b.out.GlobalPointIDs = gids
	b.out.Meta = *meta
	return b.out
}

type unstructKind struct {
	parts []*mesh.UnstructuredMesh
}

func (k *unstructKind) Count() int                 { return len(k.parts) }
func (k *unstructKind) Dataset(i int) mesh.DataSet { return k.parts[i] }
func (k *unstructKind) Points(i int) [][3]float64  { return k.parts[i].Points }
func (k *unstructKind) GlobalIDs(i int) []int64    { return k.parts[i].GlobalPointIDs }

func (k *unstructKind) Build(i, rank, gid int) *descriptor.Surface {
	k.parts[i].ID = gid
	return descriptor.BuildUnstructured(k.parts[i], rank)
}

func (k *unstructKind) Topology(i int) plan.Topology { return meshTopo{m: k.parts[i]} }

type meshTopo struct {
	m *mesh.UnstructuredMesh
}

func (t meshTopo) NumPoints() int           { return len(t.m.Points) }
func (t meshTopo) NumCells() int            { return t.m.Cells.Len() }
func (t meshTopo) CellPoints(c int) []int64 { return t.m.Cells.Cell(c) }
func (t meshTopo) CellDiscarded(c int) bool { return ghosted(t.m.CellGhosts, c) }

func (k *unstructKind) AppendSend(i int, s *plan.SendSet, g *wire.MeshGhost) error {
	m := k.parts[i]
	offs := []int64{0}
	var conn []int64
	types := make([]mesh.CellType, 0, len(s.Cells))
	faceOffs := []int64{0}
	var faceConn []int64
	locOffs := []int64{0}
	var locConn []int64
	hasPoly := false
	for _, c := range s.Cells {
		for _, p := range m.Cells.Cell(c) {
			ri, ok := s.RefOf[p]
			if !ok {
				return fmt.Errorf("cell %d references point %d outside the send set", c, p)
			}
			conn = append(conn, int64(ri))
		}
		offs = append(offs, int64(len(conn)))
		types = append(types, m.CellTypes[c])
		if m.CellTypes[c] == mesh.PolyhedronCell {
			hasPoly = true
			for _, fid := range m.FaceLocations.Cell(c) {
				for _, p := range m.Faces.Cell(int(fid)) {
					ri, ok := s.RefOf[p]
					if !ok {
						return fmt.Errorf("face %d references point %d outside the send set", fid, p)
					}
					faceConn = append(faceConn, int64(ri))
				}
				faceOffs = append(faceOffs, int64(len(faceConn)))
				locConn = append(locConn, int64(len(faceOffs)-2))
			}
		}
		locOffs = append(locOffs, int64(len(locConn)))
	}
	g.CellOffsets, g.CellConn, g.CellTypes = offs, conn, types
	if hasPoly {
		g.FaceOffsets, g.FaceConn = faceOffs, faceConn
		g.LocOffsets, g.LocConn = locOffs, locConn
	}
	return nil
}

func (k *unstructKind) NewBuilder(i int, keepCell []bool, pointMap []int64) meshBuilder {
	in := k.parts[i]
	out := &mesh.UnstructuredMesh{
		Cells: mesh.NewConnectivity(in.Cells.Len(), len(in.Cells.Conn)),
	}
	b := &unstructBuilder{out: out, hasPoly: in.FaceLocations.Len() > 0}
	if b.hasPoly {
		out.Faces = mesh.NewConnectivity(in.Faces.Len(), len(in.Faces.Conn))
		out.FaceLocations = mesh.NewConnectivity(in.Cells.Len(), len(in.FaceLocations.Conn))
	}
	for c := 0; c < in.Cells.Len(); c++ {
		if !keepCell[c] {
			continue
		}
		cell := in.Cells.Cell(c)
		mapped := make([]int64, len(cell))
		for vi, p := range cell {
			mapped[vi] = pointMap[p]
		}
		out.Cells.Append(mapped...)
		out.CellTypes = append(out.CellTypes, in.CellTypes[c])
		if !b.hasPoly {
			continue
		}
		var locs []int64
		if in.CellTypes[c] == mesh.PolyhedronCell {
			for _, fid := range in.FaceLocations.Cell(c) {
				face := in.Faces.Cell(int(fid))
				mf := make([]int64, len(face))
				for vi, p := range face {
					mf[vi] = pointMap[p]
				}
				out.Faces.Append(mf...)
				locs = append(locs, int64(out.Faces.Len()-1))
			}
		}
		out.FaceLocations.Append(locs...)
	}
	return b
}

type unstructBuilder struct {
	out     *mesh.UnstructuredMesh
	hasPoly bool
}

// ensurePoly backfills empty face lists when the first polyhedron arrives
// into a mesh that had none.
func (b *unstructBuilder) ensurePoly() {
	if b.hasPoly {
		return
	}
	b.hasPoly = true
	for c := 0; c < b.out.Cells.Len(); c++ {
		b.out.FaceLocations.Append()
	}
}

func (b *unstructBuilder) AppendCell(g *wire.MeshGhost, c int, conn []int64, resolve []int64) error {
	t := g.CellTypes[c]
	if t == mesh.PolyhedronCell {
		b.ensurePoly()
		if c+1 >= len(g.LocOffsets) {
			return fmt.Errorf("ghost %d->%d: polyhedron %d has no face list: %w",
				g.From, g.To, c, wire.ErrSizeMismatch)
		}
	}
	b.out.Cells.Append(conn...)
	b.out.CellTypes = append(b.out.CellTypes, t)
	if !b.hasPoly {
		return nil
	}
	var locs []int64
	if t == mesh.PolyhedronCell {
		for _, fid := range g.LocConn[g.LocOffsets[c]:g.LocOffsets[c+1]] {
			if fid < 0 || int(fid)+1 >= len(g.FaceOffsets) {
				return fmt.Errorf("ghost %d->%d: face id %d outside face table: %w",
					g.From, g.To, fid, wire.ErrSizeMismatch)
			}
			raw := g.FaceConn[g.FaceOffsets[fid]:g.FaceOffsets[fid+1]]
			face := make([]int64, len(raw))
			for vi, r := range raw {
				if r < 0 || int(r) >= len(resolve) {
					return fmt.Errorf("ghost %d->%d: face index %d outside sent-point table: %w",
						g.From, g.To, r, wire.ErrSizeMismatch)
				}
				face[vi] = resolve[r]
			}
			b.out.Faces.Append(face...)
			locs = append(locs, int64(b.out.Faces.Len()-1))
		}
	}
	b.out.FaceLocations.Append(locs...)
	return nil
}

func (b *unstructBuilder) Finish(pts [][3]float64, gids []int64, meta *mesh.Meta) mesh.DataSet {
	b.out.Points = pts
	b.out.GlobalPointIDs = gids
	b.out.Meta = *meta
	return b.out
}
