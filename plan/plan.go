// Package plan computes, per confirmed neighbor and requested ghost depth,
// exactly which extent (structured grids) or which points and cells
// (unstructured meshes, by breadth-first expansion from the interface) must
// be exchanged. Points already known to the neighbor through the interface
// handshake are referenced, not re-sent.
package plan

import (
	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/links"
)

// RefKind distinguishes the two ways a sent cell refers to a point.
type RefKind uint8

const (
	// Owned means the point's coordinates travel in this buffer; Index is
	// the position within the buffer's owned-point block.
	Owned RefKind = iota
	// InterfaceRef means the receiver already holds the point from the
	// interface handshake; Index is the canonical interface position k.
	InterfaceRef
)

// PointRef is a tagged reference to a sent point. The compact negative-id
// form exists only on the wire; in memory the tag is explicit.
type PointRef struct {
	Kind  RefKind
	Index int
}

// GridPlan is the structured ghost plan for one partition.
type GridPlan struct {
	// Interior is the partition's own extent before augmentation.
	Interior geom.Extent
	// Output is the augmented extent: interior plus every received region.
	Output geom.Extent
	// Sends maps neighbor gid to the extent, in LOCAL index space, whose
	// points, cells and fields this partition ships to that neighbor.
	Sends map[int]geom.Extent
	// Recvs maps neighbor gid to the extent, in LOCAL index space, that
	// will be filled from that neighbor's buffer.
	Recvs map[int]geom.Extent
}

// PlanGrid computes the structured plan. The ghost region received from a
// neighbor is the local extent grown by the requested depth intersected with
// the neighbor's shifted extent, which simultaneously caps the depth at the
// neighbor's available thickness and clamps the tangential axes when the
// neighbor only partially covers a face. Send regions are the mirror: the
// neighbor's grown extent intersected with the local one. Corner and edge
// contributions fall out of the same intersection per axis.
func PlanGrid(interior geom.Extent, gridLinks []links.GridLink, depth int) *GridPlan {
	p := &GridPlan{
		Interior: interior,
		Output:   interior,
		Sends:    make(map[int]geom.Extent),
		Recvs:    make(map[int]geom.Extent),
	}
	if !interior.Valid() || depth < 0 {
		return p
	}
	grown := interior.Grow(depth)
	for _, l := range gridLinks {
		recv := grown.Intersect(l.Extent)
		send := l.Extent.Grow(depth).Intersect(interior)
		if recv.Valid() && recv.NumPoints() > 0 {
			p.Recvs[l.Neighbor] = recv
			p.Output = p.Output.Union(recv)
		}
		if send.Valid() && send.NumPoints() > 0 {
			p.Sends[l.Neighbor] = send
		}
	}
	return p
}

// Topology is the minimal cell/point view the unstructured planner needs.
type Topology interface {
	NumPoints() int
	NumCells() int
	CellPoints(c int) []int64
	// CellDiscarded reports cells excluded from expansion: cells already
	// tagged as ghosts from a previous decomposition step.
	CellDiscarded(c int) bool
}

// PointCells is the inverse incidence: for each point, the cells using it.
type PointCells [][]int32

// BuildPointCells inverts cell connectivity once per partition; BFS rounds
// share it.
func BuildPointCells(t Topology) PointCells {
	counts := make([]int32, t.NumPoints())
	nc := t.NumCells()
	for c := 0; c < nc; c++ {
		for _, p := range t.CellPoints(c) {
			counts[p]++
		}
	}
	pc := make(PointCells, t.NumPoints())
	for p := range pc {
		pc[p] = make([]int32, 0, counts[p])
	}
	for c := 0; c < nc; c++ {
		for _, p := range t.CellPoints(c) {
			pc[p] = append(pc[p], int32(c))
		}
	}
	return pc
}

// SendSet is the minimal point/cell set covering the requested ghost depth
// for one neighbor.
type SendSet struct {
	// Cells holds local cell ids in the deterministic order they entered
	// the expansion.
	Cells []int

	// Refs is the sent-point table: connectivity on the wire indexes into
	// this sequence. Owned entries index OwnedPoints; InterfaceRef entries
	// name the k-th canonical interface point.
	Refs []PointRef

	// OwnedPoints holds local point ids of points whose coordinates must
	// travel, in first-use order.
	OwnedPoints []int64

	// RefOf maps a local point id to its position in Refs.
	RefOf map[int64]int
}

// PlanMeshSends runs the breadth-first expansion for every confirmed
// neighbor. Each iteration collects all not-yet-queued cells incident to the
// frontier's points, then the new points of those cells become the next
// frontier; depth iterations produce exactly the cells covering depth ghost
// layers. Depth 0 sends interface bookkeeping only: the neighbor can place
// ghost points but no ghost cells.
func PlanMeshSends(t Topology, pc PointCells, ifaceLinks []links.SurfaceLink, depth int) map[int]*SendSet {
	sends := make(map[int]*SendSet, len(ifaceLinks))
	for i := range ifaceLinks {
		sends[ifaceLinks[i].Neighbor] = expand(t, pc, &ifaceLinks[i], depth)
	}
	return sends
}

func expand(t Topology, pc PointCells, link *links.SurfaceLink, depth int) *SendSet {
	s := &SendSet{RefOf: make(map[int64]int)}

	// Interface points occupy their canonical slots up front so wire
	// references resolve without shipping coordinates twice.
	ifaceSlot := make(map[int64]int, len(link.LocalPoints))
	for k, p := range link.LocalPoints {
		ifaceSlot[p] = k
	}

	frontier := append([]int64(nil), link.LocalPoints...)
	seenPoint := make(map[int64]bool, len(frontier))
	for _, p := range frontier {
		seenPoint[p] = true
	}
	seenCell := make(map[int32]bool)

	for iter := 0; iter < depth; iter++ {
		var next []int64
		for _, p := range frontier {
			for _, c := range pc[p] {
				if seenCell[c] || t.CellDiscarded(int(c)) {
					continue
				}
				seenCell[c] = true
				s.Cells = append(s.Cells, int(c))
				for _, q := range t.CellPoints(int(c)) {
					if !seenPoint[q] {
						seenPoint[q] = true
						next = append(next, q)
					}
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	// Build the sent-point table in cell traversal order.
	for _, c := range s.Cells {
		for _, p := range t.CellPoints(c) {
			if _, ok := s.RefOf[p]; ok {
				continue
			}
			if k, ok := ifaceSlot[p]; ok {
				s.RefOf[p] = len(s.Refs)
				s.Refs = append(s.Refs, PointRef{Kind: InterfaceRef, Index: k})
			} else {
				s.RefOf[p] = len(s.Refs)
				s.Refs = append(s.Refs, PointRef{Kind: Owned, Index: len(s.OwnedPoints)})
				s.OwnedPoints = append(s.OwnedPoints, p)
			}
		}
	}
	return s
}
