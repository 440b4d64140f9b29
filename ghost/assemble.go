package ghost

import (
	"fmt"
	"sort"

	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/links"
	"github.com/notargets/ghostsync/mesh"
	"github.com/notargets/ghostsync/wire"
)

type fieldPair struct {
	src, dst *mesh.Field
}

type pointSource interface {
	PointCoord(i, j, k int) [3]float64
}

// assembleGrid builds one partition's augmented output: interior data copied
// across, received regions scattered through each link's index map, ghost
// masks derived from coverage and ownership. Contributions merge in
// ascending neighbor gid; the first writer of a point or cell wins and the
// interior always writes first.
func assembleGrid(k gridKind, i int, a *gridAssembly) (mesh.StructuredSet, error) {
	in := k.Dataset(i)
	out, err := k.NewOutput(i, a)
	if err != nil {
		return nil, err
	}
	outExt := a.plan.Output
	interior := a.plan.Interior
	inExt := in.Extent()

	np := outExt.NumPoints()
	outCells := outExt.CellExtent()
	nc := outCells.NumPoints()

	makePairs := func(assoc mesh.Association, tuples int) []fieldPair {
		src := in.Arrays(assoc)
		dst := out.Arrays(assoc)
		pairs := make([]fieldPair, 0, src.Len())
		for fi := 0; fi < src.Len(); fi++ {
			f := src.At(fi)
			g := &mesh.Field{Name: f.Name, Comps: f.Comps, Data: make([]float64, tuples*f.Comps)}
			dst.Add(g)
			pairs = append(pairs, fieldPair{f, g})
		}
		return pairs
	}
	pPairs := makePairs(mesh.PointData, np)
	cPairs := makePairs(mesh.CellData, nc)

	touchedP := make([]bool, np)
	touchedC := make([]bool, nc)

	var ps pointSource
	if src, ok := in.(pointSource); ok && k.ExplicitPoints() {
		ps = src
	}
	interior.ForEachPoint(func(x, y, z int) {
		dst := outExt.PointIndex(x, y, z)
		src := inExt.PointIndex(x, y, z)
		for _, p := range pPairs {
			p.dst.SetTuple(dst, p.src.Tuple(src))
		}
		if ps != nil {
			k.SetPoint(out, dst, ps.PointCoord(x, y, z))
		}
		touchedP[dst] = true
	})
	interiorCells := interior.CellExtent()
	inCells := inExt.CellExtent()
	interiorCells.ForEachPoint(func(x, y, z int) {
		dst := outCells.PointIndex(x, y, z)
		src := inCells.PointIndex(x, y, z)
		for _, p := range cPairs {
			p.dst.SetTuple(dst, p.src.Tuple(src))
		}
		touchedC[dst] = true
	})

	nbrs := make([]int, 0, len(a.plan.Recvs))
	for gid := range a.plan.Recvs {
		nbrs = append(nbrs, gid)
	}
	sort.Ints(nbrs)

	for _, ngid := range nbrs {
		R := a.plan.Recvs[ngid]
		link := a.links[ngid]
		g, ok := a.recvs[ngid]
		if !ok {
			a.log.Warn().Int("gid", a.gid).Int("neighbor", ngid).
				Msg("planned ghost contribution missing; region left hidden")
			continue
		}
		mappedR := link.Map.ApplyExtent(R)
		if !g.SendExtent.ContainsExtent(mappedR) {
			return nil, fmt.Errorf("ghost %d->%d covers %v, receiver needs %v: %w",
				ngid, a.gid, g.SendExtent, mappedR, wire.ErrSizeMismatch)
		}
		pBlocks, err := matchBlocks(pPairs, g.PointFields, ngid, a.gid)
		if err != nil {
			return nil, err
		}
		cBlocks, err := matchBlocks(cPairs, g.CellFields, ngid, a.gid)
		if err != nil {
			return nil, err
		}

		curv := len(g.Points) > 0
		R.ForEachPoint(func(x, y, z int) {
			dst := outExt.PointIndex(x, y, z)
			if touchedP[dst] {
				return
			}
			s := link.Map.Apply([3]int{x, y, z})
			src := g.SendExtent.PointIndex(s[0], s[1], s[2])
			for fi := range pPairs {
				if b := pBlocks[fi]; b != nil {
					copy(pPairs[fi].dst.Data[dst*b.Comps:(dst+1)*b.Comps],
						b.Data[src*b.Comps:(src+1)*b.Comps])
				}
			}
			if curv {
				k.SetPoint(out, dst, g.Points[src])
			}
			touchedP[dst] = true
		})

		recvCells := R.CellsWithin(interior)
		if !recvCells.Valid() {
			continue
		}
		mappedCells := mapCellExtent(link.Map, R, recvCells)
		if !g.SendCells.ContainsExtent(mappedCells) {
			return nil, fmt.Errorf("ghost %d->%d cells cover %v, receiver needs %v: %w",
				ngid, a.gid, g.SendCells, mappedCells, wire.ErrSizeMismatch)
		}
		recvCells.ForEachPoint(func(x, y, z int) {
			dst := outCells.PointIndex(x, y, z)
			if touchedC[dst] {
				return
			}
			s := mapCell(link.Map, R, x, y, z)
			src := g.SendCells.PointIndex(s[0], s[1], s[2])
			for fi := range cPairs {
				if b := cBlocks[fi]; b != nil {
					copy(cPairs[fi].dst.Data[dst*b.Comps:(dst+1)*b.Comps],
						b.Data[src*b.Comps:(src+1)*b.Comps])
				}
			}
			touchedC[dst] = true
		})
	}

	// Ownership: the lowest gid sharing a point or cell keeps it, everyone
	// else marks theirs a duplicate. Regions planned but never filled are
	// additionally hidden.
	var lower []links.GridLink
	var lowerCells []geom.Extent
	for ngid, l := range a.links {
		if ngid < a.gid {
			lower = append(lower, l)
			lowerCells = append(lowerCells, l.Extent.CellsWithin(interior))
		}
	}
	pGhost := make([]byte, np)
	outExt.ForEachPoint(func(x, y, z int) {
		idx := outExt.PointIndex(x, y, z)
		switch {
		case !touchedP[idx]:
			pGhost[idx] = mesh.GhostDuplicate | mesh.GhostHidden
		case !interior.Contains(x, y, z):
			pGhost[idx] = mesh.GhostDuplicate
		default:
			for _, l := range lower {
				if l.Extent.Contains(x, y, z) {
					pGhost[idx] = mesh.GhostDuplicate
					break
				}
			}
		}
	})
	cGhost := make([]byte, nc)
	outCells.ForEachPoint(func(x, y, z int) {
		idx := outCells.PointIndex(x, y, z)
		switch {
		case !touchedC[idx]:
			cGhost[idx] = mesh.GhostDuplicate | mesh.GhostHidden
		case !interiorCells.Contains(x, y, z):
			cGhost[idx] = mesh.GhostDuplicate
		default:
			for _, lc := range lowerCells {
				if lc.Valid() && lc.Contains(x, y, z) {
					cGhost[idx] = mesh.GhostDuplicate
					break
				}
			}
		}
	})
	out.SetGhosts(mesh.PointData, pGhost)
	out.SetGhosts(mesh.CellData, cGhost)
	return out, nil
}

// matchBlocks pairs received field blocks with local fields by name. A
// missing block leaves the field's ghost region hidden-zero; a component
// mismatch is a protocol inconsistency.
func matchBlocks(pairs []fieldPair, blocks []wire.FieldBlock, from, to int) ([]*wire.FieldBlock, error) {
	out := make([]*wire.FieldBlock, len(pairs))
	for i := range pairs {
		for bi := range blocks {
			if blocks[bi].Name != pairs[i].src.Name {
				continue
			}
			if blocks[bi].Comps != pairs[i].src.Comps {
				return nil, fmt.Errorf("ghost %d->%d field %q: %d comps, want %d: %w",
					from, to, blocks[bi].Name, blocks[bi].Comps, pairs[i].src.Comps, wire.ErrSizeMismatch)
			}
			out[i] = &blocks[bi]
			break
		}
	}
	return out, nil
}

// mapCell maps a receiver cell index into the sender's cell index space. A
// cell is named by its minimum corner point; under reflection the image of
// the minimum corner is the maximum, so the mapped cell takes the smaller of
// the two mapped corners per axis. R supplies which axes the region
// resolves.
func mapCell(m links.IndexMap, R geom.Extent, x, y, z int) [3]int {
	var d [3]int
	for a := 0; a < 3; a++ {
		if R[2*a] != R[2*a+1] {
			d[a] = 1
		}
	}
	lo := m.Apply([3]int{x, y, z})
	hi := m.Apply([3]int{x + d[0], y + d[1], z + d[2]})
	var out [3]int
	for a := 0; a < 3; a++ {
		if hi[a] < lo[a] {
			out[a] = hi[a]
		} else {
			out[a] = lo[a]
		}
	}
	return out
}

// mapCellExtent maps a whole receiver cell region into sender cell space.
func mapCellExtent(m links.IndexMap, R, cells geom.Extent) geom.Extent {
	lo := mapCell(m, R, cells[0], cells[2], cells[4])
	hi := mapCell(m, R, cells[1], cells[3], cells[5])
	var out geom.Extent
	for a := 0; a < 3; a++ {
		out[2*a], out[2*a+1] = lo[a], hi[a]
		if out[2*a] > out[2*a+1] {
			out[2*a], out[2*a+1] = out[2*a+1], out[2*a]
		}
	}
	return out
}
