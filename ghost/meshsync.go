package ghost

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/rs/zerolog"

	"github.com/notargets/ghostsync/channel"
	"github.com/notargets/ghostsync/descriptor"
	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/links"
	"github.com/notargets/ghostsync/mesh"
	"github.com/notargets/ghostsync/plan"
	"github.com/notargets/ghostsync/wire"
)

// meshKind abstracts the two unstructured dataset kinds over one protocol,
// the same split the structured side uses: the engine drives discovery,
// breadth-first planning, exchange and point/field assembly, while the kind
// owns connectivity.
type meshKind interface {
	Count() int
	Dataset(i int) mesh.DataSet
	Points(i int) [][3]float64
	GlobalIDs(i int) []int64
	Build(i, rank, gid int) *descriptor.Surface
	Topology(i int) plan.Topology

	// AppendSend fills the connectivity sections of an outgoing buffer,
	// rewriting point ids to sent-point table indices.
	AppendSend(i int, s *plan.SendSet, g *wire.MeshGhost) error

	// NewBuilder starts an output mesh holding the partition's interior:
	// cells with keepCell set, in ascending order, their point ids rewritten
	// through pointMap.
	NewBuilder(i int, keepCell []bool, pointMap []int64) meshBuilder
}

// meshBuilder accumulates output connectivity during assembly.
type meshBuilder interface {
	// AppendCell adds received cell c of buffer g; conn is the cell's
	// connectivity already resolved to output point ids, resolve the full
	// sent-point table in output ids for face rewriting.
	AppendCell(g *wire.MeshGhost, c int, conn []int64, resolve []int64) error

	// Finish installs points and metadata and returns the output mesh.
	Finish(pts [][3]float64, gids []int64, meta *mesh.Meta) mesh.DataSet
}

type meshAssembly struct {
	gid   int
	links map[int]links.SurfaceLink
	recvs map[int]*wire.MeshGhost
	tol   float64
	log   *zerolog.Logger
}

func syncMeshes(k meshKind, depth int, opts *Options) ([]mesh.DataSet, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.normalize()
	ch := o.Channel
	log := o.Logger
	n := k.Count()

	gids, err := assignGIDs(ch, n)
	if err != nil {
		return nil, err
	}

	local := make([]*descriptor.Surface, n)
	parallelFor(n, o.Workers, func(i int) {
		local[i] = k.Build(i, ch.Rank(), gids.offset+i)
	})
	encoded, err := descriptor.EncodeSurfaces(local)
	if err != nil {
		return nil, err
	}
	remotePayloads, err := broadcastDescriptors(ch, encoded)
	if err != nil {
		return nil, err
	}
	descs := make(map[int]*descriptor.Surface, gids.total())
	for _, d := range local {
		descs[d.GID] = d
	}
	for r, payload := range remotePayloads {
		ds, err := descriptor.DecodeSurfaces(payload)
		if err != nil {
			return nil, fmt.Errorf("descriptors from rank %d: %w", r, err)
		}
		for _, d := range ds {
			descs[d.GID] = d
		}
	}

	cands := make([]links.Candidate, 0, len(descs))
	for gid, d := range descs {
		if !d.Empty() {
			cands = append(cands, links.Candidate{GID: gid, Bounds: d.Bounds})
		}
	}
	pairs := links.CandidatePairs(cands, o.BoundsInflation)
	linkMap := links.NewMap()
	perPart := make([]map[int]links.SurfaceLink, n)
	for i := range perPart {
		perPart[i] = make(map[int]links.SurfaceLink)
	}
	for _, pr := range pairs {
		lab, okAB, errAB := links.MatchSurface(descs[pr[0]], descs[pr[1]], o.ToleranceFactor)
		lba, okBA, errBA := links.MatchSurface(descs[pr[1]], descs[pr[0]], o.ToleranceFactor)
		if err := errAB; err != nil || errBA != nil {
			if err == nil {
				err = errBA
			}
			if errors.Is(err, links.ErrGlobalIDMismatch) {
				log.Error().Err(err).Int("gid", pr[0]).Int("neighbor", pr[1]).
					Msg("candidate pair skipped")
				continue
			}
			return nil, err
		}
		// A link exists only when both directions confirm, which keeps the
		// map symmetric on every rank.
		if !okAB || !okBA {
			continue
		}
		linkMap.Add(pr[0], pr[1])
		if li := pr[0] - gids.offset; li >= 0 && li < n {
			perPart[li][pr[1]] = lab
		}
		if li := pr[1] - gids.offset; li >= 0 && li < n {
			perPart[li][pr[0]] = lba
		}
	}
	log.Debug().Int("rank", ch.Rank()).Int("partitions", n).
		Int("candidates", len(pairs)).Msg("unstructured discovery complete")

	sends := make([]map[int]*plan.SendSet, n)
	parallelFor(n, o.Workers, func(i int) {
		topo := k.Topology(i)
		pc := plan.BuildPointCells(topo)
		lks := make([]links.SurfaceLink, 0, len(perPart[i]))
		for _, l := range perPart[i] {
			lks = append(lks, l)
		}
		sends[i] = plan.PlanMeshSends(topo, pc, lks, depth)
	})

	for i := 0; i < n; i++ {
		gid := gids.offset + i
		for nbr, s := range sends[i] {
			g, err := buildMeshSend(k, i, gid, nbr, s)
			if err != nil {
				log.Error().Err(err).Int("gid", gid).Int("neighbor", nbr).
					Msg("ghost buffer dropped; contribution withheld")
				continue
			}
			msg := channel.Message{Tag: channel.TagGhost, Payload: g.Encode(o.CompressThreshold)}
			if err := ch.Enqueue(gids.rankOf(nbr), msg); err != nil {
				return nil, fmt.Errorf("enqueueing ghost buffer %d->%d: %w", gid, nbr, err)
			}
		}
	}
	if err := ch.Exchange(); err != nil {
		return nil, fmt.Errorf("ghost round exchange: %w", err)
	}

	recvs := make([]map[int]*wire.MeshGhost, n)
	for i := range recvs {
		recvs[i] = make(map[int]*wire.MeshGhost)
	}
	for r := 0; r < ch.Size(); r++ {
		for {
			msg, err := ch.Dequeue(r, channel.TagGhost)
			if err != nil {
				break
			}
			g, err := wire.DecodeMeshGhost(msg.Payload)
			if err != nil {
				log.Error().Err(err).Int("rank", r).Msg("dropping undecodable ghost buffer")
				continue
			}
			li := g.To - gids.offset
			if li < 0 || li >= n {
				log.Error().Int("target", g.To).Msg("ghost buffer addressed to foreign partition")
				continue
			}
			if !linkMap.Linked(g.From, g.To) {
				log.Error().Int("from", g.From).Int("target", g.To).
					Msg("ghost buffer from unlinked partition ignored")
				continue
			}
			recvs[li][g.From] = g
		}
	}

	outs := make([]mesh.DataSet, n)
	parallelFor(n, o.Workers, func(i int) {
		a := &meshAssembly{
			gid:   gids.offset + i,
			links: perPart[i],
			recvs: recvs[i],
			tol:   geom.ScaledTol(o.ToleranceFactor, local[i].Bounds.MaxMagnitude()),
			log:   log,
		}
		out, err := assembleMesh(k, i, a)
		if err != nil {
			log.Error().Err(err).Int("gid", a.gid).
				Msg("ghost assembly failed; output degraded to interior")
			out, err = assembleMesh(k, i, &meshAssembly{
				gid:   a.gid,
				links: map[int]links.SurfaceLink{},
				recvs: map[int]*wire.MeshGhost{},
				log:   log,
			})
			if err != nil {
				log.Error().Err(err).Int("gid", a.gid).
					Msg("interior fallback failed; returning input unchanged")
				out = k.Dataset(i)
			}
		}
		outs[i] = out
	})
	return outs, nil
}

// buildMeshSend serializes one neighbor's send set: owned point coordinates,
// the sent-point table, connectivity and gathered fields.
func buildMeshSend(k meshKind, i, from, to int, s *plan.SendSet) (*wire.MeshGhost, error) {
	pts := k.Points(i)
	gids := k.GlobalIDs(i)
	ds := k.Dataset(i)

	g := &wire.MeshGhost{From: from, To: to, Refs: s.Refs}
	g.Points = make([][3]float64, len(s.OwnedPoints))
	for oi, p := range s.OwnedPoints {
		g.Points[oi] = pts[p]
	}
	if len(gids) > 0 {
		g.GlobalIDs = make([]int64, len(s.OwnedPoints))
		for oi, p := range s.OwnedPoints {
			g.GlobalIDs[oi] = gids[p]
		}
	}
	if err := k.AppendSend(i, s, g); err != nil {
		return nil, err
	}

	pf := ds.Arrays(mesh.PointData)
	for fi := 0; fi < pf.Len(); fi++ {
		g.PointFields = append(g.PointFields, wire.GatherField(pf.At(fi), s.OwnedPoints))
	}
	cellIDs := make([]int64, len(s.Cells))
	for ci, c := range s.Cells {
		cellIDs[ci] = int64(c)
	}
	cf := ds.Arrays(mesh.CellData)
	for fi := 0; fi < cf.Len(); fi++ {
		g.CellFields = append(g.CellFields, wire.GatherField(cf.At(fi), cellIDs))
	}
	return g, nil
}

// ghostPointEntry indexes one placed output point for spatial dedup of
// id-less contributions.
type ghostPointEntry struct {
	rect rtreego.Rect
	idx  int64
}

func (e *ghostPointEntry) Bounds() rtreego.Rect { return e.rect }

// assembleMesh builds one partition's augmented output: previously ghosted
// cells peeled away, received cells appended with their points deduplicated
// against the interface handshake and against every point already placed,
// by global id when ids exist and by spatial proximity within a scaled
// tolerance otherwise. Contributions merge in ascending neighbor gid.
func assembleMesh(k meshKind, i int, a *meshAssembly) (mesh.DataSet, error) {
	in := k.Dataset(i)
	t := k.Topology(i)
	pts := k.Points(i)
	inGids := k.GlobalIDs(i)
	np, nc := t.NumPoints(), t.NumCells()

	// Peel: drop cells already tagged as ghosts, and ghost-tagged points no
	// kept cell references.
	pGhostIn := in.Ghosts(mesh.PointData)
	keepCell := make([]bool, nc)
	usedByKept := make([]bool, np)
	for c := 0; c < nc; c++ {
		if !t.CellDiscarded(c) {
			keepCell[c] = true
			for _, p := range t.CellPoints(c) {
				usedByKept[p] = true
			}
		}
	}

	srcPF := in.Arrays(mesh.PointData)
	srcCF := in.Arrays(mesh.CellData)
	pPairs := make([]fieldPair, srcPF.Len())
	for fi := range pPairs {
		f := srcPF.At(fi)
		pPairs[fi] = fieldPair{src: f, dst: &mesh.Field{Name: f.Name, Comps: f.Comps}}
	}
	cPairs := make([]fieldPair, srcCF.Len())
	for fi := range cPairs {
		f := srcCF.At(fi)
		cPairs[fi] = fieldPair{src: f, dst: &mesh.Field{Name: f.Name, Comps: f.Comps}}
	}

	pointMap := make([]int64, np)
	var outPts [][3]float64
	var outGids []int64
	var pGhostOut []byte
	gidIndex := make(map[int64]int64)
	for p := 0; p < np; p++ {
		ghosted := p < len(pGhostIn) && pGhostIn[p]&(mesh.GhostDuplicate|mesh.GhostHidden) != 0
		if !usedByKept[p] && ghosted {
			pointMap[p] = -1
			continue
		}
		pointMap[p] = int64(len(outPts))
		outPts = append(outPts, pts[p])
		pGhostOut = append(pGhostOut, 0)
		if len(inGids) > 0 {
			outGids = append(outGids, inGids[p])
			gidIndex[inGids[p]] = pointMap[p]
		}
		for _, pr := range pPairs {
			pr.dst.Data = append(pr.dst.Data, pr.src.Tuple(p)...)
		}
	}
	var cGhostOut []byte
	for c := 0; c < nc; c++ {
		if !keepCell[c] {
			continue
		}
		cGhostOut = append(cGhostOut, 0)
		for _, pr := range cPairs {
			pr.dst.Data = append(pr.dst.Data, pr.src.Tuple(c)...)
		}
	}

	b := k.NewBuilder(i, keepCell, pointMap)

	// Spatial redirection table for contributions without global ids: points
	// already placed, interior and ghost alike, findable within tolerance.
	// Built lazily since id-keyed contributions never consult it.
	var locator *rtreego.Rtree
	pointRect := func(p [3]float64) (rtreego.Rect, error) {
		return geom.Bounds{p[0], p[0], p[1], p[1], p[2], p[2]}.Rect(a.tol / 2)
	}
	locatorAdd := func(idx int64, p [3]float64) {
		rect, err := pointRect(p)
		if err == nil {
			locator.Insert(&ghostPointEntry{rect: rect, idx: idx})
		}
	}
	locatorFind := func(p [3]float64) int64 {
		if locator == nil {
			locator = rtreego.NewTree(3, 4, 16)
			for idx, q := range outPts {
				locatorAdd(int64(idx), q)
			}
		}
		rect, err := pointRect(p)
		if err != nil {
			return -1
		}
		best, bestD := int64(-1), 0.0
		for _, hit := range locator.SearchIntersect(rect) {
			e := hit.(*ghostPointEntry)
			if d := geom.Dist2(outPts[e.idx], p); best < 0 || d < bestD {
				best, bestD = e.idx, d
			}
		}
		if best >= 0 && geom.PointsClose(outPts[best], p, a.tol) {
			return best
		}
		return -1
	}

	nbrs := make([]int, 0, len(a.recvs))
	for gid := range a.recvs {
		nbrs = append(nbrs, gid)
	}
	sort.Ints(nbrs)
	for _, ngid := range nbrs {
		g := a.recvs[ngid]
		l, ok := a.links[ngid]
		if !ok {
			a.log.Warn().Int("gid", a.gid).Int("neighbor", ngid).
				Msg("unplanned ghost contribution ignored")
			continue
		}
		pBlocks, err := matchBlocks(pPairs, g.PointFields, ngid, a.gid)
		if err != nil {
			return nil, err
		}
		cBlocks, err := matchBlocks(cPairs, g.CellFields, ngid, a.gid)
		if err != nil {
			return nil, err
		}
		if len(inGids) > 0 && len(g.Points) > 0 && len(g.GlobalIDs) == 0 {
			return nil, fmt.Errorf("ghost %d->%d carries no global ids: %w", ngid, a.gid, wire.ErrSizeMismatch)
		}

		resolve := make([]int64, len(g.Refs))
		for ri, ref := range g.Refs {
			if ref.Kind == plan.InterfaceRef {
				if ref.Index >= len(l.LocalPoints) {
					return nil, fmt.Errorf("ghost %d->%d references interface point %d of %d: %w",
						ngid, a.gid, ref.Index, len(l.LocalPoints), wire.ErrSizeMismatch)
				}
				ni := pointMap[l.LocalPoints[ref.Index]]
				if ni < 0 {
					return nil, fmt.Errorf("ghost %d->%d references a peeled interface point: %w",
						ngid, a.gid, wire.ErrSizeMismatch)
				}
				resolve[ri] = ni
				continue
			}
			if len(g.GlobalIDs) > 0 {
				if ni, ok := gidIndex[g.GlobalIDs[ref.Index]]; ok {
					resolve[ri] = ni
					continue
				}
			} else if ni := locatorFind(g.Points[ref.Index]); ni >= 0 {
				resolve[ri] = ni
				continue
			}
			ni := int64(len(outPts))
			outPts = append(outPts, g.Points[ref.Index])
			pGhostOut = append(pGhostOut, mesh.GhostDuplicate)
			if len(g.GlobalIDs) > 0 {
				gv := g.GlobalIDs[ref.Index]
				if len(inGids) > 0 {
					outGids = append(outGids, gv)
				}
				gidIndex[gv] = ni
			}
			if len(g.GlobalIDs) == 0 && locator != nil {
				locatorAdd(ni, g.Points[ref.Index])
			}
			for fi, pr := range pPairs {
				if blk := pBlocks[fi]; blk != nil {
					pr.dst.Data = append(pr.dst.Data,
						blk.Data[ref.Index*blk.Comps:(ref.Index+1)*blk.Comps]...)
				} else {
					pr.dst.Data = append(pr.dst.Data, make([]float64, pr.dst.Comps)...)
				}
			}
			resolve[ri] = ni
		}

		ncg := g.NumCells()
		for c := 0; c < ncg; c++ {
			raw := g.CellConn[g.CellOffsets[c]:g.CellOffsets[c+1]]
			conn := make([]int64, len(raw))
			for vi, r := range raw {
				conn[vi] = resolve[r]
			}
			if err := b.AppendCell(g, c, conn, resolve); err != nil {
				return nil, err
			}
			cGhostOut = append(cGhostOut, mesh.GhostDuplicate)
			for fi, pr := range cPairs {
				if blk := cBlocks[fi]; blk != nil {
					pr.dst.Data = append(pr.dst.Data, blk.Data[c*blk.Comps:(c+1)*blk.Comps]...)
				} else {
					pr.dst.Data = append(pr.dst.Data, make([]float64, pr.dst.Comps)...)
				}
			}
		}
	}

	// Ownership: interface points shared with a lower gid are duplicates
	// here, originals there.
	for ngid, l := range a.links {
		if ngid >= a.gid {
			continue
		}
		for _, old := range l.LocalPoints {
			if ni := pointMap[old]; ni >= 0 {
				pGhostOut[ni] |= mesh.GhostDuplicate
			}
		}
	}

	meta := &mesh.Meta{ID: a.gid, PointGhosts: pGhostOut, CellGhosts: cGhostOut}
	for _, pr := range pPairs {
		meta.PointArrays.Add(pr.dst)
	}
	for _, pr := range cPairs {
		meta.CellArrays.Add(pr.dst)
	}
	return b.Finish(outPts, outGids, meta), nil
}
