package ghost

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notargets/ghostsync/channel"
	"github.com/notargets/ghostsync/descriptor"
	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/links"
	"github.com/notargets/ghostsync/mesh"
	"github.com/notargets/ghostsync/plan"
	"github.com/notargets/ghostsync/wire"
)

// gridKind abstracts the three structured dataset kinds over one protocol:
// the engine drives discovery, planning, exchange and field assembly, while
// the kind supplies descriptor construction, geometric matching and output
// geometry.
type gridKind interface {
	Count() int
	Dataset(i int) mesh.StructuredSet
	Build(i, rank, gid int) *descriptor.Grid
	Match(local, nbr *descriptor.Grid, tolFactor float64) (links.GridLink, bool)

	// ExplicitPoints reports whether the kind stores point coordinates
	// directly (curvilinear) rather than implying them.
	ExplicitPoints() bool

	// SendPoints returns explicit point coordinates for curvilinear sends;
	// implicit and rectilinear kinds return nil.
	SendPoints(i int, send geom.Extent) [][3]float64

	// NewOutput allocates the augmented partition with its geometry in
	// place (curvilinear point slots zeroed; the engine fills them).
	NewOutput(i int, a *gridAssembly) (mesh.StructuredSet, error)

	// SetPoint stores a received or interior point coordinate; a no-op for
	// kinds whose geometry is implied by NewOutput.
	SetPoint(out mesh.StructuredSet, linear int, p [3]float64)
}

// gridAssembly gathers everything one partition's assembly step consumes.
type gridAssembly struct {
	gid   int
	plan  *plan.GridPlan
	links map[int]links.GridLink   // by neighbor gid
	recvs map[int]*wire.GridGhost  // by neighbor gid
	descs map[int]*descriptor.Grid // all partitions, by gid
	log   *zerolog.Logger
}

// syncGrids runs the structured protocol. Every rank must call it the same
// number of times with the same depth; each internal Exchange is a
// collective barrier.
func syncGrids(k gridKind, depth int, opts *Options) ([]mesh.StructuredSet, error) {
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

	// Round 1: descriptors. Building is local and independent per
	// partition.
	local := make([]*descriptor.Grid, n)
	parallelFor(n, o.Workers, func(i int) {
		local[i] = k.Build(i, ch.Rank(), gids.offset+i)
	})
	encoded, err := descriptor.EncodeGrids(local)
	if err != nil {
		return nil, err
	}
	remotePayloads, err := broadcastDescriptors(ch, encoded)
	if err != nil {
		return nil, err
	}
	descs := make(map[int]*descriptor.Grid, gids.total())
	for _, d := range local {
		descs[d.GID] = d
	}
	for r, payload := range remotePayloads {
		ds, err := descriptor.DecodeGrids(payload)
		if err != nil {
			return nil, fmt.Errorf("descriptors from rank %d: %w", r, err)
		}
		for _, d := range ds {
			descs[d.GID] = d
		}
	}

	// Discovery: bounding-box pre-filter, then per-kind confirmation.
	cands := make([]links.Candidate, 0, len(descs))
	for gid, d := range descs {
		if !d.Empty() {
			cands = append(cands, links.Candidate{GID: gid, Bounds: d.Bounds})
		}
	}
	pairs := links.CandidatePairs(cands, o.BoundsInflation)
	linkMap := links.NewMap()
	perPart := make([]map[int]links.GridLink, n)
	for i := range perPart {
		perPart[i] = make(map[int]links.GridLink)
	}
	for _, pr := range pairs {
		lab, okAB := k.Match(descs[pr[0]], descs[pr[1]], o.ToleranceFactor)
		lba, okBA := k.Match(descs[pr[1]], descs[pr[0]], o.ToleranceFactor)
		if okAB != okBA {
			log.Warn().Int("gid", pr[0]).Int("neighbor", pr[1]).
				Msg("one-sided geometric match discarded")
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
		Int("candidates", len(pairs)).Msg("structured discovery complete")

	// Planning, then the ghost round.
	plans := make([]*plan.GridPlan, n)
	parallelFor(n, o.Workers, func(i int) {
		lks := make([]links.GridLink, 0, len(perPart[i]))
		for _, l := range perPart[i] {
			lks = append(lks, l)
		}
		plans[i] = plan.PlanGrid(local[i].Extent, lks, depth)
	})

	for i := 0; i < n; i++ {
		gid := gids.offset + i
		ds := k.Dataset(i)
		for nbr, send := range plans[i].Sends {
			g := &wire.GridGhost{From: gid, To: nbr, SendExtent: send}
			g.SendCells = send.CellsWithin(local[i].Extent)
			g.Points = k.SendPoints(i, send)
			g.PointFields = gatherGridFields(ds.Arrays(mesh.PointData), ds.Extent(), send)
			g.CellFields = gatherGridFields(ds.Arrays(mesh.CellData), ds.Extent().CellExtent(), g.SendCells)
			msg := channel.Message{Tag: channel.TagGhost, Payload: g.Encode(o.CompressThreshold)}
			if err := ch.Enqueue(gids.rankOf(nbr), msg); err != nil {
				return nil, fmt.Errorf("enqueueing ghost buffer %d->%d: %w", gid, nbr, err)
			}
		}
	}
	if err := ch.Exchange(); err != nil {
		return nil, fmt.Errorf("ghost round exchange: %w", err)
	}

	// Route received buffers to their target partitions.
	recvs := make([]map[int]*wire.GridGhost, n)
	for i := range recvs {
		recvs[i] = make(map[int]*wire.GridGhost)
	}
	for r := 0; r < ch.Size(); r++ {
		for {
			msg, err := ch.Dequeue(r, channel.TagGhost)
			if err != nil {
				break
			}
			g, err := wire.DecodeGridGhost(msg.Payload)
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

	// Assembly: independent per partition.
	outs := make([]mesh.StructuredSet, n)
	parallelFor(n, o.Workers, func(i int) {
		a := &gridAssembly{
			gid:   gids.offset + i,
			plan:  plans[i],
			links: perPart[i],
			recvs: recvs[i],
			descs: descs,
			log:   log,
		}
		out, err := assembleGrid(k, i, a)
		if err != nil {
			log.Error().Err(err).Int("gid", a.gid).
				Msg("ghost assembly failed; output degraded to interior")
			out, err = assembleGrid(k, i, &gridAssembly{
				gid:   a.gid,
				plan:  plan.PlanGrid(local[i].Extent, nil, 0),
				links: map[int]links.GridLink{},
				recvs: map[int]*wire.GridGhost{},
				descs: descs,
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

// gatherGridFields serializes every field over a sub-extent of its storage
// extent. Cell gathers pass the cell extents of both.
func gatherGridFields(fl *mesh.FieldList, storage, region geom.Extent) []wire.FieldBlock {
	if fl.Len() == 0 || !region.Valid() {
		return nil
	}
	ids := make([]int64, 0, region.NumPoints())
	region.ForEachPoint(func(i, j, k int) {
		ids = append(ids, int64(storage.PointIndex(i, j, k)))
	})
	blocks := make([]wire.FieldBlock, 0, fl.Len())
	for i := 0; i < fl.Len(); i++ {
		blocks = append(blocks, wire.GatherField(fl.At(i), ids))
	}
	return blocks
}
