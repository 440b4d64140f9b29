package links

import (
	"errors"
	"sort"

	"github.com/dhconnelly/rtreego"
	"github.com/notargets/ghostsync/descriptor"
	"github.com/notargets/ghostsync/geom"
)

// ErrGlobalIDMismatch reports that exactly one side of a candidate pair
// carries global point ids. The distributed state is inconsistent: the pair
// cannot be matched either way without risking wrong identification.
var ErrGlobalIDMismatch = errors.New("links: global point id presence differs between partitions")

// MatchSurface tests two unstructured boundary descriptors: points are
// matched exactly by global id when both sides carry ids, otherwise by
// nearest-neighbor spatial query within a magnitude-scaled tolerance. A pair
// is adjacent iff at least one point matches. The returned link's interface
// order is canonical (ascending boundary index of the lower-gid side), so
// both partitions number shared points identically.
func MatchSurface(local, nbr *descriptor.Surface, tolFactor float64) (SurfaceLink, bool, error) {
	if local.Empty() || nbr.Empty() {
		return SurfaceLink{}, false, nil
	}
	if local.HasGlobalIDs != nbr.HasGlobalIDs {
		return SurfaceLink{}, false, ErrGlobalIDMismatch
	}

	// pairs[k] = {local boundary index, neighbor boundary index}
	var pairs [][2]int
	if local.HasGlobalIDs {
		byGID := make(map[int64]int, len(local.GlobalIDs))
		for i, g := range local.GlobalIDs {
			byGID[g] = i
		}
		for ri, g := range nbr.GlobalIDs {
			if li, ok := byGID[g]; ok {
				pairs = append(pairs, [2]int{li, ri})
			}
		}
	} else {
		tol := geom.ScaledTol(tolFactor,
			local.Bounds.MaxMagnitude(), nbr.Bounds.MaxMagnitude())
		localTree := buildPointTree(local.Points, tol)
		nbrTree := buildPointTree(nbr.Points, tol)
		for ri := range nbr.Points {
			li := nearestPoint(localTree, local.Points, nbr.Points[ri], tol)
			if li < 0 {
				continue
			}
			// Only mutual-nearest pairs survive, so both ranks derive the
			// same pair set even when several boundary points crowd within
			// tolerance of one remote point.
			if nearestPoint(nbrTree, nbr.Points, local.Points[li], tol) != ri {
				continue
			}
			pairs = append(pairs, [2]int{li, ri})
		}
	}
	if len(pairs) == 0 {
		return SurfaceLink{}, false, nil
	}

	// Canonical interface order: ascending boundary-point index of the
	// lower-gid partition. Both ranks hold both descriptors and therefore
	// agree on this numbering.
	if local.GID < nbr.GID {
		sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	} else {
		sort.Slice(pairs, func(i, j int) bool { return pairs[i][1] < pairs[j][1] })
	}

	link := SurfaceLink{
		Neighbor:    nbr.GID,
		LocalPoints: make([]int64, len(pairs)),
		RemoteIdx:   make([]int, len(pairs)),
	}
	for k, pr := range pairs {
		link.LocalPoints[k] = local.LocalIDs[pr[0]]
		link.RemoteIdx[k] = pr[1]
	}
	return link, true, nil
}

type surfacePointEntry struct {
	rect rtreego.Rect
	idx  int
}

func (e *surfacePointEntry) Bounds() rtreego.Rect { return e.rect }

func buildPointTree(pts [][3]float64, tol float64) *rtreego.Rtree {
	tree := rtreego.NewTree(3, 4, 16)
	for i := range pts {
		p := pts[i]
		rect, err := geom.Bounds{p[0], p[0], p[1], p[1], p[2], p[2]}.Rect(tol / 2)
		if err != nil {
			continue
		}
		tree.Insert(&surfacePointEntry{rect: rect, idx: i})
	}
	return tree
}

// nearestPoint returns the index of the closest tree point within tol of p,
// preferring the lower index on exact distance ties, or -1.
func nearestPoint(tree *rtreego.Rtree, pts [][3]float64, p [3]float64, tol float64) int {
	rect, err := geom.Bounds{p[0], p[0], p[1], p[1], p[2], p[2]}.Rect(tol / 2)
	if err != nil {
		return -1
	}
	best, bestD := -1, 0.0
	for _, hit := range tree.SearchIntersect(rect) {
		e := hit.(*surfacePointEntry)
		d := geom.Dist2(pts[e.idx], p)
		if best < 0 || d < bestD || (d == bestD && e.idx < best) {
			best, bestD = e.idx, d
		}
	}
	if best >= 0 && geom.PointsClose(pts[best], p, tol) {
		return best
	}
	return -1
}
