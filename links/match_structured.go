package links

import (
	"github.com/dhconnelly/rtreego"
	"github.com/notargets/ghostsync/descriptor"
	"github.com/notargets/ghostsync/geom"
)

// facePointEntry is one neighbor face point inserted into the locator,
// remembering which face and face-grid coordinate it came from.
type facePointEntry struct {
	rect   rtreego.Rect
	face   int
	fi, fj int
}

func (e *facePointEntry) Bounds() rtreego.Rect { return e.rect }

// faceOrientation is one of the eight ways a 2D face grid can map onto
// another: local face step (di) maps onto (ai, aj) steps of the neighbor
// face, local (dj) onto (bi, bj).
type faceOrientation struct {
	ai, aj int
	bi, bj int
}

var faceOrientations = []faceOrientation{
	{1, 0, 0, 1}, {1, 0, 0, -1}, {-1, 0, 0, 1}, {-1, 0, 0, -1},
	{0, 1, 1, 0}, {0, 1, -1, 0}, {0, -1, 1, 0}, {0, -1, -1, 0},
}

// faceMatch describes the largest matching 2D sub-grid found between a local
// face and a neighbor face.
type faceMatch struct {
	localFace, nbrFace int
	// Anchor correspondence and orientation: local face point
	// (li0+u, lj0+v) matches neighbor face point
	// (ni0 + o.ai*u + o.bi*v, nj0 + o.aj*u + o.bj*v).
	li0, lj0 int
	ni0, nj0 int
	o        faceOrientation
	// wi, wj are the matched sub-grid point dims along the local face axes.
	wi, wj int
	area   int
}

// MatchStructured tests two curvilinear descriptors by locating matching
// corner points of the local grid's external faces in a spatial locator
// built from the neighbor's face points, then sweeping outward from each
// matching corner along both surfaces until points diverge. The largest
// matching sub-grid by area wins, since an edge or corner contact can mask a
// larger face match. The winning correspondence is converted into a rigid
// index map so the planner can treat the pair like any structured adjacency.
func MatchStructured(local, nbr *descriptor.Grid, tolFactor float64) (GridLink, bool) {
	if local.Empty() || nbr.Empty() || len(local.Faces) == 0 || len(nbr.Faces) == 0 {
		return GridLink{}, false
	}
	if local.Extent.Dimensionality() != nbr.Extent.Dimensionality() {
		return GridLink{}, false
	}
	tol := geom.ScaledTol(tolFactor,
		local.Bounds.MaxMagnitude(), nbr.Bounds.MaxMagnitude())

	locator := rtreego.NewTree(3, 4, 16)
	for f := range nbr.Faces {
		face := &nbr.Faces[f]
		for fj := 0; fj < face.Nj; fj++ {
			for fi := 0; fi < face.Ni; fi++ {
				p := face.At(fi, fj)
				rect, err := geom.Bounds{p[0], p[0], p[1], p[1], p[2], p[2]}.Rect(tol)
				if err != nil {
					continue
				}
				locator.Insert(&facePointEntry{rect: rect, face: f, fi: fi, fj: fj})
			}
		}
	}

	var best faceMatch
	for lf := range local.Faces {
		face := &local.Faces[lf]
		corners := [][2]int{
			{0, 0}, {face.Ni - 1, 0}, {0, face.Nj - 1}, {face.Ni - 1, face.Nj - 1},
		}
		for _, c := range corners {
			p := face.At(c[0], c[1])
			rect, err := geom.Bounds{p[0], p[0], p[1], p[1], p[2], p[2]}.Rect(tol)
			if err != nil {
				continue
			}
			for _, hit := range locator.SearchIntersect(rect) {
				e := hit.(*facePointEntry)
				nf := &nbr.Faces[e.face]
				// A face spanning a degenerate axis is the whole flat grid;
				// pairing it with a genuine side face would bind the normal
				// axes inconsistently, so only like faces may match.
				if local.Extent.Degenerate(face.Axis) != nbr.Extent.Degenerate(nf.Axis) {
					continue
				}
				if !geom.PointsClose(p, nf.At(e.fi, e.fj), tol) {
					continue
				}
				for _, o := range faceOrientations {
					m := sweepMatch(face, nf, c[0], c[1], e.fi, e.fj, o, tol)
					if m.area > best.area {
						m.localFace, m.nbrFace = lf, e.face
						best = m
					}
				}
			}
		}
	}
	if best.area < 1 {
		return GridLink{}, false
	}

	im, ok := buildStructuredMap(local, nbr, best)
	if !ok {
		return GridLink{}, false
	}
	shifted := im.Inverse().ApplyExtent(nbr.Extent)
	adj, ovl, okc := geom.Classify(local.Extent, shifted)
	if !okc {
		return GridLink{}, false
	}
	return GridLink{
		Neighbor:  nbr.GID,
		Extent:    shifted,
		Adjacency: adj,
		Overlap:   ovl,
		Map:       im,
	}, true
}

// sweepMatch grows the largest matching rectangle anchored at the given
// corner correspondence under one orientation. The sweep extends along the
// local face's axes away from the corner, shrinking the rectangle until
// every point pair inside it matches.
func sweepMatch(lf, nf *descriptor.Face, li, lj, ni, nj int, o faceOrientation, tol float64) faceMatch {
	stepI := 1
	if li > 0 {
		stepI = -1
	}
	stepJ := 1
	if lj > 0 {
		stepJ = -1
	}
	inRange := func(u, v int) bool {
		x := ni + o.ai*u + o.bi*v
		y := nj + o.aj*u + o.bj*v
		return x >= 0 && x < nf.Ni && y >= 0 && y < nf.Nj
	}
	match := func(u, v int) bool {
		lu, lv := li+stepI*u, lj+stepJ*v
		if lu < 0 || lu >= lf.Ni || lv < 0 || lv >= lf.Nj {
			return false
		}
		if !inRange(u, v) {
			return false
		}
		x := ni + o.ai*u + o.bi*v
		y := nj + o.aj*u + o.bj*v
		return geom.PointsClose(lf.At(lu, lv), nf.At(x, y), tol)
	}

	// Maximum run along each axis from the anchor.
	wi := 0
	for match(wi, 0) {
		wi++
	}
	wj := 0
	for match(0, wj) {
		wj++
	}
	if wi == 0 || wj == 0 {
		return faceMatch{}
	}
	// Shrink until the full rectangle matches, keeping the largest area.
	bestWi, bestWj, bestArea := 0, 0, 0
	for w := wi; w >= 1; w-- {
		h := wj
		for ; h >= 1; h-- {
			if rectMatches(match, w, h) {
				break
			}
		}
		if h >= 1 && w*h > bestArea {
			bestWi, bestWj, bestArea = w, h, w*h
		}
	}
	if bestArea == 0 {
		return faceMatch{}
	}
	m := faceMatch{
		li0: li, lj0: lj, ni0: ni, nj0: nj,
		o:  faceOrientation{o.ai * stepI, o.aj * stepI, o.bi * stepJ, o.bj * stepJ},
		wi: bestWi, wj: bestWj, area: bestArea,
	}
	// Re-anchor so the sweep directions are the stored orientation's +u/+v.
	return m
}

func rectMatches(match func(u, v int) bool, w, h int) bool {
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			if !match(u, v) {
				return false
			}
		}
	}
	return true
}
