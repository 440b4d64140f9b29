package links

import (
	"github.com/notargets/ghostsync/descriptor"
)

// buildStructuredMap converts a face-plane correspondence into a rigid 3D
// index map. The two tangential axes come straight from the matched
// orientation; the face-normal axes pair with each other, with the sign
// fixed by which sides of the two grids touched (continuing grids keep the
// sign, mirrored grids flip it). Single-point corner matches leave the
// tangential orientation underdetermined; the deterministic first-found
// orientation is kept so both ranks derive the same map.
func buildStructuredMap(local, nbr *descriptor.Grid, m faceMatch) (IndexMap, bool) {
	lf := &local.Faces[m.localFace]
	nf := &nbr.Faces[m.nbrFace]
	lu, lv := descriptor.FaceAxes(lf.Axis)
	nu, nv := descriptor.FaceAxes(nf.Axis)

	var im IndexMap

	// Anchor grid indices on both sides.
	var l0, n0 [3]int
	l0[lu] = local.Extent.Min(lu) + m.li0
	l0[lv] = local.Extent.Min(lv) + m.lj0
	l0[lf.Axis] = local.Extent.Min(lf.Axis)
	if lf.Side == 1 {
		l0[lf.Axis] = local.Extent.Max(lf.Axis)
	}
	n0[nu] = nbr.Extent.Min(nu) + m.ni0
	n0[nv] = nbr.Extent.Min(nv) + m.nj0
	n0[nf.Axis] = nbr.Extent.Min(nf.Axis)
	if nf.Side == 1 {
		n0[nf.Axis] = nbr.Extent.Max(nf.Axis)
	}

	// Tangential axes: a unit step along the local face's first axis moves
	// (ai, aj) on the neighbor face, along the second axis (bi, bj).
	assign := func(localAxis, di, dj int) bool {
		var nbrAxis, sign int
		switch {
		case di != 0 && dj == 0:
			nbrAxis, sign = nu, di
		case dj != 0 && di == 0:
			nbrAxis, sign = nv, dj
		default:
			return false
		}
		im.Perm[localAxis] = nbrAxis
		im.Sign[localAxis] = sign
		im.Off[localAxis] = n0[nbrAxis] - sign*l0[localAxis]
		return true
	}
	if !assign(lu, m.o.ai, m.o.aj) || !assign(lv, m.o.bi, m.o.bj) {
		return IndexMap{}, false
	}

	// Normal axes pair with each other.
	sign := 1
	switch {
	case local.Extent.Degenerate(lf.Axis) && nbr.Extent.Degenerate(nf.Axis):
		sign = 1
	default:
		localOut := -1
		if lf.Side == 1 {
			localOut = 1
		}
		nbrIn := 1
		if nf.Side == 1 {
			nbrIn = -1
		}
		sign = localOut * nbrIn
	}
	im.Perm[lf.Axis] = nf.Axis
	im.Sign[lf.Axis] = sign
	im.Off[lf.Axis] = n0[nf.Axis] - sign*l0[lf.Axis]

	// The permutation must be a bijection over the three axes.
	var seen [3]bool
	for a := 0; a < 3; a++ {
		p := im.Perm[a]
		if p < 0 || p > 2 || seen[p] {
			return IndexMap{}, false
		}
		seen[p] = true
	}
	return im, true
}
