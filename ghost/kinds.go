package ghost

import (
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/ghostsync/descriptor"
	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/links"
	"github.com/notargets/ghostsync/mesh"
)

// SynchronizeImage exchanges ghost layers among implicit grid partitions.
// Every rank participating in the channel must call it collectively with
// the same depth; the returned slice holds one augmented grid per input
// partition, in input order. A partition whose assembly fails degrades to
// its interior, never to a nil entry.
func SynchronizeImage(parts []*mesh.ImageGrid, depth int, opts *Options) ([]*mesh.ImageGrid, error) {
	outs, err := syncGrids(&imageKind{parts: parts}, depth, opts)
	if err != nil {
		return nil, err
	}
	res := make([]*mesh.ImageGrid, len(outs))
	for i, o := range outs {
		res[i] = o.(*mesh.ImageGrid)
	}
	return res, nil
}

// SynchronizeRectilinear exchanges ghost layers among rectilinear grid
// partitions.
func SynchronizeRectilinear(parts []*mesh.RectilinearGrid, depth int, opts *Options) ([]*mesh.RectilinearGrid, error) {
	outs, err := syncGrids(&rectKind{parts: parts}, depth, opts)
	if err != nil {
		return nil, err
	}
	res := make([]*mesh.RectilinearGrid, len(outs))
	for i, o := range outs {
		res[i] = o.(*mesh.RectilinearGrid)
	}
	return res, nil
}

// SynchronizeStructured exchanges ghost layers among curvilinear grid
// partitions.
func SynchronizeStructured(parts []*mesh.StructuredGrid, depth int, opts *Options) ([]*mesh.StructuredGrid, error) {
	outs, err := syncGrids(&structKind{parts: parts}, depth, opts)
	if err != nil {
		return nil, err
	}
	res := make([]*mesh.StructuredGrid, len(outs))
	for i, o := range outs {
		res[i] = o.(*mesh.StructuredGrid)
	}
	return res, nil
}

type imageKind struct {
	parts []*mesh.ImageGrid
}

func (k *imageKind) Count() int                                   { return len(k.parts) }
func (k *imageKind) Dataset(i int) mesh.StructuredSet             { return k.parts[i] }
func (k *imageKind) ExplicitPoints() bool                         { return false }
func (k *imageKind) SendPoints(int, geom.Extent) [][3]float64     { return nil }
func (k *imageKind) SetPoint(mesh.StructuredSet, int, [3]float64) {}

func (k *imageKind) Build(i, rank, gid int) *descriptor.Grid {
	k.parts[i].ID = gid
	return descriptor.BuildImage(k.parts[i], rank)
}

func (k *imageKind) Match(local, nbr *descriptor.Grid, tolFactor float64) (links.GridLink, bool) {
	return links.MatchImage(local, nbr, tolFactor)
}

// NewOutput extends the extent only: image geometry is implied by origin,
// spacing and direction, which extension does not change.
func (k *imageKind) NewOutput(i int, a *gridAssembly) (mesh.StructuredSet, error) {
	in := k.parts[i]
	out := &mesh.ImageGrid{
		Ext:     a.plan.Output,
		Origin:  in.Origin,
		Spacing: in.Spacing,
	}
	if in.Direction != nil {
		out.Direction = mat.DenseCopyOf(in.Direction)
	}
	out.ID = a.gid
	return out, nil
}

type rectKind struct {
	parts []*mesh.RectilinearGrid
}

func (k *rectKind) Count() int                                   { return len(k.parts) }
func (k *rectKind) Dataset(i int) mesh.StructuredSet             { return k.parts[i] }
func (k *rectKind) ExplicitPoints() bool                         { return false }
func (k *rectKind) SendPoints(int, geom.Extent) [][3]float64     { return nil }
func (k *rectKind) SetPoint(mesh.StructuredSet, int, [3]float64) {}

func (k *rectKind) Build(i, rank, gid int) *descriptor.Grid {
	k.parts[i].ID = gid
	return descriptor.BuildRectilinear(k.parts[i], rank)
}

func (k *rectKind) Match(local, nbr *descriptor.Grid, tolFactor float64) (links.GridLink, bool) {
	return links.MatchRectilinear(local, nbr, tolFactor)
}

// NewOutput extends the per-axis coordinate arrays: entries inside the
// interior come from the input, entries a neighbor covers come from that
// neighbor's descriptor, and corner entries nobody covers are extrapolated
// with the nearest known spacing.
func (k *rectKind) NewOutput(i int, a *gridAssembly) (mesh.StructuredSet, error) {
	in := k.parts[i]
	out := &mesh.RectilinearGrid{Ext: a.plan.Output}
	out.ID = a.gid
	if !a.plan.Output.Valid() {
		return out, nil
	}
	for axis := 0; axis < 3; axis++ {
		out.SetCoords(axis, extendCoords(axis, in, a))
	}
	return out, nil
}

func extendCoords(axis int, in *mesh.RectilinearGrid, a *gridAssembly) []float64 {
	outExt := a.plan.Output
	interior := a.plan.Interior
	base := outExt.Min(axis)
	c := make([]float64, outExt.Max(axis)-base+1)
	known := make([]bool, len(c))
	for idx := interior.Min(axis); idx <= interior.Max(axis); idx++ {
		c[idx-base] = in.Coords(axis)[idx-in.Ext.Min(axis)]
		known[idx-base] = true
	}
	for ngid, l := range a.links {
		d := a.descs[ngid]
		if d == nil || d.Kind != descriptor.KindRectilinear {
			continue
		}
		coords := rectDescCoords(d, axis)
		off := l.Map.Off[axis]
		for idx := outExt.Min(axis); idx <= outExt.Max(axis); idx++ {
			if known[idx-base] {
				continue
			}
			ni := idx + off - d.Extent.Min(axis)
			if ni >= 0 && ni < len(coords) {
				c[idx-base] = coords[ni]
				known[idx-base] = true
			}
		}
	}
	lo := interior.Min(axis) - base
	hi := interior.Max(axis) - base
	step := 1.0
	if hi > lo {
		step = c[lo+1] - c[lo]
	}
	for i := lo - 1; i >= 0; i-- {
		if known[i] {
			step = c[i+1] - c[i]
		} else {
			c[i] = c[i+1] - step
		}
	}
	if hi > lo {
		step = c[hi] - c[hi-1]
	}
	for i := hi + 1; i < len(c); i++ {
		if known[i] {
			step = c[i] - c[i-1]
		} else {
			c[i] = c[i-1] + step
		}
	}
	return c
}

func rectDescCoords(d *descriptor.Grid, axis int) []float64 {
	switch axis {
	case 0:
		return d.X
	case 1:
		return d.Y
	default:
		return d.Z
	}
}

type structKind struct {
	parts []*mesh.StructuredGrid
}

func (k *structKind) Count() int                       { return len(k.parts) }
func (k *structKind) Dataset(i int) mesh.StructuredSet { return k.parts[i] }
func (k *structKind) ExplicitPoints() bool             { return true }

func (k *structKind) Build(i, rank, gid int) *descriptor.Grid {
	k.parts[i].ID = gid
	return descriptor.BuildStructured(k.parts[i], rank)
}

func (k *structKind) Match(local, nbr *descriptor.Grid, tolFactor float64) (links.GridLink, bool) {
	return links.MatchStructured(local, nbr, tolFactor)
}

func (k *structKind) SendPoints(i int, send geom.Extent) [][3]float64 {
	g := k.parts[i]
	pts := make([][3]float64, 0, send.NumPoints())
	send.ForEachPoint(func(x, y, z int) {
		pts = append(pts, g.PointCoord(x, y, z))
	})
	return pts
}

func (k *structKind) SetPoint(out mesh.StructuredSet, linear int, p [3]float64) {
	out.(*mesh.StructuredGrid).Points[linear] = p
}

func (k *structKind) NewOutput(i int, a *gridAssembly) (mesh.StructuredSet, error) {
	out := &mesh.StructuredGrid{
		Ext:    a.plan.Output,
		Points: make([][3]float64, a.plan.Output.NumPoints()),
	}
	out.ID = a.gid
	return out, nil
}
