package ghost

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/notargets/ghostsync/channel"
	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/mesh"
	"github.com/notargets/ghostsync/wire"
)

func quietOptions() *Options {
	nop := zerolog.Nop()
	return &Options{Logger: &nop}
}

// worldFields attaches a point field and a cell field whose values are
// derived from world position, so values received from a neighbor can be
// verified against the receiver's own geometry.
func worldFields(g *mesh.ImageGrid) {
	h := &mesh.Field{Name: "height", Comps: 1, Data: make([]float64, g.Ext.NumPoints())}
	g.Ext.ForEachPoint(func(i, j, k int) {
		p := g.PointCoord(i, j, k)
		h.Data[g.Ext.PointIndex(i, j, k)] = p[0] + 10*p[1]
	})
	g.PointArrays.Add(h)

	cext := g.Ext.CellExtent()
	tag := &mesh.Field{Name: "tag", Comps: 1, Data: make([]float64, cext.NumPoints())}
	cext.ForEachPoint(func(i, j, k int) {
		p := g.PointCoord(i, j, k)
		tag.Data[cext.PointIndex(i, j, k)] = p[0] + 10*p[1]
	})
	g.CellArrays.Add(tag)
}

func imagePair() []*mesh.ImageGrid {
	a := &mesh.ImageGrid{Ext: geom.Extent{0, 3, 0, 3, 0, 0}, Spacing: [3]float64{1, 1, 1}}
	b := &mesh.ImageGrid{
		Ext:     geom.Extent{0, 3, 0, 3, 0, 0},
		Origin:  [3]float64{3, 0, 0},
		Spacing: [3]float64{1, 1, 1},
	}
	worldFields(a)
	worldFields(b)
	return []*mesh.ImageGrid{a, b}
}

// checkWorldFields verifies every point and cell value of an augmented grid
// against the world-position formula the inputs were filled with.
func checkWorldFields(t *testing.T, g *mesh.ImageGrid) {
	t.Helper()
	h := g.PointArrays.ByName("height")
	require.NotNil(t, h)
	g.Ext.ForEachPoint(func(i, j, k int) {
		p := g.PointCoord(i, j, k)
		require.Equal(t, p[0]+10*p[1], h.Data[g.Ext.PointIndex(i, j, k)],
			"point (%d,%d,%d)", i, j, k)
	})
	cext := g.Ext.CellExtent()
	tag := g.CellArrays.ByName("tag")
	require.NotNil(t, tag)
	cext.ForEachPoint(func(i, j, k int) {
		p := g.PointCoord(i, j, k)
		require.Equal(t, p[0]+10*p[1], tag.Data[cext.PointIndex(i, j, k)],
			"cell (%d,%d,%d)", i, j, k)
	})
}

func TestSynchronizeImagePair(t *testing.T) {
	parts := imagePair()
	outs, err := SynchronizeImage(parts, 1, quietOptions())
	require.NoError(t, err)
	require.Len(t, outs, 2)

	a, b := outs[0], outs[1]
	require.Equal(t, geom.Extent{0, 4, 0, 3, 0, 0}, a.Ext)
	require.Equal(t, geom.Extent{-1, 3, 0, 3, 0, 0}, b.Ext)
	checkWorldFields(t, a)
	checkWorldFields(t, b)

	// The lower gid owns the shared face: a keeps its interior untouched
	// while b marks both the received column and the shared column.
	a.Ext.ForEachPoint(func(i, j, k int) {
		want := byte(0)
		if i == 4 {
			want = mesh.GhostDuplicate
		}
		require.Equal(t, want, a.PointGhosts[a.Ext.PointIndex(i, j, k)], "a point %d,%d", i, j)
	})
	b.Ext.ForEachPoint(func(i, j, k int) {
		want := byte(0)
		if i == -1 || i == 0 {
			want = mesh.GhostDuplicate
		}
		require.Equal(t, want, b.PointGhosts[b.Ext.PointIndex(i, j, k)], "b point %d,%d", i, j)
	})

	aCells := a.Ext.CellExtent()
	aCells.ForEachPoint(func(i, j, k int) {
		want := byte(0)
		if i == 3 {
			want = mesh.GhostDuplicate
		}
		require.Equal(t, want, a.CellGhosts[aCells.PointIndex(i, j, k)], "a cell %d,%d", i, j)
	})
	bCells := b.Ext.CellExtent()
	bCells.ForEachPoint(func(i, j, k int) {
		want := byte(0)
		if i == -1 {
			want = mesh.GhostDuplicate
		}
		require.Equal(t, want, b.CellGhosts[bCells.PointIndex(i, j, k)], "b cell %d,%d", i, j)
	})
}

func TestSynchronizeImageDepthZero(t *testing.T) {
	parts := imagePair()
	outs, err := SynchronizeImage(parts, 0, quietOptions())
	require.NoError(t, err)

	a, b := outs[0], outs[1]
	require.Equal(t, geom.Extent{0, 3, 0, 3, 0, 0}, a.Ext)
	require.Equal(t, geom.Extent{0, 3, 0, 3, 0, 0}, b.Ext)

	// No cells travel at depth zero; only ownership of the shared face is
	// recorded, on the higher gid.
	for _, gb := range a.PointGhosts {
		require.Zero(t, gb)
	}
	b.Ext.ForEachPoint(func(i, j, k int) {
		want := byte(0)
		if i == 0 {
			want = mesh.GhostDuplicate
		}
		require.Equal(t, want, b.PointGhosts[b.Ext.PointIndex(i, j, k)])
	})
	for _, gb := range a.CellGhosts {
		require.Zero(t, gb)
	}
	for _, gb := range b.CellGhosts {
		require.Zero(t, gb)
	}
}

func TestSynchronizeImageIdempotent(t *testing.T) {
	first, err := SynchronizeImage(imagePair(), 1, quietOptions())
	require.NoError(t, err)

	// Feeding the augmented outputs back in peels the ghost layers during
	// descriptor construction and rebuilds the same augmentation.
	second, err := SynchronizeImage(first, 1, quietOptions())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSynchronizeImageFieldMismatchDegrades(t *testing.T) {
	parts := imagePair()
	// Same field name with a different shape on the second partition: both
	// sides detect the inconsistency and fall back to interior-only output.
	parts[1].PointArrays.Add(&mesh.Field{
		Name: "height", Comps: 2, Data: make([]float64, 2*parts[1].Ext.NumPoints()),
	})

	outs, err := SynchronizeImage(parts, 1, quietOptions())
	require.NoError(t, err)
	require.Equal(t, geom.Extent{0, 3, 0, 3, 0, 0}, outs[0].Ext)
	require.Equal(t, geom.Extent{0, 3, 0, 3, 0, 0}, outs[1].Ext)
	for _, gb := range outs[0].PointGhosts {
		require.Zero(t, gb)
	}
}

func TestSynchronizeImageTwoRanks(t *testing.T) {
	parts := imagePair()
	eps := channel.NewInProcess(2)

	outs := make([][]*mesh.ImageGrid, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for r := 0; r < 2; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			nop := zerolog.Nop()
			o := &Options{Channel: eps[r], Logger: &nop}
			outs[r], errs[r] = SynchronizeImage([]*mesh.ImageGrid{parts[r]}, 1, o)
		}(r)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Len(t, outs[0], 1)
	require.Len(t, outs[1], 1)

	a, b := outs[0][0], outs[1][0]
	require.Equal(t, geom.Extent{0, 4, 0, 3, 0, 0}, a.Ext)
	require.Equal(t, geom.Extent{-1, 3, 0, 3, 0, 0}, b.Ext)
	checkWorldFields(t, a)
	checkWorldFields(t, b)
}

func TestSynchronizeRectilinearExtendsCoords(t *testing.T) {
	a := &mesh.RectilinearGrid{
		Ext: geom.Extent{0, 3, 0, 1, 0, 0},
		X:   []float64{0, 1, 2, 3}, Y: []float64{0, 5}, Z: []float64{0},
	}
	b := &mesh.RectilinearGrid{
		Ext: geom.Extent{0, 3, 0, 1, 0, 0},
		X:   []float64{3, 4, 5, 6}, Y: []float64{0, 5}, Z: []float64{0},
	}
	f := &mesh.Field{Name: "u", Comps: 1, Data: make([]float64, a.Ext.NumPoints())}
	a.Ext.ForEachPoint(func(i, j, k int) {
		f.Data[a.Ext.PointIndex(i, j, k)] = a.PointCoord(i, j, k)[0]
	})
	a.PointArrays.Add(f)
	g := &mesh.Field{Name: "u", Comps: 1, Data: make([]float64, b.Ext.NumPoints())}
	b.Ext.ForEachPoint(func(i, j, k int) {
		g.Data[b.Ext.PointIndex(i, j, k)] = b.PointCoord(i, j, k)[0]
	})
	b.PointArrays.Add(g)

	outs, err := SynchronizeRectilinear([]*mesh.RectilinearGrid{a, b}, 1, quietOptions())
	require.NoError(t, err)

	oa, ob := outs[0], outs[1]
	require.Equal(t, geom.Extent{0, 4, 0, 1, 0, 0}, oa.Ext)
	require.Equal(t, []float64{0, 1, 2, 3, 4}, oa.X)
	require.Equal(t, []float64{0, 5}, oa.Y)

	require.Equal(t, geom.Extent{-1, 3, 0, 1, 0, 0}, ob.Ext)
	require.Equal(t, []float64{2, 3, 4, 5, 6}, ob.X)

	fu := oa.PointArrays.ByName("u")
	oa.Ext.ForEachPoint(func(i, j, k int) {
		require.Equal(t, oa.PointCoord(i, j, k)[0], fu.Data[oa.Ext.PointIndex(i, j, k)])
	})
	gu := ob.PointArrays.ByName("u")
	ob.Ext.ForEachPoint(func(i, j, k int) {
		require.Equal(t, ob.PointCoord(i, j, k)[0], gu.Data[ob.Ext.PointIndex(i, j, k)])
	})
}

func TestSynchronizeStructuredExplicitPoints(t *testing.T) {
	build := func(shift float64) *mesh.StructuredGrid {
		ext := geom.Extent{0, 2, 0, 2, 0, 0}
		g := &mesh.StructuredGrid{Ext: ext, Points: make([][3]float64, ext.NumPoints())}
		ext.ForEachPoint(func(i, j, k int) {
			g.Points[ext.PointIndex(i, j, k)] = [3]float64{float64(i) + shift, float64(j), 0}
		})
		f := &mesh.Field{Name: "u", Comps: 1, Data: make([]float64, ext.NumPoints())}
		ext.ForEachPoint(func(i, j, k int) {
			f.Data[ext.PointIndex(i, j, k)] = float64(i) + shift + 10*float64(j)
		})
		g.PointArrays.Add(f)
		return g
	}
	a, b := build(0), build(2)

	outs, err := SynchronizeStructured([]*mesh.StructuredGrid{a, b}, 1, quietOptions())
	require.NoError(t, err)

	oa, ob := outs[0], outs[1]
	require.Equal(t, geom.Extent{0, 3, 0, 2, 0, 0}, oa.Ext)
	require.Equal(t, geom.Extent{-1, 2, 0, 2, 0, 0}, ob.Ext)

	// Received point coordinates are explicit, shipped in the buffer.
	require.Equal(t, [3]float64{3, 1, 0}, oa.PointCoord(3, 1, 0))
	require.Equal(t, [3]float64{1, 2, 0}, ob.PointCoord(-1, 2, 0))

	fu := oa.PointArrays.ByName("u")
	oa.Ext.ForEachPoint(func(i, j, k int) {
		p := oa.PointCoord(i, j, k)
		require.Equal(t, p[0]+10*p[1], fu.Data[oa.Ext.PointIndex(i, j, k)])
	})
}

// unsquare builds one unit square split into two triangles, with global
// point ids and world-derived fields.
//
//	2---3        cells: {0,1,2} {1,3,2}
//	| \ |
//	0---1
func unsquare(x0 float64, gids []int64) *mesh.UnstructuredMesh {
	m := &mesh.UnstructuredMesh{
		Points: [][3]float64{
			{x0, 0, 0}, {x0 + 1, 0, 0}, {x0, 1, 0}, {x0 + 1, 1, 0},
		},
		CellTypes:      []mesh.CellType{mesh.TriangleCell, mesh.TriangleCell},
		GlobalPointIDs: gids,
	}
	m.Cells.Append(0, 1, 2)
	m.Cells.Append(1, 3, 2)
	temp := &mesh.Field{Name: "temp", Comps: 1}
	for _, g := range gids {
		temp.Data = append(temp.Data, float64(g))
	}
	m.PointArrays.Add(temp)
	rho := &mesh.Field{Name: "rho", Comps: 1, Data: []float64{x0 + 0.5, x0 + 1.5}}
	m.CellArrays.Add(rho)
	return m
}

func TestSynchronizeUnstructuredSharedEdge(t *testing.T) {
	a := unsquare(0, []int64{100, 101, 102, 103})
	b := unsquare(1, []int64{101, 104, 103, 105})

	outs, err := SynchronizeUnstructured([]*mesh.UnstructuredMesh{a, b}, 1, quietOptions())
	require.NoError(t, err)

	oa, ob := outs[0], outs[1]
	require.Equal(t, 6, oa.NumPoints())
	require.Equal(t, 4, oa.NumCells())
	require.Equal(t, [][3]float64{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}, {2, 0, 0}, {2, 1, 0},
	}, oa.Points)
	require.Equal(t, []int64{100, 101, 102, 103, 104, 105}, oa.GlobalPointIDs)
	// Received cells reference the interface points a already holds.
	require.Equal(t, []int64{1, 4, 3}, oa.Cells.Cell(2))
	require.Equal(t, []int64{4, 5, 3}, oa.Cells.Cell(3))
	require.Equal(t, []mesh.CellType{
		mesh.TriangleCell, mesh.TriangleCell, mesh.TriangleCell, mesh.TriangleCell,
	}, oa.CellTypes)
	require.Equal(t, []byte{0, 0, 0, 0, mesh.GhostDuplicate, mesh.GhostDuplicate}, oa.PointGhosts)
	require.Equal(t, []byte{0, 0, mesh.GhostDuplicate, mesh.GhostDuplicate}, oa.CellGhosts)
	require.Equal(t, []float64{100, 101, 102, 103, 104, 105},
		oa.PointArrays.ByName("temp").Data)
	require.Equal(t, []float64{0.5, 1.5, 1.5, 2.5}, oa.CellArrays.ByName("rho").Data)

	require.Equal(t, 6, ob.NumPoints())
	require.Equal(t, 4, ob.NumCells())
	require.Equal(t, [][3]float64{
		{1, 0, 0}, {2, 0, 0}, {1, 1, 0}, {2, 1, 0}, {0, 0, 0}, {0, 1, 0},
	}, ob.Points)
	require.Equal(t, []int64{101, 104, 103, 105, 100, 102}, ob.GlobalPointIDs)
	require.Equal(t, []int64{4, 0, 5}, ob.Cells.Cell(2))
	require.Equal(t, []int64{0, 2, 5}, ob.Cells.Cell(3))
	// b's copies of the shared interface points belong to a.
	require.Equal(t, []byte{
		mesh.GhostDuplicate, 0, mesh.GhostDuplicate, 0,
		mesh.GhostDuplicate, mesh.GhostDuplicate,
	}, ob.PointGhosts)
	require.Equal(t, []float64{1.5, 2.5, 0.5, 1.5}, ob.CellArrays.ByName("rho").Data)
}

func TestSynchronizeUnstructuredDepthZero(t *testing.T) {
	a := unsquare(0, []int64{100, 101, 102, 103})
	b := unsquare(1, []int64{101, 104, 103, 105})

	outs, err := SynchronizeUnstructured([]*mesh.UnstructuredMesh{a, b}, 0, quietOptions())
	require.NoError(t, err)

	oa, ob := outs[0], outs[1]
	require.Equal(t, 4, oa.NumPoints())
	require.Equal(t, 2, oa.NumCells())
	require.Equal(t, []byte{0, 0, 0, 0}, oa.PointGhosts)
	require.Equal(t, 4, ob.NumPoints())
	require.Equal(t, 2, ob.NumCells())
	require.Equal(t, []byte{mesh.GhostDuplicate, 0, mesh.GhostDuplicate, 0}, ob.PointGhosts)
}

func TestSynchronizePolyGeometricInterface(t *testing.T) {
	square := func(x0 float64) *mesh.PolyMesh {
		m := &mesh.PolyMesh{
			Points: [][3]float64{
				{x0, 0, 0}, {x0 + 1, 0, 0}, {x0 + 1, 1, 0}, {x0, 1, 0},
			},
		}
		m.Polys.Append(0, 1, 2, 3)
		return m
	}
	a, b := square(0), square(1)

	outs, err := SynchronizePoly([]*mesh.PolyMesh{a, b}, 1, quietOptions())
	require.NoError(t, err)

	oa, ob := outs[0], outs[1]
	require.Equal(t, 6, oa.NumPoints())
	require.Equal(t, 2, oa.NumCells())
	require.Equal(t, [][3]float64{
		{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}, {2, 0, 0}, {2, 1, 0},
	}, oa.Points)
	require.Equal(t, []int64{1, 4, 5, 2}, oa.Polys.Cell(1))
	require.Equal(t, []byte{0, 0, 0, 0, mesh.GhostDuplicate, mesh.GhostDuplicate}, oa.PointGhosts)
	require.Equal(t, []byte{0, mesh.GhostDuplicate}, oa.CellGhosts)

	require.Equal(t, 6, ob.NumPoints())
	require.Equal(t, []int64{4, 0, 3, 5}, ob.Polys.Cell(1))
	require.Equal(t, [][3]float64{
		{1, 0, 0}, {2, 0, 0}, {2, 1, 0}, {1, 1, 0}, {0, 0, 0}, {0, 1, 0},
	}, ob.Points)
	require.Equal(t, []byte{
		mesh.GhostDuplicate, 0, 0, mesh.GhostDuplicate,
		mesh.GhostDuplicate, mesh.GhostDuplicate,
	}, ob.PointGhosts)
}

func TestSynchronizeUnstructuredSharedVertexDedup(t *testing.T) {
	tri := func(pts ...[3]float64) *mesh.UnstructuredMesh {
		m := &mesh.UnstructuredMesh{
			Points:    pts,
			CellTypes: []mesh.CellType{mesh.TriangleCell},
		}
		m.Cells.Append(0, 1, 2)
		return m
	}
	// Three id-less triangles around the origin: a and b share the edge up
	// to (0,1), c shares only the origin vertex with each of them.
	a := tri([3]float64{0, 0, 0}, [3]float64{0, 1, 0}, [3]float64{-1, 0, 0})
	b := tri([3]float64{0, 0, 0}, [3]float64{1, 0, 0}, [3]float64{0, 1, 0})
	c := tri([3]float64{0, 0, 0}, [3]float64{1, -1, 0}, [3]float64{-1, -1, 0})

	outs, err := SynchronizeUnstructured([]*mesh.UnstructuredMesh{a, b, c}, 2, quietOptions())
	require.NoError(t, err)

	// c receives (0,1,0) from both neighbors; the second copy must redirect
	// to the slot the first one filled.
	oc := outs[2]
	require.Equal(t, [][3]float64{
		{0, 0, 0}, {1, -1, 0}, {-1, -1, 0}, {0, 1, 0}, {-1, 0, 0}, {1, 0, 0},
	}, oc.Points)
	require.Equal(t, 3, oc.NumCells())
	require.Equal(t, []int64{0, 3, 4}, oc.Cells.Cell(1))
	require.Equal(t, []int64{0, 5, 3}, oc.Cells.Cell(2))
	require.Equal(t, []byte{
		mesh.GhostDuplicate, 0, 0,
		mesh.GhostDuplicate, mesh.GhostDuplicate, mesh.GhostDuplicate,
	}, oc.PointGhosts)
	require.Equal(t, []byte{0, mesh.GhostDuplicate, mesh.GhostDuplicate}, oc.CellGhosts)

	// The shared vertex appears exactly once in every augmented output.
	for _, out := range outs {
		shared := 0
		for _, p := range out.Points {
			if p == ([3]float64{0, 0, 0}) {
				shared++
			}
		}
		require.Equal(t, 1, shared)
	}
}

// A ghost buffer claiming an origin outside the confirmed link map must be
// dropped during routing, leaving the outputs identical to a clean run.
func TestSynchronizeImageIgnoresUnlinkedBuffer(t *testing.T) {
	want, err := SynchronizeImage(imagePair(), 1, quietOptions())
	require.NoError(t, err)

	ch := channel.Self()
	rogue := &wire.GridGhost{From: 7, To: 0, SendExtent: geom.Extent{2, 3, 0, 3, 0, 0}}
	msg := channel.Message{Tag: channel.TagGhost, Payload: rogue.Encode(0)}
	require.NoError(t, ch.Enqueue(0, msg))

	o := quietOptions()
	o.Channel = ch
	got, err := SynchronizeImage(imagePair(), 1, o)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

type brokenOutputKind struct{ *imageKind }

func (k *brokenOutputKind) NewOutput(int, *gridAssembly) (mesh.StructuredSet, error) {
	return nil, errors.New("allocation refused")
}

// When both assembly and the interior fallback fail, the engine hands the
// input partition back unchanged rather than a nil slot.
func TestSyncGridsDegradedOutputNeverNil(t *testing.T) {
	parts := imagePair()
	outs, err := syncGrids(&brokenOutputKind{&imageKind{parts: parts}}, 1, quietOptions())
	require.NoError(t, err)
	require.Len(t, outs, 2)
	for i, o := range outs {
		require.NotNil(t, o)
		require.Same(t, parts[i], o)
	}
}
