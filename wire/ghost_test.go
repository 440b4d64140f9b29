package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/mesh"
	"github.com/notargets/ghostsync/plan"
)

func TestGridGhostRoundTrip(t *testing.T) {
	in := &GridGhost{
		From:       2,
		To:         5,
		SendExtent: geom.Extent{2, 3, 0, 3, 0, 0},
		SendCells:  geom.Extent{2, 2, 0, 2, 0, 0},
		PointFields: []FieldBlock{
			{Name: "density", Comps: 1, Data: make([]float64, 8)},
		},
		CellFields: []FieldBlock{
			{Name: "volume", Comps: 1, Data: make([]float64, 3)},
		},
	}
	for i := range in.PointFields[0].Data {
		in.PointFields[0].Data[i] = float64(i)
	}

	out, err := DecodeGridGhost(in.Encode(0))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestGridGhostCurvilinearPoints(t *testing.T) {
	in := &GridGhost{
		From:       0,
		To:         1,
		SendExtent: geom.Extent{0, 1, 0, 1, 0, 0},
		SendCells:  geom.Extent{0, 0, 0, 0, 0, 0},
		Points:     [][3]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}},
	}
	out, err := DecodeGridGhost(in.Encode(0))
	require.NoError(t, err)
	require.Equal(t, in.Points, out.Points)
}

func TestGridGhostSizeMismatch(t *testing.T) {
	bad := &GridGhost{
		From:       0,
		To:         1,
		SendExtent: geom.Extent{0, 3, 0, 0, 0, 0},
		SendCells:  geom.Extent{0, 2, 0, 0, 0, 0},
		PointFields: []FieldBlock{
			{Name: "density", Comps: 1, Data: make([]float64, 2)}, // extent has 4 points
		},
	}
	_, err := DecodeGridGhost(bad.Encode(0))
	require.ErrorIs(t, err, ErrSizeMismatch)

	bad = &GridGhost{
		From:       0,
		To:         1,
		SendExtent: geom.Extent{0, 1, 0, 0, 0, 0},
		SendCells:  geom.Extent{0, 0, 0, 0, 0, 0},
		Points:     make([][3]float64, 5),
	}
	_, err = DecodeGridGhost(bad.Encode(0))
	require.ErrorIs(t, err, ErrSizeMismatch)
}

func TestRefWireForm(t *testing.T) {
	cases := []struct {
		ref  plan.PointRef
		wire int64
	}{
		{plan.PointRef{Kind: plan.Owned, Index: 0}, 0},
		{plan.PointRef{Kind: plan.Owned, Index: 41}, 41},
		{plan.PointRef{Kind: plan.InterfaceRef, Index: 0}, -1},
		{plan.PointRef{Kind: plan.InterfaceRef, Index: 6}, -7},
	}
	for _, c := range cases {
		require.Equal(t, c.wire, EncodeRef(c.ref))
		require.Equal(t, c.ref, DecodeRef(c.wire))
	}
}

func validMeshGhost() *MeshGhost {
	// One triangle: two owned points plus one interface point.
	return &MeshGhost{
		From:   3,
		To:     0,
		Points: [][3]float64{{1, 0, 0}, {1, 1, 0}},
		Refs: []plan.PointRef{
			{Kind: plan.Owned, Index: 0},
			{Kind: plan.Owned, Index: 1},
			{Kind: plan.InterfaceRef, Index: 2},
		},
		CellOffsets: []int64{0, 3},
		CellConn:    []int64{0, 1, 2},
		CellTypes:   []mesh.CellType{mesh.TriangleCell},
		PointFields: []FieldBlock{{Name: "density", Comps: 1, Data: []float64{1.5, 2.5}}},
		CellFields:  []FieldBlock{{Name: "volume", Comps: 1, Data: []float64{0.5}}},
	}
}

func TestMeshGhostRoundTrip(t *testing.T) {
	in := validMeshGhost()
	out, err := DecodeMeshGhost(in.Encode(0))
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.Equal(t, 1, out.NumCells())
}

func TestMeshGhostCompressedRoundTrip(t *testing.T) {
	in := validMeshGhost()
	payload := in.Encode(1)
	out, err := DecodeMeshGhost(payload)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestMeshGhostValidation(t *testing.T) {
	t.Run("owned refs out of order", func(t *testing.T) {
		g := validMeshGhost()
		g.Refs[0], g.Refs[1] = g.Refs[1], g.Refs[0]
		_, err := DecodeMeshGhost(g.Encode(0))
		require.ErrorIs(t, err, ErrSizeMismatch)
	})
	t.Run("connectivity outside sent-point table", func(t *testing.T) {
		g := validMeshGhost()
		g.CellConn[2] = 9
		_, err := DecodeMeshGhost(g.Encode(0))
		require.ErrorIs(t, err, ErrSizeMismatch)
	})
	t.Run("types disagree with cell count", func(t *testing.T) {
		g := validMeshGhost()
		g.CellTypes = nil
		_, err := DecodeMeshGhost(g.Encode(0))
		require.ErrorIs(t, err, ErrSizeMismatch)
	})
	t.Run("field block wrong size", func(t *testing.T) {
		g := validMeshGhost()
		g.PointFields[0].Data = g.PointFields[0].Data[:1]
		_, err := DecodeMeshGhost(g.Encode(0))
		require.ErrorIs(t, err, ErrSizeMismatch)
	})
	t.Run("offsets not monotone", func(t *testing.T) {
		g := validMeshGhost()
		g.CellOffsets = []int64{0, 5}
		_, err := DecodeMeshGhost(g.Encode(0))
		require.ErrorIs(t, err, ErrSizeMismatch)
	})
	t.Run("global id count disagrees", func(t *testing.T) {
		g := validMeshGhost()
		g.GlobalIDs = []int64{100}
		_, err := DecodeMeshGhost(g.Encode(0))
		require.ErrorIs(t, err, ErrSizeMismatch)
	})
}

func TestGatherField(t *testing.T) {
	f := &mesh.Field{Name: "v", Comps: 2, Data: []float64{0, 1, 10, 11, 20, 21, 30, 31}}
	b := GatherField(f, []int64{3, 1})
	require.Equal(t, FieldBlock{Name: "v", Comps: 2, Data: []float64{30, 31, 10, 11}}, b)
}
