package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriterReaderRoundTrip(t *testing.T) {
	var w Writer
	w.U8(7)
	w.U32(42)
	w.I64(-5)
	w.F64(3.25)
	w.String("density")
	w.F64s([]float64{1, 2, 3})
	w.Points([][3]float64{{0, 1, 2}, {3, 4, 5}})
	w.I64s([]int64{-2, 0, 9})

	r, err := NewReader(w.Bytes(0))
	require.NoError(t, err)
	require.Equal(t, byte(7), r.U8())
	require.Equal(t, uint32(42), r.U32())
	require.Equal(t, int64(-5), r.I64())
	require.Equal(t, 3.25, r.F64())
	require.Equal(t, "density", r.String())
	require.Equal(t, []float64{1, 2, 3}, r.F64s())
	require.Equal(t, [][3]float64{{0, 1, 2}, {3, 4, 5}}, r.PointsArr())
	require.Equal(t, []int64{-2, 0, 9}, r.I64s())
	require.NoError(t, r.Err())
}

func TestIndexWidthNarrowing(t *testing.T) {
	var small, big Writer
	small.I64s([]int64{1, 2, 3})
	big.I64s([]int64{1, 1 << 40, 3})
	// Same element count, half the element width.
	require.Less(t, len(small.Bytes(0)), len(big.Bytes(0)))

	r, err := NewReader(big.Bytes(0))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 1 << 40, 3}, r.I64s())
	require.NoError(t, r.Err())
}

func TestCompressionRoundTrip(t *testing.T) {
	vals := make([]float64, 4096)
	for i := range vals {
		vals[i] = float64(i % 17)
	}
	var w Writer
	w.F64s(vals)
	payload := w.Bytes(64)
	require.Equal(t, compressedPayload, payload[0])
	require.Less(t, len(payload), 8*len(vals))

	r, err := NewReader(payload)
	require.NoError(t, err)
	require.Equal(t, vals, r.F64s())
	require.NoError(t, r.Err())
}

func TestCompressionDisabledBelowThreshold(t *testing.T) {
	var w Writer
	w.U32(1)
	payload := w.Bytes(1 << 20)
	require.Equal(t, rawPayload, payload[0])
}

func TestReaderTruncation(t *testing.T) {
	var w Writer
	w.F64s([]float64{1, 2, 3})
	payload := w.Bytes(0)

	r, err := NewReader(payload[:len(payload)-4])
	require.NoError(t, err)
	r.F64s()
	require.ErrorIs(t, r.Err(), ErrTruncated)

	_, err = NewReader(nil)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestReaderLatchesFirstError(t *testing.T) {
	var w Writer
	w.U32(7)
	r, err := NewReader(w.Bytes(0))
	require.NoError(t, err)
	require.Equal(t, uint32(7), r.U32())
	r.I64()
	require.Error(t, r.Err())
	// Subsequent reads return zero values without panicking.
	require.Zero(t, r.F64())
	require.Empty(t, r.String())
}
