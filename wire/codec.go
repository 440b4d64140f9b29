// Package wire serializes planned ghost geometry and field data into flat,
// relocatable buffers for the exchange round. The layout is purely
// structural: offsets plus connectivity (stored 32- or 64-bit, whichever is
// smaller and sufficient), a parallel cell-type array, an extra two-level
// face buffer for polyhedra, and per-array field gathers. Points the
// receiver already knows from the interface handshake are encoded as
// negative placeholder ids that decode to "the k-th interface point".
// Payloads above a configurable threshold are zstd-compressed.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/DataDog/zstd"
)

// ErrSizeMismatch reports a decoded section whose size disagrees with its
// announced size; the affected output degrades rather than corrupting
// connectivity.
var ErrSizeMismatch = errors.New("wire: buffer size mismatch")

// ErrTruncated reports a payload shorter than its header claims.
var ErrTruncated = errors.New("wire: truncated buffer")

const (
	rawPayload        byte = 0
	compressedPayload byte = 1

	width32 byte = 4
	width64 byte = 8
)

// Writer accumulates little-endian sections.
type Writer struct {
	buf bytes.Buffer
}

func (w *Writer) U8(v byte)     { w.buf.WriteByte(v) }
func (w *Writer) U32(v uint32)  { binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *Writer) I64(v int64)   { binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *Writer) F64(v float64) { binary.Write(&w.buf, binary.LittleEndian, v) }

func (w *Writer) String(s string) {
	w.U32(uint32(len(s)))
	w.buf.WriteString(s)
}

// F64s writes a length-prefixed float64 array.
func (w *Writer) F64s(vs []float64) {
	w.U32(uint32(len(vs)))
	for _, v := range vs {
		w.F64(v)
	}
}

// Points writes a length-prefixed 3-vector array.
func (w *Writer) Points(ps [][3]float64) {
	w.U32(uint32(len(ps)))
	for _, p := range ps {
		w.F64(p[0])
		w.F64(p[1])
		w.F64(p[2])
	}
}

// I64s writes a length-prefixed index array, narrowing to 32 bits when every
// value (including negative interface placeholders) fits.
func (w *Writer) I64s(vs []int64) {
	width := width32
	for _, v := range vs {
		if v > math.MaxInt32 || v < math.MinInt32 {
			width = width64
			break
		}
	}
	w.U32(uint32(len(vs)))
	w.U8(width)
	if width == width32 {
		for _, v := range vs {
			binary.Write(&w.buf, binary.LittleEndian, int32(v))
		}
	} else {
		for _, v := range vs {
			w.I64(v)
		}
	}
}

// Bytes finalizes the writer, compressing the payload when it reaches
// threshold (0 disables compression).
func (w *Writer) Bytes(threshold int) []byte {
	raw := w.buf.Bytes()
	if threshold > 0 && len(raw) >= threshold {
		if compressed, err := zstd.Compress(nil, raw); err == nil && len(compressed) < len(raw) {
			out := make([]byte, 0, len(compressed)+9)
			out = append(out, compressedPayload)
			var size [8]byte
			binary.LittleEndian.PutUint64(size[:], uint64(len(raw)))
			out = append(out, size[:]...)
			return append(out, compressed...)
		}
	}
	out := make([]byte, 0, len(raw)+1)
	out = append(out, rawPayload)
	return append(out, raw...)
}

// Reader consumes a payload produced by Writer.Bytes. All getters record the
// first error; Err reports it once at the end so call sites stay flat.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader unwraps (and if needed decompresses) a payload.
func NewReader(payload []byte) (*Reader, error) {
	if len(payload) < 1 {
		return nil, ErrTruncated
	}
	switch payload[0] {
	case rawPayload:
		return &Reader{data: payload[1:]}, nil
	case compressedPayload:
		if len(payload) < 9 {
			return nil, ErrTruncated
		}
		size := binary.LittleEndian.Uint64(payload[1:9])
		raw, err := zstd.Decompress(make([]byte, 0, size), payload[9:])
		if err != nil {
			return nil, fmt.Errorf("wire: decompressing payload: %w", err)
		}
		if uint64(len(raw)) != size {
			return nil, ErrSizeMismatch
		}
		return &Reader{data: raw}, nil
	default:
		return nil, fmt.Errorf("wire: unknown payload marker %d", payload[0])
	}
}

func (r *Reader) fail() {
	if r.err == nil {
		r.err = ErrTruncated
	}
}

func (r *Reader) U8() byte {
	if r.err != nil || r.off+1 > len(r.data) {
		r.fail()
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *Reader) U32() uint32 {
	if r.err != nil || r.off+4 > len(r.data) {
		r.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *Reader) I64() int64 {
	if r.err != nil || r.off+8 > len(r.data) {
		r.fail()
		return 0
	}
	v := int64(binary.LittleEndian.Uint64(r.data[r.off:]))
	r.off += 8
	return v
}

func (r *Reader) F64() float64 {
	if r.err != nil || r.off+8 > len(r.data) {
		r.fail()
		return 0
	}
	v := math.Float64frombits(binary.LittleEndian.Uint64(r.data[r.off:]))
	r.off += 8
	return v
}

func (r *Reader) String() string {
	n := int(r.U32())
	if r.err != nil || r.off+n > len(r.data) {
		r.fail()
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}

func (r *Reader) F64s() []float64 {
	n := int(r.U32())
	if r.err != nil || r.off+8*n > len(r.data) {
		r.fail()
		return nil
	}
	if n == 0 {
		return nil
	}
	vs := make([]float64, n)
	for i := range vs {
		vs[i] = r.F64()
	}
	return vs
}

func (r *Reader) PointsArr() [][3]float64 {
	n := int(r.U32())
	if r.err != nil || r.off+24*n > len(r.data) {
		r.fail()
		return nil
	}
	if n == 0 {
		return nil
	}
	ps := make([][3]float64, n)
	for i := range ps {
		ps[i] = [3]float64{r.F64(), r.F64(), r.F64()}
	}
	return ps
}

func (r *Reader) I64s() []int64 {
	n := int(r.U32())
	width := r.U8()
	if r.err != nil {
		return nil
	}
	need := n * int(width)
	if r.off+need > len(r.data) {
		r.fail()
		return nil
	}
	if n == 0 {
		return nil
	}
	vs := make([]int64, n)
	switch width {
	case width32:
		for i := range vs {
			vs[i] = int64(int32(binary.LittleEndian.Uint32(r.data[r.off:])))
			r.off += 4
		}
	case width64:
		for i := range vs {
			vs[i] = r.I64()
		}
	default:
		r.err = fmt.Errorf("wire: unknown index width %d", width)
	}
	return vs
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error { return r.err }
