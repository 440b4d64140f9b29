package geom

import (
	"math"

	"github.com/dhconnelly/rtreego"
)

// Bounds is a world-space axis-aligned bounding box formatted as
// [xmin, xmax, ymin, ymax, zmin, zmax].
type Bounds [6]float64

// EmptyBounds returns an inverted box that absorbs the first point added.
func EmptyBounds() Bounds {
	inf := math.Inf(1)
	return Bounds{inf, -inf, inf, -inf, inf, -inf}
}

// Valid reports whether the box contains at least one point.
func (b Bounds) Valid() bool {
	return b[0] <= b[1] && b[2] <= b[3] && b[4] <= b[5]
}

// Add expands the box to include point p.
func (b *Bounds) Add(p [3]float64) {
	for a := 0; a < 3; a++ {
		if p[a] < b[2*a] {
			b[2*a] = p[a]
		}
		if p[a] > b[2*a+1] {
			b[2*a+1] = p[a]
		}
	}
}

// Inflate grows the box by pad on every side.
func (b Bounds) Inflate(pad float64) Bounds {
	return Bounds{b[0] - pad, b[1] + pad, b[2] - pad, b[3] + pad, b[4] - pad, b[5] + pad}
}

// Intersects reports whether two boxes share any volume, face, edge or point.
func (b Bounds) Intersects(o Bounds) bool {
	if !b.Valid() || !o.Valid() {
		return false
	}
	for a := 0; a < 3; a++ {
		if b[2*a] > o[2*a+1] || o[2*a] > b[2*a+1] {
			return false
		}
	}
	return true
}

// MaxMagnitude returns the largest absolute coordinate of the box corners,
// used to scale tolerances to the local unit system.
func (b Bounds) MaxMagnitude() float64 {
	m := 0.0
	for _, v := range b {
		if a := math.Abs(v); a > m {
			m = a
		}
	}
	return m
}

// Rect converts the box to an rtreego rectangle, padding degenerate axes so
// flat boxes remain insertable.
func (b Bounds) Rect(pad float64) (rtreego.Rect, error) {
	p := rtreego.Point{b[0] - pad, b[2] - pad, b[4] - pad}
	lengths := []float64{
		b[1] - b[0] + 2*pad,
		b[3] - b[2] + 2*pad,
		b[5] - b[4] + 2*pad,
	}
	return rtreego.NewRect(p, lengths)
}
