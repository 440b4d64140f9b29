// Package descriptor builds the per-partition fingerprints exchanged during
// neighbor discovery: interior extent plus coordinate system for structured
// grids, boundary surface plus point keys for unstructured meshes. Building
// descriptors involves no communication; serialization uses gob since the
// descriptors are small control-plane messages.
package descriptor

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/notargets/ghostsync/geom"
	"github.com/notargets/ghostsync/mesh"
)

// Kind identifies the dataset kind a descriptor was built from. Descriptors
// of different kinds never match.
type Kind uint8

const (
	KindImage Kind = iota
	KindRectilinear
	KindStructured
	KindPoly
	KindUnstructured
)

// Face is one external face of a curvilinear grid, stored as a 2D point grid.
// The face axes are the two grid axes other than Axis, in ascending order:
// for Axis 0 the face grid is (j, k), for Axis 1 it is (i, k), for Axis 2 it
// is (i, j), with the first face axis varying fastest in Points.
type Face struct {
	Axis   int // 0, 1 or 2
	Side   int // 0 = min face, 1 = max face
	Ni, Nj int
	Points [][3]float64
}

// At returns the face point at face-grid coordinate (fi, fj).
func (f *Face) At(fi, fj int) [3]float64 { return f.Points[fi+f.Ni*fj] }

// FaceAxes returns the two grid axes spanning a face on the given axis.
func FaceAxes(axis int) (u, v int) {
	switch axis {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

// Grid is the fingerprint of a structured partition. Extent is the interior
// extent with any pre-existing ghost layers peeled off. Exactly one of the
// coordinate representations is populated according to Kind.
type Grid struct {
	GID  int
	Rank int
	Kind Kind

	Extent geom.Extent
	Bounds geom.Bounds

	// Implicit grids.
	Origin    [3]float64
	Spacing   [3]float64
	Direction [9]float64 // row-major; zero value means identity

	// Rectilinear grids: interior coordinate arrays.
	X, Y, Z []float64

	// Curvilinear grids: external faces.
	Faces []Face
}

// Empty reports whether this partition contributes nothing to discovery.
func (d *Grid) Empty() bool { return !d.Extent.Valid() }

// Surface is the fingerprint of an unstructured partition: its boundary
// point set, keyed by global point id when the mesh carries one, with a
// local-id shadow array so matches reverse-map into the owner's index space.
type Surface struct {
	GID  int
	Rank int
	Kind Kind

	Bounds geom.Bounds

	Points       [][3]float64
	LocalIDs     []int64
	GlobalIDs    []int64
	HasGlobalIDs bool
}

// Empty reports whether this partition contributes nothing to discovery.
func (d *Surface) Empty() bool { return len(d.Points) == 0 }

// EncodeGrids serializes a slice of grid descriptors for the descriptor round.
func EncodeGrids(ds []*Grid) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ds); err != nil {
		return nil, fmt.Errorf("encoding grid descriptors: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeGrids deserializes a descriptor-round payload.
func DecodeGrids(data []byte) ([]*Grid, error) {
	var ds []*Grid
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ds); err != nil {
		return nil, fmt.Errorf("decoding grid descriptors: %w", err)
	}
	return ds, nil
}

// EncodeSurfaces serializes a slice of surface descriptors.
func EncodeSurfaces(ds []*Surface) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ds); err != nil {
		return nil, fmt.Errorf("encoding surface descriptors: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSurfaces deserializes a descriptor-round payload.
func DecodeSurfaces(data []byte) ([]*Surface, error) {
	var ds []*Surface
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&ds); err != nil {
		return nil, fmt.Errorf("decoding surface descriptors: %w", err)
	}
	return ds, nil
}

// IdentityDirection is the row-major identity orientation.
var IdentityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// DirectionOf normalizes a possibly-zero direction to an explicit matrix.
func DirectionOf(d [9]float64) [9]float64 {
	if d == ([9]float64{}) {
		return IdentityDirection
	}
	return d
}

// InteriorExtent strips previously-synchronized ghost layers from a point
// extent by scanning inward from each face while every cell in the outermost
// layer is tagged duplicate. cellGhosts is in cell-extent storage order and
// may be nil.
func InteriorExtent(ext geom.Extent, cellGhosts []byte) geom.Extent {
	if !ext.Valid() || len(cellGhosts) == 0 {
		return ext
	}
	cur := ext
	for {
		shrunk := false
		for axis := 0; axis < 3; axis++ {
			if cur.Degenerate(axis) {
				continue
			}
			for side := 0; side < 2; side++ {
				if cur.Degenerate(axis) || !cur.Valid() {
					break
				}
				layer := faceLayer(cur.CellExtent(), axis, side)
				if !layerAllGhost(ext.CellExtent(), layer, cellGhosts) {
					continue
				}
				if side == 0 {
					cur[2*axis]++
				} else {
					cur[2*axis+1]--
				}
				shrunk = true
			}
		}
		if !shrunk || !cur.Valid() {
			break
		}
	}
	// Peeling can only collapse an axis when every cell layer along it was
	// ghost, which means the partition holds no real interior at all.
	if !cur.Valid() || cur.Dimensionality() != ext.Dimensionality() {
		return geom.EmptyExtent
	}
	return cur
}

// faceLayer returns the one-cell-thick layer of a cell extent on the given
// side of an axis.
func faceLayer(cellExt geom.Extent, axis, side int) geom.Extent {
	layer := cellExt
	if side == 0 {
		layer[2*axis+1] = layer[2*axis]
	} else {
		layer[2*axis] = layer[2*axis+1]
	}
	return layer
}

// layerAllGhost reports whether every cell in layer carries the duplicate
// flag. Indices are resolved against the original (unshrunk) cell extent the
// ghost array is stored on.
func layerAllGhost(storageExt, layer geom.Extent, ghosts []byte) bool {
	all := true
	layer.ForEachPoint(func(i, j, k int) {
		if !all {
			return
		}
		idx := storageExt.PointIndex(i, j, k)
		if idx < 0 || idx >= len(ghosts) || ghosts[idx]&mesh.GhostDuplicate == 0 {
			all = false
		}
	})
	return all
}
