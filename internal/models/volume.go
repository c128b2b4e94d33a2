package models

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidPlane is returned when a plane selector does not name one of the
// three anatomical planes.
var ErrInvalidPlane = errors.New("invalid plane")

// Volume represents a 3D scalar image loaded from disk
type Volume struct {
	// Data is the 3D volume data as a 1D array, x varying fastest
	Data []float64

	// Width is the size of the first spatial axis (x)
	Width int

	// Height is the size of the second spatial axis (y)
	Height int

	// Depth is the size of the third spatial axis (z)
	Depth int

	// Dims is the full shape as stored on disk. It may carry trailing
	// axes (e.g. time) that are not part of Data.
	Dims []int

	// Affine maps voxel indices to physical space (4x4)
	Affine *mat.Dense
}

// NewVolume allocates a zero-filled volume with an identity affine.
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
		Dims:   []int{width, height, depth},
		Affine: IdentityAffine(),
	}
}

// Index returns the offset of voxel (x, y, z) in Data.
func (v *Volume) Index(x, y, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// At returns the intensity at voxel (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[v.Index(x, y, z)]
}

// Set stores an intensity at voxel (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.Data[v.Index(x, y, z)] = value
}

// Shape returns the spatial shape as (x, y, z).
func (v *Volume) Shape() [3]int {
	return [3]int{v.Width, v.Height, v.Depth}
}

// NumDims returns the number of dimensions of the stored image.
func (v *Volume) NumDims() int {
	if len(v.Dims) == 0 {
		return 3
	}
	return len(v.Dims)
}

// IdentityAffine returns a 4x4 identity matrix.
func IdentityAffine() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Overlay is a two channel colour composite of a static and a moving volume.
// Each voxel holds three interleaved channels: red is the static intensity,
// green the moving intensity and blue is always zero.
type Overlay struct {
	// Data holds Width*Height*Depth*3 channel values
	Data []uint8

	Width, Height, Depth int
}

// Channels is the number of colour channels stored per overlay voxel.
const Channels = 3

// NewOverlay allocates an all-zero overlay.
func NewOverlay(width, height, depth int) *Overlay {
	return &Overlay{
		Data:   make([]uint8, width*height*depth*Channels),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Offset returns the offset of channel 0 of voxel (x, y, z) in Data.
func (o *Overlay) Offset(x, y, z int) int {
	return (z*o.Width*o.Height + y*o.Width + x) * Channels
}

// Shape returns (Width, Height, Depth).
func (o *Overlay) Shape() [3]int {
	return [3]int{o.Width, o.Height, o.Depth}
}

// Clone returns a deep copy of the overlay.
func (o *Overlay) Clone() *Overlay {
	c := &Overlay{Width: o.Width, Height: o.Height, Depth: o.Depth}
	c.Data = make([]uint8, len(o.Data))
	copy(c.Data, o.Data)
	return c
}

// ValueRange is the display intensity window derived from overlay statistics
type ValueRange struct {
	Low  float64
	High float64
}

// Valid reports whether the range is finite and has positive width.
func (r ValueRange) Valid() bool {
	if math.IsNaN(r.Low) || math.IsNaN(r.High) || math.IsInf(r.Low, 0) || math.IsInf(r.High, 0) {
		return false
	}
	return r.High > r.Low
}

// Width returns High - Low.
func (r ValueRange) Width() float64 {
	return r.High - r.Low
}

// Layout is the grid used to tile slices in a mosaic
type Layout struct {
	Rows int
	Cols int
}

// Cells returns the number of grid cells.
func (l Layout) Cells() int {
	return l.Rows * l.Cols
}

// Plane selects the axis along which slices are taken
type Plane int

const (
	// Sagittal slices are taken along the x axis
	Sagittal Plane = iota
	// Coronal slices are taken along the y axis
	Coronal
	// Axial slices are taken along the z axis
	Axial
)

// Axis returns the volume axis index the plane slices along.
func (p Plane) Axis() int {
	return int(p)
}

func (p Plane) String() string {
	switch p {
	case Sagittal:
		return "sagittal"
	case Coronal:
		return "coronal"
	case Axial:
		return "axial"
	default:
		return fmt.Sprintf("plane(%d)", int(p))
	}
}

// Valid reports whether p is one of the three anatomical planes.
func (p Plane) Valid() bool {
	return p == Sagittal || p == Coronal || p == Axial
}

// ParsePlane converts a selector into a Plane. The historical "saggital"
// spelling is accepted alongside "sagittal".
func ParsePlane(s string) (Plane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "saggital", "sagittal":
		return Sagittal, nil
	case "coronal":
		return Coronal, nil
	case "axial":
		return Axial, nil
	default:
		return 0, fmt.Errorf("%w: %q (must be saggital, coronal or axial)", ErrInvalidPlane, s)
	}
}
