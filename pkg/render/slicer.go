package render

import (
	"fmt"
	"image"

	"github.com/disintegration/gift"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"regoverlay/internal/models"
	"regoverlay/pkg/overlay"
)

// inPlaneAxes lists the volume axes spanned by a slice's columns and rows
var inPlaneAxes = map[models.Plane][2]int{
	models.Sagittal: {1, 2},
	models.Coronal:  {0, 2},
	models.Axial:    {0, 1},
}

// VoxelSpacing returns the physical size of a voxel along each axis, taken
// from the column norms of the affine's linear part. Axes with no scale fall
// back to 1.
func VoxelSpacing(affine *mat.Dense) [3]float64 {
	spacing := [3]float64{1, 1, 1}
	if affine == nil {
		return spacing
	}
	r, c := affine.Dims()
	if r < 3 || c < 3 {
		return spacing
	}
	for k := 0; k < 3; k++ {
		col := mat.Col(nil, k, affine)[:3]
		if n := floats.Norm(col, 2); n > 0 {
			spacing[k] = n
		}
	}
	return spacing
}

// NewSlicerActor turns an overlay slice into an actor. The red and green
// channels are mapped through the value range, the image is flipped so the
// second in-plane axis points up, and the pixel spacing is taken from the
// affine.
func NewSlicerActor(slice image.Image, vr models.ValueRange, affine *mat.Dense, plane models.Plane) (*Actor, error) {
	axes, ok := inPlaneAxes[plane]
	if !ok {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidPlane, plane)
	}
	if !vr.Valid() {
		return nil, fmt.Errorf("invalid value range (%g, %g)", vr.Low, vr.High)
	}

	b := slice.Bounds()
	windowed := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, _, _ := slice.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := windowed.PixOffset(x, y)
			windowed.Pix[i] = overlay.Window(float64(r>>8), vr)
			windowed.Pix[i+1] = overlay.Window(float64(g>>8), vr)
			windowed.Pix[i+2] = 0
			windowed.Pix[i+3] = 255
		}
	}

	g := gift.New(gift.FlipVertical())
	oriented := image.NewRGBA(g.Bounds(windowed.Bounds()))
	g.Draw(oriented, windowed)

	spacing := VoxelSpacing(affine)
	return &Actor{
		Image:       oriented,
		SpacingX:    spacing[axes[0]],
		SpacingY:    spacing[axes[1]],
		Interpolate: true,
	}, nil
}
