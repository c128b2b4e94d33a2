package visualization

import (
	"fmt"
	"image"
	"image/png"
	"iter"
	"os"
	"path/filepath"

	"regoverlay/internal/models"
)

// Viewer extracts 2D colour slices from an overlay volume
type Viewer struct {
	// overlay holds the interleaved red/green/blue voxel data
	overlay *models.Overlay
}

// NewViewer creates a new slice viewer over an overlay
func NewViewer(o *models.Overlay) *Viewer {
	return &Viewer{overlay: o}
}

// NumSlices returns the number of slices along the plane's axis
func (v *Viewer) NumSlices(plane models.Plane) (int, error) {
	if !plane.Valid() {
		return 0, fmt.Errorf("%w: %v", models.ErrInvalidPlane, plane)
	}
	return v.overlay.Shape()[plane.Axis()], nil
}

// SliceSize returns the width and height of slices taken in the plane.
// Sagittal slices span (y, z), coronal slices (x, z) and axial slices (x, y).
func (v *Viewer) SliceSize(plane models.Plane) (int, int, error) {
	o := v.overlay
	switch plane {
	case models.Sagittal:
		return o.Height, o.Depth, nil
	case models.Coronal:
		return o.Width, o.Depth, nil
	case models.Axial:
		return o.Width, o.Height, nil
	default:
		return 0, 0, fmt.Errorf("%w: %v", models.ErrInvalidPlane, plane)
	}
}

// ExtractSlice extracts one colour slice from the overlay
func (v *Viewer) ExtractSlice(plane models.Plane, position int) (*image.RGBA, error) {
	n, err := v.NumSlices(plane)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= n {
		return nil, fmt.Errorf("position %d out of range [0, %d) for %v plane", position, n, plane)
	}

	w, h, _ := v.SliceSize(plane)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	o := v.overlay

	for row := 0; row < h; row++ {
		for col := 0; col < w; col++ {
			var src int
			switch plane {
			case models.Sagittal:
				src = o.Offset(position, col, row)
			case models.Coronal:
				src = o.Offset(col, position, row)
			case models.Axial:
				src = o.Offset(col, row, position)
			}

			dst := img.PixOffset(col, row)
			img.Pix[dst] = o.Data[src]
			img.Pix[dst+1] = o.Data[src+1]
			img.Pix[dst+2] = o.Data[src+2]
			img.Pix[dst+3] = 255
		}
	}

	return img, nil
}

// Slices returns the slices along the plane in ascending order. Nothing is
// extracted until the sequence is ranged over, and it can be ranged over more
// than once. An invalid plane yields an empty sequence; use NumSlices to
// validate the plane first.
func (v *Viewer) Slices(plane models.Plane) iter.Seq2[int, *image.RGBA] {
	return func(yield func(int, *image.RGBA) bool) {
		n, err := v.NumSlices(plane)
		if err != nil {
			return
		}
		for i := 0; i < n; i++ {
			img, err := v.ExtractSlice(plane, i)
			if err != nil {
				return
			}
			if !yield(i, img) {
				return
			}
		}
	}
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every slice along the plane
func (v *Viewer) SaveSliceSequence(plane models.Plane, outputDir string) error {
	if _, err := v.NumSlices(plane); err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos, img := range v.Slices(plane) {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", plane, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
