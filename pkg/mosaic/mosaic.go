// Package mosaic tiles every axial slice of an overlay into a single image.
package mosaic

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"regoverlay/internal/models"
	"regoverlay/pkg/config"
	"regoverlay/pkg/overlay"
	"regoverlay/pkg/render"
	"regoverlay/pkg/visualization"
)

var (
	// ErrPlaneNotImplemented is returned for mosaics of planes other than axial
	ErrPlaneNotImplemented = errors.New("mosaic plane not implemented")

	// ErrNoSlices is returned when there is nothing to tile
	ErrNoSlices = errors.New("no slices to tile")
)

// RowsCols chooses the mosaic grid for n slices. n is padded up to the next
// multiple of 5 and the first divisor of the padded count, starting at 5, gives
// the number of rows. The padded count itself is a candidate, so a layout
// always exists and Rows*Cols >= n.
func RowsCols(n int) (models.Layout, error) {
	if n <= 0 {
		return models.Layout{}, fmt.Errorf("%w: slice count %d", ErrNoSlices, n)
	}

	padded := n
	for padded%5 != 0 {
		padded++
	}

	for i := 5; i <= padded; i++ {
		if padded%i == 0 {
			return models.Layout{Rows: i, Cols: padded / i}, nil
		}
	}

	// unreachable: padded is a positive multiple of 5
	return models.Layout{}, fmt.Errorf("%w: no layout for %d slices", ErrNoSlices, n)
}

// Composer renders the mosaic of an overlay
type Composer struct {
	// Border is the gap between tiles in world units
	Border float64

	// Zoom is applied after each camera reset
	Zoom float64

	// Width and Height are the size of the captured raster
	Width, Height int

	// Normalizer builds the overlay and its value range
	Normalizer *overlay.Normalizer

	// NewRenderer creates the scene the tiles are placed in
	NewRenderer func() render.Renderer

	// Verbose prints per-tile progress
	Verbose bool
}

// NewComposer creates a mosaic composer from the visualisation configuration
func NewComposer(cfg *config.Config) *Composer {
	v := cfg.Visualization
	return &Composer{
		Border:     v.Border,
		Zoom:       v.Zoom,
		Width:      v.CanvasWidth,
		Height:     v.CanvasHeight,
		Normalizer: overlay.NewNormalizer(v.StdLow, v.StdHigh),
		NewRenderer: func() render.Renderer {
			return render.NewScene(v.Background)
		},
		Verbose: cfg.Output.Verbose,
	}
}

// Render builds the overlay and captures the tiled scene. Only the axial plane
// is supported.
func (c *Composer) Render(static, moving *models.Volume, affine *mat.Dense, plane models.Plane) (*image.RGBA, error) {
	if plane != models.Axial {
		return nil, fmt.Errorf("%w: %v (only axial mosaics are supported)", ErrPlaneNotImplemented, plane)
	}

	o, vr, err := c.Normalizer.Build(static, moving, overlay.ModeMosaic)
	if err != nil {
		return nil, err
	}

	viewer := visualization.NewViewer(o)
	numSlices, err := viewer.NumSlices(plane)
	if err != nil {
		return nil, err
	}
	layout, err := RowsCols(numSlices)
	if err != nil {
		return nil, err
	}
	if c.Verbose {
		fmt.Printf("Tiling %d %v slices into %d rows x %d columns\n", numSlices, plane, layout.Rows, layout.Cols)
	}

	renderer := c.NewRenderer()

	// Tiles are placed in row-major order until the slices run out; any
	// remaining cells stay empty.
	cnt := 0
	for j := 0; j < layout.Rows && cnt < numSlices; j++ {
		for i := 0; i < layout.Cols && cnt < numSlices; i++ {
			slice, err := viewer.ExtractSlice(plane, cnt)
			if err != nil {
				return nil, err
			}
			tile, err := render.NewSlicerActor(slice, vr, affine, plane)
			if err != nil {
				return nil, fmt.Errorf("slice %d: %w", cnt, err)
			}

			w, h := tile.Size()
			tile.SetPosition((w+c.Border)*float64(i), (h+c.Border)*float64(j))
			tile.Interpolate = false

			renderer.Add(tile)
			renderer.ResetCamera()
			renderer.Zoom(c.Zoom)
			cnt++
		}
	}

	renderer.ResetCamera()
	renderer.Zoom(c.Zoom)

	return renderer.Capture(c.Width, c.Height)
}

// Compose renders the mosaic and writes it to path as a PNG image
func (c *Composer) Compose(static, moving *models.Volume, affine *mat.Dense, path string, plane models.Plane) error {
	img, err := c.Render(static, moving, affine, plane)
	if err != nil {
		return err
	}
	return savePNG(img, path)
}

func savePNG(img image.Image, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %v", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create mosaic file: %v", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("failed to encode mosaic: %v", err)
	}
	return nil
}
