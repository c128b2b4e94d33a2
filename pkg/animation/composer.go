// Package animation turns the slices of an overlay into an animated GIF.
//
// Two variants exist. Direct frames are the windowed overlay slices as
// stored, without orientation or aspect correction. Rendered frames pass each
// slice through a Renderer, which applies the voxel spacing and anatomical
// orientation, and then reduce the colour depth so the result fits a GIF
// palette.
package animation

import (
	"fmt"
	"image"

	"gonum.org/v1/gonum/mat"

	"regoverlay/internal/models"
	"regoverlay/pkg/config"
	"regoverlay/pkg/overlay"
	"regoverlay/pkg/render"
	"regoverlay/pkg/visualization"
)

// Composer builds animation frames and hands them to an Encoder
type Composer struct {
	// Zoom is applied after each camera reset
	Zoom float64

	// FrameWidth and FrameHeight are the size of rendered frames
	FrameWidth, FrameHeight int

	// Levels is the number of levels per channel after colour reduction
	Levels int

	// FPS is the animation frame rate
	FPS int

	Normalizer  *overlay.Normalizer
	NewRenderer func() render.Renderer
	Encoder     Encoder

	// Verbose prints per-frame progress
	Verbose bool
}

// NewComposer creates an animation composer from the visualisation configuration
func NewComposer(cfg *config.Config) *Composer {
	v := cfg.Visualization
	return &Composer{
		Zoom:        v.Zoom,
		FrameWidth:  v.FrameWidth,
		FrameHeight: v.FrameHeight,
		Levels:      v.PaletteLevels,
		FPS:         v.FPS,
		Normalizer:  overlay.NewNormalizer(v.StdLow, v.StdHigh),
		NewRenderer: func() render.Renderer {
			return render.NewScene(v.Background)
		},
		Encoder: GIFEncoder{},
		Verbose: cfg.Output.Verbose,
	}
}

// DirectFrames windows the overlay with its value range and returns the
// slices along plane unchanged
func (c *Composer) DirectFrames(static, moving *models.Volume, plane models.Plane) ([]image.Image, error) {
	o, vr, err := c.Normalizer.Build(static, moving, overlay.ModeAnimation)
	if err != nil {
		return nil, err
	}

	viewer := visualization.NewViewer(overlay.ApplyWindow(o, vr))
	n, err := viewer.NumSlices(plane)
	if err != nil {
		return nil, err
	}

	frames := make([]image.Image, 0, n)
	for _, slice := range viewer.Slices(plane) {
		frames = append(frames, slice)
	}
	return frames, nil
}

// RenderedFrames renders every slice along plane and reduces its colour depth
func (c *Composer) RenderedFrames(static, moving *models.Volume, plane models.Plane, affine *mat.Dense) ([]image.Image, error) {
	o, vr, err := c.Normalizer.Build(static, moving, overlay.ModeAnimation)
	if err != nil {
		return nil, err
	}

	viewer := visualization.NewViewer(o)
	n, err := viewer.NumSlices(plane)
	if err != nil {
		return nil, err
	}

	renderer := c.NewRenderer()
	frames := make([]image.Image, 0, n)

	for i, slice := range viewer.Slices(plane) {
		actor, err := render.NewSlicerActor(slice, vr, affine, plane)
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", i, err)
		}

		renderer.Clear()
		renderer.Add(actor)
		renderer.ResetCamera()
		renderer.Zoom(c.Zoom)

		snap, err := renderer.Capture(c.FrameWidth, c.FrameHeight)
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", i, err)
		}
		frames = append(frames, ReduceColorDepth(snap, c.Levels))

		if c.Verbose {
			fmt.Printf("\rRendering %v slices: %d/%d", plane, i+1, n)
		}
	}
	if c.Verbose && n > 0 {
		fmt.Println()
	}

	return frames, nil
}

// Direct writes the unrendered slice animation to path
func (c *Composer) Direct(static, moving *models.Volume, plane models.Plane, path string) error {
	frames, err := c.DirectFrames(static, moving, plane)
	if err != nil {
		return err
	}
	return writeAnimation(c.Encoder, frames, c.FPS, path)
}

// Rendered writes the rendered slice animation to path
func (c *Composer) Rendered(static, moving *models.Volume, plane models.Plane, affine *mat.Dense, path string) error {
	frames, err := c.RenderedFrames(static, moving, plane, affine)
	if err != nil {
		return err
	}
	return writeAnimation(c.Encoder, frames, c.FPS, path)
}
