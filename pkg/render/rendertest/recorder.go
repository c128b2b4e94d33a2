// Package rendertest provides a Renderer that records calls instead of drawing.
package rendertest

import (
	"image"
	"image/color"
	"image/draw"

	"regoverlay/pkg/render"
)

// Recorder implements render.Renderer and keeps every actor and call
type Recorder struct {
	Actors       []*render.Actor
	Added        int
	Clears       int
	Resets       int
	Zooms        []float64
	CaptureSizes []image.Point

	// Fill is the colour of captured rasters
	Fill color.RGBA
}

// New returns an empty Recorder
func New() *Recorder {
	return &Recorder{Fill: color.RGBA{A: 255}}
}

func (r *Recorder) Add(a *render.Actor) {
	r.Actors = append(r.Actors, a)
	r.Added++
}

func (r *Recorder) Clear() {
	r.Actors = r.Actors[:0]
	r.Clears++
}

func (r *Recorder) ResetCamera() {
	r.Resets++
}

func (r *Recorder) Zoom(factor float64) {
	r.Zooms = append(r.Zooms, factor)
}

// Capture returns a uniformly filled raster of the requested size
func (r *Recorder) Capture(width, height int) (*image.RGBA, error) {
	r.CaptureSizes = append(r.CaptureSizes, image.Pt(width, height))
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: r.Fill}, image.Point{}, draw.Src)
	return img, nil
}
