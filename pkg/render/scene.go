// Package render provides a small parallel-projection scene used to place
// overlay slices and capture them as a raster.
//
// World coordinates follow raster conventions: x grows to the right and y
// grows downwards. The camera always looks at the scene head-on.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/nfnt/resize"
	xdraw "golang.org/x/image/draw"
)

// Renderer is the capability set the composers need from a rendering backend
type Renderer interface {
	// Add places an actor in the scene
	Add(a *Actor)

	// Clear removes every actor from the scene
	Clear()

	// ResetCamera fits the camera to the bounds of all actors and resets zoom
	ResetCamera()

	// Zoom scales the current view by factor; values above 1 enlarge
	Zoom(factor float64)

	// Capture rasterises the scene into a width x height image
	Capture(width, height int) (*image.RGBA, error)
}

// Actor is a 2D image placed in world space
type Actor struct {
	// Image holds the pixels to draw
	Image image.Image

	// X and Y are the world coordinates of the image's top-left corner
	X, Y float64

	// SpacingX and SpacingY are the world size of one pixel
	SpacingX, SpacingY float64

	// Interpolate selects bilinear resampling; nearest neighbour otherwise
	Interpolate bool
}

// Size returns the world extent of the actor.
func (a *Actor) Size() (w, h float64) {
	b := a.Image.Bounds()
	return float64(b.Dx()) * a.spacingX(), float64(b.Dy()) * a.spacingY()
}

// SetPosition moves the actor's top-left corner to (x, y).
func (a *Actor) SetPosition(x, y float64) {
	a.X, a.Y = x, y
}

func (a *Actor) spacingX() float64 {
	if a.SpacingX <= 0 {
		return 1
	}
	return a.SpacingX
}

func (a *Actor) spacingY() float64 {
	if a.SpacingY <= 0 {
		return 1
	}
	return a.SpacingY
}

type camera struct {
	centerX, centerY float64
	viewW, viewH     float64
	zoom             float64
}

// Scene is a software Renderer
type Scene struct {
	background color.RGBA
	actors     []*Actor
	camera     camera
}

// NewScene creates an empty scene with the given background colour, given as
// RGB components in [0,1].
func NewScene(background [3]float64) *Scene {
	s := &Scene{background: toRGBA(background)}
	s.ResetCamera()
	return s
}

func toRGBA(c [3]float64) color.RGBA {
	conv := func(v float64) uint8 {
		return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	return color.RGBA{R: conv(c[0]), G: conv(c[1]), B: conv(c[2]), A: 255}
}

// Add places an actor in the scene. Later actors are drawn on top.
func (s *Scene) Add(a *Actor) {
	s.actors = append(s.actors, a)
}

// Clear removes every actor from the scene
func (s *Scene) Clear() {
	s.actors = s.actors[:0]
}

// NumActors returns the number of actors in the scene.
func (s *Scene) NumActors() int {
	return len(s.actors)
}

// ResetCamera centres the view on the union of all actor bounds
func (s *Scene) ResetCamera() {
	if len(s.actors) == 0 {
		s.camera = camera{viewW: 1, viewH: 1, zoom: 1}
		return
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, a := range s.actors {
		w, h := a.Size()
		minX = math.Min(minX, a.X)
		minY = math.Min(minY, a.Y)
		maxX = math.Max(maxX, a.X+w)
		maxY = math.Max(maxY, a.Y+h)
	}

	s.camera = camera{
		centerX: (minX + maxX) / 2,
		centerY: (minY + maxY) / 2,
		viewW:   math.Max(maxX-minX, 1e-9),
		viewH:   math.Max(maxY-minY, 1e-9),
		zoom:    1,
	}
}

// Zoom scales the current view by factor
func (s *Scene) Zoom(factor float64) {
	if factor > 0 {
		s.camera.zoom *= factor
	}
}

// Capture rasterises the scene. The view is fitted into the raster keeping the
// aspect ratio, then enlarged by the camera zoom.
func (s *Scene) Capture(width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid capture size %dx%d", width, height)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: s.background}, image.Point{}, draw.Src)

	cam := s.camera
	scale := math.Min(float64(width)/cam.viewW, float64(height)/cam.viewH) * cam.zoom
	toPixel := func(wx, wy float64) (int, int) {
		px := (wx-cam.centerX)*scale + float64(width)/2
		py := (wy-cam.centerY)*scale + float64(height)/2
		return int(math.Round(px)), int(math.Round(py))
	}

	for _, a := range s.actors {
		w, h := a.Size()
		x0, y0 := toPixel(a.X, a.Y)
		x1, y1 := toPixel(a.X+w, a.Y+h)
		dr := image.Rect(x0, y0, x1, y1)
		if dr.Empty() || !dr.Overlaps(canvas.Bounds()) {
			continue
		}

		if a.Interpolate {
			scaled := resize.Resize(uint(dr.Dx()), uint(dr.Dy()), a.Image, resize.Bilinear)
			draw.Draw(canvas, dr, scaled, scaled.Bounds().Min, draw.Over)
		} else {
			xdraw.NearestNeighbor.Scale(canvas, dr, a.Image, a.Image.Bounds(), draw.Over, nil)
		}
	}

	return canvas, nil
}
