package animation

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
)

// ErrNoFrames is returned when an animation has nothing to encode
var ErrNoFrames = errors.New("no frames to encode")

// Encoder writes an ordered frame sequence as an animation
type Encoder interface {
	Encode(w io.Writer, frames []image.Image, fps int) error
}

// GIFEncoder encodes frames as an animated GIF that loops forever
type GIFEncoder struct{}

// Encode converts every frame to a paletted image and writes the animation.
// Frames with at most 256 distinct colours are stored losslessly. A frame
// with a few more keeps its 256 most frequent colours and maps the rest to
// the nearest of them; anything richer is dithered onto the Plan 9 palette.
func (GIFEncoder) Encode(w io.Writer, frames []image.Image, fps int) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	if fps <= 0 {
		return fmt.Errorf("invalid frame rate %d", fps)
	}

	delay := int(math.Round(100 / float64(fps)))
	anim := &gif.GIF{LoopCount: 0}
	for _, frame := range frames {
		anim.Image = append(anim.Image, toPaletted(frame))
		anim.Delay = append(anim.Delay, delay)
	}

	return gif.EncodeAll(w, anim)
}

// maxStrayFraction is the share of pixels that may fall outside the 256
// most frequent colours before a frame is dithered instead
const maxStrayFraction = 0.01

func toPaletted(img image.Image) *image.Paletted {
	b := img.Bounds()

	// Distinct colours in first-seen order with their pixel counts
	counts := make(map[color.RGBA]int)
	var seen []color.RGBA
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			if counts[c] == 0 {
				seen = append(seen, c)
			}
			counts[c]++
		}
	}

	if len(seen) > 256 {
		slices.SortStableFunc(seen, func(c1, c2 color.RGBA) int {
			return counts[c2] - counts[c1]
		})
		stray := 0
		for _, c := range seen[256:] {
			stray += counts[c]
		}
		if float64(stray) > maxStrayFraction*float64(b.Dx()*b.Dy()) {
			p := image.NewPaletted(b, palette.Plan9)
			draw.FloydSteinberg.Draw(p, b, img, b.Min)
			return p
		}
		seen = seen[:256]
	}

	pal := make(color.Palette, len(seen))
	index := make(map[color.RGBA]uint8, len(seen))
	for i, c := range seen {
		pal[i] = c
		index[c] = uint8(i)
	}

	p := image.NewPaletted(b, pal)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			idx, ok := index[c]
			if !ok {
				// rare colour, use the closest palette entry
				idx = uint8(pal.Index(c))
			}
			p.SetColorIndex(x, y, idx)
		}
	}
	return p
}

// writeAnimation encodes frames into the file at path
func writeAnimation(enc Encoder, frames []image.Image, fps int, path string) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %v", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create animation file: %v", err)
	}

	if err := enc.Encode(file, frames, fps); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode animation: %w", err)
	}
	return file.Close()
}
