package animation

import (
	"image"
	"image/draw"
	"math"
)

// ReduceColorDepth quantises the red and green channels of img so that the
// frame fits an 8-bit palette. Each channel is stretched from its own range
// onto [0, levels-1], rounded, and stretched back onto [0, 255]. A channel
// holding a single value is left unchanged. The blue and alpha channels are
// copied as-is. img is not modified.
func ReduceColorDepth(img *image.RGBA, levels int) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, img, b.Min, draw.Src)
	if levels < 2 {
		return out
	}

	for c := 0; c < 2; c++ {
		lo, hi := channelRange(out, c)
		if hi == lo {
			continue
		}
		top := float64(levels - 1)
		forEachChannel(out, c, func(v uint8) uint8 {
			return uint8(math.Round(interp(float64(v), float64(lo), float64(hi), 0, top)))
		})

		lo, hi = channelRange(out, c)
		if hi == lo {
			continue
		}
		forEachChannel(out, c, func(v uint8) uint8 {
			return uint8(interp(float64(v), float64(lo), float64(hi), 0, 255))
		})
	}

	return out
}

// interp maps v from [x0, x1] onto [y0, y1]
func interp(v, x0, x1, y0, y1 float64) float64 {
	return y0 + (v-x0)*(y1-y0)/(x1-x0)
}

func channelRange(img *image.RGBA, c int) (lo, hi uint8) {
	lo, hi = 255, 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := img.Pix[img.PixOffset(x, y)+c]
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi
}

func forEachChannel(img *image.RGBA, c int, f func(uint8) uint8) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y) + c
			img.Pix[i] = f(img.Pix[i])
		}
	}
}
