// Package overlay builds the red/green composite of a static and a moving
// volume and derives the display value range from it.
package overlay

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"regoverlay/internal/models"
)

var (
	// ErrDimensionMismatch is returned when the static and moving volumes
	// do not share the same number of dimensions or voxel grid.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrDegenerateIntensity is returned when a volume cannot be rescaled
	// because its intensities are constant or not finite.
	ErrDegenerateIntensity = errors.New("degenerate intensity range")

	// ErrDegenerateRange is returned when the overlay statistics do not
	// produce a window of positive width.
	ErrDegenerateRange = errors.New("degenerate value range")
)

// Mode tags the visualisation an overlay is built for
type Mode int

const (
	// ModeMosaic builds an overlay for the tiled mosaic
	ModeMosaic Mode = iota
	// ModeAnimation builds an overlay for the slice-through animation
	ModeAnimation
)

func (m Mode) String() string {
	if m == ModeAnimation {
		return "anim"
	}
	return "mosaic"
}

// Normalizer rescales volumes and packs them into an overlay.
// The value range is placed at mean - StdLow*std and mean + StdHigh*std.
// Both modes share the same factors.
type Normalizer struct {
	StdLow  float64
	StdHigh float64
}

// NewNormalizer returns a normalizer with the given window factors
func NewNormalizer(stdLow, stdHigh float64) *Normalizer {
	return &Normalizer{StdLow: stdLow, StdHigh: stdHigh}
}

// DefaultNormalizer returns a normalizer using (mean - 0.5 std, mean + 1.5 std)
func DefaultNormalizer() *Normalizer {
	return NewNormalizer(0.5, 1.5)
}

// CheckDimensions verifies that both volumes have the same number of
// dimensions and the same voxel grid.
func CheckDimensions(static, moving *models.Volume) error {
	if static.NumDims() != moving.NumDims() {
		return fmt.Errorf("%w: the input images must have the same number of dimensions (static %v, moving %v)",
			ErrDimensionMismatch, static.Dims, moving.Dims)
	}
	if static.Shape() != moving.Shape() {
		return fmt.Errorf("%w: static shape %v does not match moving shape %v",
			ErrDimensionMismatch, static.Shape(), moving.Shape())
	}
	return nil
}

// Normalize linearly rescales data to [0,255] using its own minimum and
// maximum. The input is not modified.
func Normalize(data []float64) ([]float64, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty volume", ErrDegenerateIntensity)
	}
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: volume contains non-finite values", ErrDegenerateIntensity)
		}
	}

	lo, hi := floats.Min(data), floats.Max(data)
	if hi == lo {
		return nil, fmt.Errorf("%w: constant volume (min == max == %g)", ErrDegenerateIntensity, lo)
	}

	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = 255 * (v - lo) / (hi - lo)
	}
	return out, nil
}

// Build normalises both volumes and writes them into channels 0 and 1 of a new
// overlay. Channel 2 is left at zero.
func (n *Normalizer) Build(static, moving *models.Volume, mode Mode) (*models.Overlay, models.ValueRange, error) {
	if static.Shape() != moving.Shape() {
		return nil, models.ValueRange{}, fmt.Errorf("%w: static shape %v does not match moving shape %v",
			ErrDimensionMismatch, static.Shape(), moving.Shape())
	}

	s, err := Normalize(static.Data)
	if err != nil {
		return nil, models.ValueRange{}, fmt.Errorf("static image: %w", err)
	}
	m, err := Normalize(moving.Data)
	if err != nil {
		return nil, models.ValueRange{}, fmt.Errorf("moving image: %w", err)
	}

	o := models.NewOverlay(static.Width, static.Height, static.Depth)
	for i := range s {
		// Conversion to uint8 truncates, matching an 8-bit store
		o.Data[i*models.Channels] = uint8(s[i])
		o.Data[i*models.Channels+1] = uint8(m[i])
	}

	vr, err := n.ValueRange(o)
	if err != nil {
		return nil, models.ValueRange{}, fmt.Errorf("%s overlay: %w", mode, err)
	}
	return o, vr, nil
}

// ValueRange computes the display window from the mean and population
// standard deviation of the nonzero overlay entries.
func (n *Normalizer) ValueRange(o *models.Overlay) (models.ValueRange, error) {
	nonzero := make([]float64, 0, len(o.Data)/2)
	for _, v := range o.Data {
		if v > 0 {
			nonzero = append(nonzero, float64(v))
		}
	}
	if len(nonzero) == 0 {
		return models.ValueRange{}, fmt.Errorf("%w: overlay has no nonzero voxels", ErrDegenerateRange)
	}

	mean, std := stat.PopMeanStdDev(nonzero, nil)
	vr := models.ValueRange{
		Low:  mean - n.StdLow*std,
		High: mean + n.StdHigh*std,
	}
	if !vr.Valid() {
		return models.ValueRange{}, fmt.Errorf("%w: (%g, %g)", ErrDegenerateRange, vr.Low, vr.High)
	}
	return vr, nil
}

// Window maps v linearly from [vr.Low, vr.High] onto [0,255], clamping
// values outside the range.
func Window(v float64, vr models.ValueRange) uint8 {
	if v <= vr.Low {
		return 0
	}
	if v >= vr.High {
		return 255
	}
	return uint8((v - vr.Low) / vr.Width() * 255)
}

// ApplyWindow returns a copy of o with the red and green channels passed
// through Window. The blue channel stays zero.
func ApplyWindow(o *models.Overlay, vr models.ValueRange) *models.Overlay {
	out := o.Clone()
	for i := 0; i < len(out.Data); i += models.Channels {
		out.Data[i] = Window(float64(out.Data[i]), vr)
		out.Data[i+1] = Window(float64(out.Data[i+1]), vr)
	}
	return out
}
