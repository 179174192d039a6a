package render

import (
	"fmt"
	"image"
	"math"
	"strconv"

	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

// Optional is a request parameter that may be absent.  It is comparable so
// requests holding it can be used as cache keys.
type Optional struct {
	Value float64
	Set   bool
}

// Some returns a present Optional.
func Some(v float64) Optional {
	return Optional{Value: v, Set: true}
}

// ParseOptional parses s as a float.  The empty string gives an absent value.
func ParseOptional(name, s string) (Optional, error) {
	if s == "" {
		return Optional{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Optional{}, volview.NewError(volview.BadRequest, "bad %s value %q", name, s)
	}
	return Some(v), nil
}

func (o Optional) String() string {
	if !o.Set {
		return "-"
	}
	return strconv.FormatFloat(o.Value, 'g', -1, 64)
}

// Window is a linear contrast mapping of sample values onto 0-255.
type Window struct {
	Center, Width float64
}

// Validate fails with InvalidWindow unless the width is positive and both
// parameters are finite.
func (w Window) Validate() error {
	if math.IsNaN(w.Width) || w.Width <= 0 || math.IsInf(w.Width, 0) {
		return volview.NewError(volview.InvalidWindow, "window width must be positive, got %g", w.Width)
	}
	if math.IsNaN(w.Center) || math.IsInf(w.Center, 0) {
		return volview.NewError(volview.InvalidWindow, "window center must be finite, got %g", w.Center)
	}
	return nil
}

// Level maps a sample to an 8-bit intensity, rounding half up.  NaN maps to 0.
func (w Window) Level(v float64) uint8 {
	t := (v - (w.Center - w.Width/2)) / w.Width * 255
	switch {
	case math.IsNaN(t), t <= 0:
		return 0
	case t >= 255:
		return 255
	}
	return uint8(math.Floor(t + 0.5))
}

func (w Window) String() string {
	return fmt.Sprintf("wc=%g ww=%g", w.Center, w.Width)
}

// ApplyWindow converts a plane to a grayscale image of the same size.
func ApplyWindow(p Plane, w Window) (*image.Gray, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	img := image.NewGray(image.Rect(0, 0, p.Cols, p.Rows))
	for r := 0; r < p.Rows; r++ {
		row := p.Values[r*p.Cols : (r+1)*p.Cols]
		pix := img.Pix[r*img.Stride : r*img.Stride+p.Cols]
		for c, v := range row {
			pix[c] = w.Level(v)
		}
	}
	return img, nil
}

// WindowMode selects how a window is derived when the request omits one.
type WindowMode string

const (
	// RangeWindow spans the full value range of the volume.
	RangeWindow WindowMode = "range"

	// PercentileWindow spans the 1st to 99th percentile of the volume,
	// falling back to the full range when those coincide.
	PercentileWindow WindowMode = "percentile"
)

// ParseWindowMode accepts "range", "percentile" or "" for the default.
func ParseWindowMode(s string) (WindowMode, error) {
	switch WindowMode(s) {
	case "", RangeWindow:
		return RangeWindow, nil
	case PercentileWindow:
		return PercentileWindow, nil
	}
	return "", fmt.Errorf("unknown default window %q, expected %q or %q", s, RangeWindow, PercentileWindow)
}

// bounds returns the default [lo, hi] for a volume.  ok is false if the
// volume has no finite values.
func (m WindowMode) bounds(st volume.Stats) (lo, hi float64, ok bool) {
	if st.Empty {
		return 0, 0, false
	}
	if m == PercentileWindow && st.P99 > st.P1 {
		return st.P1, st.P99, true
	}
	return st.Min, st.Max, true
}

// ResolveWindow completes a window request using the whole volume's
// statistics, so every slice of a volume gets the same default.  A window is
// used only when both center and width are given; a partial window is
// discarded after its width is checked and both parameters are derived.  ok
// is false if the default range is degenerate, in which case the image is all
// black.
func ResolveWindow(vol *volume.Volume, center, width Optional, mode WindowMode) (w Window, ok bool, err error) {
	if width.Set {
		w = Window{Center: center.Value, Width: width.Value}
		if !center.Set {
			w.Center = 0
		}
		if err := w.Validate(); err != nil {
			return Window{}, false, err
		}
		if center.Set {
			return w, true, nil
		}
	}
	lo, hi, found := mode.bounds(vol.Stats())
	if !found || !(hi > lo) {
		return Window{}, false, nil
	}
	return Window{Center: lo + (hi-lo)/2, Width: hi - lo}, true, nil
}
