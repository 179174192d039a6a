package client

import "math"

// Transform places a plane of Width x Height pixels in a viewport.  A plane
// point p is drawn at Scale*p + (TX, TY).
type Transform struct {
	Scale  float64
	TX, TY float64
}

// Bounds limit a Transform.
type Bounds struct {
	MinScale, MaxScale float64

	// Margin is how many viewport pixels of the image must stay inside the
	// frame, or less if the image is drawn smaller than that.
	Margin float64
}

// Size is a width and height in pixels.
type Size struct {
	W, H float64
}

func (s Size) empty() bool {
	return s.W <= 0 || s.H <= 0
}

func clampf(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Fit scales an image to fit inside the viewport, centered.
func Fit(img, view Size, b Bounds) Transform {
	if img.empty() || view.empty() {
		return Transform{Scale: 1}
	}
	s := clampf(math.Min(view.W/img.W, view.H/img.H), b.MinScale, b.MaxScale)
	return Transform{
		Scale: s,
		TX:    (view.W - s*img.W) / 2,
		TY:    (view.H - s*img.H) / 2,
	}
}

// clampAxis keeps part of an image extent of length drawn, starting at t,
// inside a frame of length frame.
func clampAxis(t, drawn, frame, margin float64) float64 {
	m := math.Min(margin, math.Min(drawn, frame))
	return clampf(t, m-drawn, frame-m)
}

// Clamp bounds the scale and keeps the image from leaving the viewport.
func (t Transform) Clamp(img, view Size, b Bounds) Transform {
	t.Scale = clampf(t.Scale, b.MinScale, b.MaxScale)
	if img.empty() || view.empty() {
		return t
	}
	t.TX = clampAxis(t.TX, t.Scale*img.W, view.W, b.Margin)
	t.TY = clampAxis(t.TY, t.Scale*img.H, view.H, b.Margin)
	return t
}

// Pan moves the image by (dx, dy) viewport pixels.
func (t Transform) Pan(dx, dy float64, img, view Size, b Bounds) Transform {
	t.TX += dx
	t.TY += dy
	return t.Clamp(img, view, b)
}

// Zoom multiplies the scale by factor, keeping the plane point under the
// focus (fx, fy) at the same place in the viewport.
func (t Transform) Zoom(factor, fx, fy float64, img, view Size, b Bounds) Transform {
	if factor <= 0 || math.IsNaN(factor) || t.Scale <= 0 {
		return t
	}
	s := clampf(t.Scale*factor, b.MinScale, b.MaxScale)
	r := s / t.Scale
	t = Transform{
		Scale: s,
		TX:    fx - (fx-t.TX)*r,
		TY:    fy - (fy-t.TY)*r,
	}
	return t.Clamp(img, view, b)
}
