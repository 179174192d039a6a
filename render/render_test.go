package render

import (
	"errors"
	"image"
	"math"
	"testing"

	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

func init() {
	volview.SetLogMode(volview.WarningMode)
}

// ramp returns a volume whose voxel values equal their linear index.
func ramp(t *testing.T, shape volview.Shape) *volume.Volume {
	values := make([]int16, shape.NumVoxels())
	for i := range values {
		values[i] = int16(i)
	}
	vol, err := volume.New(volume.Header{Shape: shape, Datatype: volume.Int16}, values)
	if err != nil {
		t.Fatalf("unable to create test volume: %v", err)
	}
	return vol
}

func TestExtractPlaneDimensions(t *testing.T) {
	shape := volview.Shape{3, 4, 5}
	vol := ramp(t, shape)
	want := map[volview.Axis][2]int{
		volview.XAxis: {4, 5},
		volview.YAxis: {3, 5},
		volview.ZAxis: {3, 4},
	}
	for axis, dims := range want {
		for index := 0; index < shape.Extent(axis); index++ {
			p, err := ExtractPlane(vol, axis, index)
			if err != nil {
				t.Fatalf("axis %s index %d: %v", axis, index, err)
			}
			if p.Cols != dims[0] || p.Rows != dims[1] || len(p.Values) != dims[0]*dims[1] {
				t.Errorf("axis %s index %d: got %d x %d, want %d x %d", axis, index, p.Cols, p.Rows, dims[0], dims[1])
			}
		}
	}
}

func TestExtractPlaneValues(t *testing.T) {
	vol := ramp(t, volview.Shape{3, 4, 5})
	p, err := ExtractPlane(vol, volview.YAxis, 2)
	if err != nil {
		t.Fatal(err)
	}
	// Column x, row z of the y=2 plane holds x + 3*(2 + 4*z).
	for z := 0; z < 5; z++ {
		for x := 0; x < 3; x++ {
			if got, want := p.At(x, z), float64(x+3*(2+4*z)); got != want {
				t.Errorf("(%d,%d): got %g, want %g", x, z, got, want)
			}
		}
	}
}

func TestExtractPlaneOutOfRange(t *testing.T) {
	shape := volview.Shape{4, 4, 2}
	vol := ramp(t, shape)
	for _, axis := range []volview.Axis{volview.XAxis, volview.YAxis, volview.ZAxis} {
		for _, index := range []int{-1, shape.Extent(axis)} {
			_, err := ExtractPlane(vol, axis, index)
			if !errors.Is(err, volview.ErrIndexOutOfRange) {
				t.Errorf("axis %s index %d: expected IndexOutOfRange, got %v", axis, index, err)
			}
		}
	}
}

func TestWindowScenario(t *testing.T) {
	vol := ramp(t, volview.Shape{4, 4, 2})
	img, err := Renderer{}.Render(vol, volview.ZAxis, 0, Some(16), Some(32), 0)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != image.Rect(0, 0, 4, 4) {
		t.Fatalf("bad image bounds %v", img.Bounds())
	}
	if got := img.GrayAt(0, 0).Y; got != 0 {
		t.Errorf("raw 0 mapped to %d, want 0", got)
	}
	w := Window{Center: 16, Width: 32}
	if got := w.Level(16); got != 128 {
		t.Errorf("raw 16 mapped to %d, want 128", got)
	}
	// (31/32)*255 rounds to 247; saturation starts at the window's upper edge.
	if got := w.Level(31); got != 247 {
		t.Errorf("raw 31 mapped to %d, want 247", got)
	}
	for _, v := range []float64{32, 33, 1000} {
		if got := w.Level(v); got != 255 {
			t.Errorf("raw %g mapped to %d, want 255", v, got)
		}
	}
	if got := img.GrayAt(3, 3).Y; got != w.Level(15) {
		t.Errorf("pixel (3,3) = %d, want %d", got, w.Level(15))
	}
}

func TestWindowMonotonic(t *testing.T) {
	for _, v := range []float64{-50, 0, 7.5, 16, 31, 100} {
		for _, ww := range []float64{1, 10, 32, 400} {
			prev := Window{Center: -200, Width: ww}.Level(v)
			for wc := -199.0; wc <= 200; wc += 0.5 {
				cur := Window{Center: wc, Width: ww}.Level(v)
				if cur > prev {
					t.Fatalf("v=%g ww=%g: intensity rose from %d to %d as wc rose to %g", v, ww, prev, cur, wc)
				}
				prev = cur
			}
		}
	}
}

func TestInvalidWindow(t *testing.T) {
	vol := ramp(t, volview.Shape{4, 4, 2})
	for _, ww := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := Renderer{}.Render(vol, volview.ZAxis, 0, Some(16), Some(ww), 0)
		if !errors.Is(err, volview.ErrInvalidWindow) {
			t.Errorf("ww=%g: expected InvalidWindow, got %v", ww, err)
		}
	}
}

func TestDefaultWindow(t *testing.T) {
	vol := ramp(t, volview.Shape{4, 4, 2})

	// Full-volume range: 0..31 on every slice.
	for index := 0; index < 2; index++ {
		img, err := Renderer{DefaultWindow: RangeWindow}.Render(vol, volview.ZAxis, index, Optional{}, Optional{}, 0)
		if err != nil {
			t.Fatal(err)
		}
		w := Window{Center: 15.5, Width: 31}
		for i, pix := range img.Pix {
			if want := w.Level(float64(16*index + i)); pix != want {
				t.Fatalf("slice %d pixel %d: got %d, want %d", index, i, pix, want)
			}
		}
	}

	// A center without a width is ignored.
	a, _ := Renderer{}.Render(vol, volview.ZAxis, 1, Some(3), Optional{}, 0)
	b, _ := Renderer{}.Render(vol, volview.ZAxis, 1, Optional{}, Optional{}, 0)
	if string(a.Pix) != string(b.Pix) {
		t.Errorf("center alone changed the default window")
	}

	// A width alone is checked and then replaced by the default window.
	w, ok, err := ResolveWindow(vol, Optional{}, Some(10), RangeWindow)
	if err != nil || !ok || w.Center != 15.5 || w.Width != 31 {
		t.Errorf("width only: got %v ok=%t err=%v", w, ok, err)
	}
	if _, _, err := ResolveWindow(vol, Optional{}, Some(-1), RangeWindow); !errors.Is(err, volview.ErrInvalidWindow) {
		t.Errorf("width only must still be positive, got %v", err)
	}
	c, _ := Renderer{}.Render(vol, volview.ZAxis, 1, Optional{}, Some(4), 0)
	if string(c.Pix) != string(b.Pix) {
		t.Errorf("width alone changed the default window")
	}

	// Percentiles are taken over the whole volume.
	w, ok, err = ResolveWindow(vol, Optional{}, Optional{}, PercentileWindow)
	if err != nil || !ok {
		t.Fatalf("percentile window: ok=%t err=%v", ok, err)
	}
	st := vol.Stats()
	if w.Center != st.P1+(st.P99-st.P1)/2 || w.Width != st.P99-st.P1 {
		t.Errorf("percentile window %v does not match stats %+v", w, st)
	}
}

func TestDegenerateRange(t *testing.T) {
	values := make([]uint8, 4*4*2)
	for i := range values {
		values[i] = 7
	}
	vol, err := volume.New(volume.Header{Shape: volview.Shape{4, 4, 2}, Datatype: volume.Uint8}, values)
	if err != nil {
		t.Fatal(err)
	}
	img, err := Renderer{}.Render(vol, volview.ZAxis, 1, Optional{}, Optional{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i, pix := range img.Pix {
		if pix != 0 {
			t.Fatalf("pixel %d = %d, expected all-black image", i, pix)
		}
	}
}

func TestNaNSamples(t *testing.T) {
	values := []float32{float32(math.NaN()), 0, 10, 20, 1, 2, 3, 4}
	vol, err := volume.New(volume.Header{Shape: volview.Shape{2, 2, 2}, Datatype: volume.Float32}, values)
	if err != nil {
		t.Fatal(err)
	}
	img, err := Renderer{}.Render(vol, volview.ZAxis, 0, Some(10), Some(20), 0)
	if err != nil {
		t.Fatal(err)
	}
	if img.Pix[0] != 0 {
		t.Errorf("NaN mapped to %d, want 0", img.Pix[0])
	}
	if img.Pix[3] != 255 {
		t.Errorf("20 mapped to %d, want 255", img.Pix[3])
	}
}

func TestFlipRows(t *testing.T) {
	vol := ramp(t, volview.Shape{2, 3, 1})
	w := Some(100)
	plain, _ := Renderer{}.Render(vol, volview.ZAxis, 0, Some(50), w, 0)
	flipped, _ := Renderer{FlipRows: true}.Render(vol, volview.ZAxis, 0, Some(50), w, 0)
	for r := 0; r < 3; r++ {
		for c := 0; c < 2; c++ {
			if plain.GrayAt(c, r) != flipped.GrayAt(c, 2-r) {
				t.Errorf("row %d col %d not mirrored", r, c)
			}
		}
	}
}

func TestDownsample(t *testing.T) {
	if w, h, ok := reducedSize(512, 256, 128); !ok || w != 128 || h != 64 {
		t.Errorf("reducedSize(512,256,128) = %d, %d, %t", w, h, ok)
	}
	if _, _, ok := reducedSize(100, 50, 100); ok {
		t.Errorf("no reduction expected when the image already fits")
	}
	if w, h, _ := reducedSize(1000, 1, 10); w != 10 || h != 1 {
		t.Errorf("thin images keep at least one row, got %d x %d", w, h)
	}

	src := image.NewGray(image.Rect(0, 0, 4, 2))
	copy(src.Pix, []uint8{0, 100, 200, 200, 100, 0, 50, 50})
	dst := boxReduce(src, 2, 1)
	if dst.Pix[0] != 50 || dst.Pix[1] != 125 {
		t.Errorf("box average got %v, want [50 125]", dst.Pix)
	}

	for _, mode := range []Resample{AreaResample, NearestResample, BilinearResample} {
		big := image.NewGray(image.Rect(0, 0, 300, 200))
		for i := range big.Pix {
			big.Pix[i] = 90
		}
		small := downsample(big, 150, mode)
		if small.Bounds() != image.Rect(0, 0, 150, 100) {
			t.Errorf("%s: bounds %v", mode, small.Bounds())
		}
		for i, pix := range small.Pix {
			if pix != 90 {
				t.Fatalf("%s: uniform image changed at %d to %d", mode, i, pix)
			}
		}
	}
	if _, err := ParseResample("cubic"); err == nil {
		t.Errorf("expected error for unknown resample mode")
	}
}
