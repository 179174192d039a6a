package render

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Resample names the reduction used for preview-quality slices.
type Resample string

const (
	AreaResample     Resample = "area"
	NearestResample  Resample = "nearest"
	BilinearResample Resample = "bilinear"
)

// ParseResample accepts "area", "nearest", "bilinear" or "" for area.
func ParseResample(s string) (Resample, error) {
	switch Resample(s) {
	case "", AreaResample:
		return AreaResample, nil
	case NearestResample, BilinearResample:
		return Resample(s), nil
	}
	return "", fmt.Errorf("unknown resample mode %q", s)
}

// reducedSize returns the size of a cols x rows image whose larger side is
// brought down to maxDim, keeping the aspect ratio.  ok is false if no
// reduction is needed.
func reducedSize(cols, rows, maxDim int) (w, h int, ok bool) {
	m := max(cols, rows)
	if maxDim <= 0 || m <= maxDim {
		return cols, rows, false
	}
	s := float64(maxDim) / float64(m)
	w = max(1, int(math.Round(float64(cols)*s)))
	h = max(1, int(math.Round(float64(rows)*s)))
	return w, h, true
}

// downsample reduces img so its larger side does not exceed maxDim.
func downsample(img *image.Gray, maxDim int, mode Resample) *image.Gray {
	b := img.Bounds()
	w, h, ok := reducedSize(b.Dx(), b.Dy(), maxDim)
	if !ok {
		return img
	}
	switch mode {
	case NearestResample:
		dst := image.NewGray(image.Rect(0, 0, w, h))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst
	case BilinearResample:
		dst := image.NewGray(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst
	default:
		return boxReduce(img, w, h)
	}
}

// boxReduce is an area-averaging resize.  Each source pixel is spread over an
// implied (dstW*srcW) x (dstH*srcH) intermediate image, which is then
// minified back with a box filter, so every source pixel contributes to the
// destination pixels it overlaps in proportion to the overlap.
func boxReduce(src *image.Gray, dstW, dstH int) *image.Gray {
	srcRect := src.Bounds()
	srcW := srcRect.Dx()
	srcH := srcRect.Dy()

	ww, hh := uint64(dstW), uint64(dstH)
	dx, dy := uint64(srcW), uint64(srcH)

	n, sum := dx*dy, make([]uint64, dstW*dstH)
	for y := 0; y < srcH; y++ {
		pixOffset := src.PixOffset(srcRect.Min.X, srcRect.Min.Y+y)
		for x := 0; x < srcW; x++ {
			val64 := uint64(src.Pix[pixOffset])
			pixOffset++

			// Spread over 1 or more destination rows, then columns.
			py := uint64(y) * hh
			for remy := hh; remy > 0; {
				qy := min(dy-(py%dy), remy)
				px := uint64(x) * ww
				index := (py/dy)*ww + (px / dx)
				for remx := ww; remx > 0; {
					qx := min(dx-(px%dx), remx)
					sum[index] += val64 * qx * qy
					index++
					px += qx
					remx -= qx
				}
				py += qy
				remy -= qy
			}
		}
	}
	dst := image.NewGray(image.Rect(0, 0, dstW, dstH))
	for i, s := range sum {
		dst.Pix[i] = uint8((s + n/2) / n)
	}
	return dst
}

// flipRows reverses the row order of img in place.
func flipRows(img *image.Gray) {
	b := img.Bounds()
	w := b.Dx()
	tmp := make([]uint8, w)
	for top, bottom := 0, b.Dy()-1; top < bottom; top, bottom = top+1, bottom-1 {
		t := img.Pix[top*img.Stride : top*img.Stride+w]
		u := img.Pix[bottom*img.Stride : bottom*img.Stride+w]
		copy(tmp, t)
		copy(t, u)
		copy(u, tmp)
	}
}
