package volume

import "math"

// voxels hides the concrete scalar type of a volume.  Each method loops over
// its typed slice so there is no per-voxel dispatch.
type voxels interface {
	len() int
	at(i int) float64
	copyPlane(dst []float64, base, colStride, rowStride, cols, rows int, slope, inter float64)
	valueRange(slope, inter float64) (lo, hi float64, ok bool)
	sample(stride int, slope, inter float64) []float64
}

type grid[T Scalar] []T

func (g grid[T]) len() int { return len(g) }

func (g grid[T]) at(i int) float64 { return float64(g[i]) }

func (g grid[T]) copyPlane(dst []float64, base, colStride, rowStride, cols, rows int, slope, inter float64) {
	i := 0
	for r := 0; r < rows; r++ {
		pos := base + r*rowStride
		for c := 0; c < cols; c++ {
			dst[i] = float64(g[pos])*slope + inter
			pos += colStride
			i++
		}
	}
}

func (g grid[T]) valueRange(slope, inter float64) (lo, hi float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, raw := range g {
		v := float64(raw)*slope + inter
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		ok = true
	}
	return
}

func (g grid[T]) sample(stride int, slope, inter float64) []float64 {
	if stride < 1 {
		stride = 1
	}
	out := make([]float64, 0, len(g)/stride+1)
	for i := 0; i < len(g); i += stride {
		v := float64(g[i])*slope + inter
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
