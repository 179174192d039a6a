package volume

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/janelia-flyem/volview/volview"

	"gonum.org/v1/gonum/stat"
)

// maxStatSamples bounds the number of voxels sorted for percentile statistics.
const maxStatSamples = 1 << 18

// Header is the decoded description of a volume.
type Header struct {
	ByteOrder binary.ByteOrder
	Shape     volview.Shape
	Datatype  Datatype

	// Slope and Intercept give visual = raw*Slope + Intercept.  A zero or
	// non-finite Slope means no scaling.
	Slope     float64
	Intercept float64

	// VoxOffset is the byte offset of the voxel payload in the uncompressed stream.
	VoxOffset int64

	// Spacing is the voxel size along x, y, z in file units.
	Spacing [3]float64
}

// Scaling returns the slope and intercept actually applied to raw values.
func (h Header) Scaling() (slope, inter float64) {
	slope, inter = h.Slope, h.Intercept
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		slope = 1
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	return
}

// ByteOrderName returns "little" or "big".
func (h Header) ByteOrderName() string {
	if h.ByteOrder == binary.BigEndian {
		return "big"
	}
	return "little"
}

// Identity names a particular version of a volume source.  Two identities are
// equal only if the source name and its modification signature match.
type Identity struct {
	Name    string
	Size    int64
	ModTime int64 // unix nanoseconds
}

// NewIdentity returns an Identity for a source with the given size and modification time.
func NewIdentity(name string, size int64, modTime time.Time) Identity {
	return Identity{Name: name, Size: size, ModTime: modTime.UnixNano()}
}

func (id Identity) String() string {
	return fmt.Sprintf("%s@%d:%d", id.Name, id.Size, id.ModTime)
}

// CacheKey allows an Identity to key a decoded-volume cache.
func (id Identity) CacheKey() string {
	return id.String()
}

// Stats summarizes the scaled values of a volume.
type Stats struct {
	Min, Max float64

	// P1 and P99 are the 1st and 99th percentiles of a deterministic strided
	// sample of the volume.
	P1, P99 float64

	// Empty is true if the volume has no finite values.
	Empty bool
}

// Volume is an immutable voxel grid with x varying fastest, then y, then z.
// Raw values are kept in their stored datatype and scaled to float64 when a
// plane is copied out.
type Volume struct {
	header Header
	data   voxels

	statsOnce sync.Once
	stats     Stats
}

// New returns a volume backed by values, which must hold exactly nx*ny*nz
// elements of the header's datatype.  The slice is owned by the volume afterwards.
func New[T Scalar](h Header, values []T) (*Volume, error) {
	if !h.Shape.Valid() {
		return nil, volview.NewError(volview.CorruptHeader, "non-positive volume shape %s", h.Shape)
	}
	if dt := DatatypeOf[T](); dt != h.Datatype {
		return nil, fmt.Errorf("volume values are %s but header declares %s", dt, h.Datatype)
	}
	if len(values) != h.Shape.NumVoxels() {
		return nil, fmt.Errorf("volume of shape %s needs %d values, got %d", h.Shape, h.Shape.NumVoxels(), len(values))
	}
	if h.ByteOrder == nil {
		h.ByteOrder = binary.LittleEndian
	}
	return &Volume{header: h, data: grid[T](values)}, nil
}

// Header returns the volume's header.
func (v *Volume) Header() Header {
	return v.header
}

// Shape returns (nx, ny, nz).
func (v *Volume) Shape() volview.Shape {
	return v.header.Shape
}

// Datatype returns the stored scalar type.
func (v *Volume) Datatype() Datatype {
	return v.header.Datatype
}

// NumBytes returns the in-memory size of the voxel payload.
func (v *Volume) NumBytes() int {
	return v.data.len() * v.header.Datatype.BytesPerVoxel()
}

// Raw returns the unscaled value at (x, y, z).  Coordinates are not checked
// beyond the bounds check of the underlying slice.
func (v *Volume) Raw(x, y, z int) float64 {
	s := v.header.Shape
	return v.data.at(x + s[0]*(y+s[1]*z))
}

// Value returns the scaled value at (x, y, z).
func (v *Volume) Value(x, y, z int) float64 {
	slope, inter := v.header.Scaling()
	return v.Raw(x, y, z)*slope + inter
}

// PlaneSize returns the number of columns and rows of a plane perpendicular to axis.
func (v *Volume) PlaneSize(axis volview.Axis) (cols, rows int) {
	a, b := axis.PlaneAxes()
	return v.header.Shape.Extent(a), v.header.Shape.Extent(b)
}

// CopyPlane copies the scaled values of the plane perpendicular to axis at the
// given index into dst, row-major, and returns the plane size.  dst must have
// room for cols*rows values.
func (v *Volume) CopyPlane(axis volview.Axis, index int, dst []float64) (cols, rows int, err error) {
	if !axis.Valid() {
		return 0, 0, volview.NewError(volview.BadRequest, "invalid axis %s", axis)
	}
	s := v.header.Shape
	extent := s.Extent(axis)
	if index < 0 || index >= extent {
		return 0, 0, volview.NewError(volview.IndexOutOfRange, "index %d outside [0,%d) along %s", index, extent, axis)
	}
	cols, rows = v.PlaneSize(axis)
	if len(dst) < cols*rows {
		return 0, 0, fmt.Errorf("plane buffer holds %d values, need %d", len(dst), cols*rows)
	}
	strides := [3]int{1, s[0], s[0] * s[1]}
	ca, ra := axis.PlaneAxes()
	base := index * strides[axis]
	slope, inter := v.header.Scaling()
	v.data.copyPlane(dst, base, strides[ca], strides[ra], cols, rows, slope, inter)
	return cols, rows, nil
}

// Stats returns value statistics of the scaled volume, computed on first use.
func (v *Volume) Stats() Stats {
	v.statsOnce.Do(func() {
		slope, inter := v.header.Scaling()
		lo, hi, ok := v.data.valueRange(slope, inter)
		if !ok {
			v.stats = Stats{Empty: true}
			return
		}
		v.stats = Stats{Min: lo, Max: hi}
		stride := v.data.len()/maxStatSamples + 1
		sample := v.data.sample(stride, slope, inter)
		if len(sample) == 0 {
			v.stats.P1, v.stats.P99 = lo, hi
			return
		}
		sort.Float64s(sample)
		v.stats.P1 = stat.Quantile(0.01, stat.LinInterp, sample, nil)
		v.stats.P99 = stat.Quantile(0.99, stat.LinInterp, sample, nil)
	})
	return v.stats
}
