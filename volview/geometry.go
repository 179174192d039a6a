package volview

import (
	"fmt"
	"strings"
)

// Axis is one of the three spatial axes of a volume.
type Axis uint8

const (
	XAxis Axis = iota
	YAxis
	ZAxis
)

// ParseAxis converts "x", "y" or "z" (any case) into an Axis.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return XAxis, nil
	case "y":
		return YAxis, nil
	case "z":
		return ZAxis, nil
	}
	return 0, NewError(BadRequest, "invalid axis %q, must be x, y, or z", s)
}

func (a Axis) String() string {
	switch a {
	case XAxis:
		return "x"
	case YAxis:
		return "y"
	case ZAxis:
		return "z"
	}
	return fmt.Sprintf("axis(%d)", uint8(a))
}

// Valid returns true for XAxis, YAxis and ZAxis.
func (a Axis) Valid() bool {
	return a <= ZAxis
}

// PlaneAxes returns the two axes spanning the plane perpendicular to a, in
// native order.  The first is the fast (column) axis of the plane.
func (a Axis) PlaneAxes() (Axis, Axis) {
	switch a {
	case XAxis:
		return YAxis, ZAxis
	case YAxis:
		return XAxis, ZAxis
	default:
		return XAxis, YAxis
	}
}

// Shape is the voxel extent (nx, ny, nz) of a volume.
type Shape [3]int

// NumVoxels returns nx*ny*nz.
func (s Shape) NumVoxels() int {
	return s[0] * s[1] * s[2]
}

// Extent returns the size of the volume along an axis.
func (s Shape) Extent(a Axis) int {
	return s[a]
}

// Valid returns true if all extents are positive.
func (s Shape) Valid() bool {
	return s[0] > 0 && s[1] > 0 && s[2] > 0
}

func (s Shape) String() string {
	return fmt.Sprintf("%d x %d x %d", s[0], s[1], s[2])
}
