package volume

import "fmt"

// Datatype is the scalar kind of each voxel.
type Datatype uint8

const (
	Unknown Datatype = iota
	Uint8
	Int8
	Uint16
	Int16
	Uint32
	Int32
	Float32
	Float64
)

var datatypeNames = map[Datatype]string{
	Uint8:   "uint8",
	Int8:    "int8",
	Uint16:  "uint16",
	Int16:   "int16",
	Uint32:  "uint32",
	Int32:   "int32",
	Float32: "float32",
	Float64: "float64",
}

func (d Datatype) String() string {
	if s, found := datatypeNames[d]; found {
		return s
	}
	return fmt.Sprintf("datatype(%d)", uint8(d))
}

// BytesPerVoxel returns the size of a single scalar or 0 for Unknown.
func (d Datatype) BytesPerVoxel() int {
	switch d {
	case Uint8, Int8:
		return 1
	case Uint16, Int16:
		return 2
	case Uint32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

// Scalar is the set of Go types that can back a volume.
type Scalar interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~float32 | ~float64
}

// DatatypeOf returns the Datatype corresponding to T.
func DatatypeOf[T Scalar]() Datatype {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return Uint8
	case int8:
		return Int8
	case uint16:
		return Uint16
	case int16:
		return Int16
	case uint32:
		return Uint32
	case int32:
		return Int32
	case float32:
		return Float32
	case float64:
		return Float64
	}
	return Unknown
}
