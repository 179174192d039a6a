package nifti

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

const (
	// HeaderSize is the fixed size of a NIfTI-1 header.
	HeaderSize = 348

	// DefaultVoxOffset is the payload offset of a single-file NIfTI-1 volume
	// with no header extensions.
	DefaultVoxOffset = 352

	nifti2HeaderSize = 540
)

// NIfTI-1 datatype codes accepted by the decoder.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
)

var codeToDatatype = map[int16]volume.Datatype{
	dtUint8:   volume.Uint8,
	dtInt16:   volume.Int16,
	dtInt32:   volume.Int32,
	dtFloat32: volume.Float32,
	dtFloat64: volume.Float64,
	dtInt8:    volume.Int8,
	dtUint16:  volume.Uint16,
	dtUint32:  volume.Uint32,
}

var datatypeToCode = map[volume.Datatype]int16{
	volume.Uint8:   dtUint8,
	volume.Int16:   dtInt16,
	volume.Int32:   dtInt32,
	volume.Float32: dtFloat32,
	volume.Float64: dtFloat64,
	volume.Int8:    dtInt8,
	volume.Uint16:  dtUint16,
	volume.Uint32:  dtUint32,
}

// Field offsets within the header.
const (
	offDim       = 40
	offDatatype  = 70
	offBitpix    = 72
	offPixdim    = 76
	offVoxOffset = 108
	offSclSlope  = 112
	offSclInter  = 116
	offMagic     = 344
)

var (
	magicSingle   = []byte("n+1\x00")
	magicDetached = []byte("ni1\x00")
)

// parseHeader validates a raw 348-byte header.
func parseHeader(hdr []byte) (volume.Header, error) {
	var h volume.Header
	if len(hdr) < HeaderSize {
		return h, volview.NewError(volview.CorruptHeader, "header is %d bytes, need %d", len(hdr), HeaderSize)
	}

	var order binary.ByteOrder
	switch {
	case int32(binary.LittleEndian.Uint32(hdr[0:4])) == HeaderSize:
		order = binary.LittleEndian
	case int32(binary.BigEndian.Uint32(hdr[0:4])) == HeaderSize:
		order = binary.BigEndian
	case int32(binary.LittleEndian.Uint32(hdr[0:4])) == nifti2HeaderSize,
		int32(binary.BigEndian.Uint32(hdr[0:4])) == nifti2HeaderSize:
		return h, volview.NewError(volview.CorruptHeader, "NIfTI-2 headers are not supported")
	default:
		return h, volview.NewError(volview.CorruptHeader, "not a NIfTI-1 header (sizeof_hdr=%d)",
			int32(binary.LittleEndian.Uint32(hdr[0:4])))
	}
	h.ByteOrder = order

	magic := hdr[offMagic : offMagic+4]
	switch {
	case bytes.Equal(magic, magicSingle):
	case bytes.Equal(magic, magicDetached):
		return h, volview.NewError(volview.CorruptHeader, "detached .hdr/.img pairs are not supported")
	default:
		return h, volview.NewError(volview.CorruptHeader, "bad NIfTI-1 magic %q", magic)
	}

	var dim [8]int16
	for i := range dim {
		dim[i] = int16(order.Uint16(hdr[offDim+2*i:]))
	}
	if dim[0] < 3 || dim[0] > 7 {
		return h, volview.NewError(volview.CorruptHeader, "expected 3 to 7 dimensions, got dim[0]=%d", dim[0])
	}
	for i := 1; i <= 3; i++ {
		if dim[i] <= 0 {
			return h, volview.NewError(volview.CorruptHeader, "non-positive extent dim[%d]=%d", i, dim[i])
		}
	}
	h.Shape = volview.Shape{int(dim[1]), int(dim[2]), int(dim[3])}

	code := int16(order.Uint16(hdr[offDatatype:]))
	dt, found := codeToDatatype[code]
	if !found {
		return h, volview.NewError(volview.UnsupportedDatatype, "unsupported NIfTI datatype code %d", code)
	}
	h.Datatype = dt
	bitpix := int16(order.Uint16(hdr[offBitpix:]))
	if bitpix != 0 && int(bitpix) != 8*dt.BytesPerVoxel() {
		return h, volview.NewError(volview.CorruptHeader, "bitpix %d disagrees with datatype %s", bitpix, dt)
	}

	for i := 0; i < 3; i++ {
		h.Spacing[i] = float64(readFloat32(order, hdr[offPixdim+4*(i+1):]))
	}

	voxOffset := readFloat32(order, hdr[offVoxOffset:])
	switch {
	case math.IsNaN(float64(voxOffset)) || voxOffset <= 0:
		h.VoxOffset = DefaultVoxOffset
	case voxOffset < HeaderSize:
		return h, volview.NewError(volview.CorruptHeader, "vox_offset %g lies inside the header", voxOffset)
	default:
		h.VoxOffset = int64(voxOffset)
	}

	h.Slope = float64(readFloat32(order, hdr[offSclSlope:]))
	h.Intercept = float64(readFloat32(order, hdr[offSclInter:]))
	return h, nil
}

func readFloat32(order binary.ByteOrder, b []byte) float32 {
	return math.Float32frombits(order.Uint32(b))
}
