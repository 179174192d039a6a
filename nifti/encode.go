package nifti

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/janelia-flyem/volview/volume"
)

// Encode writes an uncompressed single-file NIfTI-1 volume with no header
// extensions.  The header's ByteOrder, Shape, Slope, Intercept and Spacing are
// written; the datatype is taken from T.
func Encode[T volume.Scalar](w io.Writer, h volume.Header, values []T) error {
	dt := volume.DatatypeOf[T]()
	code, found := datatypeToCode[dt]
	if !found {
		return fmt.Errorf("no NIfTI-1 code for datatype %s", dt)
	}
	if len(values) != h.Shape.NumVoxels() {
		return fmt.Errorf("shape %s needs %d values, got %d", h.Shape, h.Shape.NumVoxels(), len(values))
	}
	order := h.ByteOrder
	if order == nil {
		order = binary.LittleEndian
	}

	hdr := make([]byte, DefaultVoxOffset)
	order.PutUint32(hdr[0:], HeaderSize)
	dim := [8]int16{3, int16(h.Shape[0]), int16(h.Shape[1]), int16(h.Shape[2]), 1, 1, 1, 1}
	for i, d := range dim {
		order.PutUint16(hdr[offDim+2*i:], uint16(d))
	}
	order.PutUint16(hdr[offDatatype:], uint16(code))
	order.PutUint16(hdr[offBitpix:], uint16(8*dt.BytesPerVoxel()))
	putFloat32(order, hdr[offPixdim:], 1)
	for i := 0; i < 3; i++ {
		sp := h.Spacing[i]
		if sp == 0 {
			sp = 1
		}
		putFloat32(order, hdr[offPixdim+4*(i+1):], float32(sp))
	}
	putFloat32(order, hdr[offVoxOffset:], DefaultVoxOffset)
	putFloat32(order, hdr[offSclSlope:], float32(h.Slope))
	putFloat32(order, hdr[offSclInter:], float32(h.Intercept))
	copy(hdr[offMagic:], magicSingle)

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	return binary.Write(w, order, values)
}

func putFloat32(order binary.ByteOrder, b []byte, v float32) {
	order.PutUint32(b, math.Float32bits(v))
}
