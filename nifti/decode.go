package nifti

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	humanize "github.com/dustin/go-humanize"

	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

// Number of voxels converted per read while filling a typed buffer.
const chunkVoxels = 256 * volview.Kilo

// ReadHeader decodes only the header of a possibly compressed NIfTI-1 stream.
func ReadHeader(r io.Reader) (volume.Header, error) {
	s, err := openStream(r)
	if err != nil {
		return volume.Header{}, err
	}
	defer s.close()
	return s.readHeader()
}

func (s *stream) readHeader() (volume.Header, error) {
	hdr := make([]byte, HeaderSize)
	if _, err := io.ReadFull(s, hdr); err != nil {
		return volume.Header{}, s.classifyHeader(err)
	}
	return parseHeader(hdr)
}

// DecodeBytes decodes a NIfTI-1 volume held in memory.
func DecodeBytes(b []byte) (*volume.Volume, error) {
	return Decode(bytes.NewReader(b))
}

// Decode reads a possibly compressed NIfTI-1 stream into a Volume.  Raw
// values keep their stored datatype; scl_slope/scl_inter are recorded in the
// header and applied when planes are extracted.  Decoding has no side effects.
func Decode(r io.Reader) (*volume.Volume, error) {
	timedLog := volview.NewTimeLog()
	s, err := openStream(r)
	if err != nil {
		return nil, err
	}
	defer s.close()

	h, err := s.readHeader()
	if err != nil {
		return nil, err
	}
	if skip := h.VoxOffset - HeaderSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, s, skip); err != nil {
			return nil, s.classify(err, "skipping header extensions")
		}
	}

	var vol *volume.Volume
	switch h.Datatype {
	case volume.Uint8:
		vol, err = build(s, h, func(b []byte, _ binary.ByteOrder) uint8 { return b[0] })
	case volume.Int8:
		vol, err = build(s, h, func(b []byte, _ binary.ByteOrder) int8 { return int8(b[0]) })
	case volume.Uint16:
		vol, err = build(s, h, func(b []byte, o binary.ByteOrder) uint16 { return o.Uint16(b) })
	case volume.Int16:
		vol, err = build(s, h, func(b []byte, o binary.ByteOrder) int16 { return int16(o.Uint16(b)) })
	case volume.Uint32:
		vol, err = build(s, h, func(b []byte, o binary.ByteOrder) uint32 { return o.Uint32(b) })
	case volume.Int32:
		vol, err = build(s, h, func(b []byte, o binary.ByteOrder) int32 { return int32(o.Uint32(b)) })
	case volume.Float32:
		vol, err = build(s, h, func(b []byte, o binary.ByteOrder) float32 { return math.Float32frombits(o.Uint32(b)) })
	case volume.Float64:
		vol, err = build(s, h, func(b []byte, o binary.ByteOrder) float64 { return math.Float64frombits(o.Uint64(b)) })
	default:
		return nil, volview.NewError(volview.UnsupportedDatatype, "unsupported datatype %s", h.Datatype)
	}
	if err != nil {
		return nil, err
	}
	timedLog.Debugf("decoded %s %s volume (%s, %s compression)", h.Shape, h.Datatype,
		humanize.Bytes(uint64(vol.NumBytes())), s.compression)
	return vol, nil
}

// build fills a typed buffer from the payload, converting chunkVoxels at a
// time.  The buffer grows only as chunks arrive, so the memory used is bounded
// by the payload actually present and not by the extents the header claims.
func build[T volume.Scalar](s *stream, h volume.Header, conv func([]byte, binary.ByteOrder) T) (*volume.Volume, error) {
	n := h.Shape.NumVoxels()
	size := h.Datatype.BytesPerVoxel()
	values := make([]T, 0, min(n, chunkVoxels))
	buf := make([]byte, min(n, chunkVoxels)*size)
	for len(values) < n {
		m := min(chunkVoxels, n-len(values))
		b := buf[:m*size]
		if _, err := io.ReadFull(s, b); err != nil {
			return nil, s.classify(err, "reading voxel payload")
		}
		for j := 0; j < m; j++ {
			values = append(values, conv(b[j*size:], h.ByteOrder))
		}
	}
	return volume.New(h, values)
}
