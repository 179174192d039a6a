package nifti

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/janelia-flyem/volview/volview"
)

// Compression identifies the stream wrapping of a volume file.
type Compression uint8

const (
	Uncompressed Compression = iota
	Gzip
	Zstd
	Snappy
)

func (c Compression) String() string {
	switch c {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case Snappy:
		return "snappy"
	}
	return "none"
}

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
)

// sourceReader remembers errors coming from the underlying source so they can
// be told apart from decompression failures.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// stream is a decompressed view of a volume source.
type stream struct {
	io.Reader
	src         *sourceReader
	compression Compression
	close       func()
}

// DetectCompression peeks at the first bytes of br to find its compression.
func DetectCompression(br *bufio.Reader) Compression {
	head, _ := br.Peek(len(snappyMagic))
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return Gzip
	case bytes.HasPrefix(head, zstdMagic):
		return Zstd
	case bytes.HasPrefix(head, snappyMagic):
		return Snappy
	}
	return Uncompressed
}

// openStream wraps r with the decompressor matching its magic bytes.
func openStream(r io.Reader) (*stream, error) {
	src := &sourceReader{r: r}
	br := bufio.NewReaderSize(src, 64*volview.Kilo)
	s := &stream{src: src, compression: DetectCompression(br), close: func() {}}
	if src.err != nil {
		return nil, volview.WrapError(volview.IOFailure, src.err, "reading volume")
	}
	switch s.compression {
	case Gzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, s.classify(err, "opening gzip stream")
		}
		zr.Multistream(true)
		s.Reader = zr
		s.close = func() { zr.Close() }
	case Zstd:
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, s.classify(err, "opening zstd stream")
		}
		s.Reader = zr
		s.close = zr.Close
	case Snappy:
		s.Reader = snappy.NewReader(br)
	default:
		s.Reader = br
	}
	return s, nil
}

// classify turns a read error into a typed error.  Source failures are
// IOFailure, truncation of an uncompressed header is CorruptHeader when
// inHeader is set, and everything else is CorruptStream.
func (s *stream) classify(err error, context string) error {
	if s.src.err != nil {
		return volview.WrapError(volview.IOFailure, s.src.err, "%s", context)
	}
	return volview.WrapError(volview.CorruptStream, err, "%s (%s)", context, s.compression)
}

func (s *stream) classifyHeader(err error) error {
	if s.src.err == nil && s.compression == Uncompressed &&
		(errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		return volview.WrapError(volview.CorruptHeader, err, "truncated NIfTI-1 header")
	}
	return s.classify(err, "reading header")
}
