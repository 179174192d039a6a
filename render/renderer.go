package render

import (
	"bytes"
	"image"
	"image/png"

	"github.com/janelia-flyem/volview/volume"
	"github.com/janelia-flyem/volview/volview"
)

// ContentType of encoded slice images.
const ContentType = "image/png"

// Renderer turns planes of a volume into grayscale images.
type Renderer struct {
	// DefaultWindow is used when a request omits the window width.
	DefaultWindow WindowMode

	// Resample is the reduction used when a maximum dimension applies.
	Resample Resample

	// FlipRows puts the last row of a plane at the top of the image.
	FlipRows bool
}

// Render extracts and windows one plane.  If maxDim is positive the image is
// reduced so its larger side does not exceed it.
func (r Renderer) Render(vol *volume.Volume, axis volview.Axis, index int, center, width Optional, maxDim int) (*image.Gray, error) {
	plane, err := ExtractPlane(vol, axis, index)
	if err != nil {
		return nil, err
	}
	w, ok, err := ResolveWindow(vol, center, width, r.DefaultWindow)
	if err != nil {
		return nil, err
	}
	var img *image.Gray
	if ok {
		if img, err = ApplyWindow(plane, w); err != nil {
			return nil, err
		}
	} else {
		img = image.NewGray(image.Rect(0, 0, plane.Cols, plane.Rows))
	}
	if r.FlipRows {
		flipRows(img)
	}
	return downsample(img, maxDim, r.Resample), nil
}

var encoder = png.Encoder{CompressionLevel: png.BestSpeed}

// Image is an encoded slice.  It is shared between requests and must not
// be modified.
type Image struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// EncodeImage losslessly encodes img.
func EncodeImage(img *image.Gray) (*Image, error) {
	var buf bytes.Buffer
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, err
	}
	b := img.Bounds()
	return &Image{Data: buf.Bytes(), ContentType: ContentType, Width: b.Dx(), Height: b.Dy()}, nil
}
