// Package yuv converts planar 4:2:0 camera frames into packed RGBA.
//
// The Y plane and chroma planes are wrapped in an image.YCbCr header without
// copying (I420) or after de-interleaving into scratch planes owned by the
// Converter (NV21/NV12), then drawn onto the destination with the YCbCr fast
// path of golang.org/x/image/draw. Nothing is allocated per frame.
package yuv

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/dj-oyu/uvc-facecam/pkg/types"
	"golang.org/x/image/draw"
)

var (
	// ErrFrameSize is returned when the input or destination does not match the configured dimensions
	ErrFrameSize = errors.New("frame size mismatch")
	// ErrUnsupportedFormat is returned for pixel formats the converter does not know
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
)

// Converter converts frames of one fixed size. It is not safe for concurrent use;
// the pipeline keeps one per buffer slot.
type Converter struct {
	width, height int
	cw, ch        int // chroma plane dimensions
	ycc           image.YCbCr
	cb, cr        []byte // scratch planes for semi-planar input
}

// NewConverter creates a converter for width x height frames
func NewConverter(width, height int) *Converter {
	cw, ch := (width+1)/2, (height+1)/2
	return &Converter{
		width:  width,
		height: height,
		cw:     cw,
		ch:     ch,
		ycc: image.YCbCr{
			YStride:        width,
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           image.Rect(0, 0, width, height),
		},
		cb: make([]byte, cw*ch),
		cr: make([]byte, cw*ch),
	}
}

// InputSize returns the number of bytes a frame must carry
func (c *Converter) InputSize() int {
	return c.width*c.height + 2*c.cw*c.ch
}

// Convert writes data into dst. dst must span exactly (0,0)-(width,height).
func (c *Converter) Convert(dst *image.RGBA, data []byte, format types.PixelFormat) error {
	if dst == nil || dst.Rect != c.ycc.Rect {
		return fmt.Errorf("%w: destination %v, want %v", ErrFrameSize, rectOf(dst), c.ycc.Rect)
	}
	if len(data) < c.InputSize() {
		return fmt.Errorf("%w: got %d bytes, want %d for %dx%d",
			ErrFrameSize, len(data), c.InputSize(), c.width, c.height)
	}

	ySize := c.width * c.height
	cSize := c.cw * c.ch
	c.ycc.Y = data[:ySize]

	switch format {
	case types.FormatI420:
		c.ycc.Cb = data[ySize : ySize+cSize]
		c.ycc.Cr = data[ySize+cSize : ySize+2*cSize]
	case types.FormatNV21:
		deinterleave(data[ySize:ySize+2*cSize], c.cr, c.cb)
		c.ycc.Cb, c.ycc.Cr = c.cb, c.cr
	case types.FormatNV12:
		deinterleave(data[ySize:ySize+2*cSize], c.cb, c.cr)
		c.ycc.Cb, c.ycc.Cr = c.cb, c.cr
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	draw.Draw(dst, dst.Rect, &c.ycc, image.Point{}, draw.Src)

	// Drop the reference to the caller's buffer so the camera can recycle it.
	c.ycc.Y, c.ycc.Cb, c.ycc.Cr = nil, nil, nil
	return nil
}

func deinterleave(src, first, second []byte) {
	for i := range first {
		first[i] = src[2*i]
		second[i] = src[2*i+1]
	}
}

func rectOf(img *image.RGBA) image.Rectangle {
	if img == nil {
		return image.Rectangle{}
	}
	return img.Rect
}

// Encode converts img into a 4:2:0 frame of the given format. Chroma is taken
// from the top-left pixel of each 2x2 block. Used by synthetic sources.
func Encode(img image.Image, format types.PixelFormat) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	cw, ch := (w+1)/2, (h+1)/2
	ySize, cSize := w*h, cw*ch
	out := make([]byte, ySize+2*cSize)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			yy, cb, cr := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			out[y*w+x] = yy
			if x%2 != 0 || y%2 != 0 {
				continue
			}
			ci := (y/2)*cw + x/2
			switch format {
			case types.FormatI420:
				out[ySize+ci] = cb
				out[ySize+cSize+ci] = cr
			case types.FormatNV21:
				out[ySize+2*ci] = cr
				out[ySize+2*ci+1] = cb
			case types.FormatNV12:
				out[ySize+2*ci] = cb
				out[ySize+2*ci+1] = cr
			default:
				return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
			}
		}
	}
	return out, nil
}
