package types

import (
	"fmt"
	"image"
	"time"
)

// PixelFormat identifies the planar luma/chroma layout of a RawFrame
type PixelFormat uint8

// PixelFormat constants
const (
	FormatNV21 PixelFormat = iota // Y plane + interleaved VU (Android camera default)
	FormatNV12                    // Y plane + interleaved UV
	FormatI420                    // Y plane + U plane + V plane
)

var formatNames = map[PixelFormat]string{
	FormatNV21: "NV21",
	FormatNV12: "NV12",
	FormatI420: "I420",
}

// String returns the FourCC-style name of the format
func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("PixelFormat(%d)", uint8(f))
}

// ParsePixelFormat parses a format name such as "nv21"
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch s {
	case "nv21", "NV21":
		return FormatNV21, nil
	case "nv12", "NV12":
		return FormatNV12, nil
	case "i420", "I420", "yuv420p":
		return FormatI420, nil
	default:
		return FormatNV21, fmt.Errorf("invalid pixel format: %s", s)
	}
}

// FrameSize returns the byte size of a 4:2:0 frame (12 bits per pixel)
func FrameSize(width, height int) int {
	return width * height * 3 / 2
}

// RawFrame is one camera-delivered image buffer in a planar 4:2:0 encoding
type RawFrame struct {
	Data      []byte      // Y plane followed by chroma
	Width     int         // Frame width
	Height    int         // Frame height
	Format    PixelFormat // Chroma layout
	Timestamp time.Time   // Capture timestamp
	Seq       uint64      // Sequence number assigned by the source
	TraceID   string      // Per-frame trace identifier
}

// ConvertedFrame is a RawFrame converted to packed RGBA
type ConvertedFrame struct {
	Image     *image.RGBA
	Seq       uint64
	Timestamp time.Time
}

// Width returns the pixel width of the frame
func (f *ConvertedFrame) Width() int { return f.Image.Rect.Dx() }

// Height returns the pixel height of the frame
func (f *ConvertedFrame) Height() int { return f.Image.Rect.Dy() }
