package yuv

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

func TestConvertSolidColorAllFormats(t *testing.T) {
	want := color.RGBA{R: 200, G: 40, B: 90, A: 255}
	src := solid(16, 8, want)

	for _, format := range []types.PixelFormat{types.FormatNV21, types.FormatNV12, types.FormatI420} {
		t.Run(format.String(), func(t *testing.T) {
			data, err := Encode(src, format)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(data) != types.FrameSize(16, 8) {
				t.Fatalf("encoded size = %d, want %d", len(data), types.FrameSize(16, 8))
			}

			conv := NewConverter(16, 8)
			dst := image.NewRGBA(image.Rect(0, 0, 16, 8))
			if err := conv.Convert(dst, data, format); err != nil {
				t.Fatalf("Convert: %v", err)
			}

			got := dst.RGBAAt(5, 3)
			if absDiff(got.R, want.R) > 3 || absDiff(got.G, want.G) > 3 || absDiff(got.B, want.B) > 3 {
				t.Fatalf("pixel = %+v, want ~%+v", got, want)
			}
			if got.A != 255 {
				t.Fatalf("alpha = %d, want 255", got.A)
			}
		})
	}
}

func TestConvertDeterministic(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 7)
	}
	data, err := Encode(src, types.FormatNV21)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	twin := append([]byte(nil), data...)

	conv := NewConverter(32, 16)
	a := image.NewRGBA(image.Rect(0, 0, 32, 16))
	b := image.NewRGBA(image.Rect(0, 0, 32, 16))
	if err := conv.Convert(a, data, types.FormatNV21); err != nil {
		t.Fatalf("Convert a: %v", err)
	}
	// Dirty the scratch planes with a different frame in between.
	other, _ := Encode(solid(32, 16, color.RGBA{R: 1, G: 2, B: 3, A: 255}), types.FormatNV21)
	if err := conv.Convert(b, other, types.FormatNV21); err != nil {
		t.Fatalf("Convert other: %v", err)
	}
	if err := conv.Convert(b, twin, types.FormatNV21); err != nil {
		t.Fatalf("Convert b: %v", err)
	}

	if !bytes.Equal(a.Pix, b.Pix) {
		t.Fatal("identical inputs produced different pixel buffers")
	}
}

func TestConvertRejectsBadInput(t *testing.T) {
	conv := NewConverter(8, 8)
	dst := image.NewRGBA(image.Rect(0, 0, 8, 8))

	if err := conv.Convert(dst, make([]byte, 10), types.FormatNV21); !errors.Is(err, ErrFrameSize) {
		t.Errorf("short input err = %v, want ErrFrameSize", err)
	}

	wrong := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if err := conv.Convert(wrong, make([]byte, conv.InputSize()), types.FormatNV21); !errors.Is(err, ErrFrameSize) {
		t.Errorf("wrong destination err = %v, want ErrFrameSize", err)
	}

	if err := conv.Convert(dst, make([]byte, conv.InputSize()), types.PixelFormat(99)); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("bad format err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestConvertDoesNotAllocate(t *testing.T) {
	conv := NewConverter(64, 48)
	dst := image.NewRGBA(image.Rect(0, 0, 64, 48))
	data := make([]byte, conv.InputSize())

	allocs := testing.AllocsPerRun(20, func() {
		_ = conv.Convert(dst, data, types.FormatNV21)
	})
	if allocs > 0 {
		t.Fatalf("Convert allocated %.1f times per run", allocs)
	}
}
