package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

func TestBoxColor(t *testing.T) {
	tests := []struct {
		w    int
		want color.RGBA
	}{
		{100, Yellow},
		{300, Yellow},
		{301, Green},
	}
	for _, tt := range tests {
		d := types.Detection{BBox: types.BoundingBox{W: tt.w, H: 10}}
		if got := BoxColor(d); got != tt.want {
			t.Errorf("BoxColor(w=%d) = %v, want %v", tt.w, got, tt.want)
		}
	}
}

func TestFPSLabel(t *testing.T) {
	if got := FPSLabel(9.87654); got != "FPS: 9.88" {
		t.Fatalf("FPSLabel = %q", got)
	}
}

func TestDrawRectOutlinesOnly(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	DrawRect(img, image.Rect(10, 10, 40, 40), Green, 2)

	if got := img.RGBAAt(10, 10); got != Green {
		t.Errorf("corner = %v, want green", got)
	}
	if got := img.RGBAAt(39, 25); got != Green {
		t.Errorf("right edge = %v, want green", got)
	}
	if got := img.RGBAAt(25, 25); got != (color.RGBA{}) {
		t.Errorf("interior = %v, want untouched", got)
	}
	if got := img.RGBAAt(5, 5); got != (color.RGBA{}) {
		t.Errorf("outside = %v, want untouched", got)
	}
}

func TestDrawRectClipsToImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	DrawRect(img, image.Rect(-10, -10, 100, 100), Yellow, 3)
	// Only the clipped parts exist; nothing panics and the image is untouched in the middle.
	if got := img.RGBAAt(10, 10); got != (color.RGBA{}) {
		t.Errorf("center = %v", got)
	}
}

func TestAnnotateDrawsBoxesAndLabel(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	dets := []types.Detection{
		{ClassName: types.ClassFace, Confidence: 0.91, BBox: types.BoundingBox{X: 20, Y: 100, W: 350, H: 300}},
		{ClassName: types.ClassFace, Confidence: 0.75, BBox: types.BoundingBox{X: 450, Y: 200, W: 80, H: 90}},
	}
	Annotate(img, dets, 10, DefaultOptions())

	if got := img.RGBAAt(20, 250); got != Green {
		t.Errorf("wide box edge = %v, want green", got)
	}
	if got := img.RGBAAt(450, 250); got != Yellow {
		t.Errorf("narrow box edge = %v, want yellow", got)
	}

	// The fps label paints a black background somewhere in the top-left corner.
	found := false
	for y := 0; y < 30 && !found; y++ {
		for x := 0; x < 80; x++ {
			if img.RGBAAt(x, y) == black {
				found = true
				break
			}
		}
	}
	if !found {
		t.Error("fps label background not drawn")
	}
}

func TestAnnotateHighlightsBestFace(t *testing.T) {
	dets := []types.Detection{
		{ClassName: types.ClassFace, Confidence: 0.6, BBox: types.BoundingBox{X: 10, Y: 10, W: 40, H: 40}},
		{ClassName: types.ClassFace, Confidence: 0.9, BBox: types.BoundingBox{X: 100, Y: 10, W: 40, H: 40}},
	}
	opts := Options{Thickness: 2, HighlightBest: true}

	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	Annotate(img, dets, 0, opts)
	// x offset 3 is inside a doubled (4px) outline but not a plain 2px one
	if got := img.RGBAAt(100+3, 30); got != Yellow {
		t.Errorf("best face inner edge = %v, want yellow", got)
	}
	if got := img.RGBAAt(10+3, 30); got != (color.RGBA{}) {
		t.Errorf("other face inner edge = %v, want untouched", got)
	}

	opts.HighlightBest = false
	plain := image.NewRGBA(image.Rect(0, 0, 200, 100))
	Annotate(plain, dets, 0, opts)
	if got := plain.RGBAAt(100+3, 30); got != (color.RGBA{}) {
		t.Errorf("highlight drawn while disabled: %v", got)
	}
}
