package detector

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

func TestStaticReturnsCopies(t *testing.T) {
	face := types.Detection{ClassName: types.ClassFace, Confidence: 0.9, BBox: types.BoundingBox{X: 1, Y: 2, W: 30, H: 40}}
	s := NewStatic(face)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	got, err := s.Detect(context.Background(), img)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(got) != 1 || got[0] != face {
		t.Fatalf("got %+v", got)
	}
	got[0].Confidence = 0

	again, _ := s.Detect(context.Background(), img)
	if again[0].Confidence != 0.9 {
		t.Fatal("caller mutation leaked into detector state")
	}
	if s.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", s.Calls())
	}
}

func TestStaticHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStatic().Detect(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestSelectBest(t *testing.T) {
	if SelectBest(nil) != nil {
		t.Fatal("expected nil for empty input")
	}
	dets := []types.Detection{
		{Confidence: 0.7, BBox: types.BoundingBox{W: 10, H: 10}},
		{Confidence: 0.9, BBox: types.BoundingBox{W: 5, H: 5}},
		{Confidence: 0.9, BBox: types.BoundingBox{W: 20, H: 20}},
	}
	best := SelectBest(dets)
	if best != &dets[2] {
		t.Fatalf("best = %+v, want index 2", best)
	}
}
