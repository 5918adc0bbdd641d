// Package detector defines the face detection capability consumed by the pipeline.
package detector

import (
	"context"
	"image"
	"sync"

	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

// Detector finds faces in an RGBA image. Implementations are called from
// pipeline goroutines and may be invoked concurrently for different images;
// the image is only valid until Detect returns.
type Detector interface {
	Detect(ctx context.Context, img *image.RGBA) ([]types.Detection, error)
}

// Func adapts a plain function to the Detector interface
type Func func(ctx context.Context, img *image.RGBA) ([]types.Detection, error)

// Detect calls f
func (f Func) Detect(ctx context.Context, img *image.RGBA) ([]types.Detection, error) {
	return f(ctx, img)
}

// Static returns the same detections for every image. Used when no model is
// configured and in tests.
type Static struct {
	mu         sync.Mutex
	detections []types.Detection
	calls      int
}

// NewStatic creates a Static detector
func NewStatic(detections ...types.Detection) *Static {
	return &Static{detections: detections}
}

// Detect returns a copy of the configured detections
func (s *Static) Detect(ctx context.Context, img *image.RGBA) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := make([]types.Detection, len(s.detections))
	copy(out, s.detections)
	return out, nil
}

// Set replaces the detections returned from now on
func (s *Static) Set(detections ...types.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detections = detections
}

// Calls returns how many times Detect has run
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// SelectBest picks the face with the highest confidence, preferring the larger
// box on ties. Returns nil for an empty slice.
func SelectBest(dets []types.Detection) *types.Detection {
	var best *types.Detection
	for i := range dets {
		d := &dets[i]
		if best == nil || d.Confidence > best.Confidence ||
			(d.Confidence == best.Confidence && d.BBox.Area() > best.BBox.Area()) {
			best = d
		}
	}
	return best
}
