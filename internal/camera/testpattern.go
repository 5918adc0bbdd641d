package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/internal/yuv"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
	"github.com/google/uuid"
)

var bars = []color.RGBA{
	{235, 235, 235, 255}, // white
	{235, 235, 16, 255},  // yellow
	{16, 235, 235, 255},  // cyan
	{16, 235, 16, 255},   // green
	{235, 16, 235, 255},  // magenta
	{235, 16, 16, 255},   // red
	{16, 16, 235, 255},   // blue
	{16, 16, 16, 255},    // black
}

const patternFrames = 8

// TestPattern is a synthetic Source producing color bars with a sweeping
// marker. Frames are encoded once at Start.
type TestPattern struct {
	width, height int
	format        types.PixelFormat
	fps           float64
	log           *logger.Module

	mu      sync.Mutex
	frames  [][]byte
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTestPattern creates a synthetic source
func NewTestPattern(width, height int, format types.PixelFormat, fps float64) *TestPattern {
	if fps <= 0 {
		fps = 30
	}
	return &TestPattern{
		width:  width,
		height: height,
		format: format,
		fps:    fps,
		log:    logger.For("TestPattern"),
	}
}

// Device implements Source
func (t *TestPattern) Device() Device {
	return Device{Path: "testpattern", Name: fmt.Sprintf("Color bars %dx%d@%.0f", t.width, t.height, t.fps)}
}

// Start implements Source
func (t *TestPattern) Start(ctx context.Context, handler FrameHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("test pattern already running")
	}

	if t.frames == nil {
		for i := 0; i < patternFrames; i++ {
			data, err := yuv.Encode(t.render(i), t.format)
			if err != nil {
				return fmt.Errorf("encode pattern: %w", err)
			}
			t.frames = append(t.frames, data)
		}
	}

	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.running = true
	go t.run(ctx, handler, t.done)

	t.log.Info("Generating %dx%d %s at %.1f fps", t.width, t.height, t.format, t.fps)
	return nil
}

func (t *TestPattern) run(ctx context.Context, handler FrameHandler, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / t.fps))
	defer ticker.Stop()

	var seq uint64
	frame := &types.RawFrame{Width: t.width, Height: t.height, Format: t.format}
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			seq++
			frame.Data = t.frames[int(seq)%len(t.frames)]
			frame.Timestamp = now
			frame.Seq = seq
			frame.TraceID = uuid.New().String()
			handler(frame)
		}
	}
}

// Stop implements Source
func (t *TestPattern) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
	return nil
}

func (t *TestPattern) render(step int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, t.width, t.height))
	barW := (t.width + len(bars) - 1) / len(bars)
	markerX := step * t.width / patternFrames
	markerW := t.width / (2 * patternFrames)

	for y := 0; y < t.height; y++ {
		for x := 0; x < t.width; x++ {
			c := bars[min(x/barW, len(bars)-1)]
			if y > t.height*3/4 && x >= markerX && x < markerX+markerW {
				c = color.RGBA{128, 128, 128, 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
