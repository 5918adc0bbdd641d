package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/camera"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

// DefaultBuffers is the number of conversion buffers preallocated when
// Config.Buffers is 0. The pool grows past it while more frames are in flight.
const DefaultBuffers = 3

// Config holds pipeline configuration
type Config struct {
	Width   int               // Frame width, must match the camera
	Height  int               // Frame height, must match the camera
	MaxFPS  float64           // Admission ceiling; 0 disables throttling
	Format  types.PixelFormat // Pixel format requested from the camera
	Buffers int               // Preallocated conversion buffers

	// Selector picks the camera device. The pipeline itself ignores it.
	Selector camera.Selector
}

// DefaultConfig returns the defaults of the camera app
func DefaultConfig() Config {
	return Config{
		Width:   640,
		Height:  480,
		MaxFPS:  10,
		Format:  types.FormatNV21,
		Buffers: DefaultBuffers,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.MaxFPS < 0 || math.IsNaN(c.MaxFPS) {
		return fmt.Errorf("%w: max fps %v", ErrInvalidConfig, c.MaxFPS)
	}
	if c.Buffers < 0 {
		return fmt.Errorf("%w: buffers %d", ErrInvalidConfig, c.Buffers)
	}
	return nil
}

// Interval returns the minimum spacing between admitted frames (0 when unthrottled)
func (c Config) Interval() time.Duration {
	if c.MaxFPS <= 0 || math.IsInf(c.MaxFPS, 1) {
		return 0
	}
	return time.Duration(float64(time.Second) / c.MaxFPS)
}
