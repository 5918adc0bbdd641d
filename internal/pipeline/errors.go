package pipeline

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/uvc-facecam/internal/yuv"
)

var (
	// ErrInvalidConfig is returned by New for unusable configurations
	ErrInvalidConfig = errors.New("invalid pipeline config")
	// ErrClosed is returned by operations on a closed pipeline
	ErrClosed = errors.New("pipeline closed")
	// ErrFrameSize is reported when a frame does not match the configured dimensions
	ErrFrameSize = yuv.ErrFrameSize
	// ErrUnsupportedFormat is reported for unknown pixel formats
	ErrUnsupportedFormat = yuv.ErrUnsupportedFormat
)

// Stage names the pipeline step that failed
type Stage string

const (
	StageConvert Stage = "convert"
	StageDetect  Stage = "detect"
)

// FrameError is delivered to the error callback for an admitted frame that
// could not be processed
type FrameError struct {
	Seq     uint64
	TraceID string // RawFrame.TraceID of the failed frame, may be empty
	Stage   Stage
	Err     error
}

func (e *FrameError) Error() string {
	if e.TraceID == "" {
		return fmt.Sprintf("frame %d: %s: %v", e.Seq, e.Stage, e.Err)
	}
	return fmt.Sprintf("frame %d (trace %s): %s: %v", e.Seq, e.TraceID, e.Stage, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}
