// Package camera provides frame sources, device discovery and the camera
// session state machine.
package camera

import (
	"context"

	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

// FrameHandler receives frames on the source goroutine. The frame and its
// Data are only valid until the handler returns.
type FrameHandler func(frame *types.RawFrame)

// Source produces raw frames from a device
type Source interface {
	// Start begins delivering frames to handler on a source-owned goroutine.
	// It returns once the device is streaming.
	Start(ctx context.Context, handler FrameHandler) error
	// Stop ends delivery and waits for the source goroutine to exit
	Stop() error
	// Device describes the underlying device
	Device() Device
}

// ErrorCounter is implemented by sources that count capture errors
type ErrorCounter interface {
	Errors() uint64
}
