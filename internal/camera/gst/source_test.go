package gst

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/camera"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

func TestCaps(t *testing.T) {
	tests := []struct {
		cfg  Config
		want string
	}{
		{Config{Width: 640, Height: 480, Format: types.FormatNV21},
			"video/x-raw,format=NV21,width=640,height=480"},
		{Config{Width: 1280, Height: 720, Format: types.FormatI420, DeviceFPS: 30},
			"video/x-raw,format=I420,width=1280,height=720,framerate=30/1"},
	}
	for _, tt := range tests {
		if got := tt.cfg.Caps(); got != tt.want {
			t.Errorf("Caps() = %q, want %q", got, tt.want)
		}
	}
}

// Needs a real camera: FACECAM_TEST_DEVICE=/dev/video0
func TestCaptureFromDevice(t *testing.T) {
	path := os.Getenv("FACECAM_TEST_DEVICE")
	if path == "" {
		t.Skip("FACECAM_TEST_DEVICE not set")
	}

	src := New(camera.Device{Path: path}, Config{Width: 640, Height: 480, Format: types.FormatNV21})
	got := make(chan int, 1)
	if err := src.Start(context.Background(), func(f *types.RawFrame) {
		select {
		case got <- len(f.Data):
		default:
		}
	}); err != nil {
		t.Skipf("cannot start capture: %v", err)
	}
	defer src.Stop()

	select {
	case n := <-got:
		if n != types.FrameSize(640, 480) {
			t.Fatalf("frame size = %d, want %d", n, types.FrameSize(640, 480))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame within 5s")
	}
}
