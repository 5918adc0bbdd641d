// Package shm reads NV12 frames published by the capture daemon into a
// POSIX shared-memory ring.
package shm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/camera"
	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
	"github.com/google/uuid"
)

// Header describes one frame in the ring
type Header struct {
	FrameNumber uint64
	Timestamp   time.Time
	Width       int
	Height      int
	Format      int
	Size        int
}

type frameReader interface {
	WaitNewFrame(timeout time.Duration) error
	ReadLatest(dst []byte) (Header, bool, error)
	Close() error
}

// Source is a camera.Source backed by the shared-memory ring
type Source struct {
	name string
	open func(ctx context.Context) (frameReader, error)
	log  *logger.Module

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	frames   atomic.Uint64
	skipped  atomic.Uint64
	readErrs atomic.Uint64
}

// New creates a source for the named ring ("" for the default)
func New(name string) *Source {
	if name == "" {
		name = DefaultName
	}
	s := &Source{name: name, log: logger.For("SHM")}
	s.open = func(ctx context.Context) (frameReader, error) {
		return OpenReader(ctx, s.name)
	}
	return s
}

// Device implements camera.Source
func (s *Source) Device() camera.Device {
	return camera.Device{Path: "shm://" + s.name, Name: "capture daemon"}
}

// Start opens the ring and starts polling it
func (s *Source) Start(ctx context.Context, handler camera.FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return errors.New("shm source already started")
	}

	openCtx, cancelOpen := context.WithTimeout(ctx, 30*time.Second)
	r, err := s.open(openCtx)
	cancelOpen()
	if err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, r, handler, s.done)
	return nil
}

func (s *Source) run(ctx context.Context, r frameReader, handler camera.FrameHandler, done chan struct{}) {
	defer close(done)
	defer r.Close()

	buf := make([]byte, MaxFrameSize)
	frame := &types.RawFrame{Format: types.FormatNV12}
	var last uint64
	var haveLast bool

	for ctx.Err() == nil {
		if err := r.WaitNewFrame(100 * time.Millisecond); err != nil {
			if !errors.Is(err, errTimeout) {
				s.readErrs.Add(1)
				s.log.Warn("Wait failed: %v", err)
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}

		hdr, ok, err := r.ReadLatest(buf)
		if err != nil {
			s.readErrs.Add(1)
			s.log.Warn("Read failed: %v", err)
			continue
		}
		if !ok || hdr.Format != FormatNV12 || (haveLast && hdr.FrameNumber == last) {
			s.skipped.Add(1)
			continue
		}
		last, haveLast = hdr.FrameNumber, true

		frame.Data = buf[:hdr.Size]
		frame.Width = hdr.Width
		frame.Height = hdr.Height
		frame.Timestamp = hdr.Timestamp
		frame.Seq = hdr.FrameNumber
		frame.TraceID = uuid.New().String()
		s.frames.Add(1)
		handler(frame)
	}
}

// Stop implements camera.Source
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.done = nil
	s.log.Info("Stopped %s (%d frames, %d skipped, %d errors)", s.name, s.frames.Load(), s.skipped.Load(), s.readErrs.Load())
	return nil
}

var _ camera.ErrorCounter = (*Source)(nil)

// Errors returns the number of failed waits and reads
func (s *Source) Errors() uint64 {
	return s.readErrs.Load()
}

// String describes the source for logs
func (s *Source) String() string {
	return fmt.Sprintf("shm source %s", s.name)
}
