// Package gst captures UVC webcams through a GStreamer v4l2src pipeline.
package gst

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
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Config holds capture configuration
type Config struct {
	Width     int
	Height    int
	Format    types.PixelFormat
	DeviceFPS int // Requested device rate, 0 lets the driver choose
}

// Source is a camera.Source backed by v4l2src ! videoconvert ! appsink
type Source struct {
	cfg    Config
	device camera.Device
	log    *logger.Module

	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	seq        atomic.Uint64
	busErrors  atomic.Uint64
	emptyFrame atomic.Uint64
}

// New creates a source for device
func New(device camera.Device, cfg Config) *Source {
	return &Source{
		cfg:    cfg,
		device: device,
		log:    logger.For("GStreamer"),
	}
}

// Device implements camera.Source
func (s *Source) Device() camera.Device {
	return s.device
}

// Caps returns the appsink caps string for the configuration
func (c Config) Caps() string {
	caps := fmt.Sprintf("video/x-raw,format=%s,width=%d,height=%d", c.Format, c.Width, c.Height)
	if c.DeviceFPS > 0 {
		caps += fmt.Sprintf(",framerate=%d/1", c.DeviceFPS)
	}
	return caps
}

// Start builds the pipeline and sets it to PLAYING
func (s *Source) Start(ctx context.Context, handler camera.FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline != nil {
		return errors.New("gstreamer source already started")
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement("v4l2src")
	if err != nil {
		return fmt.Errorf("failed to create v4l2src: %w", err)
	}
	src.SetProperty("device", s.device.Path)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return fmt.Errorf("failed to create videoscale: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(s.cfg.Caps()))

	sink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 1)
	sink.SetProperty("drop", true)

	if err := pipeline.AddMany(src, convert, scale, capsfilter, sink.Element); err != nil {
		return fmt.Errorf("failed to add elements: %w", err)
	}
	if err := gst.ElementLinkMany(src, convert, scale, capsfilter, sink.Element); err != nil {
		return fmt.Errorf("failed to link pipeline: %w", err)
	}

	frame := &types.RawFrame{Width: s.cfg.Width, Height: s.cfg.Height, Format: s.cfg.Format}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return s.onSample(sink, frame, handler)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.pipeline = pipeline
	s.sink = sink
	s.wg.Add(1)
	go s.watchBus(ctx, pipeline)

	s.log.Info("Capturing %s as %s", s.device, s.cfg.Caps())
	return nil
}

// onSample runs on the GStreamer streaming thread. frame is reused for every
// sample; Data points into the mapped buffer only for the handler call.
func (s *Source) onSample(sink *app.Sink, frame *types.RawFrame, handler camera.FrameHandler) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()
	data := mapInfo.Bytes()
	if len(data) == 0 {
		s.emptyFrame.Add(1)
		return gst.FlowOK
	}

	frame.Data = data
	frame.Seq = s.seq.Add(1)
	frame.Timestamp = time.Now()
	frame.TraceID = uuid.New().String()
	handler(frame)
	frame.Data = nil

	return gst.FlowOK
}

func (s *Source) watchBus(ctx context.Context, pipeline *gst.Pipeline) {
	defer s.wg.Done()

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			s.log.Warn("End of stream from %s", s.device.Path)
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			s.busErrors.Add(1)
			s.log.Error("Pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, cur := msg.ParseStateChanged()
				s.log.Debug("Pipeline state %v -> %v", old, cur)
			}
		}
	}
}

var _ camera.ErrorCounter = (*Source)(nil)

// Errors returns the number of pipeline errors seen on the bus
func (s *Source) Errors() uint64 {
	return s.busErrors.Load()
}

// Stop implements camera.Source
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pipeline == nil {
		return nil
	}

	s.cancel()
	s.wg.Wait()

	err := s.pipeline.SetState(gst.StateNull)
	s.pipeline = nil
	s.sink = nil
	if err != nil {
		return fmt.Errorf("failed to stop pipeline: %w", err)
	}
	s.log.Info("Stopped %s after %d frames", s.device.Path, s.seq.Load())
	return nil
}
