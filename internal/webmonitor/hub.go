package webmonitor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dj-oyu/uvc-facecam/internal/events"
	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/internal/metrics"
	"github.com/dj-oyu/uvc-facecam/internal/overlay"
	"github.com/dj-oyu/uvc-facecam/internal/pipeline"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

// FrameObserver receives every processed frame before it is annotated.
// The frame is only valid for the duration of the call.
type FrameObserver interface {
	Update(frame *types.ConvertedFrame)
}

// EventSink receives every detection event.
type EventSink func(e events.Event)

// StatusSource contributes a section of the status payload.
type StatusSource func() any

// HubOption configures a Hub
type HubOption func(*Hub)

// WithObserver registers a frame observer such as the still capturer
func WithObserver(o FrameObserver) HubOption {
	return func(h *Hub) { h.observers = append(h.observers, o) }
}

// WithSink registers an event sink such as the Redis publisher
func WithSink(s EventSink) HubOption {
	return func(h *Hub) { h.sinks = append(h.sinks, s) }
}

// WithHubMetrics sets the metrics the hub updates
func WithHubMetrics(m *metrics.Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// WithPipelineStatus sets the source of the status "pipeline" section
func WithPipelineStatus(f StatusSource) HubOption {
	return func(h *Hub) { h.pipelineStatus = f }
}

// WithCameraStatus sets the source of the status "camera" section
func WithCameraStatus(f StatusSource) HubOption {
	return func(h *Hub) { h.cameraStatus = f }
}

// Hub is the pipeline consumer. It renders results, keeps the monitor
// state and fans frames and events out to stream clients and sinks.
type Hub struct {
	cfg     Config
	monitor *Monitor
	metrics *metrics.Metrics
	log     *logger.Module

	frames     *Broadcaster[[]byte]
	detections *Broadcaster[*events.Serialized]
	status     *Broadcaster[*events.Serialized]

	observers      []FrameObserver
	sinks          []EventSink
	pipelineStatus StatusSource
	cameraStatus   StatusSource

	mu         sync.Mutex
	latestJPEG []byte
	latestSeq  uint64
	lastErrLog time.Time
}

// NewHub creates a hub
func NewHub(cfg Config, opts ...HubOption) *Hub {
	cfg = cfg.withDefaults()
	h := &Hub{
		cfg:     cfg,
		monitor: NewMonitor(cfg.TargetFPS, cfg.HistorySize),
		log:     logger.For("Hub"),
	}
	for _, opt := range opts {
		opt(h)
	}

	mjpegGauge, sseGauge := h.gauges()
	h.frames = NewBroadcaster[[]byte]("FrameBroadcaster", 2, mjpegGauge)
	h.detections = NewBroadcaster[*events.Serialized]("DetectionBroadcaster", 8, sseGauge)
	h.status = NewBroadcaster[*events.Serialized]("StatusBroadcaster", 2, sseGauge)
	return h
}

func (h *Hub) gauges() (mjpeg, sse *atomic.Int64) {
	if h.metrics == nil {
		return nil, nil
	}
	return &h.metrics.MJPEGClients, &h.metrics.SSEClients
}

// Monitor returns the hub's monitor
func (h *Hub) Monitor() *Monitor {
	return h.monitor
}

// OnResult is the pipeline result callback
func (h *Hub) OnResult(frame *types.ConvertedFrame, detections []types.Detection, fps float64) {
	e := events.New(frame.Seq, frame.Timestamp, fps, detections)
	h.monitor.Record(e)

	for _, o := range h.observers {
		o.Update(frame)
	}

	if ser, err := events.Serialize(e); err != nil {
		h.log.Error("Serialize frame %d: %v", e.FrameNumber, err)
	} else {
		h.detections.Broadcast(ser)
	}
	for _, sink := range h.sinks {
		sink(e)
	}

	// The frame belongs to us until we return, so draw on it in place.
	overlay.Annotate(frame.Image, detections, fps, h.cfg.Overlay)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, frame.Image, imaging.JPEG, imaging.JPEGQuality(h.cfg.JPEGQuality)); err != nil {
		h.log.Error("JPEG encode frame %d: %v", frame.Seq, err)
		return
	}
	jpegData := buf.Bytes()
	if h.metrics != nil {
		h.metrics.EncodedFrames.Add(1)
	}

	// Results may complete out of order; never replace a newer frame.
	h.mu.Lock()
	fresh := frame.Seq >= h.latestSeq
	if fresh {
		h.latestSeq = frame.Seq
		h.latestJPEG = jpegData
	}
	h.mu.Unlock()

	if fresh {
		h.frames.Broadcast(jpegData)
	}
}

// OnError is the pipeline error callback
func (h *Hub) OnError(err error) {
	h.monitor.RecordError(err)

	h.mu.Lock()
	now := time.Now()
	verbose := now.Sub(h.lastErrLog) >= time.Second
	if verbose {
		h.lastErrLog = now
	}
	h.mu.Unlock()

	var fe *pipeline.FrameError
	switch {
	case !verbose:
		h.log.Debug("Frame failed: %v", err)
	case errors.As(err, &fe):
		h.log.Warn("Frame %d failed at %s: %v", fe.Seq, fe.Stage, fe.Err)
	default:
		h.log.Warn("Frame failed: %v", err)
	}
}

// Snapshot returns the latest annotated JPEG
func (h *Hub) Snapshot() ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latestJPEG, h.latestJPEG != nil
}

// Status builds the status payload
func (h *Hub) Status() events.Status {
	stats, latest, history := h.monitor.Snapshot()
	errCount, lastErr := h.monitor.Errors()
	st := events.Status{
		Monitor:          stats,
		Errors:           events.ErrorStats{Count: errCount, LastError: lastErr},
		LatestDetection:  latest,
		DetectionHistory: history,
		Timestamp:        float64(time.Now().UnixNano()) / 1e9,
	}
	if h.pipelineStatus != nil {
		st.Pipeline = h.pipelineStatus()
	}
	if h.cameraStatus != nil {
		st.Camera = h.cameraStatus()
	}
	return st
}

func (h *Hub) serializedStatus() *events.Serialized {
	ser, err := events.Serialize(h.Status())
	if err != nil {
		h.log.Error("Serialize status: %v", err)
		return nil
	}
	return ser
}

// Run broadcasts status events every StatusInterval until ctx is done, then
// disconnects all stream clients.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("Starting status broadcaster (interval=%v)", h.cfg.StatusInterval)
	ticker := time.NewTicker(h.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.frames.CloseAll()
			h.detections.CloseAll()
			h.status.CloseAll()
			return
		case <-ticker.C:
			if h.status.Count() == 0 {
				continue
			}
			if ser := h.serializedStatus(); ser != nil {
				h.status.Broadcast(ser)
			}
		}
	}
}
