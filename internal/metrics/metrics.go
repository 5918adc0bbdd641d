package metrics

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Pipeline counters
	FramesSubmitted atomic.Uint64
	FramesAdmitted  atomic.Uint64
	FramesThrottled atomic.Uint64
	PoolGrowth      atomic.Uint64
	Results         atomic.Uint64
	FacesDetected   atomic.Uint64

	// Error counters
	ConvertErrors atomic.Uint64
	DetectErrors  atomic.Uint64
	SourceErrors  atomic.Uint64

	// Latest values
	fpsBits         atomic.Uint64 // float64 bits of the last instantaneous fps
	DetectLatencyMs atomic.Uint64
	InFlight        atomic.Int64
	EncodedFrames   atomic.Uint64
	CapturesWritten atomic.Uint64
	EventsPublished atomic.Uint64
	EventsDropped   atomic.Uint64

	// Client tracking
	MJPEGClients  atomic.Int64
	SSEClients    atomic.Int64
	WebRTCClients atomic.Int64

	detectLatency prometheus.Histogram

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		detectLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "facecam_detect_latency_seconds",
			Help:    "Time spent in the face detector per admitted frame",
			Buckets: []float64{.005, .01, .02, .05, .1, .2, .5, 1},
		}),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, f func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		f,
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Frame processing metrics
	m.counter("facecam_frames_submitted_total", "Frames offered to the pipeline", &m.FramesSubmitted)
	m.counter("facecam_frames_admitted_total", "Frames that passed the rate gate", &m.FramesAdmitted)
	m.counter("facecam_frames_throttled_total", "Frames dropped by the rate gate", &m.FramesThrottled)
	m.counter("facecam_pool_growth_total", "Conversion buffers allocated because every buffer was in flight", &m.PoolGrowth)
	m.counter("facecam_results_total", "Detection results delivered", &m.Results)
	m.counter("facecam_faces_detected_total", "Faces reported by the detector", &m.FacesDetected)
	m.counter("facecam_frames_encoded_total", "Annotated frames encoded to JPEG", &m.EncodedFrames)

	// Error metrics
	m.counter("facecam_convert_errors_total", "Frames that failed pixel conversion", &m.ConvertErrors)
	m.counter("facecam_detect_errors_total", "Frames the detector failed on", &m.DetectErrors)
	m.counter("facecam_source_errors_total", "Camera source read errors", &m.SourceErrors)

	// Consumer side
	m.counter("facecam_captures_total", "Still photos written", &m.CapturesWritten)
	m.counter("facecam_events_published_total", "Detection events republished", &m.EventsPublished)
	m.counter("facecam_events_dropped_total", "Detection events dropped by slow subscribers", &m.EventsDropped)

	// Latency and rate
	m.gauge("facecam_fps", "Instantaneous frame rate of admitted frames", m.FPS)
	m.gauge("facecam_detect_latency_ms", "Last detection latency in milliseconds",
		func() float64 { return float64(m.DetectLatencyMs.Load()) })
	m.gauge("facecam_detections_in_flight", "Detections currently running",
		func() float64 { return float64(m.InFlight.Load()) })
	m.registry.MustRegister(m.detectLatency)

	// Client metrics
	m.gauge("facecam_mjpeg_clients", "Connected MJPEG clients",
		func() float64 { return float64(m.MJPEGClients.Load()) })
	m.gauge("facecam_sse_clients", "Connected event-stream and websocket clients",
		func() float64 { return float64(m.SSEClients.Load()) })
	m.gauge("facecam_webrtc_clients", "Connected WebRTC data channel clients",
		func() float64 { return float64(m.WebRTCClients.Load()) })
}

// SetFPS records the latest instantaneous fps
func (m *Metrics) SetFPS(fps float64) {
	m.fpsBits.Store(math.Float64bits(fps))
}

// FPS returns the latest instantaneous fps
func (m *Metrics) FPS() float64 {
	return math.Float64frombits(m.fpsBits.Load())
}

// ObserveDetect records one detector call
func (m *Metrics) ObserveDetect(duration time.Duration) {
	m.DetectLatencyMs.Store(uint64(duration.Milliseconds()))
	m.detectLatency.Observe(duration.Seconds())
}

// Registry exposes the private registry (tests gather from it)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr until ctx is cancelled
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
