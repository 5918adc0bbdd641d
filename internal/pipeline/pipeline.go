// Package pipeline gates camera frames by rate, converts them to RGBA and runs
// face detection asynchronously, reporting each outcome through callbacks.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/detector"
	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/internal/metrics"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

// ResultFunc receives a successfully processed frame. frame is only valid
// until the callback returns; copy the pixels to keep them.
type ResultFunc func(frame *types.ConvertedFrame, detections []types.Detection, fps float64)

// ErrorFunc receives a *FrameError for an admitted frame that failed
type ErrorFunc func(err error)

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the module logger
func WithLogger(l *logger.Module) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithMetrics mirrors pipeline counters into m
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithContext sets the parent context of detector calls
func WithContext(ctx context.Context) Option {
	return func(p *Pipeline) { p.parent = ctx }
}

// Stats is a snapshot of pipeline counters
type Stats struct {
	Submitted     uint64  `json:"submitted"`
	Admitted      uint64  `json:"admitted"`
	Throttled     uint64  `json:"throttled"`
	PoolGrowth    uint64  `json:"pool_growth"` // buffers allocated past the preallocated pool
	ConvertErrors uint64  `json:"convert_errors"`
	DetectErrors  uint64  `json:"detect_errors"`
	Results       uint64  `json:"results"`
	InFlight      int     `json:"in_flight"`
	Buffers       int     `json:"buffers"`
	LastFPS       float64 `json:"last_fps"`
}

// Pipeline is the frame-rate-gated conversion and detection engine
type Pipeline struct {
	cfg      Config
	det      detector.Detector
	onResult ResultFunc
	onError  ErrorFunc
	log      *logger.Module
	metrics  *metrics.Metrics

	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	throttle throttle
	pool     *pool
	seq      uint64
	active   atomic.Bool

	submitted     atomic.Uint64
	admitted      atomic.Uint64
	throttled     atomic.Uint64
	poolGrowth    atomic.Uint64
	convertErrors atomic.Uint64
	detectErrors  atomic.Uint64
	results       atomic.Uint64
	lastFPS       atomic.Uint64 // float64 bits
}

// New creates a pipeline. det, onResult and onError are required.
func New(cfg Config, det detector.Detector, onResult ResultFunc, onError ErrorFunc, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if det == nil || onResult == nil || onError == nil {
		return nil, fmt.Errorf("%w: detector and callbacks are required", ErrInvalidConfig)
	}
	if cfg.Buffers == 0 {
		cfg.Buffers = DefaultBuffers
	}

	p := &Pipeline{
		cfg:      cfg,
		det:      det,
		onResult: onResult,
		onError:  onError,
		parent:   context.Background(),
		throttle: throttle{interval: cfg.Interval()},
		pool:     newPool(cfg.Buffers, cfg.Width, cfg.Height),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.For("Pipeline")
	}
	p.ctx, p.cancel = context.WithCancel(p.parent)
	p.active.Store(true)

	p.log.Info("Pipeline ready: %dx%d, max %.2f fps (interval %v), %d preallocated buffers",
		cfg.Width, cfg.Height, cfg.MaxFPS, cfg.Interval(), cfg.Buffers)
	return p, nil
}

// Submit offers a frame captured at ts. It returns true when the frame was
// admitted, in which case exactly one of the callbacks will follow unless the
// pipeline is closed first. Only throttled frames are dropped; when every
// buffer is in flight the pool grows instead.
func (p *Pipeline) Submit(frame *types.RawFrame, ts time.Time) bool {
	p.submitted.Add(1)
	p.count(func(m *metrics.Metrics) { m.FramesSubmitted.Add(1) })
	if frame == nil {
		return false
	}

	p.mu.Lock()
	if !p.active.Load() {
		p.mu.Unlock()
		return false
	}
	if !p.throttle.allow(ts) {
		p.mu.Unlock()
		p.throttled.Add(1)
		p.count(func(m *metrics.Metrics) { m.FramesThrottled.Add(1) })
		return false
	}
	idx, s, grown := p.pool.get()
	size := p.pool.size()
	fps := p.throttle.commit(ts)
	p.seq++
	seq := frame.Seq
	if seq == 0 {
		seq = p.seq
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if grown {
		p.poolGrowth.Add(1)
		p.count(func(m *metrics.Metrics) { m.PoolGrowth.Add(1) })
		p.log.Debug("All buffers in flight, pool grown to %d for frame %d (trace %s)", size, seq, frame.TraceID)
	}
	p.admitted.Add(1)
	p.lastFPS.Store(math.Float64bits(fps))
	p.count(func(m *metrics.Metrics) {
		m.FramesAdmitted.Add(1)
		m.SetFPS(fps)
	})

	if err := p.convert(s, frame); err != nil {
		p.convertErrors.Add(1)
		p.count(func(m *metrics.Metrics) { m.ConvertErrors.Add(1) })
		p.release(idx)
		p.fail(&FrameError{Seq: seq, TraceID: frame.TraceID, Stage: StageConvert, Err: err})
		p.wg.Done()
		return true
	}
	s.frame.Seq = seq
	s.frame.Timestamp = ts

	p.count(func(m *metrics.Metrics) { m.InFlight.Add(1) })
	go p.detect(idx, s, frame.TraceID, fps)
	return true
}

func (p *Pipeline) convert(s *slot, frame *types.RawFrame) error {
	if frame.Width != p.cfg.Width || frame.Height != p.cfg.Height {
		return fmt.Errorf("%w: frame %dx%d, configured %dx%d",
			ErrFrameSize, frame.Width, frame.Height, p.cfg.Width, p.cfg.Height)
	}
	return s.conv.Convert(s.img, frame.Data, frame.Format)
}

// detect runs on its own goroutine and owns slot idx until it returns
func (p *Pipeline) detect(idx int, s *slot, traceID string, fps float64) {
	defer p.wg.Done()
	defer p.release(idx)
	defer p.count(func(m *metrics.Metrics) { m.InFlight.Add(-1) })

	start := time.Now()
	detections, err := p.det.Detect(p.ctx, s.img)
	elapsed := time.Since(start)
	p.count(func(m *metrics.Metrics) { m.ObserveDetect(elapsed) })

	if err != nil {
		p.detectErrors.Add(1)
		p.count(func(m *metrics.Metrics) { m.DetectErrors.Add(1) })
		p.fail(&FrameError{Seq: s.frame.Seq, TraceID: traceID, Stage: StageDetect, Err: err})
		return
	}

	if !p.active.Load() {
		return
	}
	p.results.Add(1)
	p.count(func(m *metrics.Metrics) {
		m.Results.Add(1)
		m.FacesDetected.Add(uint64(len(detections)))
	})
	p.onResult(&s.frame, detections, fps)
}

func (p *Pipeline) fail(err *FrameError) {
	if !p.active.Load() {
		return
	}
	p.log.Debug("%v", err)
	p.onError(err)
}

func (p *Pipeline) release(idx int) {
	p.mu.Lock()
	p.pool.put(idx)
	p.mu.Unlock()
}

func (p *Pipeline) count(f func(m *metrics.Metrics)) {
	if p.metrics != nil {
		f(p.metrics)
	}
}

// Close stops admitting frames, cancels running detections and waits for
// them to finish or for ctx to expire. No callback starts after Close begins.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	wasActive := p.active.Swap(false)
	p.mu.Unlock()

	if wasActive {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if wasActive {
			p.log.Info("Pipeline closed (%d admitted, %d results)", p.admitted.Load(), p.results.Load())
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight detections: %w", ctx.Err())
	}
}

// Active reports whether the pipeline still admits frames
func (p *Pipeline) Active() bool {
	return p.active.Load()
}

// Stats returns a snapshot of the counters
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	inFlight, buffers := p.pool.inUse(), p.pool.size()
	p.mu.Unlock()

	return Stats{
		Submitted:     p.submitted.Load(),
		Admitted:      p.admitted.Load(),
		Throttled:     p.throttled.Load(),
		PoolGrowth:    p.poolGrowth.Load(),
		ConvertErrors: p.convertErrors.Load(),
		DetectErrors:  p.detectErrors.Load(),
		Results:       p.results.Load(),
		InFlight:      inFlight,
		Buffers:       buffers,
		LastFPS:       math.Float64frombits(p.lastFPS.Load()),
	}
}
