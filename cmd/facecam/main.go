package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/camera"
	"github.com/dj-oyu/uvc-facecam/internal/camera/gst"
	"github.com/dj-oyu/uvc-facecam/internal/camera/shm"
	"github.com/dj-oyu/uvc-facecam/internal/capture"
	"github.com/dj-oyu/uvc-facecam/internal/config"
	"github.com/dj-oyu/uvc-facecam/internal/detector"
	"github.com/dj-oyu/uvc-facecam/internal/detector/yunet"
	"github.com/dj-oyu/uvc-facecam/internal/events"
	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/internal/metrics"
	"github.com/dj-oyu/uvc-facecam/internal/pipeline"
	"github.com/dj-oyu/uvc-facecam/internal/sink"
	"github.com/dj-oyu/uvc-facecam/internal/webmonitor"
	"github.com/dj-oyu/uvc-facecam/internal/webrtc"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
	"github.com/redis/go-redis/v9"
)

// Server wires the camera session, the frame pipeline and the web monitor
type Server struct {
	cfg    config.Config
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics    *metrics.Metrics
	detector   detector.Detector
	pipeline   *pipeline.Pipeline
	session    *camera.Session
	hub        *webmonitor.Hub
	webrtc     *webrtc.Server
	redis      *redis.Client
	publisher  *sink.Publisher
	httpServer *http.Server
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var stun, pprofAddr string
	flag.IntVar(&cfg.Width, "width", cfg.Width, "Frame width")
	flag.IntVar(&cfg.Height, "height", cfg.Height, "Frame height")
	flag.Float64Var(&cfg.MaxFPS, "max-fps", cfg.MaxFPS, "Maximum processed frames per second (0 = unthrottled)")
	flag.StringVar(&cfg.Format, "format", cfg.Format, "Pixel format (nv21, nv12, i420)")
	flag.IntVar(&cfg.Buffers, "buffers", cfg.Buffers, "Preallocated conversion buffers")
	flag.StringVar(&cfg.Source, "source", cfg.Source, "Frame source (gst, shm, test)")
	flag.StringVar(&cfg.Device, "device", cfg.Device, "Camera selector (auto, vendor:<id>, /dev/videoN)")
	flag.IntVar(&cfg.DeviceFPS, "device-fps", cfg.DeviceFPS, "Requested camera frame rate")
	flag.StringVar(&cfg.ShmName, "shm", cfg.ShmName, "Shared memory name for the shm source")
	flag.BoolVar(&cfg.AutoPreview, "auto-preview", cfg.AutoPreview, "Open the camera and start preview at startup")
	flag.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "YuNet ONNX model path")
	flag.Float64Var(&cfg.ScoreThreshold, "score-threshold", cfg.ScoreThreshold, "Minimum face confidence")
	flag.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "HTTP server address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address (empty disables)")
	flag.StringVar(&pprofAddr, "pprof", "", "pprof server address (empty disables)")
	flag.StringVar(&stun, "stun", "", "STUN server URLs (comma-separated, overrides config)")
	flag.IntVar(&cfg.MaxWebRTCClients, "max-clients", cfg.MaxWebRTCClients, "Maximum WebRTC clients")
	flag.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality, "MJPEG quality (1-100)")
	flag.StringVar(&cfg.CaptureRoot, "capture-root", cfg.CaptureRoot, "Root directory for still photos")
	flag.StringVar(&cfg.RedisURL, "redis", cfg.RedisURL, "Redis URL for detection events (empty disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&cfg.LogColor, "log-color", cfg.LogColor, "Enable colored log output")
	flag.Parse()

	if stun != "" {
		cfg.STUNServers = config.SplitList(stun)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Info("Main", "Face camera starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// NewServer builds every component from cfg
func NewServer(cfg config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{cfg: cfg, ctx: ctx, cancel: cancel, metrics: metrics.New()}

	pcfg, err := cfg.Pipeline()
	if err != nil {
		cancel()
		return nil, err
	}

	s.detector = newDetector(cfg)

	src, err := newSource(cfg, pcfg)
	if err != nil {
		cancel()
		return nil, err
	}

	capturer := capture.New(cfg.CaptureRoot)
	s.webrtc = webrtc.NewServer(cfg.STUNServers, cfg.MaxWebRTCClients, s.metrics)

	hubOpts := []webmonitor.HubOption{
		webmonitor.WithObserver(capturer),
		webmonitor.WithHubMetrics(s.metrics),
		webmonitor.WithSink(s.webrtc.Send),
	}

	if cfg.RedisURL != "" {
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		client, err := sink.Connect(pingCtx, cfg.RedisURL)
		pingCancel()
		if err != nil {
			logger.Warn("Main", "Redis sink disabled: %v", err)
		} else {
			s.redis = client
			s.publisher = sink.NewPublisher(client, sink.Options{
				LatestKey: sink.DefaultLatestKey,
				LatestTTL: time.Minute,
				Metrics:   s.metrics,
			})
			hubOpts = append(hubOpts, webmonitor.WithSink(func(e events.Event) { s.publisher.Publish(e) }))
		}
	}

	hubOpts = append(hubOpts,
		webmonitor.WithPipelineStatus(func() any { return s.pipeline.Stats() }),
		webmonitor.WithCameraStatus(func() any { return s.session.Status() }),
	)
	s.hub = webmonitor.NewHub(webmonitor.Config{
		Addr:        cfg.HTTPAddr,
		TargetFPS:   cfg.MaxFPS,
		JPEGQuality: cfg.JPEGQuality,
	}, hubOpts...)

	s.pipeline, err = pipeline.New(pcfg, s.detector, s.hub.OnResult, s.hub.OnError,
		pipeline.WithLogger(logger.For("Pipeline")),
		pipeline.WithMetrics(s.metrics),
		pipeline.WithContext(ctx),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	s.session = camera.NewSession(src, func(frame *types.RawFrame) {
		s.pipeline.Submit(frame, frame.Timestamp)
	}, logger.For("Camera"))

	web := webmonitor.NewServer(s.hub, webmonitor.Deps{
		Camera:      s.session,
		Capturer:    capturer,
		WebRTC:      s.webrtc,
		BaseContext: ctx,
	})
	s.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: web.Handler(),
	}

	return s, nil
}

func newDetector(cfg config.Config) detector.Detector {
	ycfg := yunet.DefaultConfig()
	ycfg.ModelPath = cfg.ModelPath
	ycfg.ConfidenceThresh = cfg.ScoreThreshold
	ycfg.InputWidth = cfg.Width
	ycfg.InputHeight = cfg.Height

	det, err := yunet.New(ycfg)
	if err != nil {
		logger.Warn("Main", "Face detector unavailable, reporting no faces: %v", err)
		return detector.NewStatic()
	}
	return det
}

func newSource(cfg config.Config, pcfg pipeline.Config) (camera.Source, error) {
	switch cfg.Source {
	case config.SourceTestPattern:
		return camera.NewTestPattern(cfg.Width, cfg.Height, pcfg.Format, float64(cfg.DeviceFPS)), nil

	case config.SourceShm:
		if pcfg.Format != types.FormatNV12 {
			logger.Info("Main", "shm source delivers NV12 frames, ignoring format %s", pcfg.Format)
		}
		return shm.New(cfg.ShmName), nil

	default:
		devices, err := camera.Enumerate()
		if err != nil {
			return nil, fmt.Errorf("failed to enumerate cameras: %w", err)
		}
		dev, err := camera.Select(devices, pcfg.Selector)
		if err != nil {
			return nil, fmt.Errorf("select camera %q: %w", cfg.Device, err)
		}
		logger.Info("Main", "Using camera %s", dev)
		return gst.New(dev, gst.Config{
			Width:     cfg.Width,
			Height:    cfg.Height,
			Format:    pcfg.Format,
			DeviceFPS: cfg.DeviceFPS,
		}), nil
	}
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting face camera...")
	logger.Info("Main", "  Source: %s (%s)", s.cfg.Source, s.session.Status().Device)
	logger.Info("Main", "  Frame: %dx%d %s, max %.1f fps", s.cfg.Width, s.cfg.Height, s.cfg.Format, s.cfg.MaxFPS)
	logger.Info("Main", "  HTTP server: %s", s.cfg.HTTPAddr)
	logger.Info("Main", "  Metrics server: %s", s.cfg.MetricsAddr)

	if s.cfg.MetricsAddr != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.metrics.StartServer(s.ctx, s.cfg.MetricsAddr); err != nil {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()

	if s.publisher != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.publisher.Run(s.ctx)
		}()
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if s.cfg.AutoPreview {
		if err := s.session.Open(s.ctx); err != nil {
			return fmt.Errorf("failed to open camera: %w", err)
		}
		if err := s.session.StartPreview(); err != nil {
			return err
		}
	}

	logger.Info("Main", "Server started successfully")
	return nil
}

// Shutdown stops the camera, drains in-flight detections and stops the servers
func (s *Server) Shutdown() error {
	var errs []error

	if err := s.session.Close(); err != nil {
		errs = append(errs, err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := s.pipeline.Close(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	drainCancel()
	stats := s.pipeline.Stats()
	logger.Info("Main", "Pipeline: %d submitted, %d admitted, %d throttled, %d results, %d buffers",
		stats.Submitted, stats.Admitted, stats.Throttled, stats.Results, stats.Buffers)

	// Cancelling the base context ends the stream handlers so Shutdown does not wait on them.
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}

	for id, st := range s.webrtc.ClientStats() {
		logger.Info("Main", "WebRTC client %s: %d sent, %d dropped", id, st.Sent, st.Dropped)
	}
	if err := s.webrtc.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := s.detector.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	s.wg.Wait()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
