// Package config holds the service configuration. Values come from the
// defaults, then a .env file, then FACECAM_* environment variables; the
// binary binds command-line flags over the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/camera"
	"github.com/dj-oyu/uvc-facecam/internal/pipeline"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "FACECAM_"

// Source names
const (
	SourceGst         = "gst"
	SourceShm         = "shm"
	SourceTestPattern = "test"
)

// Config is the runtime configuration of cmd/facecam
type Config struct {
	// Frame pipeline
	Width   int
	Height  int
	MaxFPS  float64
	Format  string
	Buffers int

	// Camera
	Source      string // gst, shm or test
	Device      string // auto, vendor:<id> or /dev/videoN
	DeviceFPS   int
	ShmName     string
	AutoPreview bool

	// Detector
	ModelPath      string
	ScoreThreshold float64

	// Servers
	HTTPAddr         string
	MetricsAddr      string
	STUNServers      []string
	MaxWebRTCClients int
	StatusInterval   time.Duration
	JPEGQuality      int

	// Outputs
	CaptureRoot string
	RedisURL    string // empty disables the Redis sink

	// Logging
	LogLevel string
	LogColor bool
}

// Default returns the built-in defaults
func Default() Config {
	return Config{
		Width:   640,
		Height:  480,
		MaxFPS:  10,
		Format:  "nv21",
		Buffers: pipeline.DefaultBuffers,

		Source:      SourceGst,
		Device:      "auto",
		DeviceFPS:   30,
		ShmName:     "/pet_camera_stream",
		AutoPreview: true,

		ModelPath:      "models/face_detection_yunet_2023mar.onnx",
		ScoreThreshold: 0.6,

		HTTPAddr:         ":8080",
		MetricsAddr:      ":9090",
		STUNServers:      []string{"stun:stun.l.google.com:19302"},
		MaxWebRTCClients: 10,
		StatusInterval:   2 * time.Second,
		JPEGQuality:      75,

		CaptureRoot: ".",

		LogLevel: "info",
		LogColor: true,
	}
}

// Load returns the defaults overridden by the given .env files (missing
// files are ignored) and the process environment
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	float := func(name string, dst *float64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	integer("WIDTH", &c.Width)
	integer("HEIGHT", &c.Height)
	float("MAX_FPS", &c.MaxFPS)
	str("FORMAT", &c.Format)
	integer("BUFFERS", &c.Buffers)
	str("SOURCE", &c.Source)
	str("DEVICE", &c.Device)
	integer("DEVICE_FPS", &c.DeviceFPS)
	str("SHM_NAME", &c.ShmName)
	boolean("AUTO_PREVIEW", &c.AutoPreview)
	str("MODEL", &c.ModelPath)
	float("SCORE_THRESHOLD", &c.ScoreThreshold)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("METRICS_ADDR", &c.MetricsAddr)
	integer("MAX_WEBRTC_CLIENTS", &c.MaxWebRTCClients)
	integer("JPEG_QUALITY", &c.JPEGQuality)
	str("CAPTURE_ROOT", &c.CaptureRoot)
	str("REDIS_URL", &c.RedisURL)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("LOG_COLOR", &c.LogColor)

	if v, ok := lookup(EnvPrefix + "STATUS_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSTATUS_INTERVAL: %w", EnvPrefix, err))
		} else {
			c.StatusInterval = d
		}
	}
	if v, ok := lookup(EnvPrefix + "STUN"); ok {
		c.STUNServers = SplitList(v)
	}

	return errors.Join(errs...)
}

// SplitList splits a comma-separated list, dropping empty items
func SplitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.MaxFPS < 0 {
		return fmt.Errorf("invalid max fps %v", c.MaxFPS)
	}
	if _, err := types.ParsePixelFormat(c.Format); err != nil {
		return err
	}
	if _, err := camera.ParseSelector(c.Device); err != nil {
		return err
	}
	switch c.Source {
	case SourceGst, SourceShm, SourceTestPattern:
	default:
		return fmt.Errorf("invalid source %q (want %s, %s or %s)", c.Source, SourceGst, SourceShm, SourceTestPattern)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality %d", c.JPEGQuality)
	}
	return nil
}

// Pipeline returns the frame pipeline configuration
func (c Config) Pipeline() (pipeline.Config, error) {
	format, err := types.ParsePixelFormat(c.Format)
	if err != nil {
		return pipeline.Config{}, err
	}
	sel, err := camera.ParseSelector(c.Device)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Width:    c.Width,
		Height:   c.Height,
		MaxFPS:   c.MaxFPS,
		Format:   format,
		Buffers:  c.Buffers,
		Selector: sel,
	}, nil
}
