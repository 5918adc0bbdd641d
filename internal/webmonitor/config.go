package webmonitor

import (
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/overlay"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	TargetFPS      float64
	StatusInterval time.Duration
	JPEGQuality    int
	HistorySize    int
	Overlay        overlay.Options
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		TargetFPS:      10,
		StatusInterval: 2 * time.Second,
		JPEGQuality:    75,
		HistorySize:    8,
		Overlay:        overlay.DefaultOptions(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if c.Overlay.Thickness <= 0 {
		c.Overlay = def.Overlay
	}
	return c
}
