package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/camera"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Width != 640 || cfg.Height != 480 || cfg.MaxFPS != 10 || cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"FACECAM_WIDTH":           "1280",
		"FACECAM_HEIGHT":          "720",
		"FACECAM_MAX_FPS":         "0",
		"FACECAM_FORMAT":          "i420",
		"FACECAM_DEVICE":          "vendor:1133",
		"FACECAM_STUN":            "stun:a:1, ,stun:b:2",
		"FACECAM_STATUS_INTERVAL": "500ms",
		"FACECAM_AUTO_PREVIEW":    "false",
	}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if cfg.Width != 1280 || cfg.Height != 720 || cfg.MaxFPS != 0 {
		t.Errorf("size/fps = %dx%d@%v", cfg.Width, cfg.Height, cfg.MaxFPS)
	}
	if len(cfg.STUNServers) != 2 || cfg.STUNServers[1] != "stun:b:2" {
		t.Errorf("STUNServers = %v", cfg.STUNServers)
	}
	if cfg.StatusInterval != 500*time.Millisecond || cfg.AutoPreview {
		t.Errorf("interval = %v, auto preview = %v", cfg.StatusInterval, cfg.AutoPreview)
	}

	pc, err := cfg.Pipeline()
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}
	if pc.Format != types.FormatI420 {
		t.Errorf("format = %v", pc.Format)
	}
	if pc.Selector == nil || !pc.Selector(camera.Device{VendorID: camera.VendorLogitech}) {
		t.Error("selector does not match a Logitech device")
	}
	if err := pc.Validate(); err != nil {
		t.Errorf("pipeline config invalid: %v", err)
	}
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		switch k {
		case "FACECAM_WIDTH":
			return "wide", true
		case "FACECAM_LOG_COLOR":
			return "maybe", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if cfg.Width != 640 {
		t.Errorf("Width changed to %d on a bad value", cfg.Width)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"negative fps", func(c *Config) { c.MaxFPS = -1 }},
		{"bad format", func(c *Config) { c.Format = "rgb24" }},
		{"bad device", func(c *Config) { c.Device = "usb0" }},
		{"bad source", func(c *Config) { c.Source = "rtsp" }},
		{"bad quality", func(c *Config) { c.JPEGQuality = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facecam.env")
	if err := os.WriteFile(path, []byte("FACECAM_HTTP_ADDR=:18080\nFACECAM_SOURCE=test\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv never overrides variables that are already set; clear them
	// and restore afterwards.
	t.Setenv("FACECAM_HTTP_ADDR", "")
	t.Setenv("FACECAM_SOURCE", "")
	os.Unsetenv("FACECAM_HTTP_ADDR")
	os.Unsetenv("FACECAM_SOURCE")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":18080" || cfg.Source != SourceTestPattern {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestSplitList(t *testing.T) {
	if got := SplitList(""); len(got) != 0 {
		t.Fatalf("SplitList(\"\") = %v", got)
	}
	if got := SplitList("a,b"); len(got) != 2 {
		t.Fatalf("SplitList = %v", got)
	}
}
