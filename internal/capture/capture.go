// Package capture saves still photos of the latest processed frame.
package capture

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

// ErrNoFrame is returned by Capture before any frame has been seen
var ErrNoFrame = errors.New("no frame available")

// Subdir is where photos go below the root directory
const Subdir = "USBCamera/images"

// Status is the capture status payload
type Status struct {
	Count    int     `json:"count"`
	LastPath *string `json:"last_path"`
	LastSeq  uint64  `json:"last_seq"`
	Bytes    int64   `json:"bytes_written"`
	Dir      string  `json:"dir"`
}

// Capturer keeps a copy of the latest frame and writes it out on demand
type Capturer struct {
	dir     string
	quality int
	now     func() time.Time
	log     *logger.Module

	mu       sync.Mutex
	latest   *image.RGBA
	seq      uint64
	count    int
	lastPath string
	bytes    int64
}

// New creates a capturer writing below root/USBCamera/images
func New(root string) *Capturer {
	return &Capturer{
		dir:     filepath.Join(root, Subdir),
		quality: 90,
		now:     time.Now,
		log:     logger.For("Capture"),
	}
}

// Dir returns the output directory
func (c *Capturer) Dir() string {
	return c.dir
}

// Update copies frame as the capture candidate. The copy buffer is reused
// while the frame size stays the same.
func (c *Capturer) Update(frame *types.ConvertedFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.latest == nil || c.latest.Rect != frame.Image.Rect {
		c.latest = image.NewRGBA(frame.Image.Rect)
	}
	copy(c.latest.Pix, frame.Image.Pix)
	c.seq = frame.Seq
}

// Capture writes the latest frame as <unix-millis>.jpg and returns its path
func (c *Capturer) Capture() (string, error) {
	c.mu.Lock()
	if c.latest == nil {
		c.mu.Unlock()
		return "", ErrNoFrame
	}
	img := imaging.Clone(c.latest)
	seq := c.seq
	c.mu.Unlock()

	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", c.dir, err)
	}

	path := c.nextPath()
	if err := imaging.Save(img, path, imaging.JPEGQuality(c.quality)); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", path, err)
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	c.mu.Lock()
	c.count++
	c.lastPath = path
	c.bytes += size
	c.mu.Unlock()

	c.log.Info("Saved frame %d to %s (%d bytes)", seq, path, size)
	return path, nil
}

func (c *Capturer) nextPath() string {
	base := strconv.FormatInt(c.now().UnixMilli(), 10)
	path := filepath.Join(c.dir, base+".jpg")
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(c.dir, fmt.Sprintf("%s_%d.jpg", base, i))
	}
	return path
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Status returns the capture status payload
func (c *Capturer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{Count: c.count, LastSeq: c.seq, Bytes: c.bytes, Dir: c.dir}
	if c.lastPath != "" {
		p := c.lastPath
		st.LastPath = &p
	}
	return st
}
