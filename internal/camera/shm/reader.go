package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <semaphore.h>
#include <errno.h>

#ifndef EINVAL
#define EINVAL 22
#endif

#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

// Layout written by the capture daemon
typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    float brightness_avg;
    uint32_t brightness_lux;
    uint8_t brightness_zone;
    uint8_t correction_applied;
    uint8_t _reserved[2];
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

typedef struct {
    uint64_t frame_number;
    int64_t sec;
    int64_t nsec;
    int width;
    int height;
    int format;
    size_t data_size;
} FrameHeader;

SharedFrameBuffer* open_shm(const char* name) {
    int fd = shm_open(name, O_RDWR, 0666);
    if (fd == -1) {
        return NULL;
    }
    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL, sizeof(SharedFrameBuffer), PROT_READ | PROT_WRITE, MAP_SHARED, fd, 0);
    close(fd);
    if (shm == MAP_FAILED) {
        return NULL;
    }
    return shm;
}

int wait_new_frame(SharedFrameBuffer* shm, int timeout_ms) {
    if (shm == NULL) {
        return -EINVAL;
    }
    struct timespec ts;
    if (clock_gettime(CLOCK_REALTIME, &ts) != 0) {
        return -errno;
    }
    ts.tv_sec += timeout_ms / 1000;
    ts.tv_nsec += (timeout_ms % 1000) * 1000000;
    if (ts.tv_nsec >= 1000000000) {
        ts.tv_sec += 1;
        ts.tv_nsec -= 1000000000;
    }
    if (sem_timedwait((sem_t*)&shm->new_frame_sem, &ts) == -1) {
        return -errno;
    }
    return 0;
}

void close_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

// Copy the newest frame's header, and its pixels into dst when they fit.
// Returns 0 on success, 1 when nothing has been written yet, -1 when dst is too small.
int copy_latest(SharedFrameBuffer* shm, FrameHeader* hdr, uint8_t* dst, size_t cap) {
    uint32_t write_index = shm->write_index;
    if (write_index == 0) {
        return 1;
    }
    Frame* f = &shm->frames[(write_index - 1) % RING_BUFFER_SIZE];
    hdr->frame_number = f->frame_number;
    hdr->sec = f->timestamp.tv_sec;
    hdr->nsec = f->timestamp.tv_nsec;
    hdr->width = f->width;
    hdr->height = f->height;
    hdr->format = f->format;
    hdr->data_size = f->data_size;
    if (f->data_size > cap || f->data_size > MAX_FRAME_SIZE) {
        return -1;
    }
    memcpy(dst, f->data, f->data_size);
    return 0;
}
*/
import "C"
import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/dj-oyu/uvc-facecam/internal/logger"
)

const (
	// Format codes written by the capture daemon
	FormatJPEG = 0
	FormatNV12 = 1
	FormatRGB  = 2
	FormatH264 = 3

	RingBufferSize = 30
	MaxFrameSize   = 1920 * 1080 * 3 / 2

	// DefaultName is the stream the capture daemon publishes
	DefaultName = "/pet_camera_stream"
)

var errTimeout = errors.New("timeout")

// Reader maps the capture daemon's shared-memory ring
type Reader struct {
	shm  *C.SharedFrameBuffer
	name string
}

// OpenReader opens the ring, retrying once a second until ctx is done
func OpenReader(ctx context.Context, name string) (*Reader, error) {
	if name == "" {
		name = DefaultName
	}
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	log := logger.For("Reader")
	for attempt := 1; ; attempt++ {
		if shm := C.open_shm(cName); shm != nil {
			log.Info("Opened shared memory %s", name)
			return &Reader{shm: shm, name: name}, nil
		}
		if attempt%5 == 1 {
			log.Info("Waiting for shared memory %s to appear... (attempt %d)", name, attempt)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("open shared memory %s: %w", name, ctx.Err())
		case <-time.After(time.Second):
		}
	}
}

// WaitNewFrame blocks on the daemon's semaphore for up to timeout
func (r *Reader) WaitNewFrame(timeout time.Duration) error {
	if r.shm == nil {
		return fmt.Errorf("shared memory not open")
	}
	result := int(C.wait_new_frame(r.shm, C.int(timeout.Milliseconds())))
	if result == 0 {
		return nil
	}

	switch errNum := -result; errNum {
	case 110: // ETIMEDOUT
		return errTimeout
	case 4: // EINTR
		return fmt.Errorf("interrupted (errno %d)", errNum)
	default:
		return fmt.Errorf("semaphore wait failed (errno %d)", errNum)
	}
}

// ReadLatest copies the newest frame into dst. ok is false when the ring is
// still empty.
func (r *Reader) ReadLatest(dst []byte) (hdr Header, ok bool, err error) {
	if r.shm == nil {
		return Header{}, false, fmt.Errorf("shared memory not open")
	}
	if len(dst) == 0 {
		return Header{}, false, fmt.Errorf("empty destination buffer")
	}

	var ch C.FrameHeader
	switch C.copy_latest(r.shm, &ch, (*C.uint8_t)(unsafe.Pointer(&dst[0])), C.size_t(len(dst))) {
	case 1:
		return Header{}, false, nil
	case -1:
		return Header{}, false, fmt.Errorf("frame of %d bytes exceeds buffer of %d", int(ch.data_size), len(dst))
	}

	return Header{
		FrameNumber: uint64(ch.frame_number),
		Timestamp:   time.Unix(int64(ch.sec), int64(ch.nsec)),
		Width:       int(ch.width),
		Height:      int(ch.height),
		Format:      int(ch.format),
		Size:        int(ch.data_size),
	}, true, nil
}

// Close unmaps the ring
func (r *Reader) Close() error {
	if r.shm != nil {
		C.close_shm(r.shm)
		r.shm = nil
	}
	return nil
}
