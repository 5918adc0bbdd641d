package pipeline

import (
	"image"

	"github.com/dj-oyu/uvc-facecam/internal/yuv"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

// slot is one conversion buffer. While checked out it belongs to exactly one
// in-flight frame.
type slot struct {
	conv  *yuv.Converter
	img   *image.RGBA
	frame types.ConvertedFrame
}

func newSlot(width, height int) *slot {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	return &slot{
		conv:  yuv.NewConverter(width, height),
		img:   img,
		frame: types.ConvertedFrame{Image: img},
	}
}

// pool hands out slots by index and grows by one slot when every slot is in
// flight. Slots are never freed, so once the pool has reached the peak
// in-flight count no further allocation happens. Guarded by the pipeline mutex.
type pool struct {
	width, height int
	slots         []*slot
	free          []int
}

func newPool(n, width, height int) *pool {
	p := &pool{
		width:  width,
		height: height,
		slots:  make([]*slot, n),
		free:   make([]int, 0, n),
	}
	for i := range p.slots {
		p.slots[i] = newSlot(width, height)
		p.free = append(p.free, n-1-i)
	}
	return p
}

// get checks out a slot. grown reports that a new slot had to be allocated.
func (p *pool) get() (idx int, s *slot, grown bool) {
	n := len(p.free)
	if n == 0 {
		p.slots = append(p.slots, newSlot(p.width, p.height))
		idx = len(p.slots) - 1
		return idx, p.slots[idx], true
	}
	idx = p.free[n-1]
	p.free = p.free[:n-1]
	return idx, p.slots[idx], false
}

func (p *pool) put(idx int) {
	p.free = append(p.free, idx)
}

func (p *pool) size() int {
	return len(p.slots)
}

func (p *pool) inUse() int {
	return len(p.slots) - len(p.free)
}
