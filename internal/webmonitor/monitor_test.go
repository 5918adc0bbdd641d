package webmonitor

import (
	"testing"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/events"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

func faceEvent(seq uint64, fps float64, faces int) events.Event {
	dets := make([]types.Detection, faces)
	for i := range dets {
		dets[i] = types.Detection{ClassName: types.ClassFace, Confidence: 0.9, BBox: types.BoundingBox{X: i * 10, Y: 0, W: 8, H: 8}}
	}
	return events.New(seq, time.Unix(1700000000, 0), fps, dets)
}

func TestMonitorHistory(t *testing.T) {
	m := NewMonitor(10, 3)

	m.Record(faceEvent(1, 0, 1))
	m.Record(faceEvent(2, 10, 0)) // empty results stay out of the history
	for seq := uint64(3); seq <= 6; seq++ {
		m.Record(faceEvent(seq, 9.5, 2))
	}

	stats, latest, history := m.Snapshot()
	if stats.FramesProcessed != 6 {
		t.Errorf("FramesProcessed = %d", stats.FramesProcessed)
	}
	if stats.CurrentFPS != 9.5 || stats.TargetFPS != 10 {
		t.Errorf("fps = %v / %v", stats.CurrentFPS, stats.TargetFPS)
	}
	if latest == nil || latest.FrameNumber != 6 || stats.DetectionCount != 2 {
		t.Errorf("latest = %+v, count = %d", latest, stats.DetectionCount)
	}
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, want := range []uint64{6, 5, 4} {
		if history[i].FrameNumber != want {
			t.Errorf("history[%d] = frame %d, want %d", i, history[i].FrameNumber, want)
		}
	}
}

func TestMonitorFirstFrameKeepsFPS(t *testing.T) {
	m := NewMonitor(10, 8)
	m.Record(faceEvent(1, 8, 0))
	m.Record(faceEvent(2, 0, 0))

	stats, _, _ := m.Snapshot()
	if stats.CurrentFPS != 8 {
		t.Fatalf("CurrentFPS = %v, want 8", stats.CurrentFPS)
	}
}

func TestBroadcasterDropsForSlowClients(t *testing.T) {
	b := NewBroadcaster[int]("test", 1, nil)
	id, ch := b.Subscribe()

	b.Broadcast(1)
	b.Broadcast(2) // buffer full, dropped

	if got := <-ch; got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	st := b.Stats()
	if st.Clients != 1 || st.Sent != 1 || st.Dropped != 1 {
		t.Fatalf("stats = %+v", st)
	}

	b.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after Unsubscribe")
	}
	b.Unsubscribe(id) // second call is a no-op
	if b.Count() != 0 {
		t.Fatalf("Count = %d", b.Count())
	}
}
