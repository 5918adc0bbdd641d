package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/events"
	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/internal/metrics"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
	"github.com/pion/webrtc/v3"
)

func newTestServer(maxClients int) *Server {
	s := NewServer(nil, maxClients, metrics.New())
	s.log = logger.Discard("WebRTC")
	return s
}

func TestHandleOfferRejectsGarbage(t *testing.T) {
	s := newTestServer(2)
	if _, err := s.HandleOffer(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
	if s.ClientCount() != 0 {
		t.Fatalf("ClientCount = %d", s.ClientCount())
	}
}

func TestHandleOfferClientLimit(t *testing.T) {
	s := newTestServer(1)
	s.clients["existing"] = &Client{id: "existing"}

	_, err := s.HandleOffer(context.Background(), []byte(`{"type":"offer","sdp":""}`))
	if !errors.Is(err, ErrTooManyClients) {
		t.Fatalf("err = %v, want ErrTooManyClients", err)
	}
	delete(s.clients, "existing")
}

func TestCloseWithoutClients(t *testing.T) {
	s := newTestServer(2)
	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close blocked")
	}
}

// TestDataChannelDelivery connects an in-process peer over loopback and
// checks that Send reaches its data channel.
func TestDataChannelDelivery(t *testing.T) {
	s := newTestServer(2)
	defer s.Close()

	peer, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		t.Fatalf("NewPeerConnection: %v", err)
	}
	defer peer.Close()

	dc, err := peer.CreateDataChannel(ChannelLabel, nil)
	if err != nil {
		t.Fatalf("CreateDataChannel: %v", err)
	}
	received := make(chan []byte, 8)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		received <- msg.Data
	})

	offer, err := peer.CreateOffer(nil)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	gathered := webrtc.GatheringCompletePromise(peer)
	if err := peer.SetLocalDescription(offer); err != nil {
		t.Fatalf("SetLocalDescription: %v", err)
	}
	<-gathered
	offerJSON, _ := json.Marshal(peer.LocalDescription())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	answerJSON, err := s.HandleOffer(ctx, offerJSON)
	if err != nil {
		t.Fatalf("HandleOffer: %v", err)
	}
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(answerJSON, &answer); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := peer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("SetRemoteDescription: %v", err)
	}
	if s.ClientCount() != 1 || s.metrics.WebRTCClients.Load() != 1 {
		t.Fatalf("clients = %d, gauge = %d", s.ClientCount(), s.metrics.WebRTCClients.Load())
	}

	e := events.New(3, time.Unix(1700000000, 0), 10, []types.Detection{
		{ClassName: types.ClassFace, Confidence: 0.8, BBox: types.BoundingBox{X: 1, Y: 1, W: 10, H: 10}},
	})
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case data := <-received:
			var got events.Event
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("message is not an event: %v", err)
			}
			if got.FrameNumber != 3 || len(got.Detections) != 1 {
				t.Fatalf("event = %+v", got)
			}
			return
		case <-tick.C:
			s.Send(e)
		case <-deadline:
			t.Skip("no loopback ICE connectivity in this environment")
		}
	}
}
