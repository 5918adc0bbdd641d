package liveapi

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestLiveMJPEGStream(t *testing.T) {
	client := newLiveClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := client.openStream(t, ctx, "/stream")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /stream status = %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "multipart/x-mixed-replace") ||
		!strings.Contains(contentType, "boundary=frame") {
		t.Fatalf("GET /stream content-type = %q", contentType)
	}

	// the first part (a frame or the idle placeholder) is written immediately
	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read first part: %v", err)
		}
		if strings.HasPrefix(line, "Content-Type: image/jpeg") {
			return
		}
	}
}

func TestLiveStatusStream(t *testing.T) {
	client := newLiveClient(t)
	event, headers, err := readSSEEvent(client.baseURL+"/api/status/stream", 3*time.Second)
	if err != nil {
		t.Fatalf("status stream error: %v", err)
	}
	if !strings.Contains(headers.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("status stream content-type = %q", headers.Get("Content-Type"))
	}
	assertStatusPayload(t, parseSSEData(t, event))
}

func TestLiveDetectionsStream(t *testing.T) {
	client := newLiveClient(t)
	event, headers, err := readSSEEvent(client.baseURL+"/api/detections/stream", 3*time.Second)
	if err != nil {
		// no results arrive while the camera is not previewing
		t.Skipf("detections stream unavailable: %v", err)
	}
	if got := headers.Get("X-Content-Format"); got != "application/json" {
		t.Fatalf("X-Content-Format = %q", got)
	}
	assertEventPayload(t, parseSSEData(t, event), "event")
}
