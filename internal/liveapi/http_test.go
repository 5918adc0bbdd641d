package liveapi

import (
	"net/http"
	"strings"
	"testing"
)

func TestLiveIndex(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.get(t, "/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		t.Fatalf("GET / content-type = %q", resp.Header.Get("Content-Type"))
	}
	for _, needle := range []string{"<title>UVC Face Camera</title>", "/stream", "/api/status/stream"} {
		if !strings.Contains(string(body), needle) {
			t.Fatalf("GET / missing %q", needle)
		}
	}
}

func TestLiveHealth(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.get(t, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if requireString(t, payload["status"], "status") != "ok" {
		t.Fatalf("health status = %v", payload["status"])
	}
	requireNumber(t, payload["uptime"], "uptime")
}

func TestLiveStatus(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status status = %d", resp.StatusCode)
	}
	assertStatusPayload(t, decodeJSONMap(t, body))
}

func TestLiveCameraStatus(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.get(t, "/api/camera/status")
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("server runs without a camera")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/camera/status status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	state := assertCameraStatus(t, requireMap(t, payload["camera"], "camera"))
	switch state {
	case "idle", "started", "previewing", "stopped":
	default:
		t.Fatalf("unexpected camera state %q", state)
	}
	requireMap(t, payload["monitor"], "monitor")
}

func TestLiveWebRTCOfferInvalid(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.post(t, "/api/webrtc/offer", map[string]any{})
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("server runs without webrtc")
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /api/webrtc/offer status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	if requireString(t, payload["error"], "error") != "Invalid offer data" {
		t.Fatalf("unexpected error: %v", payload["error"])
	}
}

func TestLiveCaptureStatus(t *testing.T) {
	client := newLiveClient(t)
	resp, body := client.get(t, "/api/capture/status")
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("server runs without capture")
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/capture/status status = %d", resp.StatusCode)
	}
	payload := decodeJSONMap(t, body)
	requireNumber(t, payload["count"], "count")
	requireNumber(t, payload["bytes_written"], "bytes_written")
	requireString(t, payload["dir"], "dir")
}
