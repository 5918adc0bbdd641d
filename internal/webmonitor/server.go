package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dj-oyu/uvc-facecam/internal/camera"
	"github.com/dj-oyu/uvc-facecam/internal/capture"
	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/internal/webrtc"
)

// CameraController is the camera session as seen by the HTTP API.
type CameraController interface {
	Open(ctx context.Context) error
	Close() error
	StartPreview() error
	StopPreview() error
	Status() camera.SessionStatus
}

// StillCapturer saves still photos.
type StillCapturer interface {
	Capture() (string, error)
	Status() capture.Status
}

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(ctx context.Context, offer []byte) ([]byte, error)
}

// Deps are the optional collaborators of the server. Nil members disable
// their endpoints with 503.
type Deps struct {
	Camera   CameraController
	Capturer StillCapturer
	WebRTC   OfferHandler

	// BaseContext outlives single requests; the camera is opened with it.
	BaseContext context.Context
}

// Server serves the web monitor endpoints.
type Server struct {
	hub  *Hub
	deps Deps
	log  *logger.Module
}

// NewServer returns a configured monitor server.
func NewServer(hub *Hub, deps Deps) *Server {
	if deps.BaseContext == nil {
		deps.BaseContext = context.Background()
	}
	return &Server{hub: hub, deps: deps, log: logger.For("HTTP")}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /stream", s.handleStream)
	mux.HandleFunc("GET /snapshot.jpg", s.handleSnapshot)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/stream", s.handleStatusStream)
	mux.HandleFunc("GET /api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("GET /ws/detections", s.handleDetectionsWS)
	mux.HandleFunc("GET /api/camera/status", s.handleCameraStatus)
	mux.HandleFunc("POST /api/camera/open", s.cameraAction("open", func(c CameraController) error {
		return c.Open(s.deps.BaseContext)
	}))
	mux.HandleFunc("POST /api/camera/close", s.cameraAction("close", CameraController.Close))
	mux.HandleFunc("POST /api/camera/preview/start", s.cameraAction("preview start", CameraController.StartPreview))
	mux.HandleFunc("POST /api/camera/preview/stop", s.cameraAction("preview stop", CameraController.StopPreview))
	mux.HandleFunc("POST /api/capture", s.handleCapture)
	mux.HandleFunc("GET /api/capture/status", s.handleCaptureStatus)
	mux.HandleFunc("POST /api/webrtc/offer", s.handleWebRTCOffer)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.hub.frames.Subscribe()
	defer s.hub.frames.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, ok := s.hub.Snapshot()
	if !ok {
		writeJSONWithStatus(w, map[string]any{"error": "no frame available"}, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(data)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.Status())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.hub.status.Subscribe()
	defer s.hub.status.Unsubscribe(id)
	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r), s.hub.serializedStatus())
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.hub.detections.Subscribe()
	defer s.hub.detections.Unsubscribe(id)
	streamEventsFromChannel(r.Context(), w, eventCh, wantsProtobuf(r), nil)
}

func (s *Server) handleCameraStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Camera == nil {
		writeJSONWithStatus(w, map[string]any{"error": "camera is not configured"}, http.StatusServiceUnavailable)
		return
	}
	stats, _, _ := s.hub.Monitor().Snapshot()
	writeJSON(w, map[string]any{
		"camera":  s.deps.Camera.Status(),
		"monitor": stats,
	})
}

func (s *Server) cameraAction(name string, action func(CameraController) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Camera == nil {
			writeJSONWithStatus(w, map[string]any{"error": "camera is not configured"}, http.StatusServiceUnavailable)
			return
		}
		if err := action(s.deps.Camera); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, camera.ErrInvalidTransition) {
				status = http.StatusConflict
			}
			s.log.Warn("Camera %s failed: %v", name, err)
			writeJSONWithStatus(w, map[string]any{
				"error":  err.Error(),
				"camera": s.deps.Camera.Status(),
			}, status)
			return
		}
		s.log.Info("Camera %s", name)
		writeJSON(w, map[string]any{"camera": s.deps.Camera.Status()})
	}
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if s.deps.Capturer == nil {
		writeJSONWithStatus(w, map[string]any{"error": "capture is not configured"}, http.StatusServiceUnavailable)
		return
	}

	path, err := s.deps.Capturer.Capture()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, capture.ErrNoFrame) {
			status = http.StatusConflict
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	writeJSON(w, map[string]any{
		"status":      "saved",
		"path":        path,
		"captured_at": float64(time.Now().UnixNano()) / 1e9,
	})
}

func (s *Server) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Capturer == nil {
		writeJSONWithStatus(w, map[string]any{"error": "capture is not configured"}, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.deps.Capturer.Status())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "webrtc is not configured"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	answer, err := s.deps.WebRTC.HandleOffer(ctx, body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, webrtc.ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		s.log.Warn("WebRTC offer failed: %v", err)
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"status": "ok",
		"uptime": s.hub.Monitor().Uptime().Seconds(),
	}
	if s.deps.Camera != nil {
		payload["camera"] = s.deps.Camera.Status().State
	}
	writeJSON(w, payload)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}
