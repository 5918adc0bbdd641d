// Package events defines the detection and status payloads published to
// stream clients, the WebRTC data channel and Redis.
package events

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/dj-oyu/uvc-facecam/pkg/types"
)

// Event is one processed frame's detection result
type Event struct {
	FrameNumber uint64            `json:"frame_number"`
	Timestamp   float64           `json:"timestamp"` // unix seconds
	FPS         float64           `json:"fps"`
	Detections  []types.Detection `json:"detections"`
}

// New builds an event from a pipeline result
func New(seq uint64, ts time.Time, fps float64, detections []types.Detection) Event {
	if detections == nil {
		detections = []types.Detection{}
	}
	return Event{
		FrameNumber: seq,
		Timestamp:   float64(ts.UnixNano()) / 1e9,
		FPS:         fps,
		Detections:  detections,
	}
}

// JSON encodes the event
func (e Event) JSON() ([]byte, error) {
	return json.Marshal(e)
}

// Proto encodes the event in protobuf wire format
func (e Event) Proto() []byte {
	return appendEvent(nil, e)
}

// MonitorStats is the monitor section of a status event
type MonitorStats struct {
	FramesProcessed int     `json:"frames_processed"`
	CurrentFPS      float64 `json:"current_fps"`
	DetectionCount  int     `json:"detection_count"`
	TargetFPS       float64 `json:"target_fps"`
}

// ErrorStats counts frames that reached onError
type ErrorStats struct {
	Count     int    `json:"count"`
	LastError string `json:"last_error,omitempty"`
}

// Status is the payload of /api/status and its stream
type Status struct {
	Monitor          MonitorStats `json:"monitor"`
	Errors           ErrorStats   `json:"errors"`
	Pipeline         any          `json:"pipeline,omitempty"`
	Camera           any          `json:"camera,omitempty"`
	LatestDetection  *Event       `json:"latest_detection"`
	DetectionHistory []Event      `json:"detection_history"`
	Timestamp        float64      `json:"timestamp"`
}

// JSON encodes the status
func (s Status) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// Proto encodes the monitor, detection and timestamp fields in protobuf wire format
func (s Status) Proto() []byte {
	return appendStatus(nil, s)
}

// Serialized holds an event pre-encoded in both stream formats so a
// broadcast encodes once regardless of client count.
type Serialized struct {
	JSONData     []byte // JSON
	ProtobufData []byte // protobuf, base64 encoded for SSE
}

type encoder interface {
	JSON() ([]byte, error)
	Proto() []byte
}

// Serialize encodes v in both formats
func Serialize(v encoder) (*Serialized, error) {
	jsonData, err := v.JSON()
	if err != nil {
		return nil, err
	}
	pb := v.Proto()
	out := make([]byte, base64.StdEncoding.EncodedLen(len(pb)))
	base64.StdEncoding.Encode(out, pb)
	return &Serialized{JSONData: jsonData, ProtobufData: out}, nil
}
