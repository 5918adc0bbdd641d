package events

import (
	"errors"
	"fmt"
	"math"

	"github.com/dj-oyu/uvc-facecam/pkg/types"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire schema:
//
//	message BBox           { int32 x = 1; int32 y = 2; int32 w = 3; int32 h = 4; }
//	message Detection      { BBox bbox = 1; float confidence = 2; int32 class_id = 3; string label = 4; }
//	message DetectionEvent { uint64 frame_number = 1; double timestamp = 2; repeated Detection detections = 3; double fps = 4; }
//	message MonitorStats   { int32 frames_processed = 1; double current_fps = 2; int32 detection_count = 3; double target_fps = 4; }
//	message StatusEvent    { MonitorStats monitor = 1; DetectionEvent latest_detection = 3;
//	                         repeated DetectionEvent detection_history = 4; double timestamp = 5; }

func appendBBox(b []byte, box types.BoundingBox) []byte {
	for i, v := range []int{box.X, box.Y, box.W, box.H} {
		b = protowire.AppendTag(b, protowire.Number(i+1), protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(int32(v))))
	}
	return b
}

func appendDetection(b []byte, d types.Detection) []byte {
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, appendBBox(nil, d.BBox))
	b = protowire.AppendTag(b, 2, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(float32(d.Confidence)))
	if d.ClassName != "" {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendString(b, d.ClassName)
	}
	return b
}

func appendEvent(b []byte, e Event) []byte {
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, e.FrameNumber)
	b = protowire.AppendTag(b, 2, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(e.Timestamp))
	for _, d := range e.Detections {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, appendDetection(nil, d))
	}
	b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(e.FPS))
	return b
}

func appendStatus(b []byte, s Status) []byte {
	var m []byte
	m = protowire.AppendTag(m, 1, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(s.Monitor.FramesProcessed))
	m = protowire.AppendTag(m, 2, protowire.Fixed64Type)
	m = protowire.AppendFixed64(m, math.Float64bits(s.Monitor.CurrentFPS))
	m = protowire.AppendTag(m, 3, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(s.Monitor.DetectionCount))
	m = protowire.AppendTag(m, 4, protowire.Fixed64Type)
	m = protowire.AppendFixed64(m, math.Float64bits(s.Monitor.TargetFPS))

	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, m)
	if s.LatestDetection != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEvent(nil, *s.LatestDetection))
	}
	for _, h := range s.DetectionHistory {
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEvent(nil, h))
	}
	b = protowire.AppendTag(b, 5, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(s.Timestamp))
	return b
}

var errTruncated = errors.New("truncated protobuf message")

// DecodeProto parses a DetectionEvent. Unknown fields are skipped.
func DecodeProto(b []byte) (Event, error) {
	e := Event{Detections: []types.Detection{}}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == 1 && typ == protowire.VarintType:
			e.FrameNumber = v
		case num == 2 && typ == protowire.Fixed64Type:
			e.Timestamp = math.Float64frombits(v)
		case num == 3 && typ == protowire.BytesType:
			d, err := decodeDetection(raw)
			if err != nil {
				return err
			}
			e.Detections = append(e.Detections, d)
		case num == 4 && typ == protowire.Fixed64Type:
			e.FPS = math.Float64frombits(v)
		}
		return nil
	})
	return e, err
}

func decodeDetection(b []byte) (types.Detection, error) {
	var d types.Detection
	err := walk(b, func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error {
		switch {
		case num == 1 && typ == protowire.BytesType:
			return walk(raw, func(n protowire.Number, t protowire.Type, v uint64, _ []byte) error {
				if t != protowire.VarintType {
					return nil
				}
				switch n {
				case 1:
					d.BBox.X = int(int32(v))
				case 2:
					d.BBox.Y = int(int32(v))
				case 3:
					d.BBox.W = int(int32(v))
				case 4:
					d.BBox.H = int(int32(v))
				}
				return nil
			})
		case num == 2 && typ == protowire.Fixed32Type:
			d.Confidence = float64(math.Float32frombits(uint32(v)))
		case num == 4 && typ == protowire.BytesType:
			d.ClassName = string(raw)
		}
		return nil
	})
	return d, err
}

// walk calls fn for every field in b. v holds varint and fixed values; raw
// holds length-delimited payloads.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		var v uint64
		var raw []byte
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v32 uint32
			v32, n = protowire.ConsumeFixed32(b)
			v = uint64(v32)
		case protowire.Fixed64Type:
			v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("%w: %v", errTruncated, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, typ, v, raw); err != nil {
			return err
		}
	}
	return nil
}
