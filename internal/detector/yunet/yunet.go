// Package yunet runs the YuNet ONNX face detector through OpenCV's FaceDetectorYN.
package yunet

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/dj-oyu/uvc-facecam/internal/logger"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
	"gocv.io/x/gocv"
)

// Config holds detector configuration
type Config struct {
	ModelPath        string  // Path to ONNX model
	ConfidenceThresh float64 // Minimum confidence (default 0.6)
	NMSThresh        float64 // Non-maximum suppression threshold
	TopK             int     // Maximum candidates before NMS
	InputWidth       int     // Initial model input width
	InputHeight      int     // Initial model input height
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		ModelPath:        "models/face_detection_yunet_2023mar.onnx",
		ConfidenceThresh: 0.6,
		NMSThresh:        0.3,
		TopK:             5000,
		InputWidth:       640,
		InputHeight:      480,
	}
}

// Detector wraps gocv.FaceDetectorYN. Inference is serialised; the pipeline
// may call Detect from several goroutines.
type Detector struct {
	mu       sync.Mutex
	detector gocv.FaceDetectorYN
	size     image.Point
	log      *logger.Module
}

// New loads the model at cfg.ModelPath
func New(cfg Config) (*Detector, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s: %w", cfg.ModelPath, err)
	}

	size := image.Pt(cfg.InputWidth, cfg.InputHeight)
	det := gocv.NewFaceDetectorYNWithParams(
		cfg.ModelPath,
		"", // ONNX needs no config file
		size,
		float32(cfg.ConfidenceThresh),
		float32(cfg.NMSThresh),
		cfg.TopK,
		int(gocv.NetBackendDefault),
		int(gocv.NetTargetCPU),
	)

	return &Detector{
		detector: det,
		size:     size,
		log:      logger.For("YuNet"),
	}, nil
}

// Detect finds faces in img and returns pixel-space boxes
func (d *Detector) Detect(ctx context.Context, img *image.RGBA) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("image to mat: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	faces := gocv.NewMat()
	defer faces.Close()

	d.mu.Lock()
	if sz := image.Pt(mat.Cols(), mat.Rows()); sz != d.size {
		d.detector.SetInputSize(sz)
		d.size = sz
	}
	d.detector.Detect(mat, &faces)
	d.mu.Unlock()

	return parseFaces(faces), nil
}

// parseFaces reads the 15-column YuNet output: box in columns 0-3, five
// landmark pairs in 4-13, score in 14.
func parseFaces(faces gocv.Mat) []types.Detection {
	detections := make([]types.Detection, 0, faces.Rows())
	for r := 0; r < faces.Rows(); r++ {
		detections = append(detections, types.Detection{
			ClassName:  types.ClassFace,
			Confidence: float64(faces.GetFloatAt(r, 14)),
			BBox: types.BoundingBox{
				X: int(faces.GetFloatAt(r, 0)),
				Y: int(faces.GetFloatAt(r, 1)),
				W: int(faces.GetFloatAt(r, 2)),
				H: int(faces.GetFloatAt(r, 3)),
			},
		})
	}
	return detections
}

// Close releases the detector resources
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log.Debug("Releasing model")
	d.detector.Close()
	return nil
}
