package types

import "image"

// BoundingBox is a pixel-space region of interest
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Rect converts the box to an image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// Area returns the box area in pixels
func (b BoundingBox) Area() int {
	return b.W * b.H
}

// Detection is a single detected region with its confidence
type Detection struct {
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// ClassFace is the class name reported by face detectors
const ClassFace = "face"
