// Package overlay draws detection boxes and the frame-rate label onto RGBA frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/dj-oyu/uvc-facecam/internal/detector"
	"github.com/dj-oyu/uvc-facecam/pkg/types"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// WideBoxWidth is the box width above which a face is drawn in green
const WideBoxWidth = 300

var (
	Green  = color.RGBA{G: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	black  = color.RGBA{A: 255}
)

// Options controls what Annotate draws
type Options struct {
	Thickness     int  // box line width in pixels
	ShowFPS       bool // "FPS: 12.34" label in the top-left corner
	ShowScores    bool // confidence label above each box
	HighlightBest bool // double the outline of the most confident face
}

// DefaultOptions matches the preview of the camera app
func DefaultOptions() Options {
	return Options{Thickness: 3, ShowFPS: true, ShowScores: true, HighlightBest: true}
}

// BoxColor returns green for boxes wider than WideBoxWidth, yellow otherwise
func BoxColor(d types.Detection) color.RGBA {
	if d.BBox.W > WideBoxWidth {
		return Green
	}
	return Yellow
}

// FPSLabel formats the frame rate the way the preview shows it
func FPSLabel(fps float64) string {
	return fmt.Sprintf("FPS: %.2f", fps)
}

// Annotate draws detections and the fps label onto img in place
func Annotate(img *image.RGBA, detections []types.Detection, fps float64, opts Options) {
	var best *types.Detection
	if opts.HighlightBest {
		best = detector.SelectBest(detections)
	}
	for i, d := range detections {
		c := BoxColor(d)
		thickness := opts.Thickness
		if best == &detections[i] {
			thickness *= 2
		}
		DrawRect(img, d.BBox.Rect(), c, thickness)

		if opts.ShowScores {
			y := d.BBox.Y - 4
			if y < lineHeight {
				y = d.BBox.Y + d.BBox.H + lineHeight
			}
			DrawLabel(img, image.Pt(d.BBox.X, y), fmt.Sprintf("%.2f", d.Confidence), c)
		}
	}

	if opts.ShowFPS {
		DrawLabel(img, image.Pt(10, 10+lineHeight), FPSLabel(fps), White)
	}
}

// DrawRect outlines r with lines of the given thickness, clipped to img
func DrawRect(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	r = r.Canon()
	u := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+thickness), // top
		image.Rect(r.Min.X, r.Max.Y-thickness, r.Max.X, r.Max.Y), // bottom
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+thickness, r.Max.Y), // left
		image.Rect(r.Max.X-thickness, r.Min.Y, r.Max.X, r.Max.Y), // right
	}
	for _, e := range edges {
		e = e.Intersect(img.Rect)
		if !e.Empty() {
			draw.Draw(img, e, u, image.Point{}, draw.Src)
		}
	}
}

const (
	lineHeight = 13 // basicfont.Face7x13
	padding    = 2
)

// DrawLabel writes text with its baseline at dot over a black background
func DrawLabel(img *image.RGBA, dot image.Point, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(dot.X, dot.Y),
	}

	bounds, _ := d.BoundString(text)
	bg := image.Rect(
		bounds.Min.X.Floor()-padding, bounds.Min.Y.Floor()-padding,
		bounds.Max.X.Ceil()+padding, bounds.Max.Y.Ceil()+padding,
	).Intersect(img.Rect)
	if !bg.Empty() {
		draw.Draw(img, bg, image.NewUniform(black), image.Point{}, draw.Src)
	}

	d.DrawString(text)
}
