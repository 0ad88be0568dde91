// Package render draws annotated frames, for previews and for review of exported labels
package render

import (
	"image"
	"image/color"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/annotate/pkg/boxedit"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

// Box outline colours, indexed by class id
var Palette = []string{
	"#ff6b6b",
	"#4dabf7",
	"#ffd43b",
	"#69db7c",
	"#845ef7",
	"#f06595",
	"#20c997",
	"#ffa94d",
	"#5c7cfa",
	"#e8590c",
	"#12b886",
}

const (
	SelectedColor = "#00ff96"
	UnknownColor  = "#888888"
	handleSize    = 8
)

// ColorFor returns the outline colour of a box
func ColorFor(class int, selected bool) string {
	if selected {
		return SelectedColor
	}
	if class < 0 {
		return UnknownColor
	}
	return Palette[class%len(Palette)]
}

type Options struct {
	Selected   string                 // ID of the selected box, which gets resize handles
	Preview    *boxedit.Box           // Box being drawn, if any
	ClassOf    func(label string) int // Returns -1 for unknown labels
	LineWidth  float64                // Defaults to 2
	ShowLabels bool
}

// NaturalFrame maps an image onto itself, for drawing at natural size
func NaturalFrame(img image.Image) boxedit.DisplayFrame {
	b := img.Bounds()
	return boxedit.DisplayFrame{
		NaturalWidth:  float32(b.Dx()),
		NaturalHeight: float32(b.Dy()),
		Width:         float32(b.Dx()),
		Height:        float32(b.Dy()),
	}
}

// Letterbox fits img inside a width x height canvas, preserving aspect ratio and
// centering it on black. The returned frame maps natural coordinates onto the canvas.
func Letterbox(img image.Image, width, height int) (*image.NRGBA, boxedit.DisplayFrame) {
	src := img.Bounds()
	frame := boxedit.Layout(boxedit.Rect{Width: float32(width), Height: float32(height)}, float32(src.Dx()), float32(src.Dy()), boxedit.DefaultView())
	canvas := imaging.New(width, height, color.NRGBA{0, 0, 0, 255})
	if !frame.Valid() {
		return canvas, frame
	}
	fw := max(1, int(math32.Round(frame.Width)))
	fh := max(1, int(math32.Round(frame.Height)))
	fitted := imaging.Resize(img, fw, fh, imaging.Linear)
	return imaging.PasteCenter(canvas, fitted), frame
}

// Overlay draws boxes on top of img. frame maps the natural coordinates of the boxes onto img.
func Overlay(img image.Image, frame boxedit.DisplayFrame, boxes []boxedit.Box, opts Options) image.Image {
	dc := gg.NewContextForImage(img)
	if !frame.Valid() {
		return dc.Image()
	}
	lineWidth := opts.LineWidth
	if lineWidth <= 0 {
		lineWidth = 2
	}
	dc.SetFontFace(basicfont.Face7x13)

	for _, b := range boxes {
		class := -1
		if opts.ClassOf != nil && b.Label.Valid {
			class = opts.ClassOf(b.Label.Value)
		}
		selected := b.ID == opts.Selected && opts.Selected != ""
		r := frame.ToViewport(b)
		dc.SetHexColor(ColorFor(class, selected))
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(float64(r.Left), float64(r.Top), float64(r.Width), float64(r.Height))
		dc.Stroke()
		if opts.ShowLabels {
			drawLabel(dc, b, r)
		}
		if selected {
			drawHandles(dc, frame, b)
		}
	}

	if opts.Preview != nil {
		r := frame.ToViewport(*opts.Preview)
		dc.SetHexColor(SelectedColor)
		dc.SetLineWidth(lineWidth)
		dc.SetDash(6, 4)
		dc.DrawRectangle(float64(r.Left), float64(r.Top), float64(r.Width), float64(r.Height))
		dc.Stroke()
		dc.SetDash()
	}
	return dc.Image()
}

func drawHandles(dc *gg.Context, frame boxedit.DisplayFrame, b boxedit.Box) {
	half := float64(handleSize) / 2
	for _, h := range boxedit.Handles {
		x, y := frame.PointToViewport(b.HandlePoint(h))
		dc.DrawRectangle(float64(x)-half, float64(y)-half, handleSize, handleSize)
	}
	dc.SetHexColor("#ffffff")
	dc.FillPreserve()
	dc.SetHexColor(SelectedColor)
	dc.SetLineWidth(1)
	dc.Stroke()
}

func drawLabel(dc *gg.Context, b boxedit.Box, r boxedit.Rect) {
	text := b.Label.Or("")
	if b.TrackingID.Valid {
		text += " #" + b.TrackingID.Value
	}
	if text == "" {
		return
	}
	tw, th := dc.MeasureString(text)
	x := float64(r.Left)
	y := float64(r.Top) - th - 4
	if y < 0 {
		y = float64(r.Top)
	}
	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRectangle(x, y, tw+4, th+4)
	dc.Fill()
	dc.SetHexColor("#ffffff")
	dc.DrawStringAnchored(text, x+2, y+2, 0, 1)
}
