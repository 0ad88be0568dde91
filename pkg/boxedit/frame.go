package boxedit

import (
	"sync"

	"github.com/chewxy/math32"
)

// Rect is a rectangle in viewport (screen) coordinates
type Rect struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Empty is true if the rectangle has not been laid out yet
func (r Rect) Empty() bool {
	return !(r.Width > 0 && r.Height > 0)
}

func (r Rect) Contains(x, y float32) bool {
	return x >= r.Left && x <= r.Left+r.Width && y >= r.Top && y <= r.Top+r.Height
}

// Surface provides the current measured bounds of the element that displays the frame.
// It is queried on every interaction, because the surrounding layout can resize
// the element at any time.
type Surface interface {
	Bounds() Rect
}

// MeasuredSurface is a Surface whose bounds are pushed in by the host whenever it measures the element.
type MeasuredSurface struct {
	lock   sync.Mutex
	bounds Rect
}

func (m *MeasuredSurface) Set(r Rect) {
	m.lock.Lock()
	m.bounds = r
	m.lock.Unlock()
}

func (m *MeasuredSurface) Bounds() Rect {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.bounds
}

// View is the zoom and pan applied on top of the fitted image
type View struct {
	Zoom float32 `json:"zoom"`
	PanX float32 `json:"panX"`
	PanY float32 `json:"panY"`
}

const (
	minZoom = float32(0.1)
	maxZoom = float32(5)
)

func DefaultView() View {
	return View{Zoom: 1}
}

func (v *View) Reset() {
	*v = DefaultView()
}

// Wheel zooms in (deltaY < 0) or out (deltaY > 0) by 10%.
// Zooming back to 1x (or below) snaps to the centred, unpanned view.
func (v *View) Wheel(deltaY float32) {
	zoom := v.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	factor := float32(1.1)
	if deltaY > 0 {
		factor = 0.9
	}
	next := clamp(zoom*factor, minZoom, maxZoom)
	if next <= 1 || math32.Abs(next-1) < 0.02 {
		v.Reset()
		return
	}
	if next < zoom {
		// Pull the pan back towards the centre as we zoom out
		ratio := next / zoom
		v.PanX *= ratio
		v.PanY *= ratio
	}
	v.Zoom = next
}

// DisplayFrame relates a frame's natural pixel space to where it is drawn in the viewport
type DisplayFrame struct {
	NaturalWidth  float32 `json:"naturalWidth"`
	NaturalHeight float32 `json:"naturalHeight"`
	Left          float32 `json:"left"`
	Top           float32 `json:"top"`
	Width         float32 `json:"width"`
	Height        float32 `json:"height"`
}

// Valid is false until both the image and its display surface have a size
func (f DisplayFrame) Valid() bool {
	return f.NaturalWidth > 0 && f.NaturalHeight > 0 && f.Width > 0 && f.Height > 0
}

func (f DisplayFrame) ScaleX() float32 {
	return f.Width / f.NaturalWidth
}

func (f DisplayFrame) ScaleY() float32 {
	return f.Height / f.NaturalHeight
}

// ToNatural converts viewport coordinates to natural coordinates.
// ok is false if the frame has not been laid out, in which case the interaction must be skipped.
func (f DisplayFrame) ToNatural(vx, vy float32) (x, y float32, ok bool) {
	if !f.Valid() {
		return 0, 0, false
	}
	return (vx - f.Left) / f.ScaleX(), (vy - f.Top) / f.ScaleY(), true
}

// PointToViewport is the inverse of ToNatural
func (f DisplayFrame) PointToViewport(x, y float32) (vx, vy float32) {
	return f.Left + x*f.ScaleX(), f.Top + y*f.ScaleY()
}

// ToViewport returns where the box is drawn. It never modifies the box.
func (f DisplayFrame) ToViewport(b Box) Rect {
	left, top := f.PointToViewport(b.X, b.Y)
	return Rect{
		Left:   left,
		Top:    top,
		Width:  b.W * f.ScaleX(),
		Height: b.H * f.ScaleY(),
	}
}

// HandleTolerance returns HandleTolerance converted to natural pixels on each axis
func (f DisplayFrame) HandleTolerance() (tolX, tolY float32) {
	return HandleTolerance / f.ScaleX(), HandleTolerance / f.ScaleY()
}

// Layout fits an image of the given natural size inside surface, preserving aspect ratio
// and centering it (letterbox), and then applies the zoom (about the centre) and pan of view.
// Pan only has an effect while zoomed in.
func Layout(surface Rect, naturalWidth, naturalHeight float32, view View) DisplayFrame {
	f := DisplayFrame{
		NaturalWidth:  naturalWidth,
		NaturalHeight: naturalHeight,
	}
	if surface.Empty() || !(naturalWidth > 0 && naturalHeight > 0) {
		return f
	}
	aspectImage := naturalWidth / naturalHeight
	aspectSurface := surface.Width / surface.Height

	var w, h, offX, offY float32
	if aspectImage > aspectSurface {
		w = surface.Width
		h = surface.Width / aspectImage
		offY = (surface.Height - h) / 2
	} else {
		h = surface.Height
		w = surface.Height * aspectImage
		offX = (surface.Width - w) / 2
	}

	zoom := view.Zoom
	if zoom <= 0 {
		zoom = 1
	}
	zw := w * zoom
	zh := h * zoom
	offX -= (zw - w) / 2
	offY -= (zh - h) / 2
	if zoom > 1 {
		offX += view.PanX
		offY += view.PanY
	}

	f.Left = surface.Left + offX
	f.Top = surface.Top + offY
	f.Width = zw
	f.Height = zh
	return f
}
