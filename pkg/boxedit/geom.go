package boxedit

import (
	"github.com/chewxy/math32"
)

const (
	// MinSize is the smallest width or height of a committed box, in natural pixels
	MinSize = float32(10)

	// DragThreshold is the size a drawn box must exceed (in both dimensions, natural pixels)
	// before it is treated as a real drag instead of an accidental click.
	// This is deliberately looser than MinSize: a box between the two is grown to MinSize.
	DragThreshold = float32(5)

	// HandleTolerance is the hit radius of a resize handle, in screen pixels
	HandleTolerance = float32(8)

	// PreviewID is the reserved id of the transient box shown while drawing
	PreviewID = "preview"
)

// Box is an axis-aligned rectangle in the natural pixel space of a frame
type Box struct {
	ID         string    `json:"id"`
	X          float32   `json:"x"`
	Y          float32   `json:"y"`
	W          float32   `json:"w"`
	H          float32   `json:"h"`
	Label      OptString `json:"label"`
	TrackingID OptString `json:"trackingId"`
}

func (b Box) X2() float32 {
	return b.X + b.W
}

func (b Box) Y2() float32 {
	return b.Y + b.H
}

func (b Box) Area() float32 {
	return b.W * b.H
}

// Contains is an inclusive containment test
func (b Box) Contains(x, y float32) bool {
	return x >= b.X && x <= b.X+b.W && y >= b.Y && y <= b.Y+b.H
}

// SameGeometry returns true if the two boxes occupy the same rectangle
func (b Box) SameGeometry(o Box) bool {
	return b.X == o.X && b.Y == o.Y && b.W == o.W && b.H == o.H
}

// IOU is intersection over union
func (b Box) IOU(o Box) float32 {
	x1 := math32.Max(b.X, o.X)
	y1 := math32.Max(b.Y, o.Y)
	x2 := math32.Min(b.X2(), o.X2())
	y2 := math32.Min(b.Y2(), o.Y2())
	inter := math32.Max(0, x2-x1) * math32.Max(0, y2-y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Handle is one of the eight resize control points of a box
type Handle int

const (
	HandleNone Handle = iota
	HandleNW
	HandleN
	HandleNE
	HandleE
	HandleSE
	HandleS
	HandleSW
	HandleW
)

// Handles in hit-test order. The first match wins.
var Handles = [8]Handle{HandleNW, HandleN, HandleNE, HandleE, HandleSE, HandleS, HandleSW, HandleW}

var handleNames = [...]string{"", "nw", "n", "ne", "e", "se", "s", "sw", "w"}

func (h Handle) String() string {
	if h < 0 || int(h) >= len(handleNames) {
		return ""
	}
	return handleNames[h]
}

// ParseHandle returns HandleNone if s is not a handle name
func ParseHandle(s string) Handle {
	for i, n := range handleNames {
		if i != 0 && n == s {
			return Handle(i)
		}
	}
	return HandleNone
}

// movesLeft is true if the handle drags the left edge
func (h Handle) movesLeft() bool {
	return h == HandleNW || h == HandleSW || h == HandleW
}

// movesTop is true if the handle drags the top edge
func (h Handle) movesTop() bool {
	return h == HandleNW || h == HandleN || h == HandleNE
}

// HandlePoint returns the position of handle h on box b
func (b Box) HandlePoint(h Handle) (x, y float32) {
	switch h {
	case HandleNW:
		return b.X, b.Y
	case HandleN:
		return b.X + b.W/2, b.Y
	case HandleNE:
		return b.X + b.W, b.Y
	case HandleE:
		return b.X + b.W, b.Y + b.H/2
	case HandleSE:
		return b.X + b.W, b.Y + b.H
	case HandleS:
		return b.X + b.W/2, b.Y + b.H
	case HandleSW:
		return b.X, b.Y + b.H
	case HandleW:
		return b.X, b.Y + b.H/2
	}
	return b.X, b.Y
}

// HandleAt returns the first handle (in Handles order) within tolerance of (x,y).
// All values are in natural pixels, so callers must convert the screen tolerance
// into natural units for each axis (see DisplayFrame.HandleTolerance).
func HandleAt(b Box, x, y, tolX, tolY float32) Handle {
	for _, h := range Handles {
		hx, hy := b.HandlePoint(h)
		if math32.Abs(x-hx) < tolX && math32.Abs(y-hy) < tolY {
			return h
		}
	}
	return HandleNone
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(hi, v))
}

// Resize applies a cumulative pointer delta (dx,dy) on handle h to the box
// snapshot taken when the resize started. maxW and maxH are the natural frame size.
//
// The order of the post-adjustment matters, and must not be changed:
// 1. A side below MinSize is frozen MinSize away from the opposite (fixed) edge.
// 2. Position is clamped into the frame.
// 3. Size is re-clamped to what remains of the frame.
func Resize(box Box, h Handle, dx, dy, maxW, maxH float32) Box {
	x, y, w, ht := box.X, box.Y, box.W, box.H
	switch h {
	case HandleNW:
		x += dx
		y += dy
		w -= dx
		ht -= dy
	case HandleN:
		y += dy
		ht -= dy
	case HandleNE:
		y += dy
		w += dx
		ht -= dy
	case HandleE:
		w += dx
	case HandleSE:
		w += dx
		ht += dy
	case HandleS:
		ht += dy
	case HandleSW:
		x += dx
		w -= dx
		ht += dy
	case HandleW:
		x += dx
		w -= dx
	}

	if w < MinSize {
		if h.movesLeft() {
			x = box.X + box.W - MinSize
		} else {
			x = box.X
		}
		w = MinSize
	}
	if ht < MinSize {
		if h.movesTop() {
			y = box.Y + box.H - MinSize
		} else {
			y = box.Y
		}
		ht = MinSize
	}

	x = clamp(x, 0, maxW-w)
	y = clamp(y, 0, maxH-ht)
	w = math32.Min(w, maxW-x)
	ht = math32.Min(ht, maxH-y)

	out := box
	out.X, out.Y, out.W, out.H = x, y, w, ht
	return out
}

// Move translates the box snapshot by (dx,dy), keeping it inside the frame.
// The size never changes.
func Move(box Box, dx, dy, maxW, maxH float32) Box {
	out := box
	out.X = clamp(box.X+dx, 0, maxW-box.W)
	out.Y = clamp(box.Y+dy, 0, maxH-box.H)
	return out
}

// Span returns the normalized rectangle between two corner points
func Span(x1, y1, x2, y2 float32) Box {
	return Box{
		X: math32.Min(x1, x2),
		Y: math32.Min(y1, y2),
		W: math32.Abs(x1 - x2),
		H: math32.Abs(y1 - y2),
	}
}

// Sanitize forces a box to obey the committed-box invariants for a frame of size maxW x maxH:
// at least MinSize on each side, and entirely inside the frame.
// Returns false if the box has no area at all, in which case it should be dropped.
func Sanitize(b Box, maxW, maxH float32) (Box, bool) {
	if !(b.W > 0 && b.H > 0) {
		return b, false
	}
	b.W = math32.Min(math32.Max(b.W, MinSize), maxW)
	b.H = math32.Min(math32.Max(b.H, MinSize), maxH)
	b.X = clamp(b.X, 0, maxW-b.W)
	b.Y = clamp(b.Y, 0, maxH-b.H)
	return b, true
}
