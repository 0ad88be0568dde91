package boxedit

// Mode is the state of the pointer interaction state machine
type Mode int

const (
	ModeIdle Mode = iota
	ModeDrawing
	ModeMoving
	ModeResizing
	ModePanning
)

var modeNames = [...]string{"idle", "drawing", "moving", "resizing", "panning"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// EditKind describes a committed change to the box collection
type EditKind int

const (
	EditDraw EditKind = iota
	EditMove
	EditResize
	EditDelete
	EditLabel
	EditTracking
)

var editNames = [...]string{"draw", "move", "resize", "delete", "label", "tracking"}

func (k EditKind) String() string {
	if k < 0 || int(k) >= len(editNames) {
		return "unknown"
	}
	return editNames[k]
}

// IDSource hands out fresh, unique box ids
type IDSource interface {
	NextID() string
}

// State is a snapshot of the editor, for rendering
type State struct {
	Mode     Mode         `json:"mode"`
	Selected string       `json:"selectedId"`
	Boxes    []Box        `json:"boxes"`
	Preview  *Box         `json:"preview"`
	View     View         `json:"view"`
	Frame    DisplayFrame `json:"frame"`
}

// anchor data captured on pointer-down, for the duration of one drag
type dragAnchor struct {
	x, y             float32 // natural coordinates
	clientX, clientY float32
	box              Box // snapshot of the box being moved or resized
	handle           Handle
	view             View
}

// Editor owns the boxes of one frame while that frame is being annotated.
// It is not safe for concurrent use: the host must deliver events one at a time, in order.
type Editor struct {
	// OnEdit, if set, is called after every committed change to the boxes
	OnEdit func(kind EditKind, id string)

	// DefaultLabel is given to newly drawn boxes
	DefaultLabel OptString

	surface Surface
	tracker PointerTracker
	ids     IDSource

	naturalWidth  float32
	naturalHeight float32
	boxes         []Box // z-order: last is on top
	selected      string
	preview       Box
	hasPreview    bool
	mode          Mode
	anchor        dragAnchor
	view          View
	sub           Subscription
}

func NewEditor(surface Surface, tracker PointerTracker, ids IDSource) *Editor {
	return &Editor{
		surface: surface,
		tracker: tracker,
		ids:     ids,
		view:    DefaultView(),
	}
}

// LoadFrame makes the editor own a new frame.
// All interaction state is reset. The given boxes are copied, and any that violate the
// size or bounds invariants are corrected (or dropped, if they have no area).
func (e *Editor) LoadFrame(naturalWidth, naturalHeight float32, boxes []Box) {
	e.naturalWidth = naturalWidth
	e.naturalHeight = naturalHeight
	e.view.Reset()
	e.ReplaceBoxes(boxes, "")
}

// ReplaceBoxes swaps out the boxes of the current frame (eg for undo), keeping the view.
// Any drag in progress is dropped. selected is ignored if no box has that id.
func (e *Editor) ReplaceBoxes(boxes []Box, selected string) {
	e.endDrag()
	e.boxes = make([]Box, 0, len(boxes))
	seen := map[string]bool{}
	for _, b := range boxes {
		b, ok := Sanitize(b, e.naturalWidth, e.naturalHeight)
		if !ok {
			continue
		}
		if b.ID == "" || b.ID == PreviewID || seen[b.ID] {
			b.ID = e.ids.NextID()
		}
		seen[b.ID] = true
		e.boxes = append(e.boxes, b)
	}
	e.selected = ""
	if seen[selected] {
		e.selected = selected
	}
}

// Close releases any listener held by an in-progress drag
func (e *Editor) Close() {
	e.endDrag()
}

// Frame computes the current display frame from the latest surface measurement
func (e *Editor) Frame() DisplayFrame {
	return Layout(e.surface.Bounds(), e.naturalWidth, e.naturalHeight, e.view)
}

func (e *Editor) NaturalSize() (w, h float32) {
	return e.naturalWidth, e.naturalHeight
}

func (e *Editor) Mode() Mode {
	return e.mode
}

func (e *Editor) View() View {
	return e.view
}

// Boxes returns a copy of the committed boxes (never the preview)
func (e *Editor) Boxes() []Box {
	out := make([]Box, len(e.boxes))
	copy(out, e.boxes)
	return out
}

// Preview returns the box being drawn, if any
func (e *Editor) Preview() (Box, bool) {
	return e.preview, e.hasPreview
}

// SelectedID returns the id of the selected box, or an empty string
func (e *Editor) SelectedID() string {
	return e.selected
}

func (e *Editor) SelectedBox() (Box, bool) {
	i := e.index(e.selected)
	if i < 0 {
		return Box{}, false
	}
	return e.boxes[i], true
}

func (e *Editor) State() State {
	s := State{
		Mode:     e.mode,
		Selected: e.selected,
		Boxes:    e.Boxes(),
		View:     e.view,
		Frame:    e.Frame(),
	}
	if e.hasPreview {
		p := e.preview
		s.Preview = &p
	}
	return s
}

func (e *Editor) index(id string) int {
	if id == "" {
		return -1
	}
	for i := range e.boxes {
		if e.boxes[i].ID == id {
			return i
		}
	}
	return -1
}

// topmost returns the index of the last-drawn box containing (x,y), or -1
func (e *Editor) topmost(x, y float32) int {
	for i := len(e.boxes) - 1; i >= 0; i-- {
		if e.boxes[i].Contains(x, y) {
			return i
		}
	}
	return -1
}

func (e *Editor) edited(kind EditKind, id string) {
	if e.OnEdit != nil {
		e.OnEdit(kind, id)
	}
}

// clampToFrame limits a natural point to the frame, so that drawn boxes stay in bounds
func (e *Editor) clampToFrame(x, y float32) (float32, float32) {
	return clamp(x, 0, e.naturalWidth), clamp(y, 0, e.naturalHeight)
}

// PointerDown resolves the intent of a new gesture: resize via a handle of the
// selected box, move the selected box, or draw a new box.
// The secondary button pans the view instead.
func (e *Editor) PointerDown(p Pointer) {
	f := e.Frame()
	x, y, ok := f.ToNatural(p.ClientX, p.ClientY)
	if !ok {
		return
	}
	if e.mode != ModeIdle {
		// We missed the end of the previous gesture
		e.Abort()
	}

	e.anchor = dragAnchor{
		x:       x,
		y:       y,
		clientX: p.ClientX,
		clientY: p.ClientY,
		view:    e.view,
	}

	if p.Button == ButtonSecondary {
		e.mode = ModePanning
		e.beginDrag()
		return
	}

	if sel, ok := e.SelectedBox(); ok {
		tolX, tolY := f.HandleTolerance()
		if h := HandleAt(sel, x, y, tolX, tolY); h != HandleNone {
			e.mode = ModeResizing
			e.anchor.box = sel
			e.anchor.handle = h
			e.beginDrag()
			return
		}
		if sel.Contains(x, y) {
			e.mode = ModeMoving
			e.anchor.box = sel
			e.beginDrag()
			return
		}
	}

	e.mode = ModeDrawing
	e.anchor.x, e.anchor.y = e.clampToFrame(x, y)
	e.setPreview(e.anchor.x, e.anchor.y)
	e.beginDrag()
}

// PointerMove updates the transient geometry of the active gesture. It does nothing while idle.
func (e *Editor) PointerMove(p Pointer) {
	if e.mode == ModeIdle {
		return
	}
	if e.mode == ModePanning {
		e.view.PanX = e.anchor.view.PanX + p.ClientX - e.anchor.clientX
		e.view.PanY = e.anchor.view.PanY + p.ClientY - e.anchor.clientY
		return
	}
	x, y, ok := e.Frame().ToNatural(p.ClientX, p.ClientY)
	if !ok {
		return
	}
	switch e.mode {
	case ModeDrawing:
		e.setPreview(x, y)
	case ModeMoving, ModeResizing:
		i := e.index(e.anchor.box.ID)
		if i < 0 {
			// The box vanished underneath us (eg deleted mid-drag)
			e.Abort()
			return
		}
		dx := x - e.anchor.x
		dy := y - e.anchor.y
		var g Box
		if e.mode == ModeMoving {
			g = Move(e.anchor.box, dx, dy, e.naturalWidth, e.naturalHeight)
		} else {
			g = Resize(e.anchor.box, e.anchor.handle, dx, dy, e.naturalWidth, e.naturalHeight)
		}
		b := &e.boxes[i]
		b.X, b.Y, b.W, b.H = g.X, g.Y, g.W, g.H
	}
}

// PointerUp ends the active gesture. A drawn box is committed only if it was
// dragged beyond DragThreshold in both dimensions.
func (e *Editor) PointerUp(p Pointer) {
	switch e.mode {
	case ModeIdle:
		return
	case ModeDrawing:
		if x, y, ok := e.Frame().ToNatural(p.ClientX, p.ClientY); ok {
			e.setPreview(x, y)
		}
		pv := e.preview
		e.endDrag()
		if pv.W > DragThreshold && pv.H > DragThreshold {
			e.commit(pv)
		}
	case ModeMoving, ModeResizing:
		e.finishGeometry()
	default:
		e.endDrag()
	}
}

// Abort ends the active gesture without committing a preview.
// A moved or resized box keeps the geometry of the last pointer-move.
func (e *Editor) Abort() {
	switch e.mode {
	case ModeIdle:
		return
	case ModeMoving, ModeResizing:
		e.finishGeometry()
	default:
		e.endDrag()
	}
}

func (e *Editor) finishGeometry() {
	kind := EditMove
	if e.mode == ModeResizing {
		kind = EditResize
	}
	before := e.anchor.box
	e.endDrag()
	if i := e.index(before.ID); i >= 0 && !e.boxes[i].SameGeometry(before) {
		e.edited(kind, before.ID)
	}
}

func (e *Editor) setPreview(x, y float32) {
	x, y = e.clampToFrame(x, y)
	e.preview = Span(e.anchor.x, e.anchor.y, x, y)
	e.preview.ID = PreviewID
	e.hasPreview = true
}

func (e *Editor) commit(pv Box) {
	b, ok := Sanitize(pv, e.naturalWidth, e.naturalHeight)
	if !ok {
		return
	}
	b.ID = e.ids.NextID()
	b.Label = e.DefaultLabel
	b.TrackingID = None
	e.boxes = append(e.boxes, b)
	e.selected = b.ID
	e.edited(EditDraw, b.ID)
}

func (e *Editor) beginDrag() {
	if e.sub == nil && e.tracker != nil {
		e.sub = e.tracker.Subscribe(e.onGlobal)
	}
}

// endDrag returns to idle and clears all transient state
func (e *Editor) endDrag() {
	if e.sub != nil {
		e.sub.Release()
		e.sub = nil
	}
	e.mode = ModeIdle
	e.anchor = dragAnchor{}
	e.preview = Box{}
	e.hasPreview = false
}

func (e *Editor) onGlobal(ev GlobalEvent) {
	switch ev.Kind {
	case GlobalUp:
		e.PointerUp(ev.Pointer)
	case GlobalMove:
		if !e.surface.Bounds().Contains(ev.Pointer.ClientX, ev.Pointer.ClientY) {
			e.Abort()
		}
	}
}

// Click selects the topmost box under the pointer, or clears the selection over empty space
func (e *Editor) Click(p Pointer) {
	if e.mode != ModeIdle {
		return
	}
	x, y, ok := e.Frame().ToNatural(p.ClientX, p.ClientY)
	if !ok {
		return
	}
	if i := e.topmost(x, y); i >= 0 {
		e.selected = e.boxes[i].ID
	} else {
		e.selected = ""
	}
}

// DoubleClick selects the topmost box under the pointer, without starting a drag
func (e *Editor) DoubleClick(p Pointer) {
	x, y, ok := e.Frame().ToNatural(p.ClientX, p.ClientY)
	if !ok {
		return
	}
	if i := e.topmost(x, y); i >= 0 {
		e.selected = e.boxes[i].ID
	}
}

// Wheel zooms the view
func (e *Editor) Wheel(deltaY float32) {
	e.view.Wheel(deltaY)
}

func (e *Editor) ResetView() {
	e.view.Reset()
}

// SelectBox selects the box with the given id. Returns false if there is no such box.
func (e *Editor) SelectBox(id string) bool {
	if e.index(id) < 0 {
		return false
	}
	e.selected = id
	return true
}

func (e *Editor) Deselect() {
	e.selected = ""
}

// DeleteSelected removes the selected box. There is no confirmation, and no undo at this level.
func (e *Editor) DeleteSelected() bool {
	i := e.index(e.selected)
	if i < 0 {
		return false
	}
	id := e.selected
	e.boxes = append(e.boxes[:i], e.boxes[i+1:]...)
	e.selected = ""
	e.edited(EditDelete, id)
	return true
}

func (e *Editor) SetLabel(id string, label OptString) bool {
	i := e.index(id)
	if i < 0 {
		return false
	}
	if e.boxes[i].Label != label {
		e.boxes[i].Label = label
		e.edited(EditLabel, id)
	}
	return true
}

func (e *Editor) SetTrackingID(id string, trackingID OptString) bool {
	i := e.index(id)
	if i < 0 {
		return false
	}
	if e.boxes[i].TrackingID != trackingID {
		e.boxes[i].TrackingID = trackingID
		e.edited(EditTracking, id)
	}
	return true
}
