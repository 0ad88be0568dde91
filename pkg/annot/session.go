// Package annot manages an annotation session: the boxes of every frame in a job,
// the editor that owns the current frame, and the undo history.
package annot

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cyclopcam/annotate/pkg/boxedit"
	"github.com/cyclopcam/annotate/pkg/frames"
	"github.com/cyclopcam/annotate/pkg/idgen"
	"github.com/cyclopcam/logs"
)

type Options struct {
	CarryForward bool          // Seed a never-visited frame with the boxes of the nearest earlier annotated frame
	HistorySize  int           // Maximum number of undo states
	Categories   []CategoryMap // Custom category maps, in addition to the built-in ones
	CategoryMap  string        // Name of the active category map
	DefaultLabel string        // Label of newly drawn boxes. Empty means class 0 of the active category map.
}

func DefaultOptions() Options {
	return Options{
		HistorySize: 50,
		CategoryMap: YOLOTestSet.Name,
	}
}

var ErrNoFrames = errors.New("No frames to annotate")

// Session is not safe for concurrent use. The host must serialize all calls.
type Session struct {
	Log logs.Log

	frames     []frames.Frame
	opts       Options
	store      map[int][]boxedit.Box // Boxes of every visited frame
	tags       map[int]string
	current    int
	surface    *boxedit.MeasuredSurface
	global     *boxedit.GlobalPointer
	editor     *boxedit.Editor
	ids        *idgen.BoxIDs
	history    *History
	categories *Categories
}

func NewSession(log logs.Log, frameList []frames.Frame, opts Options) (*Session, error) {
	return newSession(log, frameList, opts, idgen.NewBoxIDs())
}

func newSession(log logs.Log, frameList []frames.Frame, opts Options, ids *idgen.BoxIDs) (*Session, error) {
	if len(frameList) == 0 {
		return nil, ErrNoFrames
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultOptions().HistorySize
	}
	categories := NewCategories(opts.Categories)
	if opts.CategoryMap != "" {
		if err := categories.Select(opts.CategoryMap); err != nil {
			return nil, err
		}
	}
	s := &Session{
		Log:        log,
		frames:     frameList,
		opts:       opts,
		store:      map[int][]boxedit.Box{},
		tags:       map[int]string{},
		surface:    &boxedit.MeasuredSurface{},
		global:     boxedit.NewGlobalPointer(),
		ids:        ids,
		history:    NewHistory(opts.HistorySize),
		categories: categories,
	}
	s.editor = boxedit.NewEditor(s.surface, s.global, s.ids)
	s.editor.OnEdit = s.onEdit
	s.applyDefaultLabel()
	s.loadFrame(0)
	s.history.Reset(s.snapshot("init"))
	return s, nil
}

// Close releases the editor
func (s *Session) Close() {
	s.editor.Close()
}

func (s *Session) Frames() []frames.Frame {
	return s.frames
}

func (s *Session) CurrentFrame() int {
	return s.current
}

func (s *Session) Editor() *boxedit.Editor {
	return s.editor
}

func (s *Session) Categories() *Categories {
	return s.categories
}

func (s *Session) History() *History {
	return s.history
}

// Layout records the latest measured bounds of the display surface
func (s *Session) Layout(bounds boxedit.Rect) {
	s.surface.Set(bounds)
}

func (s *Session) frameSize(i int) (float32, float32) {
	return float32(s.frames[i].Width), float32(s.frames[i].Height)
}

// syncCurrent copies the editor's boxes into the store
func (s *Session) syncCurrent() {
	s.store[s.current] = s.editor.Boxes()
}

// SwitchFrame hands the boxes of the current frame off to the store, and makes the editor own frame i.
// All interaction state is reset.
func (s *Session) SwitchFrame(i int) error {
	if i < 0 || i >= len(s.frames) {
		return fmt.Errorf("Frame %v is out of range [0, %v)", i, len(s.frames))
	}
	s.syncCurrent()
	s.loadFrame(i)
	return nil
}

func (s *Session) loadFrame(i int) {
	s.current = i
	boxes, visited := s.store[i]
	carriedFrom := -1
	if !visited && s.opts.CarryForward {
		if src := s.nearestAnnotatedBefore(i); src >= 0 {
			boxes = s.copyWithFreshIDs(s.store[src])
			carriedFrom = src
			s.Log.Infof("Carried %v boxes forward from frame %v to frame %v", len(boxes), src, i)
		}
	}
	w, h := s.frameSize(i)
	s.editor.LoadFrame(w, h, boxes)
	s.syncCurrent()
	if carriedFrom >= 0 {
		// So that the first undo on this frame doesn't remove the carried boxes
		s.history.Push(s.snapshot(fmt.Sprintf("carry %v", carriedFrom)))
	}
}

// applyDefaultLabel gives newly drawn boxes the configured label,
// or else the first class of the active category map.
func (s *Session) applyDefaultLabel() {
	if s.opts.DefaultLabel != "" {
		s.editor.DefaultLabel = boxedit.Some(s.opts.DefaultLabel)
	} else if label, ok := s.categories.Label(0); ok {
		s.editor.DefaultLabel = boxedit.Some(label)
	} else {
		s.editor.DefaultLabel = boxedit.None
	}
}

// SelectCategories makes another category map active
func (s *Session) SelectCategories(name string) error {
	if err := s.categories.Select(name); err != nil {
		return err
	}
	s.applyDefaultLabel()
	return nil
}

func (s *Session) nearestAnnotatedBefore(i int) int {
	for j := i - 1; j >= 0; j-- {
		if len(s.store[j]) != 0 {
			return j
		}
	}
	return -1
}

func (s *Session) copyWithFreshIDs(boxes []boxedit.Box) []boxedit.Box {
	out := make([]boxedit.Box, len(boxes))
	for i, b := range boxes {
		b.ID = s.ids.NextID()
		out[i] = b
	}
	return out
}

func (s *Session) snapshot(action string) Snapshot {
	return Snapshot{
		Frames:   s.store,
		Selected: s.editor.SelectedID(),
		Action:   action,
	}
}

func (s *Session) onEdit(kind boxedit.EditKind, id string) {
	s.syncCurrent()
	s.history.Push(s.snapshot(kind.String() + " " + id))
}

func (s *Session) restore(snap Snapshot) {
	s.store = snap.Frames
	s.editor.ReplaceBoxes(s.store[s.current], snap.Selected)
	s.syncCurrent()
}

// Undo restores the state before the most recent edit. Returns false if there is nothing to undo.
func (s *Session) Undo() bool {
	snap, ok := s.history.Undo()
	if ok {
		s.restore(snap)
	}
	return ok
}

// Redo re-applies the most recently undone edit
func (s *Session) Redo() bool {
	snap, ok := s.history.Redo()
	if ok {
		s.restore(snap)
	}
	return ok
}

func (s *Session) SelectBox(id string) bool {
	return s.editor.SelectBox(id)
}

func (s *Session) DeleteSelected() bool {
	return s.editor.DeleteSelected()
}

func (s *Session) SetLabel(id string, label boxedit.OptString) bool {
	return s.editor.SetLabel(id, label)
}

func (s *Session) SetTrackingID(id string, trackingID boxedit.OptString) bool {
	return s.editor.SetTrackingID(id, trackingID)
}

// FrameTags returns the free text tags of a frame
func (s *Session) FrameTags(i int) string {
	return s.tags[i]
}

func (s *Session) SetFrameTags(i int, tags string) error {
	if i < 0 || i >= len(s.frames) {
		return fmt.Errorf("Frame %v is out of range [0, %v)", i, len(s.frames))
	}
	if tags == "" {
		delete(s.tags, i)
	} else {
		s.tags[i] = tags
	}
	return nil
}

// visitedFrames returns the indices of all frames in the store, ascending
func (s *Session) visitedFrames() []int {
	idx := make([]int, 0, len(s.store))
	for i := range s.store {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// FrameBoxes returns a copy of the boxes of every visited frame
func (s *Session) FrameBoxes() map[int][]boxedit.Box {
	s.syncCurrent()
	return cloneFrames(s.store)
}

// ApplyFrameBoxes merges boxes from an import or inference run into the store.
// Each frame present in boxes has its contents replaced. If replaceAll is true, every other frame
// is cleared too. Boxes are given fresh ids, and corrected to fit their frame.
// Returns the number of boxes accepted.
func (s *Session) ApplyFrameBoxes(boxes map[int][]boxedit.Box, replaceAll bool, action string) int {
	s.editor.Abort()
	s.syncCurrent()
	if replaceAll {
		s.store = map[int][]boxedit.Box{}
	}
	accepted := 0
	dropped := 0
	for fi, list := range boxes {
		if fi < 0 || fi >= len(s.frames) {
			s.Log.Warnf("Ignoring %v boxes for frame %v, which is out of range", len(list), fi)
			continue
		}
		w, h := s.frameSize(fi)
		clean := make([]boxedit.Box, 0, len(list))
		for _, b := range list {
			b, ok := boxedit.Sanitize(b, w, h)
			if !ok {
				dropped++
				continue
			}
			b.ID = s.ids.NextID()
			clean = append(clean, b)
		}
		s.store[fi] = clean
		accepted += len(clean)
	}
	if dropped != 0 {
		s.Log.Warnf("Dropped %v boxes with no area", dropped)
	}
	s.editor.ReplaceBoxes(s.store[s.current], s.editor.SelectedID())
	s.syncCurrent()
	s.history.Push(s.snapshot(action))
	return accepted
}

// FirstAnnotatedFrame returns the lowest frame index that has boxes, or -1
func (s *Session) FirstAnnotatedFrame() int {
	s.syncCurrent()
	for _, i := range s.visitedFrames() {
		if len(s.store[i]) != 0 {
			return i
		}
	}
	return -1
}

// State is a snapshot of the session, for rendering
type State struct {
	boxedit.State
	FrameIndex  int    `json:"frameIndex"`
	FrameCount  int    `json:"frameCount"`
	FrameName   string `json:"frameName"`
	FrameTags   string `json:"frameTags"`
	CanUndo     bool   `json:"canUndo"`
	CanRedo     bool   `json:"canRedo"`
	CategoryMap string `json:"categoryMap"`
}

func (s *Session) State() State {
	return State{
		State:       s.editor.State(),
		FrameIndex:  s.current,
		FrameCount:  len(s.frames),
		FrameName:   s.frames[s.current].Name,
		FrameTags:   s.tags[s.current],
		CanUndo:     s.history.CanUndo(),
		CanRedo:     s.history.CanRedo(),
		CategoryMap: s.categories.Active().Name,
	}
}
