package annot

import "github.com/cyclopcam/annotate/pkg/boxedit"

// Snapshot is the complete annotation state at one point in the edit history
type Snapshot struct {
	Frames   map[int][]boxedit.Box // Only visited frames have an entry
	Selected string
	Action   string
}

func cloneFrames(frames map[int][]boxedit.Box) map[int][]boxedit.Box {
	out := make(map[int][]boxedit.Box, len(frames))
	for k, v := range frames {
		c := make([]boxedit.Box, len(v))
		copy(c, v)
		out[k] = c
	}
	return out
}

// History is a bounded linear undo/redo stack.
// Recording a new snapshot after an undo discards everything that could have been redone.
type History struct {
	max     int
	entries []Snapshot
	pos     int // Index of the current state in entries
}

func NewHistory(max int) *History {
	if max < 2 {
		max = 2
	}
	return &History{max: max, pos: -1}
}

// Reset clears the history, leaving initial as the only state
func (h *History) Reset(initial Snapshot) {
	h.entries = h.entries[:0]
	h.pos = -1
	h.Push(initial)
}

// Push records a new current state
func (h *History) Push(s Snapshot) {
	s.Frames = cloneFrames(s.Frames)
	h.entries = append(h.entries[:h.pos+1], s)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}
	h.pos = len(h.entries) - 1
}

func (h *History) CanUndo() bool {
	return h.pos > 0
}

func (h *History) CanRedo() bool {
	return h.pos < len(h.entries)-1
}

// Undo steps back, and returns the state to restore
func (h *History) Undo() (Snapshot, bool) {
	if !h.CanUndo() {
		return Snapshot{}, false
	}
	h.pos--
	return h.current(), true
}

// Redo steps forward, and returns the state to restore
func (h *History) Redo() (Snapshot, bool) {
	if !h.CanRedo() {
		return Snapshot{}, false
	}
	h.pos++
	return h.current(), true
}

func (h *History) current() Snapshot {
	s := h.entries[h.pos]
	s.Frames = cloneFrames(s.Frames)
	return s
}

// Len is the number of stored states
func (h *History) Len() int {
	return len(h.entries)
}

// Actions returns the description of every stored state, and the index of the current one
func (h *History) Actions() ([]string, int) {
	out := make([]string, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.Action
	}
	return out, h.pos
}
