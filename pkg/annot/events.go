package annot

import (
	"fmt"
	"strings"

	"github.com/cyclopcam/annotate/pkg/boxedit"
)

// Event types understood by Session.Apply
const (
	EventLayout      = "layout"   // The display surface was measured
	EventDown        = "down"     // Pointer pressed over the surface
	EventMove        = "move"     // Pointer moved
	EventUp          = "up"       // Pointer released
	EventClick       = "click"    // Click over the surface
	EventDoubleClick = "dblclick" // Double click over the surface
	EventLeave       = "leave"    // Pointer left the surface
	EventWheel       = "wheel"    // Scroll wheel over the surface
	EventKey         = "key"      // Key pressed anywhere in the window
	EventFrame       = "frame"    // Navigate to another frame
)

// Event is a user interaction, as reported by the host UI.
// Pointer coordinates are viewport (client) coordinates.
type Event struct {
	Type    string         `json:"type"`
	ClientX float32        `json:"clientX"`
	ClientY float32        `json:"clientY"`
	Button  boxedit.Button `json:"button"`
	Global  bool           `json:"global"` // Observed on the window rather than the surface
	DeltaY  float32        `json:"deltaY"`
	Key     string         `json:"key"`
	Ctrl    bool           `json:"ctrlKey"`
	Shift   bool           `json:"shiftKey"`
	Meta    bool           `json:"metaKey"`
	Bounds  boxedit.Rect   `json:"bounds"`
	Frame   int            `json:"frame"`
}

func (e *Event) pointer() boxedit.Pointer {
	return boxedit.Pointer{
		ClientX: e.ClientX,
		ClientY: e.ClientY,
		Button:  e.Button,
	}
}

// Apply feeds one event into the session.
// Window-wide ("global") moves and releases are delivered to the editor's drag listener,
// which only exists while a drag is in progress.
func (s *Session) Apply(ev Event) error {
	p := ev.pointer()
	switch ev.Type {
	case EventLayout:
		s.Layout(ev.Bounds)
	case EventDown:
		if !ev.Global {
			s.editor.PointerDown(p)
		}
	case EventMove:
		if ev.Global {
			s.global.Dispatch(boxedit.GlobalEvent{Kind: boxedit.GlobalMove, Pointer: p})
		} else {
			s.editor.PointerMove(p)
		}
	case EventUp:
		if ev.Global {
			s.global.Dispatch(boxedit.GlobalEvent{Kind: boxedit.GlobalUp, Pointer: p})
		} else {
			s.editor.PointerUp(p)
		}
	case EventClick:
		s.editor.Click(p)
	case EventDoubleClick:
		s.editor.DoubleClick(p)
	case EventLeave:
		s.editor.Abort()
	case EventWheel:
		s.editor.Wheel(ev.DeltaY)
	case EventKey:
		s.applyKey(ev)
	case EventFrame:
		return s.SwitchFrame(ev.Frame)
	default:
		return fmt.Errorf("Unknown event type '%v'", ev.Type)
	}
	return nil
}

func (s *Session) applyKey(ev Event) {
	ctrl := ev.Ctrl || ev.Meta
	key := strings.ToLower(ev.Key)
	switch {
	case ctrl && key == "z" && !ev.Shift:
		s.Undo()
	case ctrl && (key == "y" || (key == "z" && ev.Shift)):
		s.Redo()
	case ev.Key == "Delete" || ev.Key == "Backspace":
		s.DeleteSelected()
	case ev.Key == "Escape":
		s.editor.Abort()
		s.editor.Deselect()
	}
}
