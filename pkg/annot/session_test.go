package annot

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cyclopcam/annotate/pkg/boxedit"
	"github.com/cyclopcam/annotate/pkg/frames"
	"github.com/cyclopcam/annotate/pkg/idgen"
	"github.com/cyclopcam/annotate/pkg/labelfmt"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func testFrames(n int) []frames.Frame {
	list := []frames.Frame{}
	for i := 0; i < n; i++ {
		list = append(list, frames.Frame{
			Index:  i,
			Name:   "frame_" + string(rune('a'+i)) + ".jpg",
			Width:  100,
			Height: 100,
		})
	}
	return list
}

// newTestSession creates a session whose display surface is the same size as the frames,
// so client coordinates are natural coordinates.
func newTestSession(t *testing.T, nFrames int, opts Options) *Session {
	s, err := newSession(logs.NewTestingLog(t), testFrames(nFrames), opts, idgen.NewBoxIDsWithPrefix("t"))
	require.NoError(t, err)
	require.NoError(t, s.Apply(Event{Type: EventLayout, Bounds: boxedit.Rect{Width: 100, Height: 100}}))
	t.Cleanup(s.Close)
	return s
}

func draw(t *testing.T, s *Session, x1, y1, x2, y2 float32) {
	require.NoError(t, s.Apply(Event{Type: EventDown, ClientX: x1, ClientY: y1}))
	require.NoError(t, s.Apply(Event{Type: EventMove, ClientX: x2, ClientY: y2}))
	require.NoError(t, s.Apply(Event{Type: EventUp, ClientX: x2, ClientY: y2}))
}

func key(t *testing.T, s *Session, k string, ctrl, shift bool) {
	require.NoError(t, s.Apply(Event{Type: EventKey, Key: k, Ctrl: ctrl, Shift: shift}))
}

func TestNoFrames(t *testing.T) {
	_, err := NewSession(logs.NewTestingLog(t), nil, DefaultOptions())
	require.ErrorIs(t, err, ErrNoFrames)

	opts := DefaultOptions()
	opts.CategoryMap = "nope"
	_, err = NewSession(logs.NewTestingLog(t), testFrames(1), opts)
	require.Error(t, err)
}

func TestUndoRedo(t *testing.T) {
	s := newTestSession(t, 1, DefaultOptions())
	require.False(t, s.State().CanUndo)

	draw(t, s, 10, 10, 50, 50)
	require.Len(t, s.Editor().Boxes(), 1)
	id := s.Editor().SelectedID()
	require.True(t, s.State().CanUndo)

	require.True(t, s.Undo())
	require.Len(t, s.Editor().Boxes(), 0)
	require.True(t, s.State().CanRedo)
	require.False(t, s.Undo())

	require.True(t, s.Redo())
	boxes := s.Editor().Boxes()
	require.Len(t, boxes, 1)
	require.Equal(t, id, boxes[0].ID)
	require.Equal(t, id, s.Editor().SelectedID())
	require.False(t, s.Redo())

	// A new edit after an undo discards the redo tail
	require.True(t, s.Undo())
	draw(t, s, 60, 60, 90, 90)
	require.False(t, s.State().CanRedo)
	require.Len(t, s.Editor().Boxes(), 1)
	require.Equal(t, float32(60), s.Editor().Boxes()[0].X)
}

func TestUndoMoveAndLabel(t *testing.T) {
	s := newTestSession(t, 1, DefaultOptions())
	draw(t, s, 10, 10, 50, 50)
	id := s.Editor().SelectedID()

	// Move the selected box by 20px
	draw(t, s, 30, 30, 50, 30)
	require.Equal(t, float32(30), s.Editor().Boxes()[0].X)
	require.True(t, s.SetLabel(id, boxedit.Some("bike")))

	require.True(t, s.Undo())
	require.Equal(t, boxedit.Some("person"), s.Editor().Boxes()[0].Label)
	require.True(t, s.Undo())
	require.Equal(t, float32(10), s.Editor().Boxes()[0].X)
}

func TestHistoryBounded(t *testing.T) {
	opts := DefaultOptions()
	opts.HistorySize = 3
	s := newTestSession(t, 1, opts)
	for i := 0; i < 5; i++ {
		x := float32(i * 20)
		draw(t, s, x, 0, x+8, 8)
	}
	require.Len(t, s.Editor().Boxes(), 5)
	require.Equal(t, 3, s.History().Len())
	require.True(t, s.Undo())
	require.True(t, s.Undo())
	require.False(t, s.Undo())
	require.Len(t, s.Editor().Boxes(), 3)
}

func TestSwitchFrameResetsEditor(t *testing.T) {
	s := newTestSession(t, 3, DefaultOptions())
	draw(t, s, 10, 10, 50, 50)
	require.NoError(t, s.Apply(Event{Type: EventWheel, DeltaY: -1}))
	require.NoError(t, s.Apply(Event{Type: EventDown, ClientX: 70, ClientY: 70}))
	require.Equal(t, boxedit.ModeDrawing, s.Editor().Mode())

	require.NoError(t, s.Apply(Event{Type: EventFrame, Frame: 1}))
	st := s.State()
	require.Equal(t, 1, st.FrameIndex)
	require.Equal(t, boxedit.ModeIdle, st.Mode)
	require.Equal(t, "", st.Selected)
	require.Nil(t, st.Preview)
	require.Equal(t, boxedit.DefaultView(), st.View)
	require.Len(t, st.Boxes, 0)

	require.NoError(t, s.SwitchFrame(0))
	require.Len(t, s.Editor().Boxes(), 1)

	require.Error(t, s.SwitchFrame(3))
	require.Error(t, s.SwitchFrame(-1))
	require.Equal(t, 0, s.CurrentFrame())
}

func TestCarryForward(t *testing.T) {
	opts := DefaultOptions()
	opts.CarryForward = true
	s := newTestSession(t, 4, opts)
	draw(t, s, 10, 10, 50, 50)
	original := s.Editor().Boxes()[0]
	s.SetTrackingID(original.ID, boxedit.Some("9"))

	require.NoError(t, s.SwitchFrame(2))
	boxes := s.Editor().Boxes()
	require.Len(t, boxes, 1)
	require.NotEqual(t, original.ID, boxes[0].ID)
	require.True(t, boxes[0].SameGeometry(original))
	require.Equal(t, boxedit.Some("9"), boxes[0].TrackingID)

	// A visited frame that was emptied stays empty
	s.SelectBox(boxes[0].ID)
	require.True(t, s.DeleteSelected())
	require.NoError(t, s.SwitchFrame(3))
	require.Len(t, s.Editor().Boxes(), 1)
	require.NoError(t, s.SwitchFrame(2))
	require.Len(t, s.Editor().Boxes(), 0)
}

func TestUndoKeepsCarriedBoxes(t *testing.T) {
	opts := DefaultOptions()
	opts.CarryForward = true
	s := newTestSession(t, 2, opts)
	draw(t, s, 10, 10, 50, 50)
	require.NoError(t, s.SwitchFrame(1))
	require.Len(t, s.Editor().Boxes(), 1)

	draw(t, s, 60, 60, 90, 90)
	require.Len(t, s.Editor().Boxes(), 2)
	require.True(t, s.Undo())
	require.Len(t, s.Editor().Boxes(), 1)
}

func TestDefaultLabel(t *testing.T) {
	s := newTestSession(t, 1, DefaultOptions())
	draw(t, s, 10, 10, 50, 50)
	require.Equal(t, boxedit.Some("person"), s.Editor().Boxes()[0].Label)

	opts := DefaultOptions()
	opts.DefaultLabel = "bike"
	s = newTestSession(t, 1, opts)
	draw(t, s, 10, 10, 50, 50)
	require.Equal(t, boxedit.Some("bike"), s.Editor().Boxes()[0].Label)

	// Without a configured label, the default follows the active category map
	custom := DefaultOptions()
	custom.Categories = []CategoryMap{{Name: "Animals", Classes: map[int]string{0: "dog", 1: "cat"}}}
	s = newTestSession(t, 1, custom)
	require.NoError(t, s.SelectCategories("Animals"))
	draw(t, s, 10, 10, 50, 50)
	require.Equal(t, boxedit.Some("dog"), s.Editor().Boxes()[0].Label)
	require.Error(t, s.SelectCategories("nope"))
}

func TestNoCarryForwardByDefault(t *testing.T) {
	s := newTestSession(t, 2, DefaultOptions())
	draw(t, s, 10, 10, 50, 50)
	require.NoError(t, s.SwitchFrame(1))
	require.Len(t, s.Editor().Boxes(), 0)
}

func TestKeys(t *testing.T) {
	s := newTestSession(t, 1, DefaultOptions())
	draw(t, s, 10, 10, 50, 50)
	key(t, s, "Delete", false, false)
	require.Len(t, s.Editor().Boxes(), 0)

	key(t, s, "z", true, false)
	require.Len(t, s.Editor().Boxes(), 1)
	key(t, s, "Z", true, true)
	require.Len(t, s.Editor().Boxes(), 0)
	key(t, s, "z", true, false)
	key(t, s, "y", true, false)
	require.Len(t, s.Editor().Boxes(), 0)
	key(t, s, "z", true, false)

	require.NotEqual(t, "", s.Editor().SelectedID())
	key(t, s, "Escape", false, false)
	require.Equal(t, "", s.Editor().SelectedID())

	// Delete with nothing selected does nothing
	key(t, s, "Delete", false, false)
	require.Len(t, s.Editor().Boxes(), 1)
}

func TestGlobalEvents(t *testing.T) {
	s := newTestSession(t, 1, DefaultOptions())
	require.NoError(t, s.Apply(Event{Type: EventDown, ClientX: 10, ClientY: 10}))
	require.NoError(t, s.Apply(Event{Type: EventMove, ClientX: 60, ClientY: 60}))
	require.NoError(t, s.Apply(Event{Type: EventMove, ClientX: 300, ClientY: 60, Global: true}))
	require.Equal(t, boxedit.ModeIdle, s.Editor().Mode())
	require.Len(t, s.Editor().Boxes(), 0)

	require.NoError(t, s.Apply(Event{Type: EventDown, ClientX: 10, ClientY: 10}))
	require.NoError(t, s.Apply(Event{Type: EventMove, ClientX: 60, ClientY: 60}))
	require.NoError(t, s.Apply(Event{Type: EventUp, ClientX: 60, ClientY: 60, Global: true}))
	require.Len(t, s.Editor().Boxes(), 1)

	require.NoError(t, s.Apply(Event{Type: EventDown, ClientX: 70, ClientY: 70}))
	require.NoError(t, s.Apply(Event{Type: EventLeave}))
	require.Equal(t, boxedit.ModeIdle, s.Editor().Mode())

	require.Error(t, s.Apply(Event{Type: "explode"}))
}

func TestClickEvents(t *testing.T) {
	s := newTestSession(t, 1, DefaultOptions())
	draw(t, s, 10, 10, 50, 50)
	id := s.Editor().SelectedID()
	require.NoError(t, s.Apply(Event{Type: EventClick, ClientX: 90, ClientY: 90}))
	require.Equal(t, "", s.Editor().SelectedID())
	require.NoError(t, s.Apply(Event{Type: EventDoubleClick, ClientX: 20, ClientY: 20}))
	require.Equal(t, id, s.Editor().SelectedID())
}

func TestImportCombinedTXT(t *testing.T) {
	s := newTestSession(t, 3, DefaultOptions())
	draw(t, s, 10, 10, 50, 50)

	n, err := s.ImportCombinedTXT(strings.NewReader("2\t10 40 20 60 1 5\n2\t0 5 0 5 0 -1\n9\t0 50 0 50 0 -1\n"))
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 2, s.CurrentFrame())
	boxes := s.Editor().Boxes()
	require.Len(t, boxes, 2)
	require.Equal(t, boxedit.Some("light-vehicle"), boxes[0].Label)
	require.Equal(t, boxedit.Some("5"), boxes[0].TrackingID)
	// Tiny boxes are grown to the minimum size
	require.Equal(t, boxedit.MinSize, boxes[1].W)

	// Frame 0 was untouched by the import
	require.NoError(t, s.SwitchFrame(0))
	require.Len(t, s.Editor().Boxes(), 1)

	require.True(t, s.Undo())
	require.NoError(t, s.SwitchFrame(2))
	require.Len(t, s.Editor().Boxes(), 0)
}

func TestExports(t *testing.T) {
	s := newTestSession(t, 3, DefaultOptions())
	draw(t, s, 10, 10, 50, 50)
	id := s.Editor().SelectedID()
	s.SetLabel(id, boxedit.Some("person"))
	s.SetTrackingID(id, boxedit.Some("1"))
	require.NoError(t, s.SetFrameTags(0, "day"))

	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(&buf))
	require.Equal(t, "Frame,x1,x2,y1,y2,Label,Tracking_ID\n0,10,50,10,50,person,1\n", buf.String())

	buf.Reset()
	require.NoError(t, s.ExportCombinedTXT(&buf))
	require.Equal(t, "0\t10 50 10 50 0 1\n1\t10 50 10 50 0 1\n2\t10 50 10 50 0 1", buf.String())

	buf.Reset()
	require.NoError(t, s.ExportYOLOZip(&buf))
	files, err := labelfmt.ReadYOLOZip(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, files, 3)
	require.Equal(t, "0 0.300000 0.300000 0.400000 0.400000 1 day", string(files["frame_a"]))

	// Round trip through the YOLO importer, onto a fresh session
	s2 := newTestSession(t, 3, DefaultOptions())
	n, err := s2.ImportYOLO(files)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, "day", s2.FrameTags(0))
	records := s2.Records()
	require.Len(t, records, 1)
	require.Equal(t, boxedit.Some("person"), records[0].Box.Label)
	require.InDelta(t, 10, records[0].Box.X, 1e-3)
	require.InDelta(t, 40, records[0].Box.W, 1e-3)
}

func TestAutofill(t *testing.T) {
	s := newTestSession(t, 3, DefaultOptions())
	draw(t, s, 10, 10, 50, 50)
	payload := `{"yolov10": [
		{"frame_index": 0, "detections": [
			{"box": [10, 10, 60, 60], "label": "person"},
			{"box": [11, 11, 61, 61], "label": "person"}
		]},
		{"frame_index": 1, "detections": [{"bbox": [0, 0, 30, 30], "label": "bike", "track_id": 2}]}
	]}`
	n, err := s.Autofill([]byte(payload), 0.5)
	require.NoError(t, err)
	// Frame 0 gets inference frame 0, and frames 1 and 2 both round to inference frame 1
	require.Equal(t, 3, n)
	require.Len(t, s.Editor().Boxes(), 1)
	require.Equal(t, float32(60), s.Editor().Boxes()[0].X2())
	fb := s.FrameBoxes()
	require.Len(t, fb[1], 1)
	require.Len(t, fb[2], 1)
	require.Equal(t, boxedit.Some("2"), fb[2][0].TrackingID)

	_, err = s.Autofill([]byte(`[]`), 0)
	require.ErrorIs(t, err, ErrNoDetections)
}

func TestPropagateTracking(t *testing.T) {
	s := newTestSession(t, 3, DefaultOptions())
	s.ApplyFrameBoxes(map[int][]boxedit.Box{
		0: {{X: 10, Y: 10, W: 30, H: 30, Label: boxedit.Some("person"), TrackingID: boxedit.Some("5")}},
		1: {
			{X: 12, Y: 12, W: 30, H: 30, Label: boxedit.Some("person")},
			{X: 60, Y: 60, W: 20, H: 20, Label: boxedit.Some("person")},
		},
		2: {{X: 12, Y: 12, W: 30, H: 30, Label: boxedit.Some("bike")}},
	}, true, "test")

	require.Equal(t, 3, s.PropagateTracking(0.3))
	fb := s.FrameBoxes()
	require.Equal(t, boxedit.Some("5"), fb[1][0].TrackingID)
	require.Equal(t, boxedit.Some("6"), fb[1][1].TrackingID)
	// Different label, so no inheritance
	require.Equal(t, boxedit.Some("7"), fb[2][0].TrackingID)
	require.Equal(t, boxedit.Some("5"), s.Editor().Boxes()[0].TrackingID)

	// Nothing left to do
	require.Equal(t, 0, s.PropagateTracking(0.3))

	require.True(t, s.Undo())
	require.False(t, s.FrameBoxes()[1][0].TrackingID.Valid)
}
