package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cyclopcam/annotate/pkg/annot"
	"github.com/cyclopcam/annotate/pkg/boxedit"
	"github.com/cyclopcam/annotate/pkg/storage"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// The subset of annot.State that tests look at
type testState struct {
	FrameIndex int           `json:"frameIndex"`
	FrameCount int           `json:"frameCount"`
	Selected   string        `json:"selectedId"`
	Boxes      []boxedit.Box `json:"boxes"`
	CanUndo    bool          `json:"canUndo"`
	CanRedo    bool          `json:"canRedo"`
}

type testServer struct {
	t         *testing.T
	s         *Server
	exportDir string
}

// newTestServer creates 3 frames of 64x48 pixels, with exports going to a temp directory
func newTestServer(t *testing.T) *testServer {
	framesDir := t.TempDir()
	for _, name := range []string{"frame_a.png", "frame_b.png", "frame_c.png"} {
		img := imaging.New(64, 48, color.NRGBA{40, 80, 120, 255})
		require.NoError(t, imaging.Save(img, filepath.Join(framesDir, name)))
	}
	exportDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.FramesDir = framesDir
	cfg.Export = storage.Config{Filesystem: &storage.ConfigFS{Root: exportDir}}
	s, err := NewServer(logs.NewTestingLog(t), cfg)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	ts := &testServer{t: t, s: s, exportDir: exportDir}
	// Display surface is the natural size of the frames
	ts.events(annot.Event{Type: annot.EventLayout, Bounds: boxedit.Rect{Width: 64, Height: 48}})
	return ts
}

func (ts *testServer) do(method, url string, body []byte) *httptest.ResponseRecorder {
	var r *http.Request
	if body != nil {
		r = httptest.NewRequest(method, url, bytes.NewReader(body))
	} else {
		r = httptest.NewRequest(method, url, nil)
	}
	w := httptest.NewRecorder()
	ts.s.Handler().ServeHTTP(w, r)
	return w
}

func (ts *testServer) doJSON(method, url string, req any) *httptest.ResponseRecorder {
	raw, err := json.Marshal(req)
	require.NoError(ts.t, err)
	return ts.do(method, url, raw)
}

func (ts *testServer) decodeState(w *httptest.ResponseRecorder) testState {
	require.Equal(ts.t, http.StatusOK, w.Code, w.Body.String())
	st := testState{}
	require.NoError(ts.t, json.Unmarshal(w.Body.Bytes(), &st))
	return st
}

func (ts *testServer) events(events ...annot.Event) testState {
	return ts.decodeState(ts.doJSON("POST", "/api/events", events))
}

func (ts *testServer) state() testState {
	return ts.decodeState(ts.do("GET", "/api/state", nil))
}

func (ts *testServer) draw(x1, y1, x2, y2 float32) testState {
	return ts.events(
		annot.Event{Type: annot.EventDown, ClientX: x1, ClientY: y1},
		annot.Event{Type: annot.EventMove, ClientX: x2, ClientY: y2},
		annot.Event{Type: annot.EventUp, ClientX: x2, ClientY: y2},
	)
}

func TestPingAndFrames(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do("GET", "/api/ping", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())

	w = ts.do("GET", "/api/frames", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := []struct {
		Index  int    `json:"index"`
		Name   string `json:"name"`
		Width  int    `json:"width"`
		Height int    `json:"height"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 3)
	require.Equal(t, "frame_b.png", list[1].Name)
	require.Equal(t, 64, list[1].Width)
	require.Equal(t, 48, list[1].Height)
}

func TestDrawUndoRedo(t *testing.T) {
	ts := newTestServer(t)
	st := ts.draw(10, 10, 40, 30)
	require.Len(t, st.Boxes, 1)
	b := st.Boxes[0]
	require.Equal(t, float32(10), b.X)
	require.Equal(t, float32(10), b.Y)
	require.Equal(t, float32(30), b.W)
	require.Equal(t, float32(20), b.H)
	require.True(t, st.CanUndo)

	st = ts.decodeState(ts.do("POST", "/api/undo", nil))
	require.Len(t, st.Boxes, 0)
	require.True(t, st.CanRedo)

	st = ts.decodeState(ts.do("POST", "/api/redo", nil))
	require.Len(t, st.Boxes, 1)

	// Keyboard shortcuts travel through the event stream
	st = ts.events(annot.Event{Type: annot.EventKey, Key: "z", Ctrl: true})
	require.Len(t, st.Boxes, 0)
}

func TestBadEvents(t *testing.T) {
	ts := newTestServer(t)
	w := ts.doJSON("POST", "/api/events", []annot.Event{{Type: "explode"}})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do("POST", "/api/events", []byte("not json"))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBoxEdits(t *testing.T) {
	ts := newTestServer(t)
	st := ts.draw(10, 10, 40, 30)
	id := st.Boxes[0].ID

	st = ts.decodeState(ts.doJSON("POST", "/api/box/"+id+"/label", map[string]any{"value": "person"}))
	require.Equal(t, boxedit.Some("person"), st.Boxes[0].Label)

	st = ts.decodeState(ts.doJSON("POST", "/api/box/"+id+"/tracking", map[string]any{"value": "7"}))
	require.Equal(t, boxedit.Some("7"), st.Boxes[0].TrackingID)

	// null clears the value
	st = ts.decodeState(ts.doJSON("POST", "/api/box/"+id+"/tracking", map[string]any{"value": nil}))
	require.False(t, st.Boxes[0].TrackingID.Valid)

	w := ts.doJSON("POST", "/api/box/nope/label", map[string]any{"value": "person"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	st = ts.decodeState(ts.do("POST", "/api/box/"+id+"/select", nil))
	require.Equal(t, id, st.Selected)

	st = ts.decodeState(ts.do("DELETE", "/api/selected", nil))
	require.Len(t, st.Boxes, 0)
	require.Equal(t, "", st.Selected)
}

func TestSwitchFrame(t *testing.T) {
	ts := newTestServer(t)
	ts.draw(10, 10, 40, 30)

	st := ts.decodeState(ts.do("POST", "/api/frame/1", nil))
	require.Equal(t, 1, st.FrameIndex)
	require.Equal(t, 3, st.FrameCount)
	require.Len(t, st.Boxes, 0)

	st = ts.decodeState(ts.do("POST", "/api/frame/0", nil))
	require.Len(t, st.Boxes, 1)

	require.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/frame/3", nil).Code)
	require.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/frame/x", nil).Code)

	w := ts.doJSON("POST", "/api/frame/2/tags", map[string]string{"tags": "night rain"})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestFrameImage(t *testing.T) {
	ts := newTestServer(t)
	ts.draw(10, 10, 40, 30)

	w := ts.do("GET", "/api/frame/0/image", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "image/png", w.Header().Get("Content-Type"))
	img, _, err := image.Decode(w.Body)
	require.NoError(t, err)
	require.Equal(t, 64, img.Bounds().Dx())
	require.Equal(t, 48, img.Bounds().Dy())

	w = ts.do("GET", "/api/frame/0/image?overlay=1&w=128&h=128", nil)
	require.Equal(t, http.StatusOK, w.Code)
	img, _, err = image.Decode(w.Body)
	require.NoError(t, err)
	require.Equal(t, 128, img.Bounds().Dx())
	require.Equal(t, 128, img.Bounds().Dy())

	require.Equal(t, http.StatusBadRequest, ts.do("GET", "/api/frame/9/image", nil).Code)
	require.Equal(t, http.StatusBadRequest, ts.do("GET", "/api/frame/0/image?w=-1&h=5", nil).Code)
}

func TestExportImport(t *testing.T) {
	ts := newTestServer(t)
	st := ts.draw(10, 10, 40, 30)
	id := st.Boxes[0].ID
	ts.doJSON("POST", "/api/box/"+id+"/label", map[string]any{"value": "person"})

	w := ts.do("GET", "/api/export/csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(w.Body.String(), "Frame,x1,x2,y1,y2,Label,Tracking_ID"))

	w = ts.do("GET", "/api/export/txt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	txt := w.Body.String()
	require.Contains(t, txt, "0\t10 40 10 30 0 -1")

	w = ts.do("GET", "/api/export/yolo.zip", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/zip", w.Header().Get("Content-Type"))

	// Frames without boxes repeat the previous frame's boxes
	require.Contains(t, txt, "2\t10 40 10 30 0 -1")

	w = ts.do("POST", "/api/import/txt", []byte("2\t10 40 10 30 0 -1\n"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st = ts.decodeState(ts.do("POST", "/api/frame/2", nil))
	require.Len(t, st.Boxes, 1)
	require.Equal(t, boxedit.Some("person"), st.Boxes[0].Label)
	require.NotEqual(t, id, st.Boxes[0].ID)
}

func TestExportSave(t *testing.T) {
	ts := newTestServer(t)
	ts.draw(10, 10, 40, 30)

	w := ts.do("POST", "/api/export/save?format=txt", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := map[string]string{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, strings.HasSuffix(res["name"], ".txt"))
	raw, err := os.ReadFile(filepath.Join(ts.exportDir, res["name"]))
	require.NoError(t, err)
	require.Contains(t, string(raw), "10 40 10 30")

	// Back to back saves never overwrite each other
	w = ts.do("POST", "/api/export/save?format=txt", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res2 := map[string]string{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res2))
	require.NotEqual(t, res["name"], res2["name"])

	w = ts.do("GET", "/api/export/saved/"+res["name"], nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/plain", w.Header().Get("Content-Type"))
	require.Equal(t, string(raw), w.Body.String())

	require.Equal(t, http.StatusOK, ts.do("DELETE", "/api/export/saved/"+res["name"], nil).Code)
	require.Equal(t, http.StatusNotFound, ts.do("GET", "/api/export/saved/"+res["name"], nil).Code)
	require.Equal(t, http.StatusNotFound, ts.do("DELETE", "/api/export/saved/"+res["name"], nil).Code)
	_, err = os.Stat(filepath.Join(ts.exportDir, res2["name"]))
	require.NoError(t, err)

	require.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/export/save?format=xml", nil).Code)
}

func TestAutofill(t *testing.T) {
	ts := newTestServer(t)
	ts.draw(1, 1, 20, 20)

	payload := `{"yolov10": [
		{"frame_index": 0, "detections": [{"box": [5, 5, 25, 25], "label": "person"}]},
		{"frame_index": 1, "detections": []},
		{"frame_index": 2, "detections": [{"box": [30, 10, 50, 40], "label": "bike"}]}
	]}`
	w := ts.do("POST", "/api/autofill", []byte(payload))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := struct {
		Boxes int `json:"boxes"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, 2, res.Boxes)

	// The hand drawn box was replaced
	st := ts.state()
	require.Len(t, st.Boxes, 1)
	require.Equal(t, boxedit.Some("person"), st.Boxes[0].Label)

	require.Equal(t, http.StatusBadRequest, ts.do("POST", "/api/autofill", []byte(`{}`)).Code)
}

func TestCategories(t *testing.T) {
	ts := newTestServer(t)
	res := categoriesResponse{}
	w := ts.do("GET", "/api/categories", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, "YOLO Test Set", res.Active)
	require.Contains(t, res.Names, "YOLO Train Set")

	w = ts.doJSON("POST", "/api/categories/select", map[string]string{"name": "YOLO Train Set"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, "YOLO Train Set", res.Active)

	w = ts.doJSON("POST", "/api/categories/select", map[string]string{"name": "nope"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPropagateTracking(t *testing.T) {
	ts := newTestServer(t)
	ts.draw(10, 10, 40, 30)
	ts.do("POST", "/api/frame/1", nil)
	ts.draw(12, 10, 42, 30)

	w := ts.do("POST", "/api/tracking/propagate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := struct {
		Assigned int       `json:"assigned"`
		State    testState `json:"state"`
	}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, 2, res.Assigned)
	require.Len(t, res.State.Boxes, 1)
	require.Equal(t, boxedit.Some("1"), res.State.Boxes[0].TrackingID)
}

func TestWebSocket(t *testing.T) {
	ts := newTestServer(t)
	httpServer := httptest.NewServer(ts.s.Handler())
	defer httpServer.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpServer.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer c.Close()

	type reply struct {
		Error string     `json:"error"`
		State *testState `json:"state"`
	}
	msg := reply{}
	require.NoError(t, c.ReadJSON(&msg))
	require.NotNil(t, msg.State)
	require.Len(t, msg.State.Boxes, 0)

	for _, ev := range []annot.Event{
		{Type: annot.EventDown, ClientX: 10, ClientY: 10},
		{Type: annot.EventMove, ClientX: 30, ClientY: 30},
		{Type: annot.EventUp, ClientX: 30, ClientY: 30},
	} {
		require.NoError(t, c.WriteJSON(ev))
		msg = reply{}
		require.NoError(t, c.ReadJSON(&msg))
		require.Equal(t, "", msg.Error)
	}
	require.Len(t, msg.State.Boxes, 1)

	// Bad events are reported, without closing the connection
	require.NoError(t, c.WriteJSON(annot.Event{Type: "explode"}))
	msg = reply{}
	require.NoError(t, c.ReadJSON(&msg))
	require.NotEqual(t, "", msg.Error)
	require.Len(t, msg.State.Boxes, 1)
}
