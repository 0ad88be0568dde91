package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cyclopcam/annotate/pkg/annot"
	"github.com/cyclopcam/annotate/pkg/boxedit"
	"github.com/cyclopcam/annotate/pkg/frames"
	"github.com/cyclopcam/annotate/pkg/labelfmt"
	"github.com/cyclopcam/annotate/pkg/render"
	"github.com/cyclopcam/annotate/pkg/storage"
	"github.com/cyclopcam/www"
	"github.com/disintegration/imaging"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

const (
	maxEventBytes  = 1024 * 1024
	maxImportBytes = 256 * 1024 * 1024
	maxImageSide   = 8192
)

func (s *Server) setupHttpRoutes() error {
	router := httprouter.New()

	// Pointer events arrive at display rate, so they get a generous limit.
	// Everything that rewrites the session as a whole gets a tight one.
	eventLimit := httprate.Limit(s.cfg.EventsPerSecond, time.Second, httprate.WithKeyFuncs(httprate.KeyByIP))
	bulkLimit := httprate.Limit(10, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))

	limited := func(limiter func(http.Handler) http.Handler, h httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limiter(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, params)
			})).ServeHTTP(w, r)
		}
	}

	www.Handle(s.Log, router, "GET", "/api/ping", s.httpPing)
	www.Handle(s.Log, router, "GET", "/api/frames", s.httpFrames)
	www.Handle(s.Log, router, "POST", "/api/frame/:index", s.httpSwitchFrame)
	www.Handle(s.Log, router, "GET", "/api/frame/:index/image", s.httpFrameImage)
	www.Handle(s.Log, router, "POST", "/api/frame/:index/tags", s.httpSetFrameTags)
	www.Handle(s.Log, router, "GET", "/api/state", s.httpState)
	www.Handle(s.Log, router, "POST", "/api/events", limited(eventLimit, s.httpEvents))
	www.Handle(s.Log, router, "POST", "/api/box/:id/select", s.httpSelectBox)
	www.Handle(s.Log, router, "POST", "/api/box/:id/label", s.httpSetLabel)
	www.Handle(s.Log, router, "POST", "/api/box/:id/tracking", s.httpSetTrackingID)
	www.Handle(s.Log, router, "DELETE", "/api/selected", s.httpDeleteSelected)
	www.Handle(s.Log, router, "POST", "/api/undo", s.httpUndo)
	www.Handle(s.Log, router, "POST", "/api/redo", s.httpRedo)
	www.Handle(s.Log, router, "GET", "/api/export/csv", s.httpExportCSV)
	www.Handle(s.Log, router, "GET", "/api/export/txt", s.httpExportTXT)
	www.Handle(s.Log, router, "GET", "/api/export/yolo.zip", s.httpExportYOLO)
	www.Handle(s.Log, router, "POST", "/api/export/save", limited(bulkLimit, s.httpExportSave))
	www.Handle(s.Log, router, "GET", "/api/export/saved/:name", s.httpSavedExport)
	www.Handle(s.Log, router, "DELETE", "/api/export/saved/:name", s.httpDeleteSavedExport)
	www.Handle(s.Log, router, "POST", "/api/import/txt", limited(bulkLimit, s.httpImportTXT))
	www.Handle(s.Log, router, "POST", "/api/import/yolo", limited(bulkLimit, s.httpImportYOLO))
	www.Handle(s.Log, router, "POST", "/api/autofill", limited(bulkLimit, s.httpAutofill))
	www.Handle(s.Log, router, "GET", "/api/categories", s.httpCategories)
	www.Handle(s.Log, router, "POST", "/api/categories/select", s.httpSelectCategories)
	www.Handle(s.Log, router, "POST", "/api/tracking/propagate", s.httpPropagateTracking)

	// The websocket needs the raw ResponseWriter, so it can hijack the connection
	router.GET("/api/ws", s.httpWebSocket)

	s.httpRouter = router
	return nil
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendOK(w)
}

func (s *Server) httpFrames(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var list []frames.Frame
	s.withSession(func(session *annot.Session) {
		list = session.Frames()
	})
	www.SendJSON(w, list)
}

// frameIndexParam returns the :index route parameter, panicking with a 400 if it's invalid
func frameIndexParam(params httprouter.Params) int {
	idx, err := strconv.Atoi(params.ByName("index"))
	if err != nil {
		www.PanicBadRequestf("Invalid frame index '%v'", params.ByName("index"))
	}
	return idx
}

func (s *Server) httpSwitchFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	idx := frameIndexParam(params)
	var state annot.State
	var err error
	s.withSession(func(session *annot.Session) {
		err = session.SwitchFrame(idx)
		state = session.State()
	})
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, state)
}

// httpFrameImage serves a frame as PNG.
// With w and h, the frame is letterboxed into a w x h canvas, the same way the display does it.
// With overlay=1, the boxes of that frame are drawn on top.
func (s *Server) httpFrameImage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	idx := frameIndexParam(params)
	overlay := www.QueryValue(r, "overlay") == "1"
	width := queryInt(r, "w")
	height := queryInt(r, "h")
	if width < 0 || height < 0 || width > maxImageSide || height > maxImageSide {
		www.PanicBadRequestf("Invalid image size %v x %v", width, height)
	}

	var frame frames.Frame
	var boxes []boxedit.Box
	opts := render.Options{ShowLabels: true}
	found := false
	s.withSession(func(session *annot.Session) {
		list := session.Frames()
		if idx < 0 || idx >= len(list) {
			return
		}
		found = true
		frame = list[idx]
		if !overlay {
			return
		}
		cats := session.Categories()
		opts.ClassOf = cats.ClassID
		if idx == session.CurrentFrame() {
			ed := session.Editor()
			boxes = ed.Boxes()
			opts.Selected = ed.SelectedID()
			if p, ok := ed.Preview(); ok {
				opts.Preview = &p
			}
		} else {
			boxes = session.FrameBoxes()[idx]
		}
	})
	if !found {
		www.PanicBadRequestf("Frame index %v out of range", idx)
	}

	img, err := frames.Load(frame)
	www.Check(err)

	display := render.NaturalFrame(img)
	if width != 0 && height != 0 {
		img, display = render.Letterbox(img, width, height)
	}
	if overlay {
		img = render.Overlay(img, display, boxes, opts)
	}

	var buf bytes.Buffer
	www.Check(imaging.Encode(&buf, img, imaging.PNG))
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func queryInt(r *http.Request, key string) int {
	v := www.QueryValue(r, key)
	if v == "" {
		return 0
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		www.PanicBadRequestf("Invalid integer for %v: '%v'", key, v)
	}
	return i
}

func (s *Server) httpSetFrameTags(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	idx := frameIndexParam(params)
	req := struct {
		Tags string `json:"tags"`
	}{}
	www.ReadJSON(w, r, &req, maxEventBytes)
	var err error
	s.withSession(func(session *annot.Session) {
		err = session.SetFrameTags(idx, req.Tags)
	})
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendOK(w)
}

func (s *Server) httpState(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var state annot.State
	s.withSession(func(session *annot.Session) {
		state = session.State()
	})
	www.SendJSON(w, state)
}

// httpEvents applies a batch of events in order, and returns the resulting state.
// An invalid event aborts the rest of the batch, but events before it remain applied.
func (s *Server) httpEvents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	events := []annot.Event{}
	www.ReadJSON(w, r, &events, maxEventBytes)
	var state annot.State
	var err error
	s.withSession(func(session *annot.Session) {
		for i := range events {
			if err = session.Apply(events[i]); err != nil {
				err = fmt.Errorf("Event %v: %w", i, err)
				break
			}
		}
		state = session.State()
	})
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, state)
}

func (s *Server) httpSelectBox(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	var ok bool
	var state annot.State
	s.withSession(func(session *annot.Session) {
		ok = session.SelectBox(id)
		state = session.State()
	})
	if !ok {
		www.PanicBadRequestf("Box '%v' not found", id)
	}
	www.SendJSON(w, state)
}

type optionalValue struct {
	Value boxedit.OptString `json:"value"`
}

func (s *Server) httpSetLabel(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	req := optionalValue{}
	www.ReadJSON(w, r, &req, maxEventBytes)
	var ok bool
	var state annot.State
	s.withSession(func(session *annot.Session) {
		ok = session.SetLabel(id, req.Value)
		state = session.State()
	})
	if !ok {
		www.PanicBadRequestf("Box '%v' not found", id)
	}
	www.SendJSON(w, state)
}

func (s *Server) httpSetTrackingID(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	id := params.ByName("id")
	req := optionalValue{}
	www.ReadJSON(w, r, &req, maxEventBytes)
	var ok bool
	var state annot.State
	s.withSession(func(session *annot.Session) {
		ok = session.SetTrackingID(id, req.Value)
		state = session.State()
	})
	if !ok {
		www.PanicBadRequestf("Box '%v' not found", id)
	}
	www.SendJSON(w, state)
}

func (s *Server) httpDeleteSelected(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var state annot.State
	s.withSession(func(session *annot.Session) {
		session.DeleteSelected()
		state = session.State()
	})
	www.SendJSON(w, state)
}

func (s *Server) httpUndo(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var state annot.State
	s.withSession(func(session *annot.Session) {
		session.Undo()
		state = session.State()
	})
	www.SendJSON(w, state)
}

func (s *Server) httpRedo(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var state annot.State
	s.withSession(func(session *annot.Session) {
		session.Redo()
		state = session.State()
	})
	www.SendJSON(w, state)
}

// exportFormats maps a format name to its file extension, MIME type, and writer
var exportFormats = map[string]struct {
	ext   string
	mime  string
	write func(session *annot.Session, w io.Writer) error
}{
	"csv":  {"csv", "text/csv", (*annot.Session).ExportCSV},
	"txt":  {"txt", "text/plain", (*annot.Session).ExportCombinedTXT},
	"yolo": {"zip", "application/zip", (*annot.Session).ExportYOLOZip},
}

// renderExport runs an exporter under the session lock, into memory
func (s *Server) renderExport(format string) ([]byte, error) {
	f, ok := exportFormats[format]
	if !ok {
		return nil, fmt.Errorf("Unknown export format '%v'", format)
	}
	var buf bytes.Buffer
	var err error
	s.withSession(func(session *annot.Session) {
		err = f.write(session, &buf)
	})
	return buf.Bytes(), err
}

func (s *Server) sendExport(w http.ResponseWriter, format, filename string) {
	raw, err := s.renderExport(format)
	www.Check(err)
	w.Header().Set("Content-Type", exportFormats[format].mime)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%v"`, filename))
	w.Write(raw)
}

func (s *Server) httpExportCSV(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sendExport(w, "csv", "annotations.csv")
}

func (s *Server) httpExportTXT(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sendExport(w, "txt", "annotations.txt")
}

func (s *Server) httpExportYOLO(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.sendExport(w, "yolo", "annotations.zip")
}

// httpExportSave writes an export to the configured storage, instead of returning it
func (s *Server) httpExportSave(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	format := www.QueryValue(r, "format")
	if format == "" {
		format = "csv"
	}
	f, ok := exportFormats[format]
	if !ok {
		www.PanicBadRequestf("Unknown export format '%v'", format)
	}
	raw, err := s.renderExport(format)
	www.Check(err)
	name := storage.ExportName("annotations", f.ext, s.exportTime())
	www.Check(storage.WriteFile(s.storage, name, bytes.NewReader(raw)))
	s.Log.Infof("Saved %v export (%v bytes) to %v", format, len(raw), s.storage.Location(name))
	www.SendJSON(w, map[string]string{
		"name":     name,
		"location": s.storage.Location(name),
	})
}

// exportTime returns a millisecond time that is later than that of any previous saved export,
// so that export names never collide.
func (s *Server) exportTime() time.Time {
	s.exportLock.Lock()
	defer s.exportLock.Unlock()
	now := time.Now().Truncate(time.Millisecond)
	if !now.After(s.lastExport) {
		now = s.lastExport.Add(time.Millisecond)
	}
	s.lastExport = now
	return now
}

// httpSavedExport downloads an export that was previously saved with /api/export/save
func (s *Server) httpSavedExport(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := params.ByName("name")
	f, err := s.storage.ReadFile(name)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	} else if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	defer f.Reader.Close()
	mime := "application/octet-stream"
	for _, format := range exportFormats {
		if strings.HasSuffix(name, "."+format.ext) {
			mime = format.mime
		}
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%v"`, name))
	if _, err := io.Copy(w, f.Reader); err != nil {
		s.Log.Warnf("Failed to send export %v: %v", name, err)
	}
}

func (s *Server) httpDeleteSavedExport(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := params.ByName("name")
	err := s.storage.DeleteFile(name)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	} else if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendOK(w)
}

func readBody(w http.ResponseWriter, r *http.Request) []byte {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		www.PanicBadRequestf("Failed to read request body: %v", err)
	}
	return raw
}

type importResult struct {
	Boxes int         `json:"boxes"`
	State annot.State `json:"state"`
}

func (s *Server) httpImportTXT(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	raw := readBody(w, r)
	var res importResult
	var err error
	s.withSession(func(session *annot.Session) {
		res.Boxes, err = session.ImportCombinedTXT(bytes.NewReader(raw))
		res.State = session.State()
	})
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, res)
}

// httpImportYOLO accepts a zip of YOLO .txt files, named after the frames they belong to
func (s *Server) httpImportYOLO(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	raw := readBody(w, r)
	files, err := labelfmt.ReadYOLOZip(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	var res importResult
	s.withSession(func(session *annot.Session) {
		res.Boxes, err = session.ImportYOLO(files)
		res.State = session.State()
	})
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, res)
}

// httpAutofill accepts a per-frame inference result, and replaces all annotations with it
func (s *Server) httpAutofill(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	raw := readBody(w, r)
	var res importResult
	var err error
	s.withSession(func(session *annot.Session) {
		res.Boxes, err = session.Autofill(raw, s.cfg.MergeIoU)
		res.State = session.State()
	})
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, res)
}

type categoriesResponse struct {
	Active string   `json:"active"`
	Names  []string `json:"names"`
	Labels []string `json:"labels"`
}

func (s *Server) categories() categoriesResponse {
	var res categoriesResponse
	s.withSession(func(session *annot.Session) {
		cats := session.Categories()
		res.Active = cats.Active().Name
		res.Names = cats.Names()
		res.Labels = cats.Labels()
	})
	return res
}

func (s *Server) httpCategories(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.categories())
}

func (s *Server) httpSelectCategories(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := struct {
		Name string `json:"name"`
	}{}
	www.ReadJSON(w, r, &req, maxEventBytes)
	var err error
	s.withSession(func(session *annot.Session) {
		err = session.SelectCategories(req.Name)
	})
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	www.SendJSON(w, s.categories())
}

func (s *Server) httpPropagateTracking(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var res struct {
		Assigned int         `json:"assigned"`
		State    annot.State `json:"state"`
	}
	s.withSession(func(session *annot.Session) {
		res.Assigned = session.PropagateTracking(s.cfg.TrackingIoU)
		res.State = session.State()
	})
	www.SendJSON(w, res)
}
