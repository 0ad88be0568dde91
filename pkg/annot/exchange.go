package annot

import (
	"bytes"
	"errors"
	"io"

	"github.com/cyclopcam/annotate/pkg/autofill"
	"github.com/cyclopcam/annotate/pkg/boxedit"
	"github.com/cyclopcam/annotate/pkg/frames"
	"github.com/cyclopcam/annotate/pkg/labelfmt"
)

var ErrNoDetections = errors.New("No detections in result")

func (s *Session) classOf(label string) int {
	return s.categories.ClassID(label)
}

func (s *Session) labelOf(class int) (string, bool) {
	return s.categories.Label(class)
}

// Records flattens the boxes of all visited frames, in ascending frame order
func (s *Session) Records() []labelfmt.Record {
	s.syncCurrent()
	records := []labelfmt.Record{}
	for _, fi := range s.visitedFrames() {
		for _, b := range s.store[fi] {
			records = append(records, labelfmt.Record{Frame: fi, Box: b})
		}
	}
	return records
}

func (s *Session) ExportCSV(w io.Writer) error {
	return labelfmt.WriteCSV(w, s.Records())
}

func (s *Session) ExportCombinedTXT(w io.Writer) error {
	return labelfmt.WriteCombinedTXT(w, len(s.frames), s.FrameBoxes(), s.classOf)
}

// ExportYOLOZip writes one YOLO text file per frame, including frames without boxes
func (s *Session) ExportYOLOZip(w io.Writer) error {
	boxes := s.FrameBoxes()
	list := make([]labelfmt.YOLOFrame, 0, len(s.frames))
	for i, f := range s.frames {
		list = append(list, labelfmt.YOLOFrame{
			Stem:  frames.Stem(f.Name),
			Image: labelfmt.Image{Width: f.Width, Height: f.Height},
			Boxes: boxes[i],
			Tags:  s.tags[i],
		})
	}
	return labelfmt.WriteYOLOZip(w, list, s.classOf)
}

// ImportCombinedTXT merges the frames of a combined text file into the session,
// and navigates to the first frame that it contains.
// Returns the number of boxes imported.
func (s *Session) ImportCombinedTXT(r io.Reader) (int, error) {
	records, err := labelfmt.ReadCombinedTXT(r, s.labelOf)
	if err != nil {
		return 0, err
	}
	byFrame := labelfmt.GroupByFrame(records)
	n := s.ApplyFrameBoxes(byFrame, false, "import")
	first := -1
	for fi := range byFrame {
		if fi >= 0 && fi < len(s.frames) && (first == -1 || fi < first) {
			first = fi
		}
	}
	if first >= 0 && first != s.current {
		if err := s.SwitchFrame(first); err != nil {
			return n, err
		}
	}
	s.Log.Infof("Imported %v boxes from combined text", n)
	return n, nil
}

// ImportYOLO merges per-image YOLO files, keyed by image filename stem.
// Frame tags found in the files replace the existing tags of those frames.
func (s *Session) ImportYOLO(files map[string][]byte) (int, error) {
	byFrame := map[int][]boxedit.Box{}
	for i, f := range s.frames {
		raw, ok := files[frames.Stem(f.Name)]
		if !ok {
			continue
		}
		boxes, tags, err := labelfmt.ReadYOLO(bytes.NewReader(raw), labelfmt.Image{Width: f.Width, Height: f.Height}, s.labelOf)
		if err != nil {
			return 0, err
		}
		if tags != "" {
			s.tags[i] = tags
		}
		if len(boxes) != 0 {
			byFrame[i] = boxes
		}
	}
	n := s.ApplyFrameBoxes(byFrame, false, "import")
	s.Log.Infof("Imported %v boxes from %v YOLO files", n, len(byFrame))
	return n, nil
}

// Autofill replaces all boxes with the detections of an inference run.
// The inference frames are spread evenly over the frames of the session.
// If mergeIoU is positive, same-label detections that overlap by at least that much are merged.
func (s *Session) Autofill(payload []byte, mergeIoU float32) (int, error) {
	inferred, err := autofill.ParseFrames(payload)
	if err != nil {
		return 0, err
	}
	if len(inferred) == 0 {
		return 0, ErrNoDetections
	}
	mapped := autofill.MapToFrames(inferred, len(s.frames))
	if mergeIoU > 0 {
		for i, boxes := range mapped {
			mapped[i] = autofill.MergeDuplicates(boxes, mergeIoU)
		}
	}
	n := s.ApplyFrameBoxes(mapped, true, "autofill")
	s.Log.Infof("Autofill mapped %v inference frames onto %v frames (%v boxes)", len(inferred), len(s.frames), n)
	return n, nil
}
