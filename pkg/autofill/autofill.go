// Package autofill turns the JSON output of an object detection run into boxes for the editor
package autofill

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"

	"github.com/cyclopcam/annotate/pkg/boxedit"
)

// InferenceFrame holds the raw detections of one frame of an inference run
type InferenceFrame struct {
	FrameIndex int
	Detections []map[string]any
}

var ErrEmpty = errors.New("Inference result is empty")

// Keys that may wrap the list of frames, in order of preference
var rootKeys = []string{"yolov10", "yolo", "YOLO", "frames"}

// Keys that may wrap the detections of one frame
var detectionKeys = []string{"detections", "boxes", "objects"}

// ParseFrames accepts any of these layouts, where <root> is one of yolov10, yolo, YOLO, frames,
// or absent:
//
//	{<root>: [{frame_index, detections: [...]}, ...]}
//	{<root>: {frames: [...]}}
//	{<root>: {"0": {...}, "1": {...}}}
//	[[...detections], ...]
//
// A frame's detections may also be under "boxes" or "objects". The frame index is taken from
// "frame_index" or "frame", or else the position in the list.
func ParseFrames(payload []byte) ([]InferenceFrame, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, err
	}
	root := doc
	if obj, ok := doc.(map[string]any); ok {
		if len(obj) == 0 {
			return nil, ErrEmpty
		}
		for _, k := range rootKeys {
			if v, ok := obj[k]; ok && v != nil {
				root = v
				break
			}
		}
	}
	if obj, ok := root.(map[string]any); ok {
		if list, ok := obj["frames"].([]any); ok {
			root = list
		}
	}

	var items []any
	switch r := root.(type) {
	case []any:
		items = r
	case map[string]any:
		items = indexKeyedItems(r)
	}

	frames := make([]InferenceFrame, 0, len(items))
	for i, item := range items {
		frames = append(frames, InferenceFrame{
			FrameIndex: frameIndexOf(item, i),
			Detections: detectionsOf(item),
		})
	}
	return frames, nil
}

// indexKeyedItems handles {"0": {...}, "1": {...}}. Non-numeric keys are ignored.
func indexKeyedItems(obj map[string]any) []any {
	type entry struct {
		index int
		value map[string]any
	}
	entries := []entry{}
	for k, v := range obj {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			continue
		}
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		item := map[string]any{}
		for kk, vv := range m {
			item[kk] = vv
		}
		item["frame_index"] = float64(idx)
		entries = append(entries, entry{idx, item})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].index < entries[j].index
	})
	items := make([]any, len(entries))
	for i, e := range entries {
		items[i] = e.value
	}
	return items
}

func frameIndexOf(item any, position int) int {
	if m, ok := item.(map[string]any); ok {
		for _, k := range []string{"frame_index", "frame"} {
			if f, ok := m[k].(float64); ok {
				return int(f)
			}
		}
	}
	return position
}

func detectionsOf(item any) []map[string]any {
	var list []any
	switch v := item.(type) {
	case []any:
		list = v
	case map[string]any:
		for _, k := range detectionKeys {
			if l, ok := v[k].([]any); ok {
				list = l
				break
			}
		}
	}
	out := []map[string]any{}
	for _, d := range list {
		if m, ok := d.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func numberArray(v any) ([4]float32, bool) {
	var out [4]float32
	list, ok := v.([]any)
	if !ok || len(list) < 4 {
		return out, false
	}
	for i := 0; i < 4; i++ {
		f, ok := list[i].(float64)
		if !ok {
			return out, false
		}
		out[i] = float32(f)
	}
	return out, true
}

func numberFields(d map[string]any, keys ...string) ([4]float32, bool) {
	var out [4]float32
	for i, k := range keys {
		f, ok := d[k].(float64)
		if !ok {
			return out, false
		}
		out[i] = float32(f)
	}
	return out, true
}

func textField(d map[string]any, keys ...string) boxedit.OptString {
	for _, k := range keys {
		switch v := d[k].(type) {
		case string:
			if v != "" {
				return boxedit.Some(v)
			}
		case float64:
			return boxedit.Some(strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return boxedit.None
}

// ToBox converts one detection into a box in natural pixels. ok is false if the detection
// has no recognisable geometry, or has no area.
//
// "box" and "bbox" arrays are read as corners if the second corner lies below and to the
// right of the first, otherwise as origin plus size.
func ToBox(d map[string]any) (boxedit.Box, bool) {
	var x, y, w, h float32
	if v, ok := numberArray(d["box"]); ok {
		x, y, w, h = ambiguousRect(v)
	} else if v, ok := numberArray(d["bbox"]); ok {
		x, y, w, h = ambiguousRect(v)
	} else if v, ok := numberArray(d["xyxy"]); ok {
		x, y, w, h = v[0], v[1], v[2]-v[0], v[3]-v[1]
	} else if v, ok := numberFields(d, "x1", "y1", "x2", "y2"); ok {
		x, y, w, h = v[0], v[1], v[2]-v[0], v[3]-v[1]
	} else if v, ok := numberFields(d, "x", "y", "w", "h"); ok {
		x, y, w, h = v[0], v[1], v[2], v[3]
	} else {
		return boxedit.Box{}, false
	}
	if !(w > 0 && h > 0) {
		return boxedit.Box{}, false
	}
	return boxedit.Box{
		X:          x,
		Y:          y,
		W:          w,
		H:          h,
		Label:      textField(d, "label"),
		TrackingID: textField(d, "tracking_id", "track_id"),
	}, true
}

func ambiguousRect(v [4]float32) (x, y, w, h float32) {
	if v[2] > v[0] && v[3] > v[1] {
		return v[0], v[1], v[2] - v[0], v[3] - v[1]
	}
	return v[0], v[1], v[2], v[3]
}

// ToBoxes converts every usable detection of a frame
func ToBoxes(dets []map[string]any) []boxedit.Box {
	out := []boxedit.Box{}
	for _, d := range dets {
		if b, ok := ToBox(d); ok {
			out = append(out, b)
		}
	}
	return out
}

// SourceFrame returns the inference frame (out of m) that best matches extracted frame i (out of n),
// assuming both sequences span the same time range at uniform rates.
func SourceFrame(i, n, m int) int {
	if m <= 1 || n <= 1 {
		return 0
	}
	return int(math.Round(float64(i) * float64(m-1) / float64(n-1)))
}

// MapToFrames spreads the inference frames over n extracted frames.
// Every extracted frame gets an entry, even if it has no boxes.
func MapToFrames(frames []InferenceFrame, n int) map[int][]boxedit.Box {
	out := map[int][]boxedit.Box{}
	if len(frames) == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		out[i] = ToBoxes(frames[SourceFrame(i, n, len(frames))].Detections)
	}
	return out
}
