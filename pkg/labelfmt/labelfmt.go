// Package labelfmt reads and writes box annotations in the file formats used by labelling pipelines
package labelfmt

import (
	"strconv"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/annotate/pkg/boxedit"
)

// Record is one box on one frame
type Record struct {
	Frame int
	Box   boxedit.Box
}

// ClassOf maps a label to its numeric class, or -1 if the label is unknown
type ClassOf func(label string) int

// LabelOf maps a numeric class to its label. ok is false if the class is unknown.
type LabelOf func(class int) (label string, ok bool)

// Image is the natural size of a frame, needed for normalised formats
type Image struct {
	Width  int
	Height int
}

// NoTracking is written in place of an absent tracking id
const NoTracking = "-1"

func classOfBox(b boxedit.Box, classOf ClassOf) int {
	if !b.Label.Valid || classOf == nil {
		return -1
	}
	return classOf(b.Label.Value)
}

func trackingText(b boxedit.Box) string {
	if !b.TrackingID.Valid || b.TrackingID.Value == "" {
		return NoTracking
	}
	return b.TrackingID.Value
}

func parseTracking(s string) boxedit.OptString {
	if s == "" || s == NoTracking {
		return boxedit.None
	}
	return boxedit.Some(s)
}

func labelFor(class int, labelOf LabelOf) boxedit.OptString {
	if labelOf == nil {
		return boxedit.None
	}
	if l, ok := labelOf(class); ok {
		return boxedit.Some(l)
	}
	return boxedit.None
}

func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}

func formatRounded(f float32) string {
	return strconv.Itoa(int(math32.Round(f)))
}

func parseFloat(s string) (float32, error) {
	f, err := strconv.ParseFloat(s, 32)
	return float32(f), err
}

// GroupByFrame splits records into per-frame lists, preserving order
func GroupByFrame(records []Record) map[int][]boxedit.Box {
	out := map[int][]boxedit.Box{}
	for _, r := range records {
		out[r.Frame] = append(out[r.Frame], r.Box)
	}
	return out
}
