package autofill

import (
	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/annotate/pkg/boxedit"
)

// MergeDuplicates scans all pairs of boxes, and if two boxes have the same label and an IoU
// of at least minIoU, the later one is dropped. Detectors often emit near-identical boxes for
// one object, and those are tedious to delete by hand.
// Returns the boxes that should be retained, in their original order.
func MergeDuplicates(input []boxedit.Box, minIoU float32) []boxedit.Box {
	if len(input) == 0 {
		return []boxedit.Box{}
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(len(input))
	for _, b := range input {
		fb.Add(b.X, b.Y, b.X2(), b.Y2())
	}
	fb.Finish()

	deleted := make([]bool, len(input))
	for i, in := range input {
		if deleted[i] {
			continue
		}
		for _, j := range fb.Search(in.X, in.Y, in.X2(), in.Y2()) {
			if j <= i || deleted[j] {
				continue
			}
			if input[j].Label != in.Label {
				continue
			}
			if in.IOU(input[j]) >= minIoU {
				deleted[j] = true
			}
		}
	}

	retain := make([]boxedit.Box, 0, len(input))
	for i, b := range input {
		if !deleted[i] {
			retain = append(retain, b)
		}
	}
	return retain
}
