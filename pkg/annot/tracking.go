package annot

import (
	"strconv"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/cyclopcam/annotate/pkg/boxedit"
)

// PropagateTracking gives a tracking id to every box that lacks one.
// Visited frames are processed in order. A box inherits the id of the same-label box in the
// previous visited frame that overlaps it most (with IoU at least minIoU), provided no other box
// in its frame already carries that id. Otherwise it is given a new numeric id.
// Returns the number of boxes that were assigned an id.
func (s *Session) PropagateTracking(minIoU float32) int {
	s.editor.Abort()
	s.syncCurrent()
	next := s.maxNumericTrackingID() + 1
	assigned := 0

	var prev []boxedit.Box
	for _, fi := range s.visitedFrames() {
		boxes := s.store[fi]
		if len(boxes) == 0 {
			continue
		}

		// Create spatial index on the previous frame's boxes
		fb := flatbush.NewFlatbush[float32]()
		fb.Reserve(len(prev))
		for _, b := range prev {
			fb.Add(b.X, b.Y, b.X2(), b.Y2())
		}
		fb.Finish()

		// Tracking ids that are already in use on this frame
		taken := map[string]bool{}
		for _, b := range boxes {
			if b.TrackingID.Valid {
				taken[b.TrackingID.Value] = true
			}
		}

		for i := range boxes {
			b := &boxes[i]
			if b.TrackingID.Valid {
				continue
			}
			best := -1
			bestIoU := minIoU
			if len(prev) != 0 {
				for _, j := range fb.Search(b.X, b.Y, b.X2(), b.Y2()) {
					p := prev[j]
					if !p.TrackingID.Valid || taken[p.TrackingID.Value] || p.Label != b.Label {
						continue
					}
					if iou := b.IOU(p); iou > 0 && iou >= bestIoU {
						bestIoU = iou
						best = j
					}
				}
			}
			if best >= 0 {
				b.TrackingID = prev[best].TrackingID
			} else {
				b.TrackingID = boxedit.Some(strconv.Itoa(next))
				next++
			}
			taken[b.TrackingID.Value] = true
			assigned++
		}
		prev = boxes
	}

	if assigned != 0 {
		s.editor.ReplaceBoxes(s.store[s.current], s.editor.SelectedID())
		s.syncCurrent()
		s.history.Push(s.snapshot("tracking"))
		s.Log.Infof("Assigned %v tracking ids", assigned)
	}
	return assigned
}

func (s *Session) maxNumericTrackingID() int {
	max := 0
	for _, boxes := range s.store {
		for _, b := range boxes {
			if !b.TrackingID.Valid {
				continue
			}
			if n, err := strconv.Atoi(b.TrackingID.Value); err == nil && n > max {
				max = n
			}
		}
	}
	return max
}
