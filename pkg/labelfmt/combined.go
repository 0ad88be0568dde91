package labelfmt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cyclopcam/annotate/pkg/boxedit"
)

// WriteCombinedTXT writes all frames into a single file, one line per box:
//
//	frame<TAB>x1 x2 y1 y2 class tracking
//
// Coordinates are rounded to whole pixels. Unknown classes and absent tracking ids are -1.
// A frame without boxes repeats the boxes of the most recent frame that had some, so that
// downstream consumers see a box on every frame of a sequence.
func WriteCombinedTXT(w io.Writer, frameCount int, frameBoxes map[int][]boxedit.Box, classOf ClassOf) error {
	bw := bufio.NewWriter(w)
	var last []boxedit.Box
	first := true
	for i := 0; i < frameCount; i++ {
		boxes := frameBoxes[i]
		if len(boxes) == 0 {
			boxes = last
		} else {
			last = boxes
		}
		for _, b := range boxes {
			if !first {
				bw.WriteByte('\n')
			}
			first = false
			fmt.Fprintf(bw, "%v\t%v %v %v %v %v %v", i,
				formatRounded(b.X), formatRounded(b.X2()), formatRounded(b.Y), formatRounded(b.Y2()),
				classOfBox(b, classOf), trackingText(b))
		}
	}
	return bw.Flush()
}

// ReadCombinedTXT parses the output of WriteCombinedTXT.
// Lines with fewer than 7 fields are skipped. Boxes are returned without ids.
func ReadCombinedTXT(r io.Reader, labelOf LabelOf) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	records := []Record{}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		parts := strings.Fields(scanner.Text())
		if len(parts) < 7 {
			continue
		}
		frame, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("Invalid frame number on line %v: %w", lineNo, err)
		}
		var v [4]float32
		for i := 0; i < 4; i++ {
			v[i], err = parseFloat(parts[1+i])
			if err != nil {
				return nil, fmt.Errorf("Invalid coordinate on line %v: %w", lineNo, err)
			}
		}
		class, err := strconv.Atoi(parts[5])
		if err != nil {
			return nil, fmt.Errorf("Invalid class on line %v: %w", lineNo, err)
		}
		x1, x2, y1, y2 := v[0], v[1], v[2], v[3]
		records = append(records, Record{
			Frame: frame,
			Box: boxedit.Box{
				X:          x1,
				Y:          y1,
				W:          x2 - x1,
				H:          y2 - y1,
				Label:      labelFor(class, labelOf),
				TrackingID: parseTracking(parts[6]),
			},
		})
	}
	return records, scanner.Err()
}
