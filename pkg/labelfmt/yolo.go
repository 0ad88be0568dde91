package labelfmt

import (
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cyclopcam/annotate/pkg/boxedit"
)

// WriteYOLO writes the boxes of one image, one line per box:
//
//	class cx cy w h tracking [tags]
//
// Centre and size are normalised to the image size, with 6 decimals.
// tags is free text about the whole frame, and is repeated on every line.
func WriteYOLO(w io.Writer, img Image, boxes []boxedit.Box, classOf ClassOf, tags string) error {
	if img.Width <= 0 || img.Height <= 0 {
		return fmt.Errorf("Image size %v x %v is invalid", img.Width, img.Height)
	}
	tags = strings.TrimSpace(tags)
	iw := float64(img.Width)
	ih := float64(img.Height)
	bw := bufio.NewWriter(w)
	for i, b := range boxes {
		if i != 0 {
			bw.WriteByte('\n')
		}
		cx := (float64(b.X) + float64(b.W)/2) / iw
		cy := (float64(b.Y) + float64(b.H)/2) / ih
		fmt.Fprintf(bw, "%v %.6f %.6f %.6f %.6f %v", classOfBox(b, classOf), cx, cy, float64(b.W)/iw, float64(b.H)/ih, trackingText(b))
		if tags != "" {
			bw.WriteByte(' ')
			bw.WriteString(tags)
		}
	}
	return bw.Flush()
}

// ReadYOLO parses the boxes of one image. Lines with fewer than 5 fields are skipped.
// Any tokens after the tracking id are returned as the frame tags.
func ReadYOLO(r io.Reader, img Image, labelOf LabelOf) (boxes []boxedit.Box, tags string, err error) {
	scanner := bufio.NewScanner(r)
	iw := float32(img.Width)
	ih := float32(img.Height)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		parts := strings.Fields(scanner.Text())
		if len(parts) < 5 {
			continue
		}
		class, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, "", fmt.Errorf("Invalid class on line %v: %w", lineNo, err)
		}
		var v [4]float32
		for i := 0; i < 4; i++ {
			v[i], err = parseFloat(parts[1+i])
			if err != nil {
				return nil, "", fmt.Errorf("Invalid coordinate on line %v: %w", lineNo, err)
			}
		}
		cx, cy, w, h := v[0], v[1], v[2], v[3]
		b := boxedit.Box{
			X:     (cx - w/2) * iw,
			Y:     (cy - h/2) * ih,
			W:     w * iw,
			H:     h * ih,
			Label: labelFor(class, labelOf),
		}
		if len(parts) >= 6 {
			b.TrackingID = parseTracking(parts[5])
		}
		if len(parts) > 6 {
			tags = strings.Join(parts[6:], " ")
		}
		boxes = append(boxes, b)
	}
	return boxes, tags, scanner.Err()
}

// YOLOFrame is the input for one file of a YOLO bundle
type YOLOFrame struct {
	Stem  string // Image filename without extension
	Image Image
	Boxes []boxedit.Box
	Tags  string
}

// WriteYOLOZip writes a zip archive containing <stem>.txt for every frame
func WriteYOLOZip(w io.Writer, frames []YOLOFrame, classOf ClassOf) error {
	zw := zip.NewWriter(w)
	for _, f := range frames {
		fw, err := zw.Create(f.Stem + ".txt")
		if err != nil {
			return err
		}
		if err := WriteYOLO(fw, f.Image, f.Boxes, classOf, f.Tags); err != nil {
			return fmt.Errorf("Failed to write %v: %w", f.Stem, err)
		}
	}
	return zw.Close()
}

// ReadYOLOZip reads the text files of a YOLO bundle, keyed by filename stem
func ReadYOLOZip(r io.ReaderAt, size int64) (map[string][]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	out := map[string][]byte{}
	for _, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".txt") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		name := f.Name[strings.LastIndex(f.Name, "/")+1:]
		out[name[:len(name)-len(".txt")]] = raw
	}
	return out, nil
}
