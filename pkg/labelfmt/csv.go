package labelfmt

import (
	"encoding/csv"
	"io"
	"strconv"
)

var csvHeader = []string{"Frame", "x1", "x2", "y1", "y2", "Label", "Tracking_ID"}

// WriteCSV writes one row per record, with corner coordinates in natural pixels.
// Absent labels and tracking ids are written as empty fields.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		b := r.Box
		row := []string{
			strconv.Itoa(r.Frame),
			formatFloat(b.X),
			formatFloat(b.X2()),
			formatFloat(b.Y),
			formatFloat(b.Y2()),
			b.Label.Or(""),
			b.TrackingID.Or(""),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
