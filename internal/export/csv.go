// Package export writes saved measurements as a flat table.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/example/body-measure/internal/measurement"
)

// TimestampLayout is the timestamp format of exported rows.
const TimestampLayout = "2006-01-02 15:04:05"

// Row is one exported set of measurements.
type Row struct {
	Timestamp    time.Time
	UserHeightCM *float64
	Values       measurement.Result
}

// Header returns the column names for catalog.
func Header(catalog measurement.Catalog) []string {
	header := []string{"timestamp", "user_height_cm"}
	for _, name := range catalog.Names() {
		header = append(header, string(name))
	}
	return header
}

// WriteCSV writes a header and one line per row. Missing values are left
// empty.
func WriteCSV(w io.Writer, catalog measurement.Catalog, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(catalog)); err != nil {
		return err
	}

	names := catalog.Names()
	for _, row := range rows {
		record := make([]string, 0, len(names)+2)
		record = append(record, row.Timestamp.Format(TimestampLayout), formatValue(row.UserHeightCM))
		for _, name := range names {
			record = append(record, formatValue(row.Values[name]))
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
