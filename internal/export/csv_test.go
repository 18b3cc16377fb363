package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/example/body-measure/internal/measurement"
)

func ptr(v float64) *float64 { return &v }

func TestWriteCSV(t *testing.T) {
	catalog := measurement.DefaultCatalog()
	rows := []Row{
		{
			Timestamp:    time.Date(2026, 3, 4, 9, 5, 7, 0, time.UTC),
			UserHeightCM: ptr(180),
			Values: measurement.Result{
				measurement.ShoulderWidth: ptr(44.99),
				measurement.TorsoLength:   ptr(62.5),
			},
		},
		{
			Timestamp: time.Date(2026, 3, 4, 9, 6, 0, 0, time.UTC),
			Values:    measurement.Result{},
		},
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, catalog, rows); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	got, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading csv back: %v", err)
	}

	want := [][]string{
		{"timestamp", "user_height_cm", "shoulder_width", "left_sleeve_length", "right_sleeve_length", "left_pant_length", "right_pant_length", "chest_width", "torso_length"},
		{"2026-03-04 09:05:07", "180", "44.99", "", "", "", "", "", "62.5"},
		{"2026-03-04 09:06:00", "", "", "", "", "", "", "", ""},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteCSVHeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, measurement.DefaultCatalog(), nil); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if got, want := buf.String(), "timestamp,user_height_cm,shoulder_width,left_sleeve_length,right_sleeve_length,left_pant_length,right_pant_length,chest_width,torso_length\n"; got != want {
		t.Fatalf("unexpected output %q", got)
	}
}
