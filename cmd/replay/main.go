// Command replay measures a recorded keypoint stream offline.
//
// Each input line holds one frame: a JSON array of landmark slots, each null
// or [x, y, confidence], or null for a frame without a person. The first valid
// frame calibrates the session from -height. The smoothed measurements of the
// last frame are printed and, with -csv, written as a CSV row.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/example/body-measure/internal/calibration"
	"github.com/example/body-measure/internal/export"
	"github.com/example/body-measure/internal/logging"
	"github.com/example/body-measure/internal/measurement"
	"github.com/example/body-measure/internal/pose"
	"github.com/example/body-measure/internal/session"
)

const maxLineSize = 1 << 20

type options struct {
	framesPath  string
	heightCM    float64
	catalogPath string
	window      int
	floor       float64
	ratio       float64
	csvPath     string
	verbose     bool
	logLevel    string
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.framesPath, "frames", "-", "JSON-lines keypoint file, - for stdin")
	fs.Float64Var(&o.heightCM, "height", 0, "user height in cm (required)")
	fs.StringVar(&o.catalogPath, "catalog", "", "optional JSON catalog override")
	fs.IntVar(&o.window, "window", measurement.DefaultWindowSize, "smoothing window size")
	fs.Float64Var(&o.floor, "floor", pose.DefaultConfidenceFloor, "keypoint confidence floor")
	fs.Float64Var(&o.ratio, "ratio", calibration.DefaultBodyHeightRatio, "visible-body to height ratio for the shoulder-to-ankle fallback")
	fs.StringVar(&o.csvPath, "csv", "", "write the final measurements to this CSV file")
	fs.BoolVar(&o.verbose, "v", false, "print every frame")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if !calibration.IsPositiveLength(o.heightCM) {
		return o, errors.New("-height must be a positive number of centimetres")
	}
	if !(o.floor >= 0 && o.floor <= 1) {
		return o, fmt.Errorf("-floor must be within [0,1], got %.3f", o.floor)
	}
	if !(o.ratio > 0 && o.ratio <= 1) {
		return o, fmt.Errorf("-ratio must be within (0,1], got %.3f", o.ratio)
	}
	if o.window < 1 {
		return o, fmt.Errorf("-window must be at least 1, got %d", o.window)
	}
	return o, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(o.logLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	catalog := measurement.DefaultCatalog()
	if o.catalogPath != "" {
		if catalog, err = measurement.LoadCatalog(o.catalogPath); err != nil {
			return err
		}
	}

	in := stdin
	if o.framesPath != "-" {
		f, err := os.Open(o.framesPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	settings := session.Settings{
		Catalog:     catalog,
		Calibration: calibration.Options{ConfidenceFloor: o.floor, BodyHeightRatio: o.ratio},
		Engine:      measurement.Options{ConfidenceFloor: o.floor, WindowSize: o.window},
	}
	height := o.heightCM
	s := session.NewManager(settings, logger).Create("replay", &height)

	var last *session.Report
	frames := 0
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var set pose.KeypointSet
		if err := json.Unmarshal(raw, &set); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if len(set) == 0 {
			set = nil
		}

		last = s.Process(set)
		frames++
		if o.verbose {
			fmt.Fprintf(stdout, "frame %d: %d/%d measurements", last.Frame, last.Measurements.Computed(), len(catalog))
			for _, a := range last.Advisories {
				fmt.Fprintf(stdout, " [%s]", a)
			}
			fmt.Fprintln(stdout)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if last == nil {
		return errors.New("no frames in input")
	}

	snap := s.Snapshot()
	if !snap.Calibration.IsCalibrated {
		return fmt.Errorf("no valid frame to calibrate from in %d frames", frames)
	}
	logger.Info("replay finished", zap.Int("frames", frames), zap.Float64p("scale_cm_per_px", snap.Calibration.ScaleFactorCMPerPx))

	fmt.Fprintf(stdout, "frames: %d, scale: %.4f cm/px (%s)\n", frames, *snap.Calibration.ScaleFactorCMPerPx, snap.Calibration.Method)
	fmt.Fprintln(stdout, catalog.Format(last.Measurements))
	writeProportions(stdout, last.Proportions)
	for _, w := range last.Validation.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}

	if o.csvPath != "" {
		if err := writeCSV(o.csvPath, catalog, height, last); err != nil {
			return err
		}
	}
	return nil
}

func writeProportions(w io.Writer, p measurement.Proportions) {
	if len(p) == 0 {
		return
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "=== PROPORTIONS ===")
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %.3f\n", k, p[k])
	}
}

func writeCSV(path string, catalog measurement.Catalog, height float64, report *session.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	row := export.Row{
		Timestamp:    time.Now(),
		UserHeightCM: &height,
		Values:       report.Measurements,
	}
	if err := export.WriteCSV(f, catalog, []export.Row{row}); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
