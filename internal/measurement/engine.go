package measurement

import (
	"github.com/example/body-measure/internal/pose"
)

// Converter turns pixel lengths into centimetres. It reports false when no
// scale is available yet.
type Converter interface {
	PixelsToCM(pixels float64) (float64, bool)
}

// Result maps each catalog measurement to its smoothed value in centimetres.
// A nil value means the measurement could not be computed this frame.
type Result map[Name]*float64

// Value returns the measurement and whether it was computed.
func (r Result) Value(name Name) (float64, bool) {
	v, ok := r[name]
	if !ok || v == nil {
		return 0, false
	}
	return *v, true
}

// Computed counts the non-null measurements.
func (r Result) Computed() int {
	n := 0
	for _, v := range r {
		if v != nil {
			n++
		}
	}
	return n
}

// Options configures an Engine.
type Options struct {
	ConfidenceFloor float64
	WindowSize      int
}

// DefaultOptions returns the stock engine parameters.
func DefaultOptions() Options {
	return Options{
		ConfidenceFloor: pose.DefaultConfidenceFloor,
		WindowSize:      DefaultWindowSize,
	}
}

// Engine computes the catalog measurements frame by frame. It keeps one
// smoothing window per measurement, so an Engine belongs to exactly one
// measurement session and is not safe for concurrent use.
type Engine struct {
	catalog   Catalog
	opts      Options
	converter Converter
	history   map[Name]*Window
}

// NewEngine returns an engine with empty smoothing windows.
func NewEngine(catalog Catalog, opts Options, converter Converter) *Engine {
	if opts.WindowSize < 1 {
		opts.WindowSize = DefaultWindowSize
	}
	history := make(map[Name]*Window, len(catalog))
	for _, d := range catalog {
		history[d.Name] = NewWindow(opts.WindowSize)
	}
	return &Engine{
		catalog:   catalog,
		opts:      opts,
		converter: converter,
		history:   history,
	}
}

// Catalog returns the definitions the engine computes.
func (e *Engine) Catalog() Catalog {
	return e.catalog
}

// Compute measures one frame. Each measurement is computed independently; a
// measurement that cannot be computed is nil for this frame and leaves its
// smoothing window untouched. Computed values are reported as the mean of
// their window.
func (e *Engine) Compute(set pose.KeypointSet) Result {
	result := make(Result, len(e.catalog))
	for _, d := range e.catalog {
		result[d.Name] = nil

		cm, ok := e.measure(set, d)
		if !ok {
			continue
		}
		w := e.history[d.Name]
		w.Push(cm)
		mean, _ := w.Mean()
		result[d.Name] = &mean
	}
	return result
}

// Raw computes a single measurement in centimetres without touching the
// smoothing windows.
func (e *Engine) Raw(set pose.KeypointSet, name Name) (float64, bool) {
	d, ok := e.catalog.Lookup(name)
	if !ok {
		return 0, false
	}
	return e.measure(set, d)
}

// HistoryLen returns how many values the measurement's window holds.
func (e *Engine) HistoryLen(name Name) int {
	w, ok := e.history[name]
	if !ok {
		return 0
	}
	return w.Len()
}

// Reset clears every smoothing window.
func (e *Engine) Reset() {
	for _, w := range e.history {
		w.Reset()
	}
}

func (e *Engine) measure(set pose.KeypointSet, d Definition) (float64, bool) {
	points, ok := set.Lookup(d.Landmarks...)
	if !ok {
		return 0, false
	}

	var (
		pixels float64
		valid  bool
	)
	switch d.Kind {
	case KindTwoPoint:
		pixels, valid = e.distance(points[0], points[1])
	case KindPath:
		pixels, valid = e.pathLength(points)
	case KindVerticalMidpointPair:
		// Only presence of the four source points is required here; the
		// synthesized midpoints always pass the confidence check.
		pixels, valid = e.distance(pose.Midpoint(points[0], points[1]), pose.Midpoint(points[2], points[3]))
	}
	if !valid {
		return 0, false
	}

	return e.converter.PixelsToCM(pixels * d.scale())
}

func (e *Engine) distance(a, b pose.Keypoint) (float64, bool) {
	if a.Confidence < e.opts.ConfidenceFloor || b.Confidence < e.opts.ConfidenceFloor {
		return 0, false
	}
	return pose.Distance(a, b), true
}

func (e *Engine) pathLength(points []pose.Keypoint) (float64, bool) {
	if len(points) < 2 {
		return 0, false
	}
	var total float64
	for i := 0; i < len(points)-1; i++ {
		d, ok := e.distance(points[i], points[i+1])
		if !ok {
			return 0, false
		}
		total += d
	}
	return total, true
}
