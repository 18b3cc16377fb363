package measurement

import "gonum.org/v1/gonum/stat"

// DefaultWindowSize is the number of recent values averaged per measurement.
const DefaultWindowSize = 10

// Window is a bounded FIFO of recent values. Pushing past capacity evicts the
// oldest value.
type Window struct {
	values []float64
	size   int
}

// NewWindow returns an empty window holding at most size values.
func NewWindow(size int) *Window {
	if size < 1 {
		size = 1
	}
	return &Window{values: make([]float64, 0, size), size: size}
}

// Push appends v, dropping the oldest value when the window is full.
func (w *Window) Push(v float64) {
	if len(w.values) == w.size {
		copy(w.values, w.values[1:])
		w.values = w.values[:w.size-1]
	}
	w.values = append(w.values, v)
}

// Mean returns the arithmetic mean of the window, or false if it is empty.
func (w *Window) Mean() (float64, bool) {
	if len(w.values) == 0 {
		return 0, false
	}
	return stat.Mean(w.values, nil), true
}

// Len returns the number of values held.
func (w *Window) Len() int {
	return len(w.values)
}

// Values returns a copy of the window contents, oldest first.
func (w *Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Reset empties the window.
func (w *Window) Reset() {
	w.values = w.values[:0]
}
