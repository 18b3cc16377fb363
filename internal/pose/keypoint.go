package pose

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Keypoint is one detected landmark in a frame: pixel position plus detection
// confidence in [0,1].
type Keypoint struct {
	X          float64
	Y          float64
	Confidence float64
}

// Distance returns the Euclidean pixel distance between a and b. Confidence is
// not part of the metric.
func Distance(a, b Keypoint) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Midpoint returns the point halfway between a and b with full confidence.
func Midpoint(a, b Keypoint) Keypoint {
	return Keypoint{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2, Confidence: 1}
}

// KeypointSet maps landmarks to their detected keypoints for a single frame.
// A landmark missing from the map was not detected; a nil set means the
// estimator found no body at all. Sets are treated as read-only once built.
type KeypointSet map[Landmark]Keypoint

// ErrMalformedKeypoints is returned when estimator output violates the slot
// contract.
var ErrMalformedKeypoints = errors.New("malformed keypoints")

// Get returns the keypoint for l and whether it was detected.
func (s KeypointSet) Get(l Landmark) (Keypoint, bool) {
	if s == nil {
		return Keypoint{}, false
	}
	kp, ok := s[l]
	return kp, ok
}

// Lookup resolves several landmarks at once. It fails if any is absent.
func (s KeypointSet) Lookup(landmarks ...Landmark) ([]Keypoint, bool) {
	points := make([]Keypoint, 0, len(landmarks))
	for _, l := range landmarks {
		kp, ok := s.Get(l)
		if !ok {
			return nil, false
		}
		points = append(points, kp)
	}
	return points, true
}

// ParseSlots builds a set from the estimator's positional output. Each slot is
// either empty (not detected) or an [x, y, confidence] triple.
func ParseSlots(slots [][]float64) (KeypointSet, error) {
	if len(slots) > LandmarkCount {
		return nil, fmt.Errorf("%w: %d slots, at most %d allowed", ErrMalformedKeypoints, len(slots), LandmarkCount)
	}

	set := make(KeypointSet, len(slots))
	for i, slot := range slots {
		if slot == nil {
			continue
		}
		if len(slot) != 3 {
			return nil, fmt.Errorf("%w: slot %d has %d values, want 3", ErrMalformedKeypoints, i, len(slot))
		}
		for _, v := range slot {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: slot %d has a non-finite value", ErrMalformedKeypoints, i)
			}
		}
		if slot[2] < 0 || slot[2] > 1 {
			return nil, fmt.Errorf("%w: slot %d confidence %.3f outside [0,1]", ErrMalformedKeypoints, i, slot[2])
		}
		set[Landmark(i)] = Keypoint{X: slot[0], Y: slot[1], Confidence: slot[2]}
	}
	return set, nil
}

// Slots returns the positional form of the set, always LandmarkCount long.
func (s KeypointSet) Slots() [][]float64 {
	slots := make([][]float64, LandmarkCount)
	for l, kp := range s {
		if !l.Valid() {
			continue
		}
		slots[l] = []float64{kp.X, kp.Y, kp.Confidence}
	}
	return slots
}

// MarshalJSON encodes the set in slot form.
func (s KeypointSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.Slots())
}

// UnmarshalJSON decodes the slot form: an array of null or [x, y, confidence].
func (s *KeypointSet) UnmarshalJSON(data []byte) error {
	var slots [][]float64
	if err := json.Unmarshal(data, &slots); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedKeypoints, err)
	}
	if slots == nil {
		*s = nil
		return nil
	}
	set, err := ParseSlots(slots)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
