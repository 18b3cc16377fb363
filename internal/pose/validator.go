package pose

// DefaultConfidenceFloor is the minimum detection confidence a landmark needs
// to take part in a measurement.
const DefaultConfidenceFloor = 0.3

// CriticalLandmarks must all be present and confident for a pose to be usable.
var CriticalLandmarks = []Landmark{LeftShoulder, RightShoulder, LeftHip, RightHip}

// Validator decides whether a keypoint set can be measured.
type Validator struct {
	floor float64
}

// NewValidator returns a validator using the given confidence floor.
func NewValidator(floor float64) *Validator {
	return &Validator{floor: floor}
}

// IsValid reports whether the torso landmarks were all detected with at least
// the configured confidence. Limb-end landmarks are not checked; measurements
// needing them degrade individually.
func (v *Validator) IsValid(set KeypointSet) bool {
	if set == nil {
		return false
	}
	for _, l := range CriticalLandmarks {
		kp, ok := set.Get(l)
		if !ok || kp.Confidence < v.floor {
			return false
		}
	}
	return true
}
