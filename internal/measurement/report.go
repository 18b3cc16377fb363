package measurement

import (
	"fmt"
	"math"
	"strings"
)

// Proportion keys.
const (
	ShoulderTorsoRatio = "shoulder_torso_ratio"
	ArmSymmetry        = "arm_symmetry"
	ArmDifferenceCM    = "arm_difference_cm"
	LegSymmetry        = "leg_symmetry"
	LegDifferenceCM    = "leg_difference_cm"
)

// Proportions holds derived ratios. A key is absent when its inputs were not
// computed.
type Proportions map[string]float64

// ComputeProportions derives body ratios and left/right symmetry from a result.
func ComputeProportions(r Result) Proportions {
	p := Proportions{}

	if shoulder, ok := r.Value(ShoulderWidth); ok {
		if torso, ok := r.Value(TorsoLength); ok && torso != 0 {
			p[ShoulderTorsoRatio] = shoulder / torso
		}
	}

	symmetry(p, r, LeftSleeveLength, RightSleeveLength, ArmSymmetry, ArmDifferenceCM)
	symmetry(p, r, LeftPantLength, RightPantLength, LegSymmetry, LegDifferenceCM)
	return p
}

func symmetry(p Proportions, r Result, left, right Name, ratioKey, diffKey string) {
	l, ok := r.Value(left)
	if !ok {
		return
	}
	rv, ok := r.Value(right)
	if !ok {
		return
	}
	if hi := math.Max(l, rv); hi != 0 {
		p[ratioKey] = math.Min(l, rv) / hi
	}
	p[diffKey] = math.Abs(l - rv)
}

// Validation is the advisory outcome of a range check.
type Validation struct {
	IsValid  bool     `json:"is_valid"`
	Warnings []string `json:"warnings"`
}

// Validate flags computed measurements outside their plausible range.
// Out-of-range values are advisory and never block a result.
func (c Catalog) Validate(r Result) Validation {
	v := Validation{IsValid: true, Warnings: []string{}}
	for _, d := range c {
		if d.Range == nil {
			continue
		}
		value, ok := r.Value(d.Name)
		if !ok || d.Range.Contains(value) {
			continue
		}
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: %.1fcm seems unusual (expected %g-%gcm)",
			d.DisplayName, value, d.Range.Min, d.Range.Max))
	}
	v.IsValid = len(v.Warnings) == 0
	return v
}

// Format renders computed measurements as a human-readable summary.
func (c Catalog) Format(r Result) string {
	var b strings.Builder
	b.WriteString("=== BODY MEASUREMENTS ===")
	for _, d := range c {
		value, ok := r.Value(d.Name)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n%s: %.1f cm", d.DisplayName, value)
	}
	return b.String()
}
