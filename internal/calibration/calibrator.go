// Package calibration converts pixel distances into centimetres using a scale
// derived from a known reference length on the body.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/example/body-measure/internal/pose"
)

// DefaultBodyHeightRatio is the share of full body height covered by the
// shoulder to ankle span. Used when the head or feet cannot be located.
const DefaultBodyHeightRatio = 0.75

// ReferenceShoulderWidth is the only supported reference calibration type.
const ReferenceShoulderWidth = "shoulder_width"

// Calibration methods recorded in State.
const (
	MethodHeadToFoot     = "head_to_foot"
	MethodShoulderAnkle  = "shoulder_to_ankle"
	MethodReferenceWidth = "reference_shoulder_width"
)

var (
	ErrNoKeypoints          = errors.New("no keypoints detected for calibration")
	ErrInvalidHeight        = errors.New("length must be a positive finite number")
	ErrNoPixelHeight        = errors.New("could not determine body height in pixels")
	ErrUnsupportedReference = errors.New("unsupported reference type")
	ErrMissingLandmarks     = errors.New("reference landmarks not detected")
)

// Options configures a Calibrator.
type Options struct {
	ConfidenceFloor float64
	BodyHeightRatio float64
}

// DefaultOptions returns the stock calibration parameters.
func DefaultOptions() Options {
	return Options{
		ConfidenceFloor: pose.DefaultConfidenceFloor,
		BodyHeightRatio: DefaultBodyHeightRatio,
	}
}

// State is a snapshot of a calibrator for display and audit.
type State struct {
	IsCalibrated       bool      `json:"is_calibrated"`
	ScaleFactorCMPerPx *float64  `json:"scale_factor_cm_per_px"`
	ReferenceHeightCM  *float64  `json:"reference_height_cm"`
	ReferenceType      string    `json:"reference_type,omitempty"`
	ReferenceCM        float64   `json:"reference_cm,omitempty"`
	PixelLength        float64   `json:"pixel_length,omitempty"`
	Method             string    `json:"method,omitempty"`
	CalibratedAt       time.Time `json:"calibrated_at,omitempty"`
}

// Calibrator holds the pixel to centimetre scale for one measurement session.
// It starts uncalibrated; every successful calibration overwrites the scale.
// Not safe for concurrent use.
type Calibrator struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	calibrated  bool
	scale       float64
	heightCM    *float64
	refType     string
	refCM       float64
	pixelLength float64
	method      string
	at          time.Time
}

// NewCalibrator returns an uncalibrated Calibrator.
func NewCalibrator(opts Options, logger *zap.Logger) *Calibrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Calibrator{
		opts:   opts,
		logger: logger.Named("calibrator"),
		now:    time.Now,
	}
}

// Calibrate derives the scale from the user's stated height and the body's
// pixel height in the frame. On failure the previous state is kept.
func (c *Calibrator) Calibrate(set pose.KeypointSet, heightCM float64) error {
	if set == nil {
		c.logger.Warn("calibration failed", zap.Error(ErrNoKeypoints))
		return ErrNoKeypoints
	}
	if !IsPositiveLength(heightCM) {
		return fmt.Errorf("%w: got %.2f", ErrInvalidHeight, heightCM)
	}

	pixelHeight, method := c.bodyHeightPixels(set)
	if pixelHeight == 0 {
		c.logger.Warn("calibration failed", zap.Error(ErrNoPixelHeight))
		return ErrNoPixelHeight
	}

	height := heightCM
	c.apply(heightCM/pixelHeight, pixelHeight, method)
	c.heightCM = &height
	c.refType = ""
	c.refCM = 0

	c.logger.Info("calibration successful",
		zap.Float64("user_height_cm", heightCM),
		zap.Float64("pixel_height", pixelHeight),
		zap.String("method", method),
		zap.Float64("scale_factor_cm_per_px", c.scale),
	)
	return nil
}

// CalibrateFromReference derives the scale from a known body measurement
// instead of total height. Only ReferenceShoulderWidth is supported. The stated
// height from an earlier Calibrate call is kept for audit.
func (c *Calibrator) CalibrateFromReference(set pose.KeypointSet, referenceCM float64, referenceType string) error {
	if set == nil {
		return ErrNoKeypoints
	}
	if referenceType != ReferenceShoulderWidth {
		return fmt.Errorf("%w: %q", ErrUnsupportedReference, referenceType)
	}
	if !IsPositiveLength(referenceCM) {
		return fmt.Errorf("%w: got %.2f", ErrInvalidHeight, referenceCM)
	}

	points, ok := set.Lookup(pose.LeftShoulder, pose.RightShoulder)
	if !ok {
		return ErrMissingLandmarks
	}
	distance := pose.Distance(points[0], points[1])
	if distance == 0 {
		return ErrNoPixelHeight
	}

	c.apply(referenceCM/distance, distance, MethodReferenceWidth)
	c.refType = referenceType
	c.refCM = referenceCM

	c.logger.Info("reference calibration successful",
		zap.String("reference_type", referenceType),
		zap.Float64("reference_cm", referenceCM),
		zap.Float64("pixel_distance", distance),
		zap.Float64("scale_factor_cm_per_px", c.scale),
	)
	return nil
}

// PixelsToCM converts a pixel distance. It reports false while uncalibrated.
func (c *Calibrator) PixelsToCM(pixels float64) (float64, bool) {
	if !c.calibrated {
		return 0, false
	}
	return pixels * c.scale, true
}

// IsCalibrated reports whether a scale factor is available.
func (c *Calibrator) IsCalibrated() bool {
	return c.calibrated
}

// State returns a copy of the calibration state.
func (c *Calibrator) State() State {
	st := State{
		IsCalibrated:  c.calibrated,
		ReferenceType: c.refType,
		ReferenceCM:   c.refCM,
		PixelLength:   c.pixelLength,
		Method:        c.method,
		CalibratedAt:  c.at,
	}
	if c.calibrated {
		scale := c.scale
		st.ScaleFactorCMPerPx = &scale
	}
	if c.heightCM != nil {
		h := *c.heightCM
		st.ReferenceHeightCM = &h
	}
	return st
}

func (c *Calibrator) apply(scale, pixelLength float64, method string) {
	c.scale = scale
	c.pixelLength = pixelLength
	c.method = method
	c.calibrated = true
	c.at = c.now().UTC()
}

// bodyHeightPixels measures head to foot, falling back to a scaled shoulder
// to ankle span. Zero means no estimate.
func (c *Calibrator) bodyHeightPixels(set pose.KeypointSet) (float64, string) {
	top, topOK := c.extreme(set, pose.FaceLandmarks, func(a, b pose.Keypoint) bool { return a.Y < b.Y })
	bottom, bottomOK := c.extreme(set, pose.FootLandmarks, func(a, b pose.Keypoint) bool { return a.Y > b.Y })
	if topOK && bottomOK {
		return pose.Distance(top, bottom), MethodHeadToFoot
	}

	if c.opts.BodyHeightRatio <= 0 {
		return 0, ""
	}
	sides := [][2]pose.Landmark{
		{pose.LeftShoulder, pose.LeftAnkle},
		{pose.RightShoulder, pose.RightAnkle},
	}
	for _, side := range sides {
		points, ok := set.Lookup(side[0], side[1])
		if !ok {
			continue
		}
		return pose.Distance(points[0], points[1]) / c.opts.BodyHeightRatio, MethodShoulderAnkle
	}
	return 0, ""
}

// extreme picks the candidate landmark above the confidence floor that wins
// under better. Ties keep the earlier landmark.
func (c *Calibrator) extreme(set pose.KeypointSet, candidates []pose.Landmark, better func(a, b pose.Keypoint) bool) (pose.Keypoint, bool) {
	var (
		best  pose.Keypoint
		found bool
	)
	for _, l := range candidates {
		kp, ok := set.Get(l)
		if !ok || kp.Confidence <= c.opts.ConfidenceFloor {
			continue
		}
		if !found || better(kp, best) {
			best = kp
			found = true
		}
	}
	return best, found
}

// IsPositiveLength reports whether v is usable as a body length: finite and
// greater than zero.
func IsPositiveLength(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
