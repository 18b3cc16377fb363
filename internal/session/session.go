// Package session holds the per-user measurement state: one calibrator and
// one smoothing engine per session, isolated from every other session.
package session

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/body-measure/internal/calibration"
	"github.com/example/body-measure/internal/measurement"
	"github.com/example/body-measure/internal/pose"
)

// ErrInvalidPose is returned when the torso landmarks needed for calibration
// were not confidently detected.
var ErrInvalidPose = errors.New("pose is missing torso landmarks")

// Advisory messages attached to frame reports.
const (
	AdvisoryNoPose       = "no pose detected; make sure the full body is visible"
	AdvisoryInvalidPose  = "shoulders and hips must be clearly visible; stand upright facing the camera"
	AdvisoryUncalibrated = "session is not calibrated; calibrate with your height first"
	AdvisoryAutoCalFail  = "automatic calibration failed for this frame"
)

// Report is the outcome of one measured frame.
type Report struct {
	SessionID    string                  `json:"session_id"`
	Frame        int                     `json:"frame"`
	ProcessedAt  time.Time               `json:"processed_at"`
	PoseDetected bool                    `json:"pose_detected"`
	PoseValid    bool                    `json:"pose_valid"`
	Calibrated   bool                    `json:"calibrated"`
	Measurements measurement.Result      `json:"measurements"`
	Proportions  measurement.Proportions `json:"proportions"`
	Validation   measurement.Validation  `json:"validation"`
	Advisories   []string                `json:"advisories"`

	// Keypoints are kept for overlay rendering and not serialised.
	Keypoints pose.KeypointSet `json:"-"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	CreatedAt    time.Time         `json:"created_at"`
	AutoHeightCM *float64          `json:"auto_height_cm,omitempty"`
	Frames       int               `json:"frames"`
	Calibration  calibration.State `json:"calibration"`
	Latest       *Report           `json:"latest,omitempty"`
}

// Session is one user's measurement session. Frames are processed one at a
// time in arrival order.
type Session struct {
	id           string
	userID       string
	createdAt    time.Time
	autoHeightCM *float64

	mu         sync.Mutex
	now        func() time.Time
	logger     *zap.Logger
	validator  *pose.Validator
	calibrator *calibration.Calibrator
	engine     *measurement.Engine
	frames     int
	latest     *Report
}

func newSession(id, userID string, autoHeightCM *float64, s Settings, now func() time.Time, logger *zap.Logger) *Session {
	logger = logger.With(zap.String("session_id", id))
	cal := calibration.NewCalibrator(s.Calibration, logger)
	return &Session{
		id:           id,
		userID:       userID,
		createdAt:    now().UTC(),
		autoHeightCM: autoHeightCM,
		now:          now,
		logger:       logger,
		validator:    pose.NewValidator(s.Engine.ConfidenceFloor),
		calibrator:   cal,
		engine:       measurement.NewEngine(s.Catalog, s.Engine, cal),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// UserID returns the owning user.
func (s *Session) UserID() string { return s.userID }

// Catalog returns the measurement catalog used by the session.
func (s *Session) Catalog() measurement.Catalog { return s.engine.Catalog() }

// Calibrate sets the session scale from the user's height. The pose must be
// valid. Smoothing windows are cleared because they hold values in the
// previous scale.
func (s *Session) Calibrate(set pose.KeypointSet, heightCM float64) (calibration.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPose(set); err != nil {
		return s.calibrator.State(), err
	}
	if err := s.calibrator.Calibrate(set, heightCM); err != nil {
		return s.calibrator.State(), err
	}
	s.engine.Reset()
	return s.calibrator.State(), nil
}

// CalibrateFromReference sets the session scale from a known measurement.
func (s *Session) CalibrateFromReference(set pose.KeypointSet, referenceCM float64, referenceType string) (calibration.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkPose(set); err != nil {
		return s.calibrator.State(), err
	}
	if err := s.calibrator.CalibrateFromReference(set, referenceCM, referenceType); err != nil {
		return s.calibrator.State(), err
	}
	s.engine.Reset()
	return s.calibrator.State(), nil
}

// Process measures one frame. Missing or unusable poses and uncalibrated
// sessions produce a report with null measurements and an advisory rather
// than an error.
func (s *Session) Process(set pose.KeypointSet) *Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frames++
	report := &Report{
		SessionID:    s.id,
		Frame:        s.frames,
		ProcessedAt:  s.now().UTC(),
		PoseDetected: set != nil,
		Keypoints:    set,
		Advisories:   []string{},
	}

	switch {
	case set == nil:
		report.Advisories = append(report.Advisories, AdvisoryNoPose)
	case !s.validator.IsValid(set):
		report.Advisories = append(report.Advisories, AdvisoryInvalidPose)
	default:
		report.PoseValid = true
	}

	if report.PoseValid && !s.calibrator.IsCalibrated() && s.autoHeightCM != nil {
		if err := s.calibrator.Calibrate(set, *s.autoHeightCM); err != nil {
			report.Advisories = append(report.Advisories, AdvisoryAutoCalFail)
		}
	}
	report.Calibrated = s.calibrator.IsCalibrated()
	if !report.Calibrated {
		report.Advisories = append(report.Advisories, AdvisoryUncalibrated)
	}

	if report.PoseValid {
		report.Measurements = s.engine.Compute(set)
	} else {
		report.Measurements = emptyResult(s.engine.Catalog())
	}
	report.Proportions = measurement.ComputeProportions(report.Measurements)
	report.Validation = s.engine.Catalog().Validate(report.Measurements)

	s.latest = report
	s.logger.Debug("frame processed",
		zap.Int("frame", report.Frame),
		zap.Bool("pose_valid", report.PoseValid),
		zap.Int("computed", report.Measurements.Computed()),
	)
	return report
}

// Latest returns the most recent frame report, or nil.
func (s *Session) Latest() *Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Snapshot returns the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:          s.id,
		UserID:      s.userID,
		CreatedAt:   s.createdAt,
		Frames:      s.frames,
		Calibration: s.calibrator.State(),
		Latest:      s.latest,
	}
	if s.autoHeightCM != nil {
		h := *s.autoHeightCM
		snap.AutoHeightCM = &h
	}
	return snap
}

func (s *Session) checkPose(set pose.KeypointSet) error {
	if set == nil {
		return calibration.ErrNoKeypoints
	}
	if !s.validator.IsValid(set) {
		return ErrInvalidPose
	}
	return nil
}

func emptyResult(c measurement.Catalog) measurement.Result {
	r := make(measurement.Result, len(c))
	for _, name := range c.Names() {
		r[name] = nil
	}
	return r
}
