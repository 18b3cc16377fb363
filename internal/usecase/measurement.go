package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/body-measure/internal/calibration"
	"github.com/example/body-measure/internal/estimator"
	"github.com/example/body-measure/internal/export"
	"github.com/example/body-measure/internal/logging"
	"github.com/example/body-measure/internal/overlay"
	"github.com/example/body-measure/internal/pose"
	"github.com/example/body-measure/internal/publisher"
	"github.com/example/body-measure/internal/repository"
	"github.com/example/body-measure/internal/retry"
	"github.com/example/body-measure/internal/session"
)

var (
	// ErrEstimatorUnavailable is returned for image frames when no pose
	// estimator is configured.
	ErrEstimatorUnavailable = errors.New("pose estimator is not configured")
	// ErrNotCalibrated is returned when saving from an uncalibrated session.
	ErrNotCalibrated = errors.New("session is not calibrated")
	// ErrNothingToSave is returned when the latest frame has no values.
	ErrNothingToSave = errors.New("no measurements to save")
	// ErrNoReport is returned before the first frame of a session.
	ErrNoReport = errors.New("no frame measured yet")
)

// MeasurementRepository defines the persistence operations needed by the use case.
type MeasurementRepository interface {
	SaveRecord(ctx context.Context, record *repository.MeasurementRecord) error
	ListBySession(ctx context.Context, userID, sessionID string) ([]*repository.MeasurementRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// FrameInput is one camera frame, given either as an encoded image or as
// keypoints detected elsewhere. The image wins when both are set. Empty
// keypoints mean no person was detected.
type FrameInput struct {
	Image     []byte
	Keypoints pose.KeypointSet
}

// Dependencies are the collaborators of the use case. Estimator, Renderer
// and Publisher are optional.
type Dependencies struct {
	Repository MeasurementRepository
	Cache      Cache
	Estimator  estimator.Client
	Sessions   *session.Manager
	Renderer   overlay.Renderer
	Publisher  publisher.Publisher
}

// MeasurementUseCase encapsulates business logic for the measurement flow.
type MeasurementUseCase struct {
	repo      MeasurementRepository
	cache     Cache
	estimator estimator.Client
	sessions  *session.Manager
	renderer  overlay.Renderer
	publisher publisher.Publisher
	logger    *zap.Logger
	retry     retry.Policy
	reportTTL time.Duration
}

// NewMeasurementUseCase constructs a new use case instance.
func NewMeasurementUseCase(deps Dependencies, logger *zap.Logger) *MeasurementUseCase {
	pub := deps.Publisher
	if pub == nil {
		pub = publisher.Nop{}
	}
	return &MeasurementUseCase{
		repo:      deps.Repository,
		cache:     deps.Cache,
		estimator: deps.Estimator,
		sessions:  deps.Sessions,
		renderer:  deps.Renderer,
		publisher: pub,
		logger:    logger.Named("measurement_usecase"),
		retry:     retry.DefaultPolicy(),
		reportTTL: 10 * time.Minute,
	}
}

// CreateSession starts a measurement session for the user.
func (uc *MeasurementUseCase) CreateSession(ctx context.Context, userID string, autoHeightCM *float64) (session.Snapshot, error) {
	if autoHeightCM != nil && !calibration.IsPositiveLength(*autoHeightCM) {
		return session.Snapshot{}, calibration.ErrInvalidHeight
	}
	s := uc.sessions.Create(userID, autoHeightCM)
	return s.Snapshot(), nil
}

// GetSession returns the state of one of the user's sessions.
func (uc *MeasurementUseCase) GetSession(ctx context.Context, userID, sessionID string) (session.Snapshot, error) {
	s, err := uc.sessions.Get(userID, sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// DeleteSession ends a session and drops its cached report.
func (uc *MeasurementUseCase) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := uc.sessions.Delete(userID, sessionID); err != nil {
		return err
	}
	if err := retry.Do(ctx, uc.retry, uc.logger, "cache.del.report", sessionID, func() error {
		return uc.cache.Del(ctx, reportCacheKey(sessionID))
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.delete_session", sessionID).Warn("failed to drop cached report", zap.Error(err))
	}
	return nil
}

// Calibrate sets the session scale from the user's height.
func (uc *MeasurementUseCase) Calibrate(ctx context.Context, userID, sessionID string, frame FrameInput, heightCM float64) (calibration.State, error) {
	s, err := uc.sessions.Get(userID, sessionID)
	if err != nil {
		return calibration.State{}, err
	}
	set, err := uc.keypoints(ctx, userID, sessionID, frame)
	if err != nil {
		return calibration.State{}, err
	}
	return s.Calibrate(set, heightCM)
}

// CalibrateFromReference sets the session scale from a known body measurement.
func (uc *MeasurementUseCase) CalibrateFromReference(ctx context.Context, userID, sessionID string, frame FrameInput, referenceCM float64, referenceType string) (calibration.State, error) {
	s, err := uc.sessions.Get(userID, sessionID)
	if err != nil {
		return calibration.State{}, err
	}
	set, err := uc.keypoints(ctx, userID, sessionID, frame)
	if err != nil {
		return calibration.State{}, err
	}
	return s.CalibrateFromReference(set, referenceCM, referenceType)
}

// Measure processes one frame and caches the resulting report.
func (uc *MeasurementUseCase) Measure(ctx context.Context, userID, sessionID string, frame FrameInput) (*session.Report, error) {
	s, err := uc.sessions.Get(userID, sessionID)
	if err != nil {
		return nil, err
	}
	set, err := uc.keypoints(ctx, userID, sessionID, frame)
	if err != nil {
		return nil, err
	}

	report := s.Process(set)
	uc.cacheReport(ctx, report)
	return report, nil
}

// Overlay measures an image frame and returns it annotated as JPEG.
func (uc *MeasurementUseCase) Overlay(ctx context.Context, userID, sessionID string, image []byte) ([]byte, *session.Report, error) {
	if uc.renderer == nil {
		return nil, nil, overlay.ErrUnavailable
	}
	s, err := uc.sessions.Get(userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	set, err := uc.keypoints(ctx, userID, sessionID, FrameInput{Image: image})
	if err != nil {
		return nil, nil, err
	}

	report := s.Process(set)
	uc.cacheReport(ctx, report)

	scene := overlay.BuildScene(overlay.Frame{
		Keypoints:       set,
		Catalog:         s.Catalog(),
		Measurements:    report.Measurements,
		Calibration:     s.Snapshot().Calibration,
		ConfidenceFloor: uc.sessions.Settings().Engine.ConfidenceFloor,
	})
	rendered, err := uc.renderer.Render(image, scene)
	if err != nil {
		if !errors.Is(err, overlay.ErrUnavailable) {
			err = logging.NewOperationError("usecase.render_overlay", sessionID, err)
			logging.WithOperation(uc.logger, "usecase.overlay", sessionID).Error("failed to render overlay", zap.Error(err))
		}
		return nil, report, err
	}
	return rendered, report, nil
}

// GetLatest returns the latest report of a session. The live session is
// authoritative; the cache is only read when the session holds no report.
func (uc *MeasurementUseCase) GetLatest(ctx context.Context, userID, sessionID string) (*session.Report, error) {
	s, err := uc.sessions.Get(userID, sessionID)
	if err != nil {
		return nil, err
	}
	if latest := s.Latest(); latest != nil {
		return latest, nil
	}

	cached, err := uc.withRedisGet(ctx, sessionID, "cache.get.report", reportCacheKey(sessionID))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.WithOperation(uc.logger, "usecase.get_latest", sessionID).Warn("failed to read cache", zap.Error(err))
		}
		return nil, ErrNoReport
	}
	var report session.Report
	if err := json.Unmarshal([]byte(cached), &report); err != nil {
		logging.WithOperation(uc.logger, "usecase.get_latest", sessionID).Warn("failed to decode cached report", zap.Error(err))
		return nil, ErrNoReport
	}
	return &report, nil
}

// Save persists the latest report of a calibrated session and announces it.
func (uc *MeasurementUseCase) Save(ctx context.Context, userID, sessionID string) (*repository.MeasurementRecord, error) {
	s, err := uc.sessions.Get(userID, sessionID)
	if err != nil {
		return nil, err
	}
	opLogger := logging.WithOperation(uc.logger, "usecase.save", sessionID)

	snap := s.Snapshot()
	if !snap.Calibration.IsCalibrated || snap.Calibration.ScaleFactorCMPerPx == nil {
		return nil, ErrNotCalibrated
	}
	latest := snap.Latest
	if latest == nil || latest.Measurements.Computed() == 0 {
		return nil, ErrNothingToSave
	}

	record := &repository.MeasurementRecord{
		RecordID:           uuid.NewString(),
		SessionID:          sessionID,
		UserID:             userID,
		RecordedAt:         time.Now().UTC(),
		ScaleFactorCMPerPx: *snap.Calibration.ScaleFactorCMPerPx,
		Valid:              latest.Validation.IsValid,
	}
	if h := snap.Calibration.ReferenceHeightCM; h != nil {
		height := *h
		record.UserHeightCM = &height
	}
	record.SetResult(latest.Measurements)
	record.SetWarnings(latest.Validation.Warnings)

	if err := uc.repo.SaveRecord(ctx, record); err != nil {
		wrapped := logging.NewOperationError("usecase.save_record", sessionID, err)
		opLogger.Error("failed to persist measurement record", zap.Error(wrapped))
		return nil, wrapped
	}

	if err := uc.publisher.PublishRecord(ctx, record); err != nil {
		opLogger.Warn("failed to publish measurement record", zap.Error(err), zap.String("record_id", record.RecordID))
	}
	opLogger.Info("measurement record saved", zap.String("record_id", record.RecordID), zap.Bool("valid", record.Valid))
	return record, nil
}

// ListRecords returns the user's saved records for a session.
func (uc *MeasurementUseCase) ListRecords(ctx context.Context, userID, sessionID string) ([]*repository.MeasurementRecord, error) {
	return uc.repo.ListBySession(ctx, userID, sessionID)
}

// ExportCSV writes the session's saved records as CSV.
func (uc *MeasurementUseCase) ExportCSV(ctx context.Context, userID, sessionID string, w io.Writer) error {
	records, err := uc.repo.ListBySession(ctx, userID, sessionID)
	if err != nil {
		return err
	}

	rows := make([]export.Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, export.Row{
			Timestamp:    r.RecordedAt,
			UserHeightCM: r.UserHeightCM,
			Values:       r.Result(),
		})
	}
	return export.WriteCSV(w, uc.sessions.Settings().Catalog, rows)
}

func (uc *MeasurementUseCase) keypoints(ctx context.Context, userID, sessionID string, frame FrameInput) (pose.KeypointSet, error) {
	if len(frame.Image) == 0 {
		if len(frame.Keypoints) == 0 {
			return nil, nil
		}
		return frame.Keypoints, nil
	}
	if uc.estimator == nil {
		return nil, ErrEstimatorUnavailable
	}

	set, err := uc.estimator.Estimate(ctx, userID, frame.Image)
	if errors.Is(err, estimator.ErrNoPose) {
		return nil, nil
	}
	if err != nil {
		wrapped := logging.NewOperationError("usecase.estimate_pose", sessionID, err)
		logging.WithOperation(uc.logger, "usecase.estimate_pose", sessionID).Error("pose estimation failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return set, nil
}

// cacheReport stores the report. When that fails the previous entry is
// dropped so readers never see an older frame in place of this one.
func (uc *MeasurementUseCase) cacheReport(ctx context.Context, report *session.Report) {
	opLogger := logging.WithOperation(uc.logger, "usecase.cache_report", report.SessionID)
	key := reportCacheKey(report.SessionID)

	serialized, err := json.Marshal(report)
	if err == nil {
		err = retry.Do(ctx, uc.retry, uc.logger, "cache.set.report", report.SessionID, func() error {
			return uc.cache.Set(ctx, key, string(serialized), uc.reportTTL)
		})
	}
	if err == nil {
		return
	}

	opLogger.Warn("failed to cache report", zap.Error(err))
	if delErr := uc.cache.Del(ctx, key); delErr != nil && !errors.Is(delErr, redis.Nil) {
		opLogger.Error("failed to evict stale report", zap.Error(delErr))
	}
}

func (uc *MeasurementUseCase) withRedisGet(ctx context.Context, sessionID, operation, cacheKey string) (string, error) {
	var result string
	err := retry.Do(ctx, uc.retry, uc.logger, operation, sessionID, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
