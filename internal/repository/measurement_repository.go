package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/body-measure/internal/logging"
	"github.com/example/body-measure/internal/measurement"
	"github.com/example/body-measure/internal/retry"
)

// MeasurementRecord is one saved set of body measurements.
type MeasurementRecord struct {
	ID                 uint      `gorm:"primaryKey" json:"-"`
	RecordID           string    `gorm:"column:record_id;uniqueIndex;size:64" json:"record_id"`
	SessionID          string    `gorm:"column:session_id;index;size:64" json:"session_id"`
	UserID             string    `gorm:"column:user_id;index;size:64" json:"user_id"`
	RecordedAt         time.Time `gorm:"column:recorded_at" json:"recorded_at"`
	UserHeightCM       *float64  `gorm:"column:user_height_cm" json:"user_height_cm"`
	ScaleFactorCMPerPx float64   `gorm:"column:scale_factor_cm_per_px" json:"scale_factor_cm_per_px"`
	ShoulderWidth      *float64  `gorm:"column:shoulder_width" json:"shoulder_width"`
	ChestWidth         *float64  `gorm:"column:chest_width" json:"chest_width"`
	LeftSleeveLength   *float64  `gorm:"column:left_sleeve_length" json:"left_sleeve_length"`
	RightSleeveLength  *float64  `gorm:"column:right_sleeve_length" json:"right_sleeve_length"`
	LeftPantLength     *float64  `gorm:"column:left_pant_length" json:"left_pant_length"`
	RightPantLength    *float64  `gorm:"column:right_pant_length" json:"right_pant_length"`
	TorsoLength        *float64  `gorm:"column:torso_length" json:"torso_length"`
	Extra              string    `gorm:"column:extra_measurements;type:text" json:"-"`
	Valid              bool      `gorm:"column:valid" json:"valid"`
	Warnings           string    `gorm:"column:warnings;type:text" json:"-"`
}

// TableName overrides the default table name.
func (MeasurementRecord) TableName() string {
	return "measurement_records"
}

// Result returns the stored values keyed by measurement name, including
// catalog entries without a dedicated column. Extras that fail to decode are
// left out; ExtraMeasurements reports why.
func (r *MeasurementRecord) Result() measurement.Result {
	result, err := r.ExtraMeasurements()
	if err != nil {
		result = measurement.Result{}
	}
	for name, v := range r.columns() {
		result[name] = v
	}
	return result
}

// ExtraMeasurements decodes the values stored without a dedicated column.
func (r *MeasurementRecord) ExtraMeasurements() (measurement.Result, error) {
	result := measurement.Result{}
	if r.Extra == "" {
		return result, nil
	}
	if err := json.Unmarshal([]byte(r.Extra), &result); err != nil {
		return nil, fmt.Errorf("decode extra_measurements of record %s: %w", r.RecordID, err)
	}
	return result, nil
}

func (r *MeasurementRecord) columns() measurement.Result {
	return measurement.Result{
		measurement.ShoulderWidth:     r.ShoulderWidth,
		measurement.ChestWidth:        r.ChestWidth,
		measurement.LeftSleeveLength:  r.LeftSleeveLength,
		measurement.RightSleeveLength: r.RightSleeveLength,
		measurement.LeftPantLength:    r.LeftPantLength,
		measurement.RightPantLength:   r.RightPantLength,
		measurement.TorsoLength:       r.TorsoLength,
	}
}

// SetResult copies result into the record. Names without a column are kept
// in the extra_measurements JSON column.
func (r *MeasurementRecord) SetResult(result measurement.Result) {
	r.ShoulderWidth = copyValue(result[measurement.ShoulderWidth])
	r.ChestWidth = copyValue(result[measurement.ChestWidth])
	r.LeftSleeveLength = copyValue(result[measurement.LeftSleeveLength])
	r.RightSleeveLength = copyValue(result[measurement.RightSleeveLength])
	r.LeftPantLength = copyValue(result[measurement.LeftPantLength])
	r.RightPantLength = copyValue(result[measurement.RightPantLength])
	r.TorsoLength = copyValue(result[measurement.TorsoLength])

	columns := r.columns()
	extra := measurement.Result{}
	for name, v := range result {
		if _, ok := columns[name]; !ok {
			extra[name] = copyValue(v)
		}
	}
	r.Extra = ""
	if len(extra) > 0 {
		if raw, err := json.Marshal(extra); err == nil {
			r.Extra = string(raw)
		}
	}
}

// WarningList splits the stored validation warnings.
func (r *MeasurementRecord) WarningList() []string {
	if r.Warnings == "" {
		return nil
	}
	return strings.Split(r.Warnings, "\n")
}

// SetWarnings stores validation warnings one per line.
func (r *MeasurementRecord) SetWarnings(warnings []string) {
	r.Warnings = strings.Join(warnings, "\n")
}

func copyValue(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// MetricsAggregation holds aggregate figures over saved records.
type MetricsAggregation struct {
	TotalCount           int64
	ValidCount           int64
	SessionCount         int64
	AverageShoulderWidth float64
	AverageTorsoLength   float64
	AverageScaleFactor   float64
}

// MeasurementRepository persists measurement records.
type MeasurementRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewMeasurementRepository creates a new repository instance.
func NewMeasurementRepository(db *gorm.DB, logger *zap.Logger) *MeasurementRepository {
	return &MeasurementRepository{
		db:     db,
		logger: logger.Named("measurement_repository"),
		policy: retry.DefaultPolicy(),
	}
}

// AutoMigrate ensures the schema is available.
func (r *MeasurementRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&MeasurementRecord{})
	})
}

// SaveRecord persists a measurement record.
func (r *MeasurementRepository) SaveRecord(ctx context.Context, record *MeasurementRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.SessionID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// ListBySession returns the user's records for a session, oldest first.
func (r *MeasurementRepository) ListBySession(ctx context.Context, userID, sessionID string) ([]*MeasurementRecord, error) {
	var records []*MeasurementRecord
	err := r.executeWithRetry(ctx, "repository.list_by_session", sessionID, func() error {
		records = nil
		return r.db.WithContext(ctx).
			Where("user_id = ? AND session_id = ?", userID, sessionID).
			Order("recorded_at ASC").
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	r.reportCorruptExtras(sessionID, records)
	return records, nil
}

// reportCorruptExtras logs records whose extra_measurements column cannot be
// decoded. Their dedicated columns are still served.
func (r *MeasurementRepository) reportCorruptExtras(sessionID string, records []*MeasurementRecord) int {
	corrupt := 0
	for _, record := range records {
		if _, err := record.ExtraMeasurements(); err != nil {
			corrupt++
			logging.WithOperation(r.logger, "repository.list_by_session", sessionID).
				Warn("stored extra measurements are unreadable", zap.Error(err), zap.String("record_id", record.RecordID))
		}
	}
	return corrupt
}

// AggregateMetrics summarises every saved record.
func (r *MeasurementRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount           int64
		ValidCount           int64
		SessionCount         int64
		AverageShoulderWidth *float64
		AverageTorsoLength   *float64
		AverageScaleFactor   *float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&MeasurementRecord{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN valid THEN 1 ELSE 0 END), 0) AS valid_count,
				COUNT(DISTINCT session_id) AS session_count,
				AVG(shoulder_width) AS average_shoulder_width,
				AVG(torso_length) AS average_torso_length,
				AVG(scale_factor_cm_per_px) AS average_scale_factor`).
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}

	agg := &MetricsAggregation{
		TotalCount:   row.TotalCount,
		ValidCount:   row.ValidCount,
		SessionCount: row.SessionCount,
	}
	if row.AverageShoulderWidth != nil {
		agg.AverageShoulderWidth = *row.AverageShoulderWidth
	}
	if row.AverageTorsoLength != nil {
		agg.AverageTorsoLength = *row.AverageTorsoLength
	}
	if row.AverageScaleFactor != nil {
		agg.AverageScaleFactor = *row.AverageScaleFactor
	}
	return agg, nil
}

func (r *MeasurementRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	return retry.Do(ctx, r.policy, r.logger, operation, sessionID, fn)
}
