package usecase

import "context"

// MetricsSummary represents aggregated measurement insights.
type MetricsSummary struct {
	TotalRecords           int64   `json:"total_records"`
	ValidRecords           int64   `json:"valid_records"`
	ValidRate              float64 `json:"valid_rate"`
	SessionsWithRecords    int64   `json:"sessions_with_records"`
	ActiveSessions         int     `json:"active_sessions"`
	AverageShoulderWidthCM float64 `json:"average_shoulder_width_cm"`
	AverageTorsoLengthCM   float64 `json:"average_torso_length_cm"`
	AverageScaleCMPerPx    float64 `json:"average_scale_cm_per_px"`
}

// GetMetricsSummary aggregates measurement metrics from persisted records.
func (uc *MeasurementUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalRecords:           aggregation.TotalCount,
		ValidRecords:           aggregation.ValidCount,
		SessionsWithRecords:    aggregation.SessionCount,
		ActiveSessions:         uc.sessions.Len(),
		AverageShoulderWidthCM: aggregation.AverageShoulderWidth,
		AverageTorsoLengthCM:   aggregation.AverageTorsoLength,
		AverageScaleCMPerPx:    aggregation.AverageScaleFactor,
	}

	if aggregation.TotalCount > 0 {
		summary.ValidRate = float64(aggregation.ValidCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
