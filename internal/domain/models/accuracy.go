package models

import "time"

type AccuracyStatus string

const (
	AccuracyCompleted        AccuracyStatus = "completed"
	AccuracyInsufficientData AccuracyStatus = "insufficient_data"
	AccuracyError            AccuracyStatus = "error"
)

// AccuracyReport scores a completed prediction against realized closes.
// Metric fields are meaningful only when Status is completed.
type AccuracyReport struct {
	RecordID            string         `json:"record_id"`
	Status              AccuracyStatus `json:"status"`
	Message             string         `json:"message,omitempty"`
	WindowStart         string         `json:"window_start,omitempty"`
	WindowEnd           string         `json:"window_end,omitempty"`
	DaysPassed          int            `json:"days_passed"`
	TotalDays           int            `json:"total_days"`
	AvailablePoints     int            `json:"available_points"`
	MAPE                float64        `json:"mape"`
	DirectionalAccuracy float64        `json:"directional_accuracy"`
	RMSE                float64        `json:"rmse"`
	PairCount           int            `json:"pair_count"`
	ExcludedPairs       int            `json:"excluded_pairs"`
	EvaluatedAt         time.Time      `json:"evaluated_at"`
}
