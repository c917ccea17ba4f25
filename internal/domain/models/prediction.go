package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrTerminalState is returned when a transition is attempted out of completed or failed.
var ErrTerminalState = errors.New("prediction record is in a terminal state")

type PredictionStatus string

const (
	StatusProcessing PredictionStatus = "processing"
	StatusCompleted  PredictionStatus = "completed"
	StatusFailed     PredictionStatus = "failed"
)

func (s PredictionStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// PredictionPoint is one forecast session. ChangePct is relative to the previous
// predicted close, or to the last real close for the first point.
type PredictionPoint struct {
	Date      string  `json:"date"`
	Weekday   string  `json:"weekday"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	ChangePct float64 `json:"change_pct"`
}

type Summary struct {
	CurrentPrice         float64 `json:"current_price"`
	TargetPrice          float64 `json:"target_price"`
	TotalChangePct       float64 `json:"total_change_pct"`
	Horizon              int     `json:"horizon"`
	PredictionPeriod     string  `json:"prediction_period"`
	Lookback             int     `json:"actual_lookback"`
	Trend                string  `json:"trend"`
	HistoricalVolatility float64 `json:"historical_volatility"`
}

// RecordState is the sealed set of lifecycle states. Only Processing, Completed
// and Failed implement it.
type RecordState interface {
	Status() PredictionStatus
	sealed()
}

type Processing struct{}

type Completed struct {
	Points        []PredictionPoint
	Summary       Summary
	ExecutionTime float64 // seconds
}

type Failed struct {
	Kind          string
	Message       string
	ExecutionTime float64 // seconds
}

func (Processing) Status() PredictionStatus { return StatusProcessing }
func (Completed) Status() PredictionStatus  { return StatusCompleted }
func (Failed) Status() PredictionStatus     { return StatusFailed }

func (Processing) sealed() {}
func (Completed) sealed()  {}
func (Failed) sealed()     {}

// PredictionRecord is the persisted unit of one forecast request.
type PredictionRecord struct {
	ID          string
	StockCode   string
	Lookback    int
	Horizon     int
	Temperature float64
	ModelType   string
	UserID      string
	SessionID   string
	CreatedAt   time.Time
	State       RecordState
	Accuracy    *AccuracyReport
}

// NewPredictionRecord builds a record in processing state.
func NewPredictionRecord(id, code string, lookback, horizon int, temperature float64, model string, createdAt time.Time) *PredictionRecord {
	return &PredictionRecord{
		ID:          id,
		StockCode:   code,
		Lookback:    lookback,
		Horizon:     horizon,
		Temperature: temperature,
		ModelType:   model,
		CreatedAt:   createdAt,
		State:       Processing{},
	}
}

func (r *PredictionRecord) Status() PredictionStatus {
	if r.State == nil {
		return StatusProcessing
	}
	return r.State.Status()
}

// Complete moves a processing record to completed.
func (r *PredictionRecord) Complete(c Completed) error {
	if r.Status() != StatusProcessing {
		return fmt.Errorf("complete %s: %w", r.ID, ErrTerminalState)
	}
	r.State = c
	return nil
}

// Fail moves a processing record to failed.
func (r *PredictionRecord) Fail(f Failed) error {
	if r.Status() != StatusProcessing {
		return fmt.Errorf("fail %s: %w", r.ID, ErrTerminalState)
	}
	r.State = f
	return nil
}

func (r *PredictionRecord) CompletedState() (Completed, bool) {
	c, ok := r.State.(Completed)
	return c, ok
}

func (r *PredictionRecord) FailedState() (Failed, bool) {
	f, ok := r.State.(Failed)
	return f, ok
}

// Clone returns a deep copy so stores can hand out records without sharing slices.
func (r *PredictionRecord) Clone() *PredictionRecord {
	cp := *r
	if c, ok := r.State.(Completed); ok {
		c.Points = append([]PredictionPoint(nil), c.Points...)
		cp.State = c
	}
	if r.Accuracy != nil {
		acc := *r.Accuracy
		cp.Accuracy = &acc
	}
	return &cp
}

// PredictionData is the persisted payload of a completed record.
type PredictionData struct {
	Points  []PredictionPoint `json:"prediction_results"`
	Summary Summary           `json:"prediction_summary"`
}

type recordJSON struct {
	ID            string            `json:"id"`
	StockCode     string            `json:"stock_code"`
	PredictionLen int               `json:"prediction_days"`
	ModelType     string            `json:"model_type"`
	Lookback      int               `json:"lookback"`
	Temperature   float64           `json:"temperature"`
	Status        PredictionStatus  `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UserID        string            `json:"user_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	ExecutionTime *float64          `json:"execution_time,omitempty"`
	Points        []PredictionPoint `json:"prediction_results,omitempty"`
	Summary       *Summary          `json:"prediction_summary,omitempty"`
	ErrorKind     string            `json:"error_kind,omitempty"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	Accuracy      *AccuracyReport   `json:"accuracy,omitempty"`
}

func (r PredictionRecord) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:            r.ID,
		StockCode:     r.StockCode,
		PredictionLen: r.Horizon,
		ModelType:     r.ModelType,
		Lookback:      r.Lookback,
		Temperature:   r.Temperature,
		Status:        r.Status(),
		CreatedAt:     r.CreatedAt,
		UserID:        r.UserID,
		SessionID:     r.SessionID,
		Accuracy:      r.Accuracy,
	}
	switch st := r.State.(type) {
	case Completed:
		et := st.ExecutionTime
		summary := st.Summary
		out.ExecutionTime = &et
		out.Points = st.Points
		out.Summary = &summary
	case Failed:
		et := st.ExecutionTime
		out.ExecutionTime = &et
		out.ErrorKind = st.Kind
		out.ErrorMessage = st.Message
	}
	return json.Marshal(out)
}

func (r *PredictionRecord) UnmarshalJSON(b []byte) error {
	var in recordJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*r = PredictionRecord{
		ID:          in.ID,
		StockCode:   in.StockCode,
		Lookback:    in.Lookback,
		Horizon:     in.PredictionLen,
		Temperature: in.Temperature,
		ModelType:   in.ModelType,
		UserID:      in.UserID,
		SessionID:   in.SessionID,
		CreatedAt:   in.CreatedAt,
		Accuracy:    in.Accuracy,
	}
	var et float64
	if in.ExecutionTime != nil {
		et = *in.ExecutionTime
	}
	switch in.Status {
	case StatusProcessing, "":
		r.State = Processing{}
	case StatusCompleted:
		c := Completed{Points: in.Points, ExecutionTime: et}
		if in.Summary != nil {
			c.Summary = *in.Summary
		}
		r.State = c
	case StatusFailed:
		r.State = Failed{Kind: in.ErrorKind, Message: in.ErrorMessage, ExecutionTime: et}
	default:
		return fmt.Errorf("unknown prediction status %q", in.Status)
	}
	return nil
}
