package models

import "time"

type EventType string

const (
	EventProcessing        EventType = "prediction.processing"
	EventCompleted         EventType = "prediction.completed"
	EventFailed            EventType = "prediction.failed"
	EventAccuracyEvaluated EventType = "accuracy.evaluated"
)

// PredictionEvent is emitted on every lifecycle transition and stored accuracy report.
type PredictionEvent struct {
	Type      EventType        `json:"type"`
	RecordID  string           `json:"record_id"`
	StockCode string           `json:"stock_code"`
	Status    PredictionStatus `json:"status"`
	At        time.Time        `json:"at"`
	Payload   interface{}      `json:"payload,omitempty"`
}

// EventFromRecord builds the event for the record's current state.
func EventFromRecord(r *PredictionRecord, at time.Time) PredictionEvent {
	ev := PredictionEvent{RecordID: r.ID, StockCode: r.StockCode, Status: r.Status(), At: at}
	switch st := r.State.(type) {
	case Completed:
		ev.Type = EventCompleted
		ev.Payload = st.Summary
	case Failed:
		ev.Type = EventFailed
		ev.Payload = map[string]string{"error_kind": st.Kind, "error_message": st.Message}
	default:
		ev.Type = EventProcessing
	}
	return ev
}

// BarMessage is a daily bar delivered on the ingest topic.
type BarMessage struct {
	Code   string  `json:"code"`
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}
