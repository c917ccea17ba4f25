package models

import "time"

// OHLCV represents one daily trading session. Date is truncated to the calendar day (UTC).
type OHLCV struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Consistent reports whether low <= {open, close} <= high and prices are positive.
func (b OHLCV) Consistent() bool {
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 || b.Volume < 0 {
		return false
	}
	return b.Low <= b.Open && b.Open <= b.High && b.Low <= b.Close && b.Close <= b.High
}

// Series is an ascending, date-unique sequence of bars for one security.
// Synthesized is set when the feed had no usable timestamps and dates were generated.
type Series struct {
	Symbol      string  `json:"symbol"`
	Bars        []OHLCV `json:"bars"`
	Synthesized bool    `json:"synthesized"`
}

func (s Series) Len() int { return len(s.Bars) }

// Last returns the most recent bar. Callers must check Len first.
func (s Series) Last() OHLCV { return s.Bars[len(s.Bars)-1] }

// Tail returns the last n bars (or all of them when n exceeds the length).
func (s Series) Tail(n int) []OHLCV {
	if n >= len(s.Bars) {
		return s.Bars
	}
	return s.Bars[len(s.Bars)-n:]
}

// Between returns bars with from < date <= to.
func (s Series) Between(from, to time.Time) []OHLCV {
	out := make([]OHLCV, 0, len(s.Bars))
	for _, b := range s.Bars {
		if b.Date.After(from) && !b.Date.After(to) {
			out = append(out, b)
		}
	}
	return out
}

// Closes extracts close prices in order.
func Closes(bars []OHLCV) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// RawFeed is a loosely typed table as delivered by a market-data source.
// Cells may be strings, numbers or time values. Index optionally carries a per-row
// time index for feeds that key rows by time instead of a timestamp column.
type RawFeed struct {
	Columns []string        `json:"columns"`
	Rows    [][]interface{} `json:"rows"`
	Index   []time.Time     `json:"index,omitempty"`
}

func (f RawFeed) Empty() bool { return len(f.Rows) == 0 }

// HistoryBar is a normalized bar annotated with its day-over-day change.
type HistoryBar struct {
	Date      string  `json:"date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	ChangePct float64 `json:"change_pct"`
}
