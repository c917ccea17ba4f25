package normalizer

import (
	"sort"
	"time"

	"KronosCast/internal/domain/models"
	"KronosCast/internal/services/calendar"
	"KronosCast/pkg/logger"
	"KronosCast/pkg/util"
)

// DefaultVolume fills the volume of feeds that carry none.
const DefaultVolume = 1_000_000

// Normalizer reduces a raw feed to an ascending, date-unique OHLCV series.
type Normalizer interface {
	Normalize(feed models.RawFeed) (models.Series, error)
}

// Permissive matches columns loosely and synthesizes timestamps when a feed has none.
type Permissive struct {
	log *logger.Logger
	now func() time.Time
}

func New(log *logger.Logger) *Permissive {
	if log == nil {
		log = logger.Nop()
	}
	return &Permissive{log: log, now: time.Now}
}

// WithClock overrides the clock used for synthesized timestamps.
func (p *Permissive) WithClock(now func() time.Time) *Permissive {
	p.now = now
	return p
}

var _ Normalizer = (*Permissive)(nil)

func (p *Permissive) Normalize(feed models.RawFeed) (models.Series, error) {
	cols := matchColumns(feed.Columns)

	var missing []string
	for _, f := range []field{fieldOpen, fieldHigh, fieldLow, fieldClose} {
		if _, ok := cols[f]; !ok {
			missing = append(missing, f.String())
		}
	}
	if len(missing) > 0 {
		return models.Series{}, &NormalizationError{Reason: "fewer than 4 of 5 price fields resolvable", Missing: missing}
	}
	if len(feed.Rows) == 0 {
		return models.Series{}, &NormalizationError{Reason: "feed is empty"}
	}

	dates, synthesized := p.resolveDates(feed, cols)
	if synthesized {
		p.log.Warn("no timestamp field in feed, synthesizing business days", logger.Int("rows", len(feed.Rows)))
	}

	volIdx, hasVol := cols[fieldVolume]
	byDay := make(map[time.Time]models.OHLCV, len(feed.Rows))
	dropped := 0
	for i, row := range feed.Rows {
		if dates[i].IsZero() {
			dropped++
			continue
		}
		var bar models.OHLCV
		var ok bool
		if bar.Open, ok = cell(row, cols[fieldOpen]); !ok {
			dropped++
			continue
		}
		if bar.High, ok = cell(row, cols[fieldHigh]); !ok {
			dropped++
			continue
		}
		if bar.Low, ok = cell(row, cols[fieldLow]); !ok {
			dropped++
			continue
		}
		if bar.Close, ok = cell(row, cols[fieldClose]); !ok {
			dropped++
			continue
		}
		bar.Volume = DefaultVolume
		if hasVol {
			if v, ok := cell(row, volIdx); ok && v >= 0 {
				bar.Volume = v
			}
		}
		if !bar.Consistent() {
			dropped++
			continue
		}
		bar.Date = dates[i]
		byDay[bar.Date] = bar
	}

	if len(byDay) == 0 {
		return models.Series{}, &NormalizationError{Reason: "no usable rows after coercion"}
	}
	bars := make([]models.OHLCV, 0, len(byDay))
	for _, b := range byDay {
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	if dropped > 0 {
		p.log.Debug("dropped feed rows", logger.Int("dropped", dropped), logger.Int("kept", len(bars)))
	}
	return models.Series{Bars: bars, Synthesized: synthesized}, nil
}

// resolveDates returns one calendar day per row (zero when unparseable) and whether
// they were synthesized.
func (p *Permissive) resolveDates(feed models.RawFeed, cols map[field]int) ([]time.Time, bool) {
	out := make([]time.Time, len(feed.Rows))
	if idx, ok := cols[fieldTimestamp]; ok {
		for i, row := range feed.Rows {
			if idx >= len(row) {
				continue
			}
			if t, ok := toTime(row[idx]); ok {
				out[i] = util.Day(t)
			}
		}
		return out, false
	}
	if len(feed.Index) == len(feed.Rows) {
		for i, t := range feed.Index {
			if !t.IsZero() {
				out[i] = util.Day(t)
			}
		}
		return out, false
	}
	copy(out, calendar.PreviousTradingDays(p.now(), len(feed.Rows)))
	return out, true
}

func cell(row []interface{}, idx int) (float64, bool) {
	if idx < 0 || idx >= len(row) {
		return 0, false
	}
	return toFloat(row[idx])
}
