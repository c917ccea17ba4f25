package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	pkgch "KronosCast/pkg/clickhouse"
)

// KlineSchema creates the daily bar table. ReplacingMergeTree keeps the latest
// write per (code, date).
func KlineSchema(database string) []string {
	return []string{
		"CREATE DATABASE IF NOT EXISTS " + database,
		`CREATE TABLE IF NOT EXISTS ` + database + `.` + KlineTable + ` (
			code String,
			date Date,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			ingested_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(ingested_at)
		ORDER BY (code, date)`,
	}
}

// CHBarWriter stores ingested daily bars in ClickHouse.
type CHBarWriter struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
}

func NewCHBarWriter(ch *pkgch.Client) *CHBarWriter {
	return &CHBarWriter{ch: ch, db: ch.DB(), table: ch.Database() + "." + KlineTable}
}

var _ domrepo.BarWriter = (*CHBarWriter)(nil)

func (w *CHBarWriter) Init(ctx context.Context) error {
	return w.ch.InitSchema(ctx, KlineSchema(w.ch.Database()))
}

// WriteBars inserts bars in chunks with multi-row VALUES.
func (w *CHBarWriter) WriteBars(ctx context.Context, code string, bars []models.OHLCV) error {
	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := start + chunkSize
		if end > len(bars) {
			end = len(bars)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*7)
		for _, b := range bars[start:end] {
			if b.Date.IsZero() || !b.Consistent() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, code, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (code, date, open, high, low, close, volume) VALUES %s", w.table, strings.Join(values, ","))
		if _, err := w.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert bars %s: %w", code, err)
		}
	}
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (w *CHBarWriter) Close() error { return nil }
