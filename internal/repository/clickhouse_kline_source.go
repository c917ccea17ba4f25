package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	pkgch "KronosCast/pkg/clickhouse"
	applogger "KronosCast/pkg/logger"
)

// KlineTable is the daily bar table read by CHKlineSource and written by CHBarWriter.
const KlineTable = "daily_kline"

// CHKlineSource reads raw daily bars from ClickHouse.
type CHKlineSource struct {
	db    *sql.DB
	table string
	l     *applogger.Logger
}

func NewCHKlineSource(ch *pkgch.Client, l *applogger.Logger) *CHKlineSource {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHKlineSource{db: ch.DB(), table: ch.Database() + "." + KlineTable, l: l}
}

var _ domrepo.FeedSource = (*CHKlineSource)(nil)

func (s *CHKlineSource) Fetch(ctx context.Context, q domrepo.FeedQuery) (models.RawFeed, error) {
	start := time.Now()
	query, args := klineQuery(s.table, q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.l.Error("clickhouse kline query error",
			applogger.String("table", s.table),
			applogger.String("code", q.Code),
			applogger.Error(err),
		)
		return models.RawFeed{}, fmt.Errorf("query kline: %w", err)
	}
	defer rows.Close()

	feed, err := scanRawFeed(rows)
	if err != nil {
		s.l.Error("clickhouse kline scan error",
			applogger.String("table", s.table),
			applogger.String("code", q.Code),
			applogger.Error(err),
		)
		return models.RawFeed{}, err
	}
	s.l.Debug("clickhouse kline ok",
		applogger.String("code", q.Code),
		applogger.Int("rows", len(feed.Rows)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return feed, nil
}

// klineColumns are the bar columns handed to the normalizer.
const klineColumns = "code, date, open, high, low, close, volume"

// klineQuery reads the merged view of the table: FINAL collapses re-ingested
// (code, date) rows to the latest ingested_at before a background merge runs.
func klineQuery(table string, q domrepo.FeedQuery) (string, []interface{}) {
	query := "SELECT " + klineColumns + " FROM " + table + " FINAL WHERE code = ?"
	args := []interface{}{q.Code}
	if !q.From.IsZero() {
		query += " AND date >= ?"
		args = append(args, q.From)
	}
	if !q.To.IsZero() {
		query += " AND date <= ?"
		args = append(args, q.To)
	}
	return query + " ORDER BY date ASC", args
}

func (s *CHKlineSource) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqlRows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanRawFeed copies every row as generic cells.
func scanRawFeed(rows sqlRows) (models.RawFeed, error) {
	cols, err := rows.Columns()
	if err != nil {
		return models.RawFeed{}, fmt.Errorf("columns: %w", err)
	}
	feed := models.RawFeed{Columns: cols}
	for rows.Next() {
		cells := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return models.RawFeed{}, fmt.Errorf("scan kline: %w", err)
		}
		for i, c := range cells {
			if b, ok := c.([]byte); ok {
				cells[i] = string(b)
			}
		}
		feed.Rows = append(feed.Rows, cells)
	}
	if err := rows.Err(); err != nil {
		return models.RawFeed{}, fmt.Errorf("rows: %w", err)
	}
	return feed, nil
}
