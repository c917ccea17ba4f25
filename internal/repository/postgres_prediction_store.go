package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	"KronosCast/pkg/logger"
	"KronosCast/pkg/postgres"
)

// PredictionSchema creates the prediction table and its lookup indexes.
var PredictionSchema = []string{
	`CREATE TABLE IF NOT EXISTS prediction_records (
		id              TEXT PRIMARY KEY,
		stock_code      TEXT NOT NULL,
		prediction_days INTEGER NOT NULL,
		lookback        INTEGER NOT NULL,
		temperature     DOUBLE PRECISION NOT NULL,
		model_type      TEXT NOT NULL DEFAULT '',
		user_id         TEXT NOT NULL DEFAULT '',
		session_id      TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		prediction_data JSONB,
		execution_time  DOUBLE PRECISION,
		error_kind      TEXT NOT NULL DEFAULT '',
		error_message   TEXT NOT NULL DEFAULT '',
		accuracy        JSONB,
		eval_attempts   INTEGER NOT NULL DEFAULT 0,
		eval_attempted_at TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`ALTER TABLE prediction_records ADD COLUMN IF NOT EXISTS eval_attempts INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE prediction_records ADD COLUMN IF NOT EXISTS eval_attempted_at TIMESTAMPTZ`,
	`CREATE INDEX IF NOT EXISTS idx_prediction_records_code_created ON prediction_records (stock_code, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_prediction_records_model_created ON prediction_records (model_type, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_prediction_records_status_created ON prediction_records (status, created_at DESC)`,
}

const recordColumns = `id, stock_code, prediction_days, lookback, temperature, model_type, user_id, session_id,
	status, prediction_data, execution_time, error_kind, error_message, accuracy, created_at`

// PostgresPredictionStore implements PredictionStore on PostgreSQL.
type PostgresPredictionStore struct {
	db postgres.Querier
	l  *logger.Logger
}

func NewPostgresPredictionStore(db postgres.Querier, l *logger.Logger) *PostgresPredictionStore {
	if l == nil {
		l = logger.Nop()
	}
	return &PostgresPredictionStore{db: db, l: l}
}

var _ domrepo.PredictionStore = (*PostgresPredictionStore)(nil)

func (s *PostgresPredictionStore) Init(ctx context.Context) error {
	for _, stmt := range PredictionSchema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init prediction schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresPredictionStore) Create(ctx context.Context, r *models.PredictionRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO prediction_records (
			id, stock_code, prediction_days, lookback, temperature, model_type,
			user_id, session_id, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.StockCode, r.Horizon, r.Lookback, r.Temperature, r.ModelType,
		r.UserID, r.SessionID, string(r.Status()), r.CreatedAt,
	)
	if err != nil {
		if postgres.IsDuplicateKey(err) {
			return domrepo.ErrDuplicateKey
		}
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

func (s *PostgresPredictionStore) MarkCompleted(ctx context.Context, id string, c models.Completed) error {
	data, err := json.Marshal(models.PredictionData{Points: c.Points, Summary: c.Summary})
	if err != nil {
		return fmt.Errorf("encode prediction data: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE prediction_records
		SET status = $2, prediction_data = $3, execution_time = $4, updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, string(models.StatusCompleted), data, c.ExecutionTime,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionMiss(ctx, id)
	}
	return nil
}

func (s *PostgresPredictionStore) MarkFailed(ctx context.Context, id string, f models.Failed) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE prediction_records
		SET status = $2, error_kind = $3, error_message = $4, execution_time = $5, updated_at = now()
		WHERE id = $1 AND status = 'processing'`,
		id, string(models.StatusFailed), f.Kind, f.Message, f.ExecutionTime,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionMiss(ctx, id)
	}
	return nil
}

// transitionMiss tells a missing row apart from one already in a terminal state.
func (s *PostgresPredictionStore) transitionMiss(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRow(ctx, `SELECT status FROM prediction_records WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if postgres.IsNotFound(err) {
			return domrepo.ErrNotFound
		}
		return fmt.Errorf("load status: %w", err)
	}
	return fmt.Errorf("record %s is %s: %w", id, status, models.ErrTerminalState)
}

func (s *PostgresPredictionStore) AttachAccuracy(ctx context.Context, id string, report models.AccuracyReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode accuracy: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE prediction_records SET accuracy = $2, updated_at = now() WHERE id = $1`,
		id, data,
	)
	if err != nil {
		return fmt.Errorf("attach accuracy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domrepo.ErrNotFound
	}
	return nil
}

func (s *PostgresPredictionStore) GetByID(ctx context.Context, id string) (*models.PredictionRecord, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM prediction_records WHERE id = $1`, id)
	r, err := scanRecord(row)
	if err != nil {
		if postgres.IsNotFound(err) {
			return nil, domrepo.ErrNotFound
		}
		return nil, fmt.Errorf("get prediction: %w", err)
	}
	return r, nil
}

func (s *PostgresPredictionStore) List(ctx context.Context, f domrepo.PredictionFilter) ([]*models.PredictionRecord, int, error) {
	var conds []string
	var args []interface{}
	if f.StockCode != "" {
		args = append(args, f.StockCode)
		conds = append(conds, "stock_code = $"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, "status = $"+strconv.Itoa(len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM prediction_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count predictions: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	pageArgs := append(append([]interface{}(nil), args...), limit, f.Offset)
	q := `SELECT ` + recordColumns + ` FROM prediction_records` + where +
		` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)

	out, err := s.queryRecords(ctx, q, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list predictions: %w", err)
	}
	return out, total, nil
}

func (s *PostgresPredictionStore) RecordEvaluationAttempt(ctx context.Context, id string, at time.Time, counted bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE prediction_records
		SET eval_attempted_at = $2,
			eval_attempts = eval_attempts + CASE WHEN $3 THEN 1 ELSE 0 END
		WHERE id = $1`,
		id, at, counted,
	)
	if err != nil {
		return fmt.Errorf("record evaluation attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domrepo.ErrNotFound
	}
	return nil
}

func (s *PostgresPredictionStore) ListUnevaluated(ctx context.Context, q domrepo.UnevaluatedQuery) ([]*models.PredictionRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	out, err := s.queryRecords(ctx, `SELECT `+recordColumns+` FROM prediction_records
		WHERE status = 'completed' AND accuracy IS NULL AND ($2 <= 0 OR eval_attempts < $2)
		ORDER BY eval_attempted_at ASC NULLS FIRST, created_at ASC LIMIT $1`, limit, q.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("list unevaluated: %w", err)
	}
	return out, nil
}

func (s *PostgresPredictionStore) queryRecords(ctx context.Context, q string, args ...interface{}) ([]*models.PredictionRecord, error) {
	start := time.Now()
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		s.l.Error("postgres query error", logger.Error(err))
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.PredictionRecord, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.l.Debug("postgres query ok", logger.Int("rows", len(out)), logger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

func (s *PostgresPredictionStore) Health(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close is a no-op; the pool is owned by the caller.
func (s *PostgresPredictionStore) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.PredictionRecord, error) {
	var (
		r         models.PredictionRecord
		status    string
		data      []byte
		execTime  *float64
		errKind   string
		errMsg    string
		accuracy  []byte
		createdAt time.Time
	)
	if err := row.Scan(&r.ID, &r.StockCode, &r.Horizon, &r.Lookback, &r.Temperature, &r.ModelType,
		&r.UserID, &r.SessionID, &status, &data, &execTime, &errKind, &errMsg, &accuracy, &createdAt); err != nil {
		return nil, err
	}
	r.CreatedAt = createdAt

	var et float64
	if execTime != nil {
		et = *execTime
	}
	switch models.PredictionStatus(status) {
	case models.StatusCompleted:
		var pd models.PredictionData
		if len(data) > 0 {
			if err := json.Unmarshal(data, &pd); err != nil {
				return nil, fmt.Errorf("decode prediction data %s: %w", r.ID, err)
			}
		}
		r.State = models.Completed{Points: pd.Points, Summary: pd.Summary, ExecutionTime: et}
	case models.StatusFailed:
		r.State = models.Failed{Kind: errKind, Message: errMsg, ExecutionTime: et}
	default:
		r.State = models.Processing{}
	}
	if len(accuracy) > 0 {
		var rep models.AccuracyReport
		if err := json.Unmarshal(accuracy, &rep); err != nil {
			return nil, fmt.Errorf("decode accuracy %s: %w", r.ID, err)
		}
		r.Accuracy = &rep
	}
	return &r, nil
}
