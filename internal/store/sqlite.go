package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/schedbench/pkg/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime also accepts RFC 3339 values with a shorter fraction.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Reports ---

// SaveReport stores the report body and one summary row per algorithm.
func (s *SQLiteStore) SaveReport(ctx context.Context, rec *model.ReportRecord) error {
	s.logger.Debug("sql", "op", "insert", "table", "reports", "id", rec.ID)
	if rec.Report == nil {
		return fmt.Errorf("report %s has no body", rec.ID)
	}

	body, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO reports (id, label, total_critical, instances, exclude_missed, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Label, rec.Report.TotalCritical, rec.Report.Instances, boolToInt(rec.ExcludeMissed),
		string(body), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return err
	}

	for i, a := range rec.Report.Algorithms {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO report_algorithms (report_id, position, algorithm, miss_rate, accuracy, throughput)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, i, a.Algorithm, a.MissRate, a.Accuracy, a.Throughput,
		)
		if err != nil {
			return fmt.Errorf("insert algorithm %s: %w", a.Algorithm, err)
		}
	}
	return tx.Commit()
}

// GetReport returns the report with id, or nil if it does not exist.
func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.ReportRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "reports", "id", id)

	var rec model.ReportRecord
	var body, createdAt string
	var excludeMissed int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, exclude_missed, body, created_at FROM reports WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Label, &excludeMissed, &body, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rec.ExcludeMissed = excludeMissed != 0
	rec.CreatedAt = parseTime(createdAt)
	rec.Report = &model.Report{}
	if err := json.Unmarshal([]byte(body), rec.Report); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &rec, nil
}

// ListReports returns reports newest first. opts.Label filters by label.
// Listed records carry the per-algorithm summary rows, not the full body.
func (s *SQLiteStore) ListReports(ctx context.Context, opts model.ListOptions) ([]*model.ReportRecord, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "reports", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	where, args := "", []any{}
	if opts.Label != "" {
		where = " WHERE label = ?"
		args = append(args, opts.Label)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, total_critical, instances, exclude_missed, created_at
		 FROM reports`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}

	var records []*model.ReportRecord
	for rows.Next() {
		rec := model.ReportRecord{Report: &model.Report{}}
		var createdAt string
		var excludeMissed int
		if err := rows.Scan(&rec.ID, &rec.Label, &rec.Report.TotalCritical, &rec.Report.Instances,
			&excludeMissed, &createdAt); err != nil {
			rows.Close()
			return nil, 0, err
		}
		rec.Report.Label = rec.Label
		rec.ExcludeMissed = excludeMissed != 0
		rec.CreatedAt = parseTime(createdAt)
		records = append(records, &rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	for _, rec := range records {
		algs, err := s.reportAlgorithms(ctx, rec.ID, rec.Report.TotalCritical)
		if err != nil {
			return nil, 0, err
		}
		rec.Report.Algorithms = algs
	}
	return records, total, nil
}

func (s *SQLiteStore) reportAlgorithms(ctx context.Context, reportID string, totalCritical int) ([]model.AlgorithmMetrics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT algorithm, miss_rate, accuracy, throughput
		 FROM report_algorithms WHERE report_id = ? ORDER BY position`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var algs []model.AlgorithmMetrics
	for rows.Next() {
		a := model.AlgorithmMetrics{TotalCritical: totalCritical}
		if err := rows.Scan(&a.Algorithm, &a.MissRate, &a.Accuracy, &a.Throughput); err != nil {
			return nil, err
		}
		algs = append(algs, a)
	}
	return algs, rows.Err()
}

// --- Timing runs ---

func (s *SQLiteStore) SaveTimingRun(ctx context.Context, rec *model.TimingRunRecord) error {
	s.logger.Debug("sql", "op", "insert", "table", "timing_runs", "id", rec.ID)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO timing_runs (id, label, instance, algorithm, manifest, status, batches, skipped_batches,
		 total_time_ms, deadline, missed, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Label, rec.Instance, rec.Algorithm, rec.Manifest, rec.Status, rec.Batches, rec.SkippedBatches,
		rec.TotalTimeMs, rec.DeadlineSeconds, rec.Missed, formatTime(rec.CreatedAt),
	)
	return err
}

// ListTimingRuns returns runs newest first. opts.Label filters by label.
func (s *SQLiteStore) ListTimingRuns(ctx context.Context, opts model.ListOptions) ([]*model.TimingRunRecord, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "timing_runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	where, args := "", []any{}
	if opts.Label != "" {
		where = " WHERE label = ?"
		args = append(args, opts.Label)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM timing_runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, label, instance, algorithm, manifest, status, batches, skipped_batches,
		 total_time_ms, deadline, missed, created_at
		 FROM timing_runs`+where+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.TimingRunRecord
	for rows.Next() {
		var r model.TimingRunRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Label, &r.Instance, &r.Algorithm, &r.Manifest, &r.Status,
			&r.Batches, &r.SkippedBatches, &r.TotalTimeMs, &r.DeadlineSeconds, &r.Missed, &createdAt); err != nil {
			return nil, 0, err
		}
		r.CreatedAt = parseTime(createdAt)
		runs = append(runs, &r)
	}
	return runs, total, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
