package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all schedbench tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS reports (
		id             TEXT PRIMARY KEY,
		label          TEXT NOT NULL,
		total_critical INTEGER NOT NULL,
		instances      INTEGER NOT NULL,
		body           TEXT NOT NULL,
		created_at     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS report_algorithms (
		report_id      TEXT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
		position       INTEGER NOT NULL,
		algorithm      TEXT NOT NULL,
		miss_rate      REAL NOT NULL,
		accuracy       REAL NOT NULL,
		throughput     INTEGER NOT NULL,
		PRIMARY KEY (report_id, algorithm)
	)`,

	`CREATE TABLE IF NOT EXISTS timing_runs (
		id              TEXT PRIMARY KEY,
		instance        TEXT NOT NULL,
		algorithm       TEXT NOT NULL,
		manifest        TEXT NOT NULL,
		status          TEXT NOT NULL,
		batches         INTEGER NOT NULL DEFAULT 0,
		skipped_batches INTEGER NOT NULL DEFAULT 0,
		total_time_ms   REAL NOT NULL DEFAULT 0,
		deadline        REAL,
		missed          INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_reports_label ON reports(label)`,
	`CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_report_algorithms_algorithm ON report_algorithms(algorithm)`,
	`CREATE INDEX IF NOT EXISTS idx_timing_runs_algorithm ON timing_runs(algorithm)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "reports",
		column:   "exclude_missed",
		alterSQL: "ALTER TABLE reports ADD COLUMN exclude_missed INTEGER NOT NULL DEFAULT 0",
	},
	{
		table:    "timing_runs",
		column:   "label",
		alterSQL: "ALTER TABLE timing_runs ADD COLUMN label TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_timing_runs_label ON timing_runs(label)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}
	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
