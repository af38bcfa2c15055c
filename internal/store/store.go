package store

import (
	"context"

	"github.com/me/schedbench/pkg/model"
)

// Store archives aggregation reports and measurement runs. Nothing reads the
// archive back into a computation; it exists for history and the report API.
type Store interface {
	// Reports
	SaveReport(ctx context.Context, rec *model.ReportRecord) error
	GetReport(ctx context.Context, id string) (*model.ReportRecord, error)
	ListReports(ctx context.Context, opts model.ListOptions) ([]*model.ReportRecord, int, error)

	// Timing runs
	SaveTimingRun(ctx context.Context, rec *model.TimingRunRecord) error
	ListTimingRuns(ctx context.Context, opts model.ListOptions) ([]*model.TimingRunRecord, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
