package model

import (
	"time"

	"github.com/google/uuid"
)

// ReportRecord is an archived aggregation report.
type ReportRecord struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	ExcludeMissed bool      `json:"exclude_missed"`
	Report        *Report   `json:"report"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewReportRecord wraps r for archiving under a fresh id.
func NewReportRecord(r *Report, excludeMissed bool) *ReportRecord {
	return &ReportRecord{
		ID:            "rpt_" + uuid.New().String(),
		Label:         r.Label,
		ExcludeMissed: excludeMissed,
		Report:        r,
		CreatedAt:     time.Now().UTC(),
	}
}

// TimingRunRecord is the archived summary of one measured manifest.
type TimingRunRecord struct {
	ID              string    `json:"id"`
	Label           string    `json:"label"` // result tree the manifest came from
	Instance        string    `json:"instance"`
	Algorithm       string    `json:"algorithm"`
	Manifest        string    `json:"manifest"`
	Status          string    `json:"status"`
	Batches         int       `json:"batches"`
	SkippedBatches  int       `json:"skipped_batches"`
	TotalTimeMs     float64   `json:"total_time_ms"`
	DeadlineSeconds *float64  `json:"deadline"`
	Missed          int       `json:"missed"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewTimingRunRecord summarizes run under a fresh id. run may be nil for
// manifests that were not measured.
func NewTimingRunRecord(instance, algorithm, manifest, status string, run *TimingRun) *TimingRunRecord {
	rec := &TimingRunRecord{
		ID:        "run_" + uuid.New().String(),
		Instance:  instance,
		Algorithm: algorithm,
		Manifest:  manifest,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
	if run != nil {
		rec.Batches = len(run.Batches)
		rec.SkippedBatches = len(run.Skipped)
		rec.TotalTimeMs = run.TotalTimeMs()
		rec.DeadlineSeconds = run.Summary.DeadlineSeconds
		rec.Missed = len(run.Summary.MissedDeadlineImages)
	}
	return rec
}
