package timing

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/me/schedbench/pkg/model"
)

type batchInfoRecord struct {
	BatchInfo model.TimingSample `json:"batch_info"`
}

// Records flattens a run into the result-file record sequence: for each
// batch its per-image records then its batch_info record, and finally the
// deadline summary.
func Records(run *model.TimingRun) []any {
	recs := make([]any, 0, len(run.Batches)*2+1)
	for _, b := range run.Batches {
		for _, r := range b.Results {
			recs = append(recs, r)
		}
		recs = append(recs, batchInfoRecord{BatchInfo: b.Sample})
	}
	summary := run.Summary
	if summary.MissedDeadlineImages == nil {
		summary.MissedDeadlineImages = []string{}
	}
	return append(recs, summary)
}

// WriteRecords writes run as an indented JSON array.
func WriteRecords(w io.Writer, run *model.TimingRun) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(Records(run)); err != nil {
		return fmt.Errorf("encode timing records: %w", err)
	}
	return nil
}

// WriteFile writes run to path, replacing any existing file atomically.
func WriteFile(path string, run *model.TimingRun) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteRecords(tmp, run); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}
	return nil
}
