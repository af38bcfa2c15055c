package model

// TimingSample is the measured cost of one batch.
type TimingSample struct {
	BatchIndex       int     `json:"batch_index"`
	Size             int     `json:"size"`
	ImageCount       int     `json:"image_count"`
	ProcessingTimeMs float64 `json:"batch_processing_time_ms"`
	CumulativeTimeMs float64 `json:"cumulative_time_ms"`
}

// ClassificationResult is the outcome for one attempted image.
// PredictedClass and PredictedClassID are nil when Error is set.
type ClassificationResult struct {
	ImageID          string  `json:"image_id"`
	Size             int     `json:"size"`
	PredictedClass   *string `json:"predicted_class"`
	PredictedClassID *int    `json:"predicted_class_id"`
	Crucial          int     `json:"crucial"`
	Error            string  `json:"error,omitempty"`
}

// Failed reports whether the image could not be classified.
func (r ClassificationResult) Failed() bool {
	return r.Error != ""
}

// DeadlineSummary closes every timing run.
type DeadlineSummary struct {
	DeadlineSeconds      *float64 `json:"deadline"`
	MissedDeadlineImages []string `json:"missed_deadline_images"`
}

// BatchOutcome groups what a single batch produced, in emission order.
type BatchOutcome struct {
	Results []ClassificationResult
	Sample  TimingSample
}

// TimingRun is the complete, immutable output of measuring one manifest.
type TimingRun struct {
	Batches []BatchOutcome
	// Skipped holds the indexes of batches that were not measured.
	Skipped []int
	Summary DeadlineSummary
}

// Samples returns the timing samples in manifest order.
func (r *TimingRun) Samples() []TimingSample {
	out := make([]TimingSample, 0, len(r.Batches))
	for _, b := range r.Batches {
		out = append(out, b.Sample)
	}
	return out
}

// TotalTimeMs returns the final cumulative time of the run.
func (r *TimingRun) TotalTimeMs() float64 {
	if len(r.Batches) == 0 {
		return 0
	}
	return r.Batches[len(r.Batches)-1].Sample.CumulativeTimeMs
}

// CrucialFlag converts a crucial bool to the 0/1 wire form.
func CrucialFlag(crucial bool) int {
	if crucial {
		return 1
	}
	return 0
}
