package model

// AlgorithmMetrics is the comparable result for one scheduling algorithm over
// a corpus of experiment instances.
type AlgorithmMetrics struct {
	Algorithm            string `json:"algorithm"`
	TotalCritical        int    `json:"total_critical"`
	ProcessedCritical    int    `json:"processed_critical"`
	ProcessedNonCritical int    `json:"processed_non_critical"`
	Correct              int    `json:"correct"`
	AccuracyDenominator  int    `json:"accuracy_denominator"`

	MissRate   float64 `json:"miss_rate"`
	Accuracy   float64 `json:"accuracy"`
	Throughput int     `json:"throughput"`

	// Per-instance outcome counts for the algorithm's result files.
	Instances    int `json:"instances"`
	InvalidRuns  int `json:"invalid_runs"`
	MissingFiles int `json:"missing_files"`
	FailedFiles  int `json:"failed_files"`
}

// MissRate is the fraction of ground-truth crucial tasks left unprocessed.
func MissRate(processedCritical, totalCritical int) float64 {
	if totalCritical <= 0 {
		return 0
	}
	return 1 - float64(processedCritical)/float64(totalCritical)
}

// Accuracy is correct / denominator, or 0 when nothing was predicted.
func Accuracy(correct, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	return float64(correct) / float64(denominator)
}

// SkippedInstance records an experiment instance that could not contribute.
type SkippedInstance struct {
	Instance string `json:"instance"`
	Reason   string `json:"reason"`
}

// Report is the full output of one aggregation run.
type Report struct {
	Label         string             `json:"label"`
	TotalCritical int                `json:"total_critical"`
	Instances     int                `json:"instances"`
	Algorithms    []AlgorithmMetrics `json:"algorithms"`
	Skipped       []SkippedInstance  `json:"skipped,omitempty"`
}

// Algorithm returns the metrics for name, if present.
func (r *Report) Algorithm(name string) (AlgorithmMetrics, bool) {
	for _, a := range r.Algorithms {
		if a.Algorithm == name {
			return a, true
		}
	}
	return AlgorithmMetrics{}, false
}
