package aggregate

import (
	"sort"

	"github.com/me/schedbench/pkg/model"
)

// AlgorithmTally holds one algorithm's raw counters. Values are never
// mutated after construction; Combine returns a new value.
type AlgorithmTally struct {
	ProcessedCritical    int
	ProcessedNonCritical int
	Correct              int
	AccuracyDenominator  int

	Instances    int // result files that were read, sentinel included
	InvalidRuns  int
	MissingFiles int
	FailedFiles  int
}

// Combine adds two tallies field by field.
func (a AlgorithmTally) Combine(b AlgorithmTally) AlgorithmTally {
	return AlgorithmTally{
		ProcessedCritical:    a.ProcessedCritical + b.ProcessedCritical,
		ProcessedNonCritical: a.ProcessedNonCritical + b.ProcessedNonCritical,
		Correct:              a.Correct + b.Correct,
		AccuracyDenominator:  a.AccuracyDenominator + b.AccuracyDenominator,
		Instances:            a.Instances + b.Instances,
		InvalidRuns:          a.InvalidRuns + b.InvalidRuns,
		MissingFiles:         a.MissingFiles + b.MissingFiles,
		FailedFiles:          a.FailedFiles + b.FailedFiles,
	}
}

// Tally is the partial aggregate over a set of experiment instances. The
// zero value is the identity for Combine.
type Tally struct {
	totalCritical int
	instances     int
	algorithms    map[string]AlgorithmTally
	skipped       []model.SkippedInstance
}

// InstanceTally is the contribution of one successfully loaded instance.
func InstanceTally(totalCritical int, algorithms map[string]AlgorithmTally) Tally {
	algs := make(map[string]AlgorithmTally, len(algorithms))
	for name, a := range algorithms {
		algs[name] = a
	}
	return Tally{totalCritical: totalCritical, instances: 1, algorithms: algs}
}

// SkippedTally records an instance that contributed nothing.
func SkippedTally(instance, reason string) Tally {
	return Tally{skipped: []model.SkippedInstance{{Instance: instance, Reason: reason}}}
}

// Combine merges two partial aggregates. It is associative and commutative,
// so partials may be reduced in any grouping or order.
func (t Tally) Combine(o Tally) Tally {
	out := Tally{
		totalCritical: t.totalCritical + o.totalCritical,
		instances:     t.instances + o.instances,
		algorithms:    make(map[string]AlgorithmTally, len(t.algorithms)+len(o.algorithms)),
	}
	for name, a := range t.algorithms {
		out.algorithms[name] = a
	}
	for name, a := range o.algorithms {
		out.algorithms[name] = out.algorithms[name].Combine(a)
	}
	if n := len(t.skipped) + len(o.skipped); n > 0 {
		out.skipped = make([]model.SkippedInstance, 0, n)
		out.skipped = append(out.skipped, t.skipped...)
		out.skipped = append(out.skipped, o.skipped...)
		sort.Slice(out.skipped, func(i, j int) bool {
			if out.skipped[i].Instance != out.skipped[j].Instance {
				return out.skipped[i].Instance < out.skipped[j].Instance
			}
			return out.skipped[i].Reason < out.skipped[j].Reason
		})
	}
	return out
}

// TotalCritical is the sum of per-instance crucial counts.
func (t Tally) TotalCritical() int { return t.totalCritical }

// Instances is the number of instances that contributed.
func (t Tally) Instances() int { return t.instances }

// Algorithm returns the counters for name (zero if never seen).
func (t Tally) Algorithm(name string) AlgorithmTally { return t.algorithms[name] }

// Skipped returns the skipped instances sorted by instance name.
func (t Tally) Skipped() []model.SkippedInstance {
	return append([]model.SkippedInstance(nil), t.skipped...)
}

// Metrics derives comparable metrics for each named algorithm, in order.
func (t Tally) Metrics(algorithms []string) []model.AlgorithmMetrics {
	out := make([]model.AlgorithmMetrics, 0, len(algorithms))
	for _, name := range algorithms {
		a := t.algorithms[name]
		out = append(out, model.AlgorithmMetrics{
			Algorithm:            name,
			TotalCritical:        t.totalCritical,
			ProcessedCritical:    a.ProcessedCritical,
			ProcessedNonCritical: a.ProcessedNonCritical,
			Correct:              a.Correct,
			AccuracyDenominator:  a.AccuracyDenominator,
			MissRate:             model.MissRate(a.ProcessedCritical, t.totalCritical),
			Accuracy:             model.Accuracy(a.Correct, a.AccuracyDenominator),
			Throughput:           a.ProcessedNonCritical,
			Instances:            a.Instances,
			InvalidRuns:          a.InvalidRuns,
			MissingFiles:         a.MissingFiles,
			FailedFiles:          a.FailedFiles,
		})
	}
	return out
}

// Report builds the final report for label.
func (t Tally) Report(label string, algorithms []string) *model.Report {
	return &model.Report{
		Label:         label,
		TotalCritical: t.totalCritical,
		Instances:     t.instances,
		Algorithms:    t.Metrics(algorithms),
		Skipped:       t.Skipped(),
	}
}
