// Package aggregate computes cross-scheduler metrics over a corpus of
// experiment instances.
package aggregate

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/me/schedbench/internal/catalog"
	"github.com/me/schedbench/internal/config"
	"github.com/me/schedbench/internal/resultfile"
	"github.com/me/schedbench/pkg/model"
)

// Aggregator folds per-instance results into a Report.
type Aggregator struct {
	cfg    config.AggregateConfig
	loader *catalog.Loader
	logger *slog.Logger
}

// New creates an Aggregator. Workers <= 0 means one worker.
func New(cfg config.AggregateConfig, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		cfg:    cfg,
		loader: catalog.NewLoader(logger),
		logger: logger.With("component", "aggregate"),
	}
}

// Algorithms returns the configured algorithm names in report order.
func (a *Aggregator) Algorithms() []string {
	names := make([]string, 0, len(a.cfg.Algorithms))
	for _, alg := range a.cfg.Algorithms {
		names = append(names, alg.Name)
	}
	return names
}

// ExcludeMissed reports whether ids listed as missed are left uncounted.
func (a *Aggregator) ExcludeMissed() bool { return a.cfg.ExcludeMissed }

// RunDeadline aggregates the deadline layout for ddl under workspace.
func (a *Aggregator) RunDeadline(ctx context.Context, workspace string, ddl int) (*model.Report, error) {
	taskDir, resultDir, err := DeadlineDirs(workspace, ddl)
	if err != nil {
		return nil, err
	}
	return a.Run(ctx, "ddl"+strconv.Itoa(ddl), taskDir, resultDir)
}

// Run aggregates every instance found under resultDir and taskDir.
func (a *Aggregator) Run(ctx context.Context, label, taskDir, resultDir string) (*model.Report, error) {
	instances, err := Discover(resultDir, taskDir, a.cfg.InstancePrefix, a.cfg.CatalogPrefix)
	if err != nil {
		return nil, err
	}
	a.logger.Info("aggregating", "label", label, "instances", len(instances), "algorithms", len(a.cfg.Algorithms))

	total, err := a.fold(ctx, instances)
	if err != nil {
		return nil, err
	}
	report := total.Report(label, a.Algorithms())
	a.logger.Info("aggregation complete",
		"label", label,
		"instances", report.Instances,
		"skipped", len(report.Skipped),
		"total_critical", report.TotalCritical)
	return report, nil
}

// fold evaluates instances on a bounded pool. Each worker keeps a private
// partial Tally; partials are reduced once every worker has finished.
func (a *Aggregator) fold(ctx context.Context, instances []Instance) (Tally, error) {
	if len(instances) == 0 {
		return Tally{}, nil
	}

	numWorkers := a.cfg.Workers
	if numWorkers > len(instances) {
		numWorkers = len(instances)
	}
	if numWorkers < 1 {
		numWorkers = 1
	}

	a.logger.Debug("starting workers", "instances", len(instances), "workers", numWorkers)

	jobs := make(chan Instance)
	partials := make([]Tally, numWorkers)
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var acc Tally
			for inst := range jobs {
				acc = acc.Combine(a.Instance(inst))
			}
			partials[i] = acc
		}(i)
	}

	var cancelled error
feed:
	for _, inst := range instances {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		select {
		case jobs <- inst:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	if cancelled != nil {
		return Tally{}, cancelled
	}

	var total Tally
	for _, p := range partials {
		total = total.Combine(p)
	}
	return total, nil
}

// Instance computes the contribution of a single instance. A catalog that
// cannot be read skips the whole instance.
func (a *Aggregator) Instance(inst Instance) Tally {
	log := a.logger.With("instance", inst.Name)

	cat, err := a.loader.LoadFile(inst.CatalogPath)
	if err != nil {
		log.Warn("skipping instance", "error", err)
		return SkippedTally(inst.Name, err.Error())
	}

	algs := make(map[string]AlgorithmTally, len(a.cfg.Algorithms))
	for _, alg := range a.cfg.Algorithms {
		algs[alg.Name] = a.algorithm(log, cat, filepath.Join(inst.ResultDir, alg.TimeFile))
	}
	return InstanceTally(cat.CriticalCount(), algs)
}

func (a *Aggregator) algorithm(log *slog.Logger, cat *catalog.Catalog, path string) AlgorithmTally {
	n, err := resultfile.NormalizeFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("result file missing", "path", path)
		return AlgorithmTally{MissingFiles: 1}
	case err != nil:
		log.Warn("result file unreadable", "path", path, "error", err)
		return AlgorithmTally{FailedFiles: 1}
	}
	if n.Kind == resultfile.KindInvalid {
		return AlgorithmTally{Instances: 1, InvalidRuns: 1}
	}
	return a.count(cat, n)
}

// count re-buckets processed ids by the catalog's crucial flag. Ids the
// catalog does not know are dropped.
func (a *Aggregator) count(cat *catalog.Catalog, n *resultfile.Normalized) AlgorithmTally {
	t := AlgorithmTally{Instances: 1}
	for _, id := range n.Processed() {
		crucial, ok := cat.Crucial(id)
		if !ok {
			continue
		}
		if a.cfg.ExcludeMissed {
			if _, missed := n.Missed[id]; missed {
				continue
			}
		}
		if !crucial {
			t.ProcessedNonCritical++
			continue
		}
		t.ProcessedCritical++
		if pred, ok := n.Predictions[id]; ok {
			t.AccuracyDenominator++
			if pred == model.TrueClass(id) {
				t.Correct++
			}
		}
	}
	return t
}
