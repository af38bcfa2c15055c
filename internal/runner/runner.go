// Package runner measures every scheduler manifest in a result tree and
// writes the matching time files.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/schedbench/internal/config"
	"github.com/me/schedbench/internal/manifest"
	"github.com/me/schedbench/internal/oracle"
	"github.com/me/schedbench/internal/resultfile"
	"github.com/me/schedbench/internal/timing"
	"github.com/me/schedbench/pkg/model"
)

// Status is the outcome for one manifest file.
type Status int

const (
	StatusProcessed Status = iota
	StatusSentinel
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusSentinel:
		return "sentinel"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result describes one measured manifest.
type Result struct {
	Instance  string
	Algorithm string
	Manifest  string
	Output    string
	Status    Status
	Run       *model.TimingRun // nil unless Status is StatusProcessed
	Elapsed   time.Duration
}

// Summary counts outcomes over a result tree.
type Summary struct {
	Total     int
	Processed int
	Sentinel  int
	Skipped   int
	Failed    int
	Elapsed   time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("%s manifests: %s measured, %s sentinel, %s skipped, %s failed (%s)",
		humanize.Comma(int64(s.Total)),
		humanize.Comma(int64(s.Processed)),
		humanize.Comma(int64(s.Sentinel)),
		humanize.Comma(int64(s.Skipped)),
		humanize.Comma(int64(s.Failed)),
		s.Elapsed.Round(time.Millisecond))
}

func (s *Summary) add(st Status) {
	s.Total++
	switch st {
	case StatusProcessed:
		s.Processed++
	case StatusSentinel:
		s.Sentinel++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
}

// Runner drives a Measurer over manifests on disk.
type Runner struct {
	measurer     *timing.Measurer
	parser       *manifest.Parser
	images       config.ImagesConfig
	prefix       string
	algorithms   []config.Algorithm
	skipExisting bool
	observe      func(context.Context, Result)
	logger       *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver registers fn to be called after every manifest.
func WithObserver(fn func(context.Context, Result)) Option {
	return func(r *Runner) { r.observe = fn }
}

// New creates a Runner from cfg.
func New(ms *timing.Measurer, cfg config.Config, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		measurer:     ms,
		parser:       manifest.New(logger),
		images:       cfg.Images,
		prefix:       cfg.Aggregate.InstancePrefix,
		algorithms:   cfg.Aggregate.Algorithms,
		skipExisting: cfg.Runner.SkipExisting,
		logger:       logger.With("component", "runner"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsSentinelManifest reports whether data marks a scheduler that produced
// nothing: a bare -1 or a single-element array holding -1.
func IsSentinelManifest(data []byte) bool {
	if resultfile.IsSentinel(data) {
		return true
	}
	var arr []json.Number
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&arr); err != nil {
		return false
	}
	return len(arr) == 1 && arr[0].String() == resultfile.Sentinel
}

// MeasureFile measures one manifest and writes its time file to out.
// Sentinel manifests are passed through without measuring.
func (r *Runner) MeasureFile(ctx context.Context, manifestPath, out string, images oracle.ImageStore) (Status, *model.TimingRun, error) {
	if r.skipExisting {
		if _, err := os.Stat(out); err == nil {
			return StatusSkipped, nil, nil
		}
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return StatusFailed, nil, fmt.Errorf("read manifest: %w", err)
	}
	if IsSentinelManifest(data) {
		if err := writeSentinel(out); err != nil {
			return StatusFailed, nil, err
		}
		return StatusSentinel, nil, nil
	}

	man, err := r.parser.Parse(filepath.Base(manifestPath), data)
	if err != nil {
		return StatusFailed, nil, err
	}
	run, err := r.measurer.Measure(ctx, man, images)
	if err != nil {
		return StatusFailed, nil, err
	}
	if err := timing.WriteFile(out, run); err != nil {
		return StatusFailed, nil, err
	}
	return StatusProcessed, run, nil
}

func writeSentinel(path string) error {
	if err := os.WriteFile(path, []byte(resultfile.Sentinel), 0o644); err != nil {
		return fmt.Errorf("write sentinel: %w", err)
	}
	return nil
}

// ImageStore returns the image store for an instance, falling back to the
// configured fallback instance when the instance has no image folder.
func (r *Runner) ImageStore(instance string) *oracle.DirStore {
	dir := r.images.ImageDir(instance)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		fallback := r.images.ImageDir(r.images.FallbackInstance)
		r.logger.Warn("image folder missing, using fallback", "instance", instance, "dir", dir, "fallback", fallback)
		dir = fallback
	}
	return oracle.NewDirStore(dir, r.images.Extension)
}

// RunTree measures every configured algorithm's manifest in every instance
// folder of resultDir, in sorted order. A failing file never stops the run;
// only context cancellation does.
func (r *Runner) RunTree(ctx context.Context, resultDir string) (Summary, error) {
	start := time.Now()
	var sum Summary

	entries, err := os.ReadDir(resultDir)
	if err != nil {
		return sum, fmt.Errorf("read result dir: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), r.prefix) {
			continue
		}
		instance := strings.TrimPrefix(e.Name(), r.prefix)
		dir := filepath.Join(resultDir, e.Name())
		images := r.ImageStore(instance)

		for _, alg := range r.algorithms {
			if alg.ResultFile == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				sum.Elapsed = time.Since(start)
				return sum, err
			}
			res := r.runOne(ctx, instance, alg, dir, images)
			if res.Status == StatusFailed && ctx.Err() != nil {
				sum.Elapsed = time.Since(start)
				return sum, ctx.Err()
			}
			if res.Manifest == "" {
				continue
			}
			sum.add(res.Status)
		}
	}

	sum.Elapsed = time.Since(start)
	r.logger.Info("measurement complete", "summary", sum.String())
	return sum, nil
}

func (r *Runner) runOne(ctx context.Context, instance string, alg config.Algorithm, dir string, images oracle.ImageStore) Result {
	res := Result{
		Instance:  instance,
		Algorithm: alg.Name,
		Output:    filepath.Join(dir, alg.TimeFile),
	}
	path := filepath.Join(dir, alg.ResultFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		r.logger.Debug("no manifest", "instance", instance, "algorithm", alg.Name)
		return res
	}
	res.Manifest = path

	log := r.logger.With("instance", instance, "algorithm", alg.Name)
	start := time.Now()
	status, run, err := r.MeasureFile(ctx, path, res.Output, images)
	res.Status, res.Run, res.Elapsed = status, run, time.Since(start)

	switch status {
	case StatusFailed:
		log.Error("measurement failed", "manifest", path, "error", err)
	case StatusSkipped:
		log.Debug("time file exists, skipped", "output", res.Output)
	case StatusSentinel:
		log.Info("sentinel manifest passed through", "output", res.Output)
	default:
		log.Info("measured",
			"batches", len(run.Batches),
			"skipped_batches", len(run.Skipped),
			"total_ms", run.TotalTimeMs(),
			"missed", len(run.Summary.MissedDeadlineImages),
			"elapsed", res.Elapsed.Round(time.Millisecond))
	}
	if r.observe != nil {
		r.observe(ctx, res)
	}
	return res
}
