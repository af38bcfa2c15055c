// Package timing executes an execution manifest batch by batch and measures
// stabilized per-batch inference latency against the manifest's deadline.
//
// Each batch runs LOAD, WARMUP, MEASURE and RECORD in order; batches run
// strictly in manifest order because cumulative time and deadline misses
// depend on everything before them.
package timing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/me/schedbench/internal/oracle"
	"github.com/me/schedbench/pkg/model"
)

// Protocol fixes the sampling discipline of a measurement.
type Protocol struct {
	WarmupPasses      int // untimed forward passes before measuring
	MeasureIterations int // timed reload+preprocess+classify iterations
	DiscardIterations int // leading timed iterations ignored while the pipeline settles
}

// DefaultProtocol is 7 warm-up passes and 3 timed iterations, the first discarded.
func DefaultProtocol() Protocol {
	return Protocol{WarmupPasses: 7, MeasureIterations: 3, DiscardIterations: 1}
}

// Clock reports the current time. Tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Classifier is the inference capability the measurer drives.
// *oracle.Session implements it.
type Classifier interface {
	Model(size int) (oracle.Model, bool)
	Preprocess(ctx context.Context, img oracle.Image) (oracle.Input, error)
	Classify(ctx context.Context, m oracle.Model, in oracle.Input) (oracle.Prediction, error)
	Barrier(ctx context.Context) error
}

// Measurer runs manifests against a Classifier.
type Measurer struct {
	classifier Classifier
	protocol   Protocol
	clock      Clock
	logger     *slog.Logger
}

// Option configures a Measurer.
type Option func(*Measurer)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Measurer) { m.clock = c }
}

// WithProtocol replaces DefaultProtocol.
func WithProtocol(p Protocol) Option {
	return func(m *Measurer) { m.protocol = p }
}

// New creates a Measurer.
func New(c Classifier, logger *slog.Logger, opts ...Option) *Measurer {
	m := &Measurer{
		classifier: c,
		protocol:   DefaultProtocol(),
		clock:      systemClock{},
		logger:     logger.With("component", "timing"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.protocol.MeasureIterations <= m.protocol.DiscardIterations {
		m.protocol.MeasureIterations = m.protocol.DiscardIterations + 1
	}
	return m
}

// located is an image that survived LOAD.
type located struct {
	ref  model.ImageRef
	path string
}

// attempt is the outcome of one image in one timed iteration.
type attempt struct {
	pred oracle.Prediction
	err  error
}

// Measure executes every batch of man in order, reading images from store.
// Unsupported batches are skipped; only a failed synchronization barrier or
// a cancelled context aborts the run.
func (ms *Measurer) Measure(ctx context.Context, man *model.Manifest, store oracle.ImageStore) (*model.TimingRun, error) {
	run := &model.TimingRun{
		Batches: make([]model.BatchOutcome, 0, len(man.Batches)),
	}
	deadlineMs := man.DeadlineMillis()
	missed := make(map[string]struct{})
	var cumulative float64

	for _, b := range man.Batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outcome, valid, err := ms.measureBatch(ctx, b, store)
		if err != nil {
			var ie *model.IntegrityError
			if errors.As(err, &ie) {
				ms.logger.Warn("batch skipped", "batch", b.Index, "size", b.Size, "reason", ie.Reason)
				run.Skipped = append(run.Skipped, b.Index)
				continue
			}
			return nil, fmt.Errorf("batch %d: %w", b.Index, err)
		}

		cumulative += outcome.Sample.ProcessingTimeMs
		outcome.Sample.CumulativeTimeMs = cumulative

		if man.HasDeadline() && cumulative > deadlineMs {
			for _, v := range valid {
				missed[v.ref.ID] = struct{}{}
			}
		}

		ms.logger.Debug("batch measured",
			"batch", b.Index,
			"size", b.Size,
			"images", len(b.Images),
			"processing_ms", outcome.Sample.ProcessingTimeMs,
			"cumulative_ms", cumulative,
		)
		run.Batches = append(run.Batches, outcome)
	}

	ids := make([]string, 0, len(missed))
	for id := range missed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	run.Summary = model.DeadlineSummary{
		DeadlineSeconds:      man.DeadlineSeconds,
		MissedDeadlineImages: ids,
	}
	return run, nil
}

func (ms *Measurer) measureBatch(ctx context.Context, b model.Batch, store oracle.ImageStore) (model.BatchOutcome, []located, error) {
	if !model.ValidSize(b.Size) {
		return model.BatchOutcome{}, nil, &model.IntegrityError{BatchIndex: b.Index, Size: b.Size, Reason: "unsupported size"}
	}
	m, ok := ms.classifier.Model(b.Size)
	if !ok {
		return model.BatchOutcome{}, nil, &model.IntegrityError{BatchIndex: b.Index, Size: b.Size, Reason: "no model loaded for size"}
	}

	outcome := model.BatchOutcome{
		Results: make([]model.ClassificationResult, 0, len(b.Images)),
		Sample:  model.TimingSample{BatchIndex: b.Index, Size: b.Size, ImageCount: len(b.Images)},
	}

	// LOAD
	valid := make([]located, 0, len(b.Images))
	loadErrs := make(map[int]error)
	for i, ref := range b.Images {
		path, err := store.Locate(ref.ID)
		if err != nil {
			ms.logger.Warn("image unavailable", "batch", b.Index, "image_id", ref.ID, "error", err)
			loadErrs[i] = err
			continue
		}
		valid = append(valid, located{ref: ref, path: path})
	}
	if len(valid) == 0 {
		for i, ref := range b.Images {
			outcome.Results = append(outcome.Results, failedResult(ref, b.Size, loadErrs[i]))
		}
		return outcome, valid, nil
	}

	// WARMUP
	if err := ms.warmup(ctx, m, valid, store); err != nil {
		return model.BatchOutcome{}, nil, err
	}

	// MEASURE
	var best time.Duration
	var last []attempt
	for it := 0; it < ms.protocol.MeasureIterations; it++ {
		elapsed, attempts, err := ms.timedIteration(ctx, m, valid, store)
		if err != nil {
			return model.BatchOutcome{}, nil, err
		}
		last = attempts
		if it < ms.protocol.DiscardIterations {
			continue
		}
		if it == ms.protocol.DiscardIterations || elapsed < best {
			best = elapsed
		}
	}
	outcome.Sample.ProcessingTimeMs = float64(best.Nanoseconds()) / 1e6

	// RECORD, in manifest order
	next := 0
	for i, ref := range b.Images {
		if err, ok := loadErrs[i]; ok {
			outcome.Results = append(outcome.Results, failedResult(ref, b.Size, err))
			continue
		}
		a := last[next]
		next++
		if a.err != nil {
			outcome.Results = append(outcome.Results, failedResult(ref, b.Size, a.err))
			continue
		}
		cls, id := a.pred.Class, a.pred.ClassID
		outcome.Results = append(outcome.Results, model.ClassificationResult{
			ImageID:          ref.ID,
			Size:             b.Size,
			PredictedClass:   &cls,
			PredictedClassID: &id,
			Crucial:          model.CrucialFlag(ref.Crucial),
		})
	}
	return outcome, valid, nil
}

// warmup runs untimed forward passes over the valid subset, each fenced by
// barriers. The first pass also loads and preprocesses the images. Outputs and
// per-image failures are discarded.
func (ms *Measurer) warmup(ctx context.Context, m oracle.Model, valid []located, store oracle.ImageStore) error {
	var inputs []oracle.Input
	for pass := 0; pass < ms.protocol.WarmupPasses; pass++ {
		if err := ms.classifier.Barrier(ctx); err != nil {
			return err
		}
		if pass == 0 {
			inputs = make([]oracle.Input, 0, len(valid))
			for _, v := range valid {
				in, err := ms.prepare(ctx, v, m.Size, store)
				if err != nil {
					continue
				}
				inputs = append(inputs, in)
			}
		}
		for _, in := range inputs {
			ms.classifier.Classify(ctx, m, in)
		}
		if err := ms.classifier.Barrier(ctx); err != nil {
			return err
		}
	}
	return nil
}

// timedIteration reloads, preprocesses and classifies every valid image
// between two barriers and returns the elapsed time.
func (ms *Measurer) timedIteration(ctx context.Context, m oracle.Model, valid []located, store oracle.ImageStore) (time.Duration, []attempt, error) {
	attempts := make([]attempt, len(valid))

	if err := ms.classifier.Barrier(ctx); err != nil {
		return 0, nil, err
	}
	start := ms.clock.Now()
	for i, v := range valid {
		in, err := ms.prepare(ctx, v, m.Size, store)
		if err != nil {
			attempts[i].err = err
			continue
		}
		attempts[i].pred, attempts[i].err = ms.classifier.Classify(ctx, m, in)
	}
	if err := ms.classifier.Barrier(ctx); err != nil {
		return 0, nil, err
	}
	return ms.clock.Now().Sub(start), attempts, nil
}

func (ms *Measurer) prepare(ctx context.Context, v located, size int, store oracle.ImageStore) (oracle.Input, error) {
	data, err := store.Load(v.path)
	if err != nil {
		return oracle.Input{}, &model.OracleError{ImageID: v.ref.ID, Op: "load", Err: err}
	}
	return ms.classifier.Preprocess(ctx, oracle.Image{ID: v.ref.ID, Size: size, Path: v.path, Data: data})
}

func failedResult(ref model.ImageRef, size int, err error) model.ClassificationResult {
	return model.ClassificationResult{
		ImageID: ref.ID,
		Size:    size,
		Crucial: model.CrucialFlag(ref.Crucial),
		Error:   err.Error(),
	}
}
