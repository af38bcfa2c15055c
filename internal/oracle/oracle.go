// Package oracle wraps the external classification capability. A Session is
// the explicit inference context: it is opened once, holds one model handle
// per image size, is passed to every batch, and is closed at shutdown.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/me/schedbench/pkg/model"
)

// ErrNoModels is returned by Open when no model could be loaded.
var ErrNoModels = errors.New("no models loaded")

// Image is a located image with its raw bytes.
type Image struct {
	ID   string
	Size int
	Path string
	Data []byte
}

// Input is a preprocessed image, opaque outside the backend that produced it.
type Input struct {
	ImageID string
	Size    int
	Payload any
}

// Model is a size-specific model handle returned by a Backend.
type Model struct {
	Size   int
	Name   string
	Handle any
}

// Prediction is a classification outcome.
type Prediction struct {
	ClassID int    `json:"class_id"`
	Class   string `json:"class"`
}

// Backend is the classification capability behind a Session.
// Implementations need not be safe for concurrent use.
type Backend interface {
	LoadModel(ctx context.Context, size int, path string) (Model, error)
	Preprocess(ctx context.Context, img Image) (Input, error)
	Predict(ctx context.Context, m Model, in Input) (Prediction, error)
	// Synchronize blocks until all previously issued work has completed.
	Synchronize(ctx context.Context) error
	Close() error
}

// Session serializes every call into a Backend: one call is in flight at a time.
type Session struct {
	mu      sync.Mutex
	backend Backend
	models  map[int]Model
	logger  *slog.Logger
	closed  bool
}

// Open loads one model per configured size. Models that fail to load are
// logged and left out; Open fails only when none could be loaded.
func Open(ctx context.Context, b Backend, modelPaths map[int]string, logger *slog.Logger) (*Session, error) {
	s := &Session{
		backend: b,
		models:  make(map[int]Model),
		logger:  logger.With("component", "oracle"),
	}

	sizes := make([]int, 0, len(modelPaths))
	for size := range modelPaths {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)

	for _, size := range sizes {
		path := modelPaths[size]
		if !model.ValidSize(size) {
			s.logger.Warn("model skipped: unsupported size", "size", size, "path", path)
			continue
		}
		m, err := b.LoadModel(ctx, size, path)
		if err != nil {
			s.logger.Warn("model failed to load", "size", size, "path", path, "error", err)
			continue
		}
		if m.Size == 0 {
			m.Size = size
		}
		s.models[size] = m
		s.logger.Info("model loaded", "size", size, "name", m.Name)
	}

	if len(s.models) == 0 {
		b.Close()
		return nil, ErrNoModels
	}
	return s, nil
}

// Model returns the handle for size.
func (s *Session) Model(size int) (Model, bool) {
	m, ok := s.models[size]
	return m, ok
}

// Sizes returns the sizes with a loaded model, ascending.
func (s *Session) Sizes() []int {
	sizes := make([]int, 0, len(s.models))
	for size := range s.models {
		sizes = append(sizes, size)
	}
	sort.Ints(sizes)
	return sizes
}

// Preprocess resizes and normalizes img for its model.
func (s *Session) Preprocess(ctx context.Context, img Image) (Input, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, err := s.backend.Preprocess(ctx, img)
	if err != nil {
		return Input{}, &model.OracleError{ImageID: img.ID, Op: "preprocess", Err: err}
	}
	return in, nil
}

// Classify runs the size-specific model on in.
func (s *Session) Classify(ctx context.Context, m Model, in Input) (Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.backend.Predict(ctx, m, in)
	if err != nil {
		return Prediction{}, &model.OracleError{ImageID: in.ImageID, Op: "predict", Err: err}
	}
	if p.Class == "" {
		p.Class = fmt.Sprintf("Class_%d", p.ClassID)
	}
	return p, nil
}

// Barrier waits for all outstanding backend work.
func (s *Session) Barrier(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Synchronize(ctx); err != nil {
		return fmt.Errorf("synchronize: %w", err)
	}
	return nil
}

// Close releases the backend. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.backend.Close()
}
