// Package manifest parses the execution manifest emitted by a scheduling
// algorithm: an ordered JSON array of batches, optionally terminated by a
// {"deadline": seconds} marker.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/me/schedbench/internal/wire"
	"github.com/me/schedbench/pkg/model"
)

// Parser converts manifest text into a model.Manifest.
type Parser struct {
	logger *slog.Logger
}

// New creates a Parser with the given logger.
func New(logger *slog.Logger) *Parser {
	return &Parser{logger: logger.With("component", "manifest")}
}

// ParseFile reads and parses the manifest at path.
func (p *Parser) ParseFile(path string) (*model.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return p.Parse(filepath.Base(path), data)
}

// Parse parses manifest content. Only text that is not a JSON array fails;
// malformed batches and image entries are skipped and logged.
func (p *Parser) Parse(source string, data []byte) (*model.Manifest, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &elems); err != nil {
		return nil, &model.ParseError{Source: source, Err: err}
	}

	m := &model.Manifest{Batches: make([]model.Batch, 0, len(elems))}

	if n := len(elems); n > 0 {
		if obj, ok := wire.AsObject(elems[n-1]); ok && obj.Has("deadline") {
			elems = elems[:n-1]
			if secs, ok := obj.Float("deadline"); ok {
				m.DeadlineSeconds = &secs
			} else {
				p.logger.Warn("deadline marker ignored: not a number", "source", source)
			}
		}
	}

	for i, raw := range elems {
		idx := i + 1
		batch, err := p.parseBatch(idx, raw)
		if err != nil {
			p.logger.Warn("batch skipped", "source", source, "batch", idx, "error", err)
			continue
		}
		m.Batches = append(m.Batches, batch)
	}
	return m, nil
}

func (p *Parser) parseBatch(idx int, raw json.RawMessage) (model.Batch, error) {
	obj, ok := wire.AsObject(raw)
	if !ok {
		return model.Batch{}, fmt.Errorf("not an object")
	}
	size, ok := obj.Int("size")
	if !ok || size == 0 {
		return model.Batch{}, fmt.Errorf("missing size")
	}
	entries, ok := wire.AsArray(obj["images"])
	if !ok || len(entries) == 0 {
		return model.Batch{}, fmt.Errorf("missing images")
	}

	batch := model.Batch{Index: idx, Size: size, Images: make([]model.ImageRef, 0, len(entries))}
	for j, e := range entries {
		ref, ok := parseImage(e)
		if !ok {
			p.logger.Debug("image entry skipped", "batch", idx, "entry", j)
			continue
		}
		batch.Images = append(batch.Images, ref)
	}
	if len(batch.Images) == 0 {
		return model.Batch{}, fmt.Errorf("no usable image entries")
	}
	return batch, nil
}

// parseImage accepts a bare id string or an {"id", "crucial"} object.
func parseImage(raw json.RawMessage) (model.ImageRef, bool) {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		if id == "" {
			return model.ImageRef{}, false
		}
		return model.ImageRef{ID: id}, true
	}
	obj, ok := wire.AsObject(raw)
	if !ok {
		return model.ImageRef{}, false
	}
	id, ok = obj.String("id")
	if !ok || id == "" {
		return model.ImageRef{}, false
	}
	return model.ImageRef{ID: id, Crucial: obj.Crucial()}, true
}
