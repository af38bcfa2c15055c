// Package resultfile normalizes a scheduling algorithm's result file into
// processed-id sets and predictions, whatever shape the file has.
package resultfile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/me/schedbench/internal/wire"
	"github.com/me/schedbench/pkg/model"
)

// Kind tags the shape a result file was recognized as.
type Kind int

const (
	// KindInvalid is the total-failure sentinel: the file content is -1.
	KindInvalid Kind = iota
	// KindFlat files hold per-image records carrying image_id.
	KindFlat
	// KindNested files hold batch groups with an images list.
	KindNested
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindFlat:
		return "flat"
	case KindNested:
		return "nested"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Sentinel is the entire content of a result file for an algorithm that
// produced no usable output.
const Sentinel = "-1"

// IsSentinel reports whether data, trimmed, is exactly the sentinel.
func IsSentinel(data []byte) bool {
	return string(bytes.TrimSpace(data)) == Sentinel
}

// Normalized is the unified view of one result file.
type Normalized struct {
	Kind        Kind
	Critical    map[string]struct{}
	NonCritical map[string]struct{}
	// Predictions maps image id to predicted class for records that carried one.
	Predictions map[string]string
	// Missed lists ids from a trailing missed_deadline_images record (flat files only).
	Missed map[string]struct{}
}

func newNormalized(kind Kind) *Normalized {
	return &Normalized{
		Kind:        kind,
		Critical:    make(map[string]struct{}),
		NonCritical: make(map[string]struct{}),
		Predictions: make(map[string]string),
		Missed:      make(map[string]struct{}),
	}
}

// Processed returns every processed id in sorted order.
func (n *Normalized) Processed() []string {
	ids := make([]string, 0, len(n.Critical)+len(n.NonCritical))
	for id := range n.Critical {
		ids = append(ids, id)
	}
	for id := range n.NonCritical {
		if _, dup := n.Critical[id]; !dup {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (n *Normalized) add(rec wire.Object, idKey string) {
	id, ok := rec.String(idKey)
	if !ok || id == "" {
		return
	}
	if cls, ok := rec.String("predicted_class"); ok {
		n.Predictions[id] = cls
	}
	if rec.Crucial() {
		n.Critical[id] = struct{}{}
	} else {
		n.NonCritical[id] = struct{}{}
	}
}

// NormalizeFile reads and normalizes the result file at path.
func NormalizeFile(path string) (*Normalized, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read result file: %w", err)
	}
	return Normalize(filepath.Base(path), data)
}

// Normalize recognizes the shape of data and extracts processed ids.
// The sentinel is a successful KindInvalid result, never an error.
func Normalize(source string, data []byte) (*Normalized, error) {
	if IsSentinel(data) {
		return newNormalized(KindInvalid), nil
	}

	var records []json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(data), &records); err != nil {
		return nil, &model.ParseError{Source: source, Err: err}
	}

	objs := make([]wire.Object, 0, len(records))
	flat := false
	for _, raw := range records {
		obj, ok := wire.AsObject(raw)
		if !ok {
			continue
		}
		if obj.Has("image_id") {
			flat = true
		}
		objs = append(objs, obj)
	}

	if flat {
		n := newNormalized(KindFlat)
		for _, obj := range objs {
			if obj.Has("image_id") {
				n.add(obj, "image_id")
				continue
			}
			if missed, ok := wire.AsArray(obj["missed_deadline_images"]); ok {
				for _, raw := range missed {
					var id string
					if json.Unmarshal(raw, &id) == nil && id != "" {
						n.Missed[id] = struct{}{}
					}
				}
			}
		}
		return n, nil
	}

	n := newNormalized(KindNested)
	for _, group := range objs {
		images, ok := wire.AsArray(group["images"])
		if !ok {
			continue
		}
		for _, raw := range images {
			if img, ok := wire.AsObject(raw); ok {
				n.add(img, "id")
			}
		}
	}
	return n, nil
}
