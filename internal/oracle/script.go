package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dop251/goja"
)

// ScriptBackend hosts a JavaScript oracle for dry runs and simulations
// without a real model. The script must define
//
//	predict(image, model) -> {class_id, class}
//
// and may define load_model(size, path) -> name and synchronize().
// image carries id, size, path and bytes (the byte length).
type ScriptBackend struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	predict goja.Callable
	load    goja.Callable
	sync    goja.Callable
	logger  *slog.Logger
}

// NewScriptBackend compiles source and resolves its entry points.
func NewScriptBackend(source string, logger *slog.Logger) (*ScriptBackend, error) {
	vm := goja.New()
	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("oracle script: %w", err)
	}
	predict, ok := goja.AssertFunction(vm.Get("predict"))
	if !ok {
		return nil, fmt.Errorf("oracle script: predict is not a function")
	}
	b := &ScriptBackend{
		vm:      vm,
		predict: predict,
		logger:  logger.With("component", "oracle-script"),
	}
	b.load, _ = goja.AssertFunction(vm.Get("load_model"))
	b.sync, _ = goja.AssertFunction(vm.Get("synchronize"))
	return b, nil
}

func (b *ScriptBackend) LoadModel(_ context.Context, size int, path string) (Model, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	name := fmt.Sprintf("model_%d", size)
	if b.load != nil {
		v, err := b.load(goja.Undefined(), b.vm.ToValue(size), b.vm.ToValue(path))
		if err != nil {
			return Model{}, fmt.Errorf("load_model: %w", err)
		}
		if s, ok := v.Export().(string); ok && s != "" {
			name = s
		}
	}
	return Model{Size: size, Name: name}, nil
}

func (b *ScriptBackend) Preprocess(_ context.Context, img Image) (Input, error) {
	return Input{
		ImageID: img.ID,
		Size:    img.Size,
		Payload: map[string]any{
			"id":    img.ID,
			"size":  img.Size,
			"path":  img.Path,
			"bytes": len(img.Data),
		},
	}, nil
}

func (b *ScriptBackend) Predict(_ context.Context, m Model, in Input) (Prediction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	modelObj := map[string]any{"size": m.Size, "name": m.Name}
	v, err := b.predict(goja.Undefined(), b.vm.ToValue(in.Payload), b.vm.ToValue(modelObj))
	if err != nil {
		return Prediction{}, err
	}
	out, ok := v.Export().(map[string]any)
	if !ok {
		return Prediction{}, fmt.Errorf("predict returned %T, want object", v.Export())
	}

	var p Prediction
	switch id := out["class_id"].(type) {
	case int64:
		p.ClassID = int(id)
	case float64:
		p.ClassID = int(id)
	case nil:
	default:
		return Prediction{}, fmt.Errorf("predict: class_id has type %T", id)
	}
	if cls, ok := out["class"].(string); ok {
		p.Class = cls
	}
	return p, nil
}

func (b *ScriptBackend) Synchronize(context.Context) error {
	if b.sync == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.sync(goja.Undefined())
	return err
}

func (b *ScriptBackend) Close() error { return nil }
