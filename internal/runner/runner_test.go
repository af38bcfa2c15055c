package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/schedbench/internal/config"
	"github.com/me/schedbench/internal/logging"
	"github.com/me/schedbench/internal/oracle"
	"github.com/me/schedbench/internal/resultfile"
	"github.com/me/schedbench/internal/timing"
	"github.com/me/schedbench/pkg/model"
)

// echoBackend predicts the class encoded in the image id.
type echoBackend struct{}

func (echoBackend) LoadModel(_ context.Context, size int, _ string) (oracle.Model, error) {
	return oracle.Model{Size: size, Name: "echo"}, nil
}

func (echoBackend) Preprocess(_ context.Context, img oracle.Image) (oracle.Input, error) {
	return oracle.Input{ImageID: img.ID, Size: img.Size, Payload: img.Path}, nil
}

func (echoBackend) Predict(_ context.Context, _ oracle.Model, in oracle.Input) (oracle.Prediction, error) {
	return oracle.Prediction{ClassID: 0, Class: model.TrueClass(in.ImageID)}, nil
}

func (echoBackend) Synchronize(context.Context) error { return nil }
func (echoBackend) Close() error                      { return nil }

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

type fixture struct {
	root    string
	results string
	cfg     config.Config
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Images.Root = filepath.Join(root, "images_cropped")
	cfg.Aggregate.Algorithms = []config.Algorithm{
		{Name: "main", ResultFile: "main_result.json", TimeFile: "main_time.json"},
		{Name: "resizing", ResultFile: "resizing_result.json", TimeFile: "resizing_time.json"},
	}

	for _, id := range []string{"64_1_car", "64_2_dog"} {
		writeFile(t, filepath.Join(root, "images_cropped", "cropped_1", id+".jpg"), "jpeg")
	}
	writeFile(t, filepath.Join(root, "images_cropped", "cropped_2", "128_5_cat.jpg"), "jpeg")

	results := filepath.Join(root, "result_list_ddl5")
	writeFile(t, filepath.Join(results, "result_1", "main_result.json"),
		`[{"size": 64, "images": [{"id": "64_1_car", "crucial": 1}, "64_2_dog"]}, {"deadline": 5}]`)
	writeFile(t, filepath.Join(results, "result_1", "resizing_result.json"), "[-1]")
	// Instance 3 has no image folder and falls back to cropped_1.
	writeFile(t, filepath.Join(results, "result_3", "main_result.json"),
		`[{"size": 64, "images": ["64_2_dog"]}]`)
	writeFile(t, filepath.Join(results, "result_3", "resizing_result.json"), "not json")
	writeFile(t, filepath.Join(results, "result_2", "main_result.json"),
		`[{"size": 128, "images": [{"id": "128_5_cat", "crucial": 1}]}]`)

	return fixture{root: root, results: results, cfg: cfg}
}

func newRunner(t *testing.T, cfg config.Config, opts ...Option) *Runner {
	t.Helper()
	s, err := oracle.Open(context.Background(), echoBackend{}, map[int]string{64: "m64", 128: "m128"}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	ms := timing.New(s, logging.Discard(), timing.WithProtocol(timing.Protocol{MeasureIterations: 1}))
	return New(ms, cfg, logging.Discard(), opts...)
}

func TestRunTree(t *testing.T) {
	f := newFixture(t)
	var seen []Result
	r := newRunner(t, f.cfg, WithObserver(func(_ context.Context, res Result) { seen = append(seen, res) }))

	sum, err := r.RunTree(context.Background(), f.results)
	if err != nil {
		t.Fatalf("RunTree: %v", err)
	}
	if sum.Total != 5 || sum.Processed != 3 || sum.Sentinel != 1 || sum.Failed != 1 || sum.Skipped != 0 {
		t.Errorf("Summary = %+v", sum)
	}
	if len(seen) != 5 {
		t.Fatalf("observer saw %d results, want 5", len(seen))
	}
	if seen[0].Instance != "1" || seen[0].Algorithm != "main" || seen[0].Run == nil {
		t.Errorf("first result = %+v", seen[0])
	}
	if !strings.Contains(sum.String(), "5 manifests: 3 measured, 1 sentinel, 0 skipped, 1 failed") {
		t.Errorf("String() = %q", sum.String())
	}

	data, err := os.ReadFile(filepath.Join(f.results, "result_1", "resizing_time.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "-1" {
		t.Errorf("sentinel time file = %q, want -1", data)
	}

	n, err := resultfile.NormalizeFile(filepath.Join(f.results, "result_1", "main_time.json"))
	if err != nil {
		t.Fatal(err)
	}
	if n.Kind != resultfile.KindFlat {
		t.Fatalf("Kind = %v", n.Kind)
	}
	if _, ok := n.Critical["64_1_car"]; !ok {
		t.Errorf("Critical = %v", n.Critical)
	}
	if n.Predictions["64_2_dog"] != "dog" {
		t.Errorf("Predictions = %v", n.Predictions)
	}

	// Fallback image folder served instance 3.
	n3, err := resultfile.NormalizeFile(filepath.Join(f.results, "result_3", "main_time.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := n3.Predictions["64_2_dog"]; !ok {
		t.Errorf("instance 3 predictions = %v, want 64_2_dog via fallback", n3.Predictions)
	}

	if _, err := os.Stat(filepath.Join(f.results, "result_3", "resizing_time.json")); !os.IsNotExist(err) {
		t.Errorf("failed manifest should not produce a time file: %v", err)
	}
}

func TestRunTree_SkipExisting(t *testing.T) {
	f := newFixture(t)
	existing := filepath.Join(f.results, "result_2", "main_time.json")
	writeFile(t, existing, "keep")

	f.cfg.Runner.SkipExisting = true
	sum, err := newRunner(t, f.cfg).RunTree(context.Background(), f.results)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Skipped != 1 || sum.Processed != 2 {
		t.Errorf("Summary = %+v", sum)
	}
	data, _ := os.ReadFile(existing)
	if string(data) != "keep" {
		t.Errorf("existing time file overwritten: %q", data)
	}
}

func TestRunTree_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := newRunner(t, f.cfg).RunTree(ctx, f.results)
	if err == nil {
		t.Fatal("expected context error")
	}
	if sum.Total != 0 {
		t.Errorf("Total = %d, want 0", sum.Total)
	}
}

func TestIsSentinelManifest(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"-1", true},
		{" -1\n", true},
		{"[-1]", true},
		{"[ -1 ]", true},
		{"[-1, -1]", false},
		{"[1]", false},
		{"[]", false},
		{`[{"size": 64, "images": ["a"]}]`, false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := IsSentinelManifest([]byte(tt.in)); got != tt.want {
			t.Errorf("IsSentinelManifest(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestMeasureFile_UnreadableManifest(t *testing.T) {
	f := newFixture(t)
	r := newRunner(t, f.cfg)
	status, run, err := r.MeasureFile(context.Background(), filepath.Join(f.root, "missing.json"), filepath.Join(f.root, "out.json"), r.ImageStore("1"))
	if status != StatusFailed || run != nil || err == nil {
		t.Errorf("MeasureFile = %v, %v, %v", status, run, err)
	}
}
