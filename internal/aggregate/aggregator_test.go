package aggregate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/schedbench/internal/config"
	"github.com/me/schedbench/internal/logging"
)

const catalogOne = `size,deadline,id,crucial,category
64,5,64_1,1,car
64,5,64_2,1,dog
128,5,128_3,0,cat
128,5,128_4,1,traffic_light
`

const catalogTwo = `size,deadline,id,crucial,category
64,5,64_1,1,bird
64,5,64_2,0,car
`

// Flat file. 64_2_dog is flagged non-crucial and 128_3_cat crucial; the
// catalog overrides both. 999_9_car belongs to no catalog.
const mainTimeOne = `[
  {"image_id": "64_1_car", "size": 64, "crucial": 1, "predicted_class": "car", "predicted_class_id": 1},
  {"image_id": "64_2_dog", "size": 64, "crucial": 0, "predicted_class": "cat"},
  {"batch_info": {"batch_index": 1, "size": 64, "image_count": 2, "batch_processing_time_ms": 10.5, "cumulative_time_ms": 10.5}},
  {"image_id": "128_3_cat", "size": 128, "crucial": 1, "predicted_class": "cat"},
  {"image_id": "128_4_traffic_light", "size": 128, "crucial": 1, "predicted_class": "traffic_light"},
  {"image_id": "999_9_car", "size": 128, "crucial": 1, "predicted_class": "car"},
  {"deadline": 5.0, "missed_deadline_images": ["128_3_cat", "128_4_traffic_light"]}
]`

// Nested file. 64_1_car is instance one's id and must not leak into instance two.
const resizingTimeTwo = `[
  {"size": 64, "images": [
    {"id": "64_1_bird", "crucial": 1, "predicted_class": "bird"},
    {"id": "64_2_car", "crucial": 0},
    {"id": "64_1_car", "crucial": 1, "predicted_class": "car"}
  ]}
]`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// newWorkspace lays out a ddl5 corpus with two instances, plus a result
// folder with no catalog.
func newWorkspace(t *testing.T) string {
	t.Helper()
	ws := t.TempDir()
	tasks := filepath.Join(ws, "task_files_ddl5")
	results := filepath.Join(ws, "result_list_ddl5")

	writeFile(t, filepath.Join(tasks, "tasks_1.csv"), catalogOne)
	writeFile(t, filepath.Join(tasks, "tasks_2.csv"), catalogTwo)

	writeFile(t, filepath.Join(results, "result_1", "main_time.json"), mainTimeOne)
	writeFile(t, filepath.Join(results, "result_1", "resizing_time.json"), "-1\n")
	writeFile(t, filepath.Join(results, "result_2", "resizing_time.json"), resizingTimeTwo)
	writeFile(t, filepath.Join(results, "result_3", "main_time.json"), mainTimeOne)
	writeFile(t, filepath.Join(results, "notes.txt"), "ignored")
	return ws
}

func testConfig(workers int) config.AggregateConfig {
	cfg := config.DefaultConfig().Aggregate
	cfg.Workers = workers
	cfg.Algorithms = []config.Algorithm{
		{Name: "main", TimeFile: "main_time.json"},
		{Name: "resizing", TimeFile: "resizing_time.json"},
	}
	return cfg
}

func TestRunDeadline(t *testing.T) {
	ws := newWorkspace(t)
	agg := New(testConfig(4), logging.Discard())

	report, err := agg.RunDeadline(context.Background(), ws, 5)
	if err != nil {
		t.Fatalf("RunDeadline: %v", err)
	}
	if report.Label != "ddl5" {
		t.Errorf("Label = %q", report.Label)
	}
	if report.Instances != 2 {
		t.Errorf("Instances = %d, want 2 (result_3 has no catalog)", report.Instances)
	}
	if report.TotalCritical != 4 {
		t.Errorf("TotalCritical = %d, want 4", report.TotalCritical)
	}
	if len(report.Algorithms) != 2 || report.Algorithms[0].Algorithm != "main" || report.Algorithms[1].Algorithm != "resizing" {
		t.Fatalf("Algorithms order = %+v", report.Algorithms)
	}

	main := report.Algorithms[0]
	// 64_1_car, 64_2_dog, 128_4_traffic_light are crucial per catalog.
	if main.ProcessedCritical != 3 || main.ProcessedNonCritical != 1 {
		t.Errorf("main processed = %d/%d, want 3/1", main.ProcessedCritical, main.ProcessedNonCritical)
	}
	// traffic_light is judged against "light".
	if main.Correct != 1 || main.AccuracyDenominator != 3 {
		t.Errorf("main accuracy = %d/%d, want 1/3", main.Correct, main.AccuracyDenominator)
	}
	if main.MissRate != 0.25 {
		t.Errorf("main MissRate = %v, want 0.25", main.MissRate)
	}
	if main.Throughput != 1 {
		t.Errorf("main Throughput = %d", main.Throughput)
	}
	if main.Instances != 1 || main.MissingFiles != 1 {
		t.Errorf("main files = %+v", main)
	}

	resizing := report.Algorithms[1]
	if resizing.ProcessedCritical != 1 || resizing.ProcessedNonCritical != 1 {
		t.Errorf("resizing processed = %d/%d, want 1/1", resizing.ProcessedCritical, resizing.ProcessedNonCritical)
	}
	if resizing.Correct != 1 || resizing.AccuracyDenominator != 1 || resizing.Accuracy != 1 {
		t.Errorf("resizing accuracy = %+v", resizing)
	}
	if resizing.MissRate != 0.75 {
		t.Errorf("resizing MissRate = %v, want 0.75", resizing.MissRate)
	}
	if resizing.InvalidRuns != 1 || resizing.Instances != 2 {
		t.Errorf("resizing files = %+v", resizing)
	}
}

func TestRun_SentinelIsTotalMiss(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "tasks", "tasks_1.csv"), catalogOne)
	writeFile(t, filepath.Join(ws, "results", "result_1", "resizing_time.json"), " -1 ")

	agg := New(testConfig(1), logging.Discard())
	report, err := agg.Run(context.Background(), "sentinel", filepath.Join(ws, "tasks"), filepath.Join(ws, "results"))
	if err != nil {
		t.Fatal(err)
	}
	m, ok := report.Algorithm("resizing")
	if !ok {
		t.Fatal("resizing missing from report")
	}
	if m.ProcessedCritical != 0 || m.MissRate != 1.0 {
		t.Errorf("sentinel metrics = %+v, want miss rate 1.0", m)
	}
	if m.FailedFiles != 0 || m.InvalidRuns != 1 {
		t.Errorf("sentinel counted as failure: %+v", m)
	}
}

func TestRun_ZeroDivision(t *testing.T) {
	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "tasks", "tasks_1.csv"), "size,deadline,id,crucial,category\n64,5,64_1,0,car\n")
	writeFile(t, filepath.Join(ws, "results", "result_1", "main_time.json"), `[{"image_id":"64_1_car","crucial":0}]`)

	report, err := New(testConfig(2), logging.Discard()).
		Run(context.Background(), "empty", filepath.Join(ws, "tasks"), filepath.Join(ws, "results"))
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range report.Algorithms {
		if m.MissRate != 0 || m.Accuracy != 0 {
			t.Errorf("%s: MissRate=%v Accuracy=%v, want 0/0", m.Algorithm, m.MissRate, m.Accuracy)
		}
	}
	if m, _ := report.Algorithm("main"); m.Throughput != 1 {
		t.Errorf("main Throughput = %d, want 1", m.Throughput)
	}
}

func TestRun_SchemaEquivalence(t *testing.T) {
	flat := `[
  {"image_id": "64_1_car", "crucial": 1, "predicted_class": "car"},
  {"image_id": "128_3_cat", "crucial": 0}
]`
	nested := `[{"size": 64, "images": [{"id": "64_1_car", "crucial": 1, "predicted_class": "car"}]},
 {"size": 128, "images": ["ignored", {"id": "128_3_cat", "crucial": 0}]}]`

	ws := t.TempDir()
	writeFile(t, filepath.Join(ws, "tasks", "tasks_1.csv"), catalogOne)
	writeFile(t, filepath.Join(ws, "results", "result_1", "main_time.json"), flat)
	writeFile(t, filepath.Join(ws, "results", "result_1", "resizing_time.json"), nested)

	report, err := New(testConfig(1), logging.Discard()).
		Run(context.Background(), "eq", filepath.Join(ws, "tasks"), filepath.Join(ws, "results"))
	if err != nil {
		t.Fatal(err)
	}
	a, b := report.Algorithms[0], report.Algorithms[1]
	a.Algorithm, b.Algorithm = "", ""
	if a != b {
		t.Errorf("flat and nested disagree:\n flat   %+v\n nested %+v", a, b)
	}
}

func TestRun_ExcludeMissed(t *testing.T) {
	ws := newWorkspace(t)
	cfg := testConfig(2)
	cfg.ExcludeMissed = true

	report, err := New(cfg, logging.Discard()).RunDeadline(context.Background(), ws, 5)
	if err != nil {
		t.Fatal(err)
	}
	main, _ := report.Algorithm("main")
	// 128_3_cat and 128_4_traffic_light were listed as missed.
	if main.ProcessedCritical != 2 || main.ProcessedNonCritical != 0 {
		t.Errorf("main processed = %d/%d, want 2/0", main.ProcessedCritical, main.ProcessedNonCritical)
	}
}

func TestRun_UnparsableFileIsIsolated(t *testing.T) {
	ws := newWorkspace(t)
	writeFile(t, filepath.Join(ws, "result_list_ddl5", "result_2", "main_time.json"), "{not json")

	report, err := New(testConfig(2), logging.Discard()).RunDeadline(context.Background(), ws, 5)
	if err != nil {
		t.Fatal(err)
	}
	main, _ := report.Algorithm("main")
	if main.FailedFiles != 1 || main.MissingFiles != 0 || main.ProcessedCritical != 3 {
		t.Errorf("main = %+v", main)
	}
	if report.TotalCritical != 4 {
		t.Errorf("TotalCritical = %d, want 4", report.TotalCritical)
	}
}

func TestFold_InstanceFailureDoesNotAbortOthers(t *testing.T) {
	ws := newWorkspace(t)
	results := filepath.Join(ws, "result_list_ddl5")
	tasks := filepath.Join(ws, "task_files_ddl5")
	instances := []Instance{
		{Name: "1", ResultDir: filepath.Join(results, "result_1"), CatalogPath: filepath.Join(tasks, "tasks_1.csv")},
		{Name: "9", ResultDir: filepath.Join(results, "result_9"), CatalogPath: filepath.Join(tasks, "tasks_9.csv")},
		{Name: "2", ResultDir: filepath.Join(results, "result_2"), CatalogPath: filepath.Join(tasks, "tasks_2.csv")},
	}

	agg := New(testConfig(3), logging.Discard())
	total, err := agg.fold(context.Background(), instances)
	if err != nil {
		t.Fatal(err)
	}
	if total.Instances() != 2 || total.TotalCritical() != 4 {
		t.Errorf("Instances=%d TotalCritical=%d, want 2/4", total.Instances(), total.TotalCritical())
	}
	skipped := total.Skipped()
	if len(skipped) != 1 || skipped[0].Instance != "9" || !strings.Contains(skipped[0].Reason, "tasks_9.csv") {
		t.Errorf("Skipped = %+v", skipped)
	}
}

func TestFold_Cancelled(t *testing.T) {
	ws := newWorkspace(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(1), logging.Discard()).RunDeadline(ctx, ws, 5)
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestRun_Idempotent(t *testing.T) {
	ws := newWorkspace(t)

	render := func(workers int) (string, string) {
		report, err := New(testConfig(workers), logging.Discard()).RunDeadline(context.Background(), ws, 5)
		if err != nil {
			t.Fatal(err)
		}
		var js, md bytes.Buffer
		if err := WriteJSON(&js, report); err != nil {
			t.Fatal(err)
		}
		if err := RenderMarkdown(&md, report); err != nil {
			t.Fatal(err)
		}
		return js.String(), md.String()
	}

	js1, md1 := render(1)
	for _, workers := range []int{1, 2, 8} {
		js, md := render(workers)
		if js != js1 {
			t.Errorf("workers=%d: JSON differs:\n%s\nvs\n%s", workers, js, js1)
		}
		if md != md1 {
			t.Errorf("workers=%d: markdown differs", workers)
		}
	}
}

func TestDeadlineDirs(t *testing.T) {
	ws := newWorkspace(t)
	taskDir, resultDir, err := DeadlineDirs(ws, 5)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(taskDir) != "task_files_ddl5" || filepath.Base(resultDir) != "result_list_ddl5" {
		t.Errorf("dirs = %s, %s", taskDir, resultDir)
	}
	if _, _, err := DeadlineDirs(ws, 25); err == nil {
		t.Error("expected error for missing ddl25 layout")
	}
}

func TestDiscover(t *testing.T) {
	ws := newWorkspace(t)
	got, err := Discover(filepath.Join(ws, "result_list_ddl5"), filepath.Join(ws, "task_files_ddl5"), "result_", "tasks_")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Name != "1" || got[1].Name != "2" {
		t.Errorf("Discover = %+v", got)
	}
	if _, err := Discover(filepath.Join(ws, "nope"), ws, "result_", "tasks_"); err == nil {
		t.Error("expected error for missing result dir")
	}
}
