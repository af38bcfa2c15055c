package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/schedbench/internal/aggregate"
	"github.com/me/schedbench/internal/config"
	"github.com/me/schedbench/internal/logging"
	"github.com/me/schedbench/internal/server"
	"github.com/me/schedbench/internal/store"
	"github.com/me/schedbench/pkg/model"
)

const oracleScript = `
function predict(image, model) {
	var parts = image.id.split("_");
	return {class_id: 1, class: parts[parts.length - 1]};
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// testWorkspace builds a ddl5 layout with one instance, a scripted oracle
// and a config file pointing at all of it. It returns the config path.
func testWorkspace(t *testing.T) (ws, configPath string) {
	t.Helper()
	ws = t.TempDir()

	writeFile(t, filepath.Join(ws, "task_files_ddl5", "tasks_1.csv"),
		"size,deadline,id,crucial,category\n64,5,64_1,1,car\n64,5,64_2,1,dog\n128,5,128_3,0,cat\n")
	writeFile(t, filepath.Join(ws, "result_list_ddl5", "result_1", "main_result.json"),
		`[{"size": 64, "images": [{"id": "64_1_car", "crucial": 1}, {"id": "64_2_dog", "crucial": 1}]},
		  {"size": 128, "images": ["128_3_cat"]}]`)
	for _, id := range []string{"64_1_car", "64_2_dog", "128_3_cat"} {
		writeFile(t, filepath.Join(ws, "images_cropped", "cropped_1", id+".jpg"), "jpeg")
	}
	writeFile(t, filepath.Join(ws, "oracle.js"), oracleScript)

	configPath = filepath.Join(ws, "schedbench.yaml")
	writeFile(t, configPath, fmt.Sprintf(`log_level: error
workspace: %[1]s
images:
  root: %[1]s/images_cropped
oracle:
  backend: script
  script: %[1]s/oracle.js
aggregate:
  workers: 2
  algorithms:
    - name: main
      result_file: main_result.json
      time_file: main_time.json
store:
  db_path: %[1]s/db/schedbench.db
`, ws))
	return ws, configPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestMeasureAllThenAggregate(t *testing.T) {
	ws, conf := testWorkspace(t)

	out, err := runCLI(t, "--config", conf, "measure-all", "--ddl", "5", "--record")
	if err != nil {
		t.Fatalf("measure-all: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 manifests: 1 measured, 0 sentinel, 0 skipped, 0 failed") {
		t.Errorf("measure-all output = %q", out)
	}
	if _, err := os.Stat(filepath.Join(ws, "result_list_ddl5", "result_1", "main_time.json")); err != nil {
		t.Fatalf("time file not written: %v", err)
	}

	out, err = runCLI(t, "--config", conf, "aggregate", "--ddl", "5", "--json")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	var report model.Report
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("aggregate output is not JSON: %v\n%s", err, out)
	}
	m, ok := report.Algorithm("main")
	if !ok {
		t.Fatalf("main missing: %+v", report)
	}
	if report.TotalCritical != 2 || m.ProcessedCritical != 2 || m.MissRate != 0 || m.Accuracy != 1 || m.Throughput != 1 {
		t.Errorf("main = %+v", m)
	}

	out, err = runCLI(t, "--config", conf, "history", "--runs")
	if err != nil {
		t.Fatalf("history --runs: %v", err)
	}
	if !strings.Contains(out, "main") || !strings.Contains(out, "processed") {
		t.Errorf("history --runs output:\n%s", out)
	}
}

func TestAggregate_Markdown(t *testing.T) {
	ws, conf := testWorkspace(t)
	writeFile(t, filepath.Join(ws, "result_list_ddl5", "result_1", "main_time.json"), "-1")

	out, err := runCLI(t, "--config", conf, "aggregate", "--ddl", "5", "--record")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	path := filepath.Join(ws, "ddl5_metrics.md")
	if !strings.Contains(out, path) {
		t.Errorf("output = %q, want path %s", out, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "- main: 1.0000") {
		t.Errorf("report:\n%s", data)
	}

	out, err = runCLI(t, "--config", conf, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "ddl5") || !strings.Contains(out, "main=1.0000") {
		t.Errorf("history output:\n%s", out)
	}
}

func TestAggregate_MissingLayout(t *testing.T) {
	_, conf := testWorkspace(t)
	if _, err := runCLI(t, "--config", conf, "aggregate", "--ddl", "25"); err == nil {
		t.Fatal("expected error for missing ddl25 layout")
	}
	if _, err := runCLI(t, "--config", conf, "aggregate", "--task-dir", "x"); err == nil {
		t.Fatal("expected error for --task-dir without --result-dir")
	}
}

func TestMeasure_SingleManifest(t *testing.T) {
	ws, conf := testWorkspace(t)
	out := filepath.Join(t.TempDir(), "main_time.json")

	stdout, err := runCLI(t, "--config", conf, "measure",
		filepath.Join(ws, "result_list_ddl5", "result_1", "main_result.json"), "--out", out)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if !strings.Contains(stdout, "2 batches") {
		t.Errorf("stdout = %q", stdout)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"predicted_class": "dog"`) {
		t.Errorf("time file:\n%s", data)
	}
}

func TestMeasure_Sentinel(t *testing.T) {
	ws, conf := testWorkspace(t)
	manifest := filepath.Join(ws, "fifo_result.json")
	writeFile(t, manifest, "[-1]")

	stdout, err := runCLI(t, "--config", conf, "measure", manifest)
	if err != nil {
		t.Fatalf("measure: %v", err)
	}
	if !strings.Contains(stdout, "sentinel") {
		t.Errorf("stdout = %q", stdout)
	}
	data, _ := os.ReadFile(filepath.Join(ws, "fifo_time.json"))
	if string(data) != "-1" {
		t.Errorf("time file = %q, want -1", data)
	}
}

func TestMeasureAll_NeedsTarget(t *testing.T) {
	_, conf := testWorkspace(t)
	if _, err := runCLI(t, "--config", conf, "measure-all"); err == nil {
		t.Fatal("expected error without result dir or --ddl")
	}
}

func TestHistory_FromServer(t *testing.T) {
	ws, conf := testWorkspace(t)

	st, err := store.NewSQLiteStore(":memory:", logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	report := &model.Report{Label: "ddl5", TotalCritical: 1234, Algorithms: []model.AlgorithmMetrics{{Algorithm: "fifo", MissRate: 0.5}}}
	if err := st.SaveReport(context.Background(), model.NewReportRecord(report, false)); err != nil {
		t.Fatal(err)
	}

	c := config.DefaultConfig()
	srv := server.New(c.Server, ws, aggregate.New(c.Aggregate, logging.Discard()), logging.Discard(), server.WithStore(st))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	out, err := runCLI(t, "--config", conf, "history", "--server", ts.URL)
	if err != nil {
		t.Fatalf("history --server: %v", err)
	}
	if !strings.Contains(out, "1,234") || !strings.Contains(out, "fifo=0.5000") {
		t.Errorf("output:\n%s", out)
	}
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "oracle:\n  backend: carrier-pigeon\n")
	if _, err := runCLI(t, "--config", path, "history"); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestTimeFileFor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"r/main_result.json", "r/main_time.json"},
		{"fifo_batch_result.json", "fifo_batch_time.json"},
		{"r/plan.json", "r/plan_time.json"},
	}
	for _, tt := range tests {
		if got := timeFileFor(tt.in); got != filepath.FromSlash(tt.want) {
			t.Errorf("timeFileFor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
