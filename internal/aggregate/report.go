package aggregate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/me/schedbench/pkg/model"
)

// WriteJSON writes r as indented JSON. Equal reports produce equal bytes.
func WriteJSON(w io.Writer, r *model.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// RenderMarkdown writes the human-readable report. Sections always appear in
// the order counts, miss rates, accuracy, throughput.
func RenderMarkdown(w io.Writer, r *model.Report) error {
	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) { fmt.Fprintf(bw, format+"\n", args...) }

	p("# %s scheduling metrics", r.Label)
	p("")
	p("A result file containing -1 counts as a total failure: none of its critical tasks were processed.")
	p("Accuracy covers processed critical tasks that carry a predicted class, compared against the class in the image id.")
	p("")

	p("## 1) Critical tasks")
	p("- Total critical tasks: %s", humanize.Comma(int64(r.TotalCritical)))
	p("- Instances: %s", humanize.Comma(int64(r.Instances)))
	p("")

	p("## 2) Critical task miss rate")
	for _, a := range r.Algorithms {
		p("- %s: %.4f (processed critical %s / total critical %s)",
			a.Algorithm, a.MissRate,
			humanize.Comma(int64(a.ProcessedCritical)), humanize.Comma(int64(r.TotalCritical)))
	}
	p("")

	p("## 3) Critical task accuracy")
	for _, a := range r.Algorithms {
		p("- %s: %.4f (correct %s / predicted %s)",
			a.Algorithm, a.Accuracy,
			humanize.Comma(int64(a.Correct)), humanize.Comma(int64(a.AccuracyDenominator)))
	}
	p("")

	p("## 4) Non-critical throughput")
	for _, a := range r.Algorithms {
		p("- %s: %s", a.Algorithm, humanize.Comma(int64(a.Throughput)))
	}
	p("")

	if files := fileNotes(r.Algorithms); len(files) > 0 {
		p("## Result files")
		for _, line := range files {
			p("- %s", line)
		}
		p("")
	}
	if len(r.Skipped) > 0 {
		p("## Skipped instances")
		for _, s := range r.Skipped {
			p("- %s: %s", s.Instance, s.Reason)
		}
		p("")
	}
	return bw.Flush()
}

func fileNotes(algs []model.AlgorithmMetrics) []string {
	var lines []string
	for _, a := range algs {
		if a.InvalidRuns == 0 && a.MissingFiles == 0 && a.FailedFiles == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s read, %s invalid (-1), %s missing, %s unparsable",
			a.Algorithm,
			humanize.Comma(int64(a.Instances)),
			humanize.Comma(int64(a.InvalidRuns)),
			humanize.Comma(int64(a.MissingFiles)),
			humanize.Comma(int64(a.FailedFiles))))
	}
	return lines
}

// WriteMarkdownFile renders r to path, creating parent directories.
func WriteMarkdownFile(path string, r *model.Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := RenderMarkdown(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}
