// Package catalog loads the ground-truth task catalog of an experiment instance.
//
// A catalog is a CSV file with the header size,deadline,id,crucial,category.
// Each row describes one image; its image id is "{id}_{category}".
package catalog

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/me/schedbench/pkg/model"
)

const minFields = 5

// Catalog is the authoritative set of tasks for one experiment instance.
type Catalog struct {
	Source string
	tasks  map[string]model.ImageTask
}

// Len returns the number of distinct image ids.
func (c *Catalog) Len() int { return len(c.tasks) }

// Contains reports whether id belongs to this instance.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.tasks[id]
	return ok
}

// Crucial returns the crucial flag for id and whether id is known.
func (c *Catalog) Crucial(id string) (crucial, ok bool) {
	t, ok := c.tasks[id]
	return t.Crucial, ok
}

// Task returns the catalog row for id.
func (c *Catalog) Task(id string) (model.ImageTask, bool) {
	t, ok := c.tasks[id]
	return t, ok
}

// CriticalCount returns the number of crucial tasks.
func (c *Catalog) CriticalCount() int {
	n := 0
	for _, t := range c.tasks {
		if t.Crucial {
			n++
		}
	}
	return n
}

// IDs returns all image ids in sorted order.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.tasks))
	for id := range c.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Loader reads catalog files.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader with the given logger.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger.With("component", "catalog")}
}

// LoadFile reads and parses the catalog at path.
func (l *Loader) LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &model.ParseError{Source: filepath.Base(path), Err: err}
	}
	return l.Parse(filepath.Base(path), data)
}

// Parse parses catalog content line by line. A malformed row is skipped and
// logged without affecting the rows after it.
func (l *Loader) Parse(source string, data []byte) (*Catalog, error) {
	cat := &Catalog{Source: source, tasks: make(map[string]model.ImageTask)}

	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		if line == 1 {
			continue // header
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		rec, err := splitRow(text)
		if err != nil {
			l.logger.Warn("catalog row skipped", "source", source, "line", line, "error",
				&model.ParseError{Source: source, Record: "line " + strconv.Itoa(line), Err: err})
			continue
		}
		if len(rec) < minFields {
			l.logger.Warn("short catalog row skipped", "source", source, "line", line, "fields", len(rec))
			continue
		}
		task, err := parseRow(rec)
		if err != nil {
			l.logger.Warn("catalog row size not recognised", "source", source, "line", line, "error", err)
		}
		cat.tasks[task.ID] = task
	}
	if err := sc.Err(); err != nil {
		return nil, &model.ParseError{Source: source, Err: err}
	}
	return cat, nil
}

// splitRow parses one CSV line on its own, so a stray quote cannot run into
// the next row.
func splitRow(text string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true
	rec, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return rec, err
}

// sizeIndex maps the compact size column written by task generators to pixels.
var sizeIndex = map[int]int{1: 64, 2: 128, 3: 256, 4: 512}

// parseRow builds a task from a row. The size column may hold pixels or a
// 1-4 size index; an unrecognised size leaves Size zero and returns an error
// alongside the otherwise complete task.
func parseRow(rec []string) (model.ImageTask, error) {
	for i := range rec[:minFields] {
		rec[i] = strings.TrimSpace(rec[i])
	}
	sizeStr, deadlineStr, id, crucialStr, category := rec[0], rec[1], rec[2], rec[3], rec[4]

	// The deadline column is informational; a bad value is not worth dropping the row.
	deadline, _ := strconv.ParseFloat(deadlineStr, 64)
	task := model.ImageTask{
		ID:              model.ImageID(id, category),
		Crucial:         crucialStr == "1",
		Category:        category,
		DeadlineSeconds: deadline,
	}

	size, err := strconv.Atoi(sizeStr)
	switch {
	case err != nil:
		return task, fmt.Errorf("size %q: %w", sizeStr, err)
	case model.ValidSize(size):
		task.Size = size
	case sizeIndex[size] != 0:
		task.Size = sizeIndex[size]
	default:
		return task, fmt.Errorf("size %d is neither a pixel size nor a size index", size)
	}
	return task, nil
}
