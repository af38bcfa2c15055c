// Package config holds schedbench configuration and its YAML loader.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/me/schedbench/pkg/model"
	"gopkg.in/yaml.v3"
)

// Config is the top-level schedbench configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
	Workspace string `yaml:"workspace"`  // holds task_files_ddlN and result_list_ddlN

	Images    ImagesConfig    `yaml:"images"`
	Models    map[int]string  `yaml:"models"` // image size -> model file
	Oracle    OracleConfig    `yaml:"oracle"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Runner    RunnerConfig    `yaml:"runner"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
}

// ImagesConfig describes where images for an experiment instance live.
// The folder for instance N is Root/InstanceDirPrefix+N.
type ImagesConfig struct {
	Root              string `yaml:"root"`
	InstanceDirPrefix string `yaml:"instance_dir_prefix"`
	FallbackInstance  string `yaml:"fallback_instance"`
	Extension         string `yaml:"extension"`
}

// OracleConfig selects the classification backend.
type OracleConfig struct {
	Backend  string        `yaml:"backend"`  // "http" or "script"
	Endpoint string        `yaml:"endpoint"` // http backend base URL
	Script   string        `yaml:"script"`   // script backend source file
	Timeout  time.Duration `yaml:"timeout"`  // http client timeout, 0 = none
}

// Algorithm names one scheduling algorithm and its per-instance files.
type Algorithm struct {
	Name       string `yaml:"name"`
	ResultFile string `yaml:"result_file"` // execution manifest emitted by the scheduler
	TimeFile   string `yaml:"time_file"`   // measured output consumed by aggregation
}

// AggregateConfig configures cross-instance aggregation.
type AggregateConfig struct {
	Workers        int         `yaml:"workers"`
	InstancePrefix string      `yaml:"instance_prefix"` // result folder prefix, e.g. result_
	CatalogPrefix  string      `yaml:"catalog_prefix"`  // catalog file prefix, e.g. tasks_
	ExcludeMissed  bool        `yaml:"exclude_missed"`
	Algorithms     []Algorithm `yaml:"algorithms"`
}

// RunnerConfig configures batch measurement over a result tree.
type RunnerConfig struct {
	SkipExisting bool `yaml:"skip_existing"`
}

// StoreConfig configures the SQLite run archive.
type StoreConfig struct {
	DBPath string `yaml:"db_path"` // ":memory:" for testing
}

// ServerConfig configures the report API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultAlgorithms are the scheduling policies compared by default.
func DefaultAlgorithms() []Algorithm {
	names := []string{"main", "resizing", "fifo", "fifo_batch", "cf_batch"}
	algs := make([]Algorithm, 0, len(names))
	for _, n := range names {
		algs = append(algs, Algorithm{
			Name:       n,
			ResultFile: n + "_result.json",
			TimeFile:   n + "_time.json",
		})
	}
	return algs
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Workspace: ".",
		Images: ImagesConfig{
			Root:              "images_cropped",
			InstanceDirPrefix: "cropped_",
			FallbackInstance:  "1",
			Extension:         ".jpg",
		},
		Models: map[int]string{
			64:  "model/model_64.pth",
			128: "model/model_128.pth",
			256: "model/model_256.pth",
			512: "model/model_512.pth",
		},
		Oracle: OracleConfig{
			Backend:  "http",
			Endpoint: "http://localhost:9000",
		},
		Aggregate: AggregateConfig{
			Workers:        runtime.NumCPU(),
			InstancePrefix: "result_",
			CatalogPrefix:  "tasks_",
			Algorithms:     DefaultAlgorithms(),
		},
		Store:  StoreConfig{DBPath: DefaultDBPath()},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// DefaultDBPath returns ~/.schedbench/schedbench.db, or a relative path when
// the home directory is unknown.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "schedbench.db"
	}
	return filepath.Join(home, ".schedbench", "schedbench.db")
}

// Load reads a YAML file over DefaultConfig. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	for size := range c.Models {
		if !model.ValidSize(size) {
			return fmt.Errorf("models: unsupported image size %d", size)
		}
	}
	switch c.Oracle.Backend {
	case "http", "script":
	default:
		return fmt.Errorf("oracle.backend: unknown backend %q", c.Oracle.Backend)
	}
	if c.Aggregate.Workers < 0 {
		return fmt.Errorf("aggregate.workers must be >= 0")
	}
	seen := make(map[string]bool)
	for _, a := range c.Aggregate.Algorithms {
		if a.Name == "" || a.TimeFile == "" {
			return fmt.Errorf("aggregate.algorithms: name and time_file are required")
		}
		if seen[a.Name] {
			return fmt.Errorf("aggregate.algorithms: duplicate algorithm %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// ImageDir returns the image folder for an experiment instance.
func (c ImagesConfig) ImageDir(instance string) string {
	return filepath.Join(c.Root, c.InstanceDirPrefix+instance)
}
