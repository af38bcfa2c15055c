package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/me/schedbench/internal/oracle"
	"github.com/me/schedbench/internal/store"
)

// openSession builds the configured oracle backend and loads its models.
func openSession(ctx context.Context) (*oracle.Session, error) {
	var b oracle.Backend
	switch cfg.Oracle.Backend {
	case "script":
		src, err := os.ReadFile(cfg.Oracle.Script)
		if err != nil {
			return nil, fmt.Errorf("read oracle script: %w", err)
		}
		sb, err := oracle.NewScriptBackend(string(src), logger)
		if err != nil {
			return nil, err
		}
		b = sb
	default:
		b = oracle.NewHTTPBackend(cfg.Oracle.Endpoint, cfg.Oracle.Timeout, logger)
	}
	return oracle.Open(ctx, b, cfg.Models, logger)
}

// openStore opens and migrates the run archive at path.
func openStore(ctx context.Context, path string) (*store.SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}
