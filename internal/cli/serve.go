package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/me/schedbench/internal/aggregate"
	"github.com/me/schedbench/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var addr, dbPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the report API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if dbPath == "" {
				dbPath = cfg.Store.DBPath
			}
			ctx := cmd.Context()

			st, err := openStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			agg := aggregate.New(cfg.Aggregate, logger)
			srv := server.New(cfg.Server, cfg.Workspace, agg, logger, server.WithStore(st))
			httpServer := &http.Server{
				Addr:    addr,
				Handler: srv.Handler(),
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server starting", "addr", addr, "workspace", cfg.Workspace, "db", dbPath)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Info("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default from config)")
	return cmd
}
