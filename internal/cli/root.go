package cli

import (
	"fmt"
	"log/slog"

	"github.com/me/schedbench/internal/config"
	"github.com/me/schedbench/internal/logging"
	"github.com/spf13/cobra"
)

var (
	flagConfig    string
	flagWorkspace string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	cfg    config.Config
	logger *slog.Logger
)

// NewRootCmd creates the root cobra command for the schedbench CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "schedbench",
		Short: "schedbench evaluates real-time scheduling policies",
		Long: "schedbench measures per-batch inference latency of scheduler manifests under a deadline\n" +
			"and compares miss rate, accuracy and throughput of scheduling policies across experiment instances.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("log-level") {
				loaded.LogLevel = flagLogLevel
			}
			if flags.Changed("log-format") {
				loaded.LogFormat = flagLogFormat
			}
			if flags.Changed("workspace") {
				loaded.Workspace = flagWorkspace
			}
			if flagDebug {
				loaded.LogLevel = "debug"
			}
			cfg = loaded
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
			logger.Debug("config loaded", "file", flagConfig, "workspace", cfg.Workspace, "oracle", cfg.Oracle.Backend)
			return nil
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file")
	root.PersistentFlags().StringVar(&flagWorkspace, "workspace", ".", "Workspace holding task_files_ddlN and result_list_ddlN")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newMeasureCmd(),
		newMeasureAllCmd(),
		newAggregateCmd(),
		newHistoryCmd(),
		newServeCmd(),
	)

	return root
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
