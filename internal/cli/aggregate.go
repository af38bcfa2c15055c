package cli

import (
	"fmt"
	"path/filepath"

	"github.com/me/schedbench/internal/aggregate"
	"github.com/me/schedbench/pkg/model"
	"github.com/spf13/cobra"
)

func newAggregateCmd() *cobra.Command {
	var (
		ddl           int
		taskDir       string
		resultDir     string
		out           string
		asJSON        bool
		record        bool
		dbPath        string
		excludeMissed bool
		workers       int
	)
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Compare scheduling algorithms over a deadline layout",
		Long: "Aggregates miss rate, accuracy and throughput per algorithm over every experiment instance\n" +
			"of task_files_ddl<N> and result_list_ddl<N>, and writes a Markdown report.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			aggCfg := cfg.Aggregate
			if cmd.Flags().Changed("exclude-missed") {
				aggCfg.ExcludeMissed = excludeMissed
			}
			if cmd.Flags().Changed("workers") {
				aggCfg.Workers = workers
			}
			agg := aggregate.New(aggCfg, logger)

			var (
				report *model.Report
				err    error
			)
			switch {
			case taskDir != "" || resultDir != "":
				if taskDir == "" || resultDir == "" {
					return fmt.Errorf("--task-dir and --result-dir go together")
				}
				report, err = agg.Run(cmd.Context(), filepath.Base(resultDir), taskDir, resultDir)
			default:
				report, err = agg.RunDeadline(cmd.Context(), cfg.Workspace, ddl)
			}
			if err != nil {
				return err
			}

			if record {
				if dbPath == "" {
					dbPath = cfg.Store.DBPath
				}
				st, err := openStore(cmd.Context(), dbPath)
				if err != nil {
					return err
				}
				defer st.Close()
				rec := model.NewReportRecord(report, aggCfg.ExcludeMissed)
				if err := st.SaveReport(cmd.Context(), rec); err != nil {
					return fmt.Errorf("archive report: %w", err)
				}
				logger.Info("report archived", "id", rec.ID)
			}

			if asJSON {
				return aggregate.WriteJSON(cmd.OutOrStdout(), report)
			}

			if out == "" {
				out = filepath.Join(cfg.Workspace, report.Label+"_metrics.md")
			}
			if err := aggregate.WriteMarkdownFile(out, report); err != nil {
				return err
			}
			printf(cmd, "Wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().IntVar(&ddl, "ddl", 25, "Deadline layout to aggregate")
	cmd.Flags().StringVar(&taskDir, "task-dir", "", "Catalog directory (overrides --ddl, needs --result-dir)")
	cmd.Flags().StringVar(&resultDir, "result-dir", "", "Result directory (overrides --ddl, needs --task-dir)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Markdown report path (default: <workspace>/ddl<N>_metrics.md)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON instead of writing Markdown")
	cmd.Flags().BoolVar(&record, "record", false, "Archive the report in the SQLite store")
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default from config)")
	cmd.Flags().BoolVar(&excludeMissed, "exclude-missed", false, "Do not count ids listed in missed_deadline_images")
	cmd.Flags().IntVar(&workers, "workers", 0, "Parallel instance workers (default from config)")
	return cmd
}
