package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/me/schedbench/internal/oracle"
	"github.com/me/schedbench/internal/runner"
	"github.com/me/schedbench/internal/store"
	"github.com/me/schedbench/internal/timing"
	"github.com/me/schedbench/pkg/model"
	"github.com/spf13/cobra"
)

// timeFileFor maps foo_result.json to foo_time.json.
func timeFileFor(manifest string) string {
	dir, base := filepath.Split(manifest)
	if strings.HasSuffix(base, "_result.json") {
		return filepath.Join(dir, strings.TrimSuffix(base, "_result.json")+"_time.json")
	}
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+"_time.json")
}

func newRunner(ctx context.Context, opts ...runner.Option) (*runner.Runner, func(), error) {
	session, err := openSession(ctx)
	if err != nil {
		return nil, nil, err
	}
	ms := timing.New(session, logger)
	return runner.New(ms, cfg, logger, opts...), func() { session.Close() }, nil
}

// archiveObserver records every measured manifest in st under label.
func archiveObserver(st store.Store, label string) runner.Option {
	return runner.WithObserver(func(ctx context.Context, res runner.Result) {
		rec := model.NewTimingRunRecord(res.Instance, res.Algorithm, res.Manifest, res.Status.String(), res.Run)
		rec.Label = label
		if err := st.SaveTimingRun(ctx, rec); err != nil {
			logger.Warn("archive timing run", "manifest", res.Manifest, "error", err)
		}
	})
}

func newMeasureCmd() *cobra.Command {
	var out, images string
	cmd := &cobra.Command{
		Use:   "measure <manifest>",
		Short: "Measure one execution manifest",
		Long:  "Replays a scheduler's execution manifest against the oracle and writes the time file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest := args[0]
			if out == "" {
				out = timeFileFor(manifest)
			}
			if images == "" {
				images = cfg.Images.ImageDir(cfg.Images.FallbackInstance)
			}

			r, closeFn, err := newRunner(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			start := time.Now()
			status, run, err := r.MeasureFile(cmd.Context(), manifest, out, oracle.NewDirStore(images, cfg.Images.Extension))
			if err != nil {
				return fmt.Errorf("measure %s: %w", manifest, err)
			}
			switch status {
			case runner.StatusSkipped:
				printf(cmd, "%s exists, skipped\n", out)
			case runner.StatusSentinel:
				printf(cmd, "%s: sentinel manifest, wrote -1\n", out)
			default:
				printf(cmd, "%s: %s batches, %s ms total, %s missed (%s)\n", out,
					humanize.Comma(int64(len(run.Batches))),
					humanize.CommafWithDigits(run.TotalTimeMs(), 2),
					humanize.Comma(int64(len(run.Summary.MissedDeadlineImages))),
					time.Since(start).Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Time file to write (default: <algo>_time.json next to the manifest)")
	cmd.Flags().StringVar(&images, "images", "", "Image folder (default: the fallback instance folder)")
	return cmd
}

func newMeasureAllCmd() *cobra.Command {
	var (
		ddl          int
		skipExisting bool
		record       bool
		dbPath       string
	)
	cmd := &cobra.Command{
		Use:   "measure-all [result-dir]",
		Short: "Measure every manifest in a result tree",
		Long: "Walks result_<idx> folders and measures each configured algorithm's manifest.\n" +
			"The result tree is the argument, or result_list_ddl<N> in the workspace when --ddl is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resultDir string
			switch {
			case len(args) == 1:
				resultDir = args[0]
			case ddl > 0:
				resultDir = filepath.Join(cfg.Workspace, "result_list_ddl"+strconv.Itoa(ddl))
			default:
				return fmt.Errorf("need a result directory or --ddl")
			}
			if cmd.Flags().Changed("skip-existing") {
				cfg.Runner.SkipExisting = skipExisting
			}

			var opts []runner.Option
			if record {
				if dbPath == "" {
					dbPath = cfg.Store.DBPath
				}
				st, err := openStore(cmd.Context(), dbPath)
				if err != nil {
					return err
				}
				defer st.Close()
				opts = append(opts, archiveObserver(st, filepath.Base(resultDir)))
			}

			r, closeFn, err := newRunner(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			defer closeFn()

			sum, err := r.RunTree(cmd.Context(), resultDir)
			if err != nil {
				return err
			}
			printf(cmd, "%s\n", sum)
			return nil
		},
	}
	cmd.Flags().IntVar(&ddl, "ddl", 0, "Deadline layout to measure (result_list_ddl<N>)")
	cmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Leave existing time files untouched")
	cmd.Flags().BoolVar(&record, "record", false, "Archive every run in the SQLite store")
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default from config)")
	return cmd
}
