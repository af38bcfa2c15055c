package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/me/schedbench/pkg/model"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		runs   bool
		label  string
		limit  int
		server string
		dbPath string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived reports or measurement runs",
		Long:  "Lists archived reports (or runs with --runs) from the local store, or from a server with --server.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := model.ListOptions{Limit: limit, Label: label}
			opts.Clamp()

			if runs {
				recs, total, err := fetchRuns(cmd.Context(), server, dbPath, opts)
				if err != nil {
					return err
				}
				printRuns(cmd, recs, total)
				return nil
			}
			recs, total, err := fetchReports(cmd.Context(), server, dbPath, opts)
			if err != nil {
				return err
			}
			printReports(cmd, recs, total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&runs, "runs", false, "List measurement runs instead of reports")
	cmd.Flags().StringVar(&label, "label", "", "Only entries with this label (e.g. ddl25)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show")
	cmd.Flags().StringVar(&server, "server", "", "Read from a schedbench server instead of the local store")
	cmd.Flags().StringVar(&dbPath, "db", "", "Database path (default from config)")
	return cmd
}

func listQuery(opts model.ListOptions) string {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(opts.Limit))
	if opts.Label != "" {
		q.Set("label", opts.Label)
	}
	return "?" + q.Encode()
}

func fetchReports(ctx context.Context, server, dbPath string, opts model.ListOptions) ([]*model.ReportRecord, int, error) {
	if server != "" {
		resp, err := NewClient(server, logger).Get(ctx, "/api/v1/reports"+listQuery(opts))
		if err != nil {
			return nil, 0, fmt.Errorf("list reports: %w", err)
		}
		var recs []*model.ReportRecord
		if err := json.Unmarshal(resp.Data, &recs); err != nil {
			return nil, 0, fmt.Errorf("parse response: %w", err)
		}
		total := len(recs)
		if resp.Pagination != nil {
			total = resp.Pagination.Total
		}
		return recs, total, nil
	}

	if dbPath == "" {
		dbPath = cfg.Store.DBPath
	}
	st, err := openStore(ctx, dbPath)
	if err != nil {
		return nil, 0, err
	}
	defer st.Close()
	return st.ListReports(ctx, opts)
}

func fetchRuns(ctx context.Context, server, dbPath string, opts model.ListOptions) ([]*model.TimingRunRecord, int, error) {
	if server != "" {
		resp, err := NewClient(server, logger).Get(ctx, "/api/v1/runs"+listQuery(opts))
		if err != nil {
			return nil, 0, fmt.Errorf("list runs: %w", err)
		}
		var recs []*model.TimingRunRecord
		if err := json.Unmarshal(resp.Data, &recs); err != nil {
			return nil, 0, fmt.Errorf("parse response: %w", err)
		}
		total := len(recs)
		if resp.Pagination != nil {
			total = resp.Pagination.Total
		}
		return recs, total, nil
	}

	if dbPath == "" {
		dbPath = cfg.Store.DBPath
	}
	st, err := openStore(ctx, dbPath)
	if err != nil {
		return nil, 0, err
	}
	defer st.Close()
	return st.ListTimingRuns(ctx, opts)
}

func printReports(cmd *cobra.Command, recs []*model.ReportRecord, total int) {
	if len(recs) == 0 {
		printf(cmd, "No reports found.\n")
		return
	}
	printf(cmd, "%-44s  %-10s  %-9s  %-16s  %s\n", "ID", "LABEL", "CRITICAL", "CREATED", "MISS RATE")
	printf(cmd, "%-44s  %-10s  %-9s  %-16s  %s\n", "----", "-----", "--------", "-------", "---------")
	for _, rec := range recs {
		var rates []string
		for _, a := range rec.Report.Algorithms {
			rates = append(rates, fmt.Sprintf("%s=%.4f", a.Algorithm, a.MissRate))
		}
		printf(cmd, "%-44s  %-10s  %-9s  %-16s  %s\n",
			rec.ID, rec.Label, humanize.Comma(int64(rec.Report.TotalCritical)),
			humanize.Time(rec.CreatedAt), strings.Join(rates, " "))
	}
	if total > len(recs) {
		printf(cmd, "\n(%d of %d shown)\n", len(recs), total)
	}
}

func printRuns(cmd *cobra.Command, recs []*model.TimingRunRecord, total int) {
	if len(recs) == 0 {
		printf(cmd, "No runs found.\n")
		return
	}
	printf(cmd, "%-40s  %-8s  %-10s  %-9s  %-7s  %-12s  %s\n", "ID", "INSTANCE", "ALGORITHM", "STATUS", "BATCHES", "TOTAL MS", "MISSED")
	printf(cmd, "%-40s  %-8s  %-10s  %-9s  %-7s  %-12s  %s\n", "----", "--------", "---------", "------", "-------", "--------", "------")
	for _, r := range recs {
		printf(cmd, "%-40s  %-8s  %-10s  %-9s  %-7d  %-12s  %d\n",
			r.ID, r.Instance, r.Algorithm, r.Status, r.Batches,
			humanize.CommafWithDigits(r.TotalTimeMs, 2), r.Missed)
	}
	if total > len(recs) {
		printf(cmd, "\n(%d of %d shown)\n", len(recs), total)
	}
}
