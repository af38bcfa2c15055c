package server

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/schedbench/internal/aggregate"
	"github.com/me/schedbench/pkg/model"
)

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	q := r.URL.Query()

	ddl, err := strconv.Atoi(q.Get("ddl"))
	if err != nil || ddl <= 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("ddl must be a positive integer"))
		return
	}
	record := q.Get("record") == "true"
	if record && s.store == nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: "no report archive configured"})
		return
	}

	report, err := s.aggregator.RunDeadline(r.Context(), s.workspace, ddl)
	if errors.Is(err, fs.ErrNotExist) {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("deadline layout", "ddl"+strconv.Itoa(ddl)))
		return
	}
	if err != nil {
		s.logger.Error("aggregation failed", "ddl", ddl, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}

	if record {
		rec := model.NewReportRecord(report, s.aggregator.ExcludeMissed())
		if err := s.store.SaveReport(r.Context(), rec); err != nil {
			s.logger.Error("archive report", "ddl", ddl, "error", err)
			respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: "failed to archive report"})
			return
		}
		w.Header().Set("X-Report-ID", rec.ID)
	}

	if q.Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		if err := aggregate.RenderMarkdown(w, report); err != nil {
			s.logger.Error("render markdown", "error", err)
		}
		return
	}
	respondOK(w, reqID, report)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	recs, total, err := s.store.ListReports(r.Context(), opts)
	if err != nil {
		s.logger.Error("list reports", "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: "failed to list reports"})
		return
	}
	if recs == nil {
		recs = []*model.ReportRecord{}
	}
	respondList(w, reqID, recs, pagination(opts, len(recs), total))
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")

	rec, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		s.logger.Error("get report", "id", id, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: "failed to load report"})
		return
	}
	if rec == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("Report", id))
		return
	}
	respondOK(w, reqID, rec)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	runs, total, err := s.store.ListTimingRuns(r.Context(), opts)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []*model.TimingRunRecord{}
	}
	respondList(w, reqID, runs, pagination(opts, len(runs), total))
}

func (s *Server) requireStore(w http.ResponseWriter, reqID string) bool {
	if s.store != nil {
		return true
	}
	respondError(w, reqID, http.StatusServiceUnavailable,
		&model.APIError{Code: model.ErrUnavailable, Message: "no report archive configured"})
	return false
}
