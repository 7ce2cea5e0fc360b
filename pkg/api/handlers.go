package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethpandaops/pageaudit/pkg/aggregate"
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/reportstore"
	"github.com/ethpandaops/pageaudit/pkg/snapshot"
	"github.com/go-chi/chi/v5"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSnapshot returns the flat record table, as written by
// export-snapshot.
func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	limit := s.src.SnapshotLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"limit must be a positive integer"})

			return
		}

		limit = n
	}

	if limit <= 0 || limit > reportstore.MaxQueryLimit {
		limit = reportstore.MaxQueryLimit
	}

	table, err := snapshot.Export(r.Context(), s.src.Records, limit)
	if err != nil {
		s.internalError(w, err, "Failed to export snapshot")

		return
	}

	if table == nil {
		table = snapshot.Table{}
	}

	writeJSON(w, http.StatusOK, table)
}

// handleRuns lists every run with its widget averages.
func (s *server) handleRuns(w http.ResponseWriter, r *http.Request) {
	mode, ok := modeParam(w, r)
	if !ok {
		return
	}

	desc := true

	switch order := r.URL.Query().Get("order"); order {
	case "", "desc":
	case "asc":
		desc = false
	default:
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"order must be asc or desc"})

		return
	}

	runs, err := s.loadRuns(r)
	if err != nil {
		s.internalError(w, err, "Failed to load runs")

		return
	}

	sorted := aggregate.SortRuns(runs, desc)
	out := make([]runView, 0, len(sorted))

	for _, run := range sorted {
		out = append(out, newRunView(run, aggregate.WidgetKeys, mode, s.bands))
	}

	writeJSON(w, http.StatusOK, out)
}

// handleRun returns one run's summary and its per-page breakdown.
func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID, err := audit.ParseRunID(chi.URLParam(r, "runId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	mode, ok := modeParam(w, r)
	if !ok {
		return
	}

	runs, err := s.loadRuns(r)
	if err != nil {
		s.internalError(w, err, "Failed to load runs")

		return
	}

	run, found := aggregate.Find(runs, runID)
	if !found {
		writeJSON(w, http.StatusNotFound, errorResponse{"run not found"})

		return
	}

	rows := aggregate.Rows(run, mode)

	resp := runDetailView{
		runView: newRunView(run, aggregate.AllKeys, mode, s.bands),
		Rows:    make([]rowView, 0, len(rows)),
	}

	for i := range rows {
		resp.Rows = append(resp.Rows, newRowView(&rows[i], s.bands))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleTrend returns a metric's per-run average, oldest first.
func (s *server) handleTrend(w http.ResponseWriter, r *http.Request) {
	key, err := audit.ParseMetricKey(chi.URLParam(r, "metric"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	mode, ok := modeParam(w, r)
	if !ok {
		return
	}

	runs, err := s.loadRuns(r)
	if err != nil {
		s.internalError(w, err, "Failed to load runs")

		return
	}

	points := aggregate.Trend(runs, key, mode)
	out := make([]trendView, 0, len(points))

	for _, p := range points {
		out = append(out, trendView{
			RunID:    int64(p.RunID),
			Time:     p.Time.UTC(),
			Average:  p.Average,
			Severity: s.bands.ClassifyPercent(p.Average),
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// handleReport streams a stored raw report.
func (s *server) handleReport(w http.ResponseWriter, r *http.Request) {
	runID, err := audit.ParseRunID(chi.URLParam(r, "runId"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	name := chi.URLParam(r, "jsonFile")
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"report name must be a .json file"})

		return
	}

	if s.src.Reports == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"raw reports are not available"})

		return
	}

	data, err := s.src.Reports.ReadRawReport(r.Context(), runID, name)
	if err != nil {
		if errors.Is(err, reportstore.ErrReportNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"report not found"})

			return
		}

		s.internalError(w, err, "Failed to read raw report")

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *server) loadRuns(r *http.Request) ([]aggregate.Run, error) {
	records, err := s.src.Records.QueryMetricRecords(r.Context(), reportstore.MaxQueryLimit)
	if err != nil {
		return nil, err
	}

	return aggregate.GroupByRun(records), nil
}

func (s *server) internalError(w http.ResponseWriter, err error, msg string) {
	s.log.WithError(err).Warn(msg)

	writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})
}

// modeParam parses the optional mode filter, answering 400 when invalid.
func modeParam(w http.ResponseWriter, r *http.Request) (audit.Mode, bool) {
	raw := r.URL.Query().Get("mode")
	if raw == "" {
		return "", true
	}

	mode, err := audit.ParseMode(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return "", false
	}

	return mode, true
}
