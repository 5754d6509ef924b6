package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-intel/internal/monitor"
	"github.com/JakeFAU/storefront-intel/internal/progress/sinks"
)

const (
	defaultItemsLimit = 500
	maxItemsLimit     = 5000
	defaultRunsLimit  = 20
	maxRunsLimit      = 200
	defaultWindow     = 24 * time.Hour
	maxRankN          = 500
)

// getState handles GET /v1/state.
func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline engine unavailable")
		return
	}
	writeJSON(w, http.StatusOK, s.engine.State().View())
}

// listTargets handles GET /v1/targets and returns {"targets": [...]}.
func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context())
	if err != nil {
		s.logger.Error("list targets failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	if targets == nil {
		targets = []monitor.TargetEntity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": targets})
}

// listRecentItems handles GET /v1/items/recent?since=&target=&limit=. since
// accepts an RFC 3339 timestamp or a duration back from now (e.g. 6h). Rows
// come back newest last; limit keeps the newest rows.
func (s *Server) listRecentItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseSince(q.Get("since"), s.clock.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _, err := parseLimitOffset(r, defaultItemsLimit, maxItemsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.store.QueryRecent(r.Context(), since, strings.TrimSpace(q.Get("target")))
	if err != nil {
		s.logger.Error("query recent items failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query items")
		return
	}
	if len(items) > limit {
		items = items[len(items)-limit:]
	}
	if items == nil {
		items = []monitor.MetricItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since": since,
		"items": items,
	})
}

// getRankings handles GET /v1/rankings?window=&n=.
func (s *Server) getRankings(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "pipeline engine unavailable")
		return
	}
	q := r.URL.Query()
	var window time.Duration
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = d
	}
	n := 0
	if raw := q.Get("n"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid n")
			return
		}
		n = min(val, maxRankN)
	}
	report, err := s.engine.Report(r.Context(), window, n)
	if err != nil {
		s.logger.Error("rankings failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute rankings")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// listRuns handles GET /v1/runs?limit=&offset=, newest first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run tracker unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunsLimit, maxRunsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs := s.runs.Runs()
	if offset >= len(runs) {
		runs = []sinks.RunStatus{}
	} else {
		runs = runs[offset:min(len(runs), offset+limit)]
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// getRun handles GET /v1/runs/{run_id}.
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run tracker unavailable")
		return
	}
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	run, ok := s.runs.Run(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Add(-defaultWindow), nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		if d < 0 {
			return time.Time{}, errors.New("invalid since")
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid since")
	}
	return t, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
