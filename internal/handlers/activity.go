package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/services"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// ActivityHandler handles report audit trail endpoints
type ActivityHandler struct {
	svc     *services.ActivityLogService
	reports *services.ReportService
	logger  *zap.SugaredLogger
}

// NewActivityHandler creates a new activity handler
func NewActivityHandler(svc *services.ActivityLogService, reports *services.ReportService, logger *zap.SugaredLogger) *ActivityHandler {
	return &ActivityHandler{svc: svc, reports: reports, logger: logger}
}

// ByReport handles GET /api/reports/{id}/activity
func (h *ActivityHandler) ByReport(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}

	// deleted reports keep their trail but it is no longer served
	if _, _, err := h.reports.Get(r.Context(), id, ""); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	limit := defaultActivityLimit
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = min(n, maxActivityLimit)
	}

	logs, err := h.svc.FetchByReport(r.Context(), id, limit)
	if err != nil {
		h.logger.Errorw("Failed to fetch activity", "report_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch activity")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"activity": logs,
	})
}
