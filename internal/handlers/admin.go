package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/services"
)

// AdminHandler handles the admin dashboard endpoints
type AdminHandler struct {
	admin      *services.AdminService
	resolution *services.ResolutionService
	logger     *zap.SugaredLogger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(admin *services.AdminService, resolution *services.ResolutionService, logger *zap.SugaredLogger) *AdminHandler {
	return &AdminHandler{admin: admin, resolution: resolution, logger: logger}
}

// ListReports handles GET /api/admin/reports?status=&priority=&page=&limit=
func (h *AdminHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	reports, p, err := h.admin.ListReports(r.Context(), services.AdminQuery{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
		Page:     page,
		Limit:    limit,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"reports":    reports,
		"pagination": p,
	})
}

// Stats handles GET /api/admin/dashboard/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"stats":   stats,
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PUT /api/admin/reports/{id}/status
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	report, err := h.resolution.SetStatus(r.Context(), id, caller(r).UserID, req.Status)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": statusMessage(report),
		"report":  report,
	})
}

func statusMessage(report *models.Report) string {
	if report.Status == models.StatusResolutionPending && report.ResolutionVerification != nil {
		return fmt.Sprintf("Resolution verification requests sent to nearby users. Report will be closed after %d approvals.",
			report.ResolutionVerification.RequiredApprovals)
	}
	return "Report status updated to " + string(report.Status)
}

// Trends handles GET /api/admin/analytics/trends?hours=
func (h *AdminHandler) Trends(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	trends, err := h.admin.GetTrends(r.Context(), hours)
	if err != nil {
		h.logger.Errorw("Failed to fetch trends", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch trends")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"trends":  trends,
	})
}

// Categories handles GET /api/admin/analytics/categories
func (h *AdminHandler) Categories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.admin.GetCategoryDistribution(r.Context())
	if err != nil {
		h.logger.Errorw("Failed to fetch categories", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch categories")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"categories": cats,
	})
}
