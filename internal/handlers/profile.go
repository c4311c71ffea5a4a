package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/services"
)

// ProfileHandler handles citizen onboarding
type ProfileHandler struct {
	svc    *services.CitizenService
	logger *zap.SugaredLogger
}

// NewProfileHandler creates a new profile handler
func NewProfileHandler(svc *services.CitizenService, logger *zap.SugaredLogger) *ProfileHandler {
	return &ProfileHandler{svc: svc, logger: logger}
}

type profileRequest struct {
	Name string   `json:"name"`
	Lat  *float64 `json:"lat"`
	Lng  *float64 `json:"lng"`
}

// Update handles PUT /api/profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := caller(r)
	c, err := h.svc.UpdateProfile(r.Context(), services.ProfileInput{
		UserID: id.UserID,
		Role:   id.Role,
		Name:   req.Name,
		Lat:    req.Lat,
		Lng:    req.Lng,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"profile": c,
	})
}
