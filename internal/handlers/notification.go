package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/services"
	"github.com/civicaudit/report-server/internal/store"
)

// NotificationHandler handles the caller's in-app notifications
type NotificationHandler struct {
	svc    *services.NotificationService
	logger *zap.SugaredLogger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(svc *services.NotificationService, logger *zap.SugaredLogger) *NotificationHandler {
	return &NotificationHandler{svc: svc, logger: logger}
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	ns, unread, err := h.svc.List(r.Context(), caller(r).UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"notifications": ns,
		"unreadCount":   unread,
	})
}

// MarkRead handles PUT /api/notifications/{id}/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Notification not found")
		return
	}

	if err := h.svc.MarkRead(r.Context(), caller(r).UserID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Notification not found")
			return
		}
		writeServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// MarkAllRead handles PUT /api/notifications/read-all
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.MarkAllRead(r.Context(), caller(r).UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"updated": n,
	})
}
