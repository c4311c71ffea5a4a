// Package handlers contains HTTP request handlers for the report API.
// Handlers parse requests, call services, and return JSON responses.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/classifier"
	"github.com/civicaudit/report-server/internal/lifecycle"
	"github.com/civicaudit/report-server/internal/middleware"
	"github.com/civicaudit/report-server/internal/services"
	"github.com/civicaudit/report-server/internal/store"
)

// aiMismatchMessage is shown when the classifier rejects a submission
// without a message of its own.
const aiMismatchMessage = "Our AI does not believe this photo matches this description."

// Helper: respond with JSON
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Helper: respond with error
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"success": false, "message": message})
}

// writeServiceError maps service and store errors to HTTP responses
func writeServiceError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	var (
		verr *services.ValidationError
		rej  *classifier.RejectedError
	)

	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Message)
	case errors.As(err, &rej):
		msg := rej.Message
		if msg == "" {
			msg = aiMismatchMessage
		}
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"message": msg,
			"reason":  rej.Reason,
		})
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "Report not found")
	case errors.Is(err, lifecycle.ErrPermissionDenied):
		respondError(w, http.StatusForbidden, "You are not allowed to perform this action")
	case errors.Is(err, lifecycle.ErrAlreadyVoted):
		respondError(w, http.StatusForbidden, "You have already voted on this resolution")
	case errors.Is(err, lifecycle.ErrVotingSuspended):
		respondError(w, http.StatusConflict, "Voting is closed for this report")
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "This status change is not allowed")
	default:
		logger.Errorw("Request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// caller returns the identity attached by RequireAuth
func caller(r *http.Request) middleware.Identity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}

// reportID parses the {id} URL parameter, writing a 404 on failure
func reportID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Report not found")
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON reads a small JSON body, writing a 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}
