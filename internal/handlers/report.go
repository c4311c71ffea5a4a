package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/lifecycle"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/services"
	"github.com/civicaudit/report-server/internal/storage"
)

// multipart overhead allowed on top of the image itself
const formOverhead = 1 << 20

// ReportHandler handles citizen-facing report endpoints
type ReportHandler struct {
	reports    *services.ReportService
	votes      *services.VoteService
	resolution *services.ResolutionService
	logger     *zap.SugaredLogger
}

// NewReportHandler creates a new report handler
func NewReportHandler(
	reports *services.ReportService,
	votes *services.VoteService,
	resolution *services.ResolutionService,
	logger *zap.SugaredLogger,
) *ReportHandler {
	return &ReportHandler{
		reports:    reports,
		votes:      votes,
		resolution: resolution,
		logger:     logger,
	}
}

// Create handles POST /api/reports (multipart: title, description,
// category, lat, lng, image)
func (h *ReportHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxImageSize+formOverhead)
	if err := r.ParseMultipartForm(storage.MaxImageSize + formOverhead); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, http.StatusBadRequest, "Image must be 10 MB or smaller")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	lat, err := formFloat(r, "lat")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Latitude must be a number")
		return
	}
	lng, err := formFloat(r, "lng")
	if err != nil {
		respondError(w, http.StatusBadRequest, "Longitude must be a number")
		return
	}

	in := services.IngestInput{
		UserID:      caller(r).UserID,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Lat:         lat,
		Lng:         lng,
	}

	if file, header, err := r.FormFile("image"); err == nil {
		data, err := io.ReadAll(io.LimitReader(file, storage.MaxImageSize+1))
		file.Close()
		if err != nil {
			respondError(w, http.StatusBadRequest, "Failed to read image")
			return
		}
		in.Image = data
		in.ImageName = header.Filename
	}

	res, err := h.reports.Ingest(r.Context(), in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if res.Duplicate {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"success":      true,
			"isDuplicate":  true,
			"message":      "A similar issue has already been reported nearby. You can upvote it instead.",
			"report":       res.Report,
			"distance":     res.Distance,
			"canVote":      res.CanVote,
			"hasUpvoted":   res.HasUpvoted,
			"hasDownvoted": res.HasDownvoted,
		})
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"message": "Report submitted successfully",
		"report":  res.Report,
	})
}

// formFloat parses an optional numeric form field; missing yields nil
func formFloat(r *http.Request, key string) (*float64, error) {
	raw := strings.TrimSpace(r.FormValue(key))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Nearby handles GET /api/reports/nearby?lat=&lng=
func (h *ReportHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(q.Get("lng"), 64)
	if errLat != nil || errLng != nil {
		respondError(w, http.StatusBadRequest, "Latitude and longitude are required")
		return
	}

	reports, err := h.reports.Nearby(r.Context(), caller(r).UserID, lat, lng)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"reports": reports,
		"query": map[string]float64{
			"lat":    lat,
			"lng":    lng,
			"radius": h.reports.NearbyRadius(),
		},
		"count": len(reports),
	})
}

// Mine handles GET /api/reports/me
func (h *ReportHandler) Mine(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reports.Mine(r.Context(), caller(r).UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"reports": reports,
		"count":   len(reports),
	})
}

// Get handles GET /api/reports/{id}
func (h *ReportHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}

	report, state, err := h.reports.Get(r.Context(), id, caller(r).UserID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"report":       report,
		"canVote":      state.CanVote,
		"hasUpvoted":   state.HasUpvoted,
		"hasDownvoted": state.HasDownvoted,
	})
}

type voteRequest struct {
	Type string `json:"type"`
}

// Vote handles PUT /api/reports/{id}/vote
func (h *ReportHandler) Vote(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	vote, ok := lifecycle.ParseVoteType(req.Type)
	if !ok {
		respondError(w, http.StatusBadRequest, "Vote type must be up or down")
		return
	}

	out, err := h.votes.Vote(r.Context(), id, caller(r).UserID, vote)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	rep := out.Report
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"action":  out.Result.Action,
		"score":   rep.Score,
		"status":  rep.Status,
		"report": map[string]interface{}{
			"upvotes":   rep.Upvotes,
			"downvotes": rep.Downvotes,
			"score":     rep.Score,
			"status":    rep.Status,
		},
	})
}

type resolutionRequest struct {
	Decision string `json:"decision"`
	// Action is accepted as an alias used by older clients
	Action string `json:"action"`
}

// VerifyResolution handles POST /api/reports/{id}/verify-resolution
func (h *ReportHandler) VerifyResolution(w http.ResponseWriter, r *http.Request) {
	id, ok := reportID(w, r)
	if !ok {
		return
	}
	var req resolutionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	decision := req.Decision
	if decision == "" {
		decision = req.Action
	}

	report, res, err := h.resolution.Verify(r.Context(), id, caller(r).UserID, decision)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": resolutionMessage(res, decision),
		"report":  report,
	})
}

func resolutionMessage(res lifecycle.ResolutionResult, decision string) string {
	switch {
	case res.NoOp:
		return "This report is already closed"
	case res.Transition.Changed() && res.Transition.To == models.StatusClosed:
		return "Resolution verified. The report is now closed."
	}
	if d, _ := lifecycle.ParseDecision(decision); d == lifecycle.DecisionReject {
		return "Thanks, your feedback has been recorded"
	}
	return "Thanks, your approval has been recorded"
}
