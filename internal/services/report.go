// Package services contains the report lifecycle business logic.
// Services are called by handlers and work against the store interfaces;
// every status change goes through the lifecycle package.
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/classifier"
	"github.com/civicaudit/report-server/internal/geo"
	"github.com/civicaudit/report-server/internal/lifecycle"
	"github.com/civicaudit/report-server/internal/metrics"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/notify"
	"github.com/civicaudit/report-server/internal/storage"
	"github.com/civicaudit/report-server/internal/store"
)

// DefaultNearbyRadius is the radius of the nearby feed, in meters
const DefaultNearbyRadius = 2000.0

// IngestInput is a citizen's new report submission
type IngestInput struct {
	UserID      string   `validate:"required"`
	Title       string   `validate:"required,max=200"`
	Description string   `validate:"max=5000"`
	Category    string   `validate:"required,max=64"`
	Lat         *float64 `validate:"required,latitude"`
	Lng         *float64 `validate:"required,longitude"`
	Image       []byte
	ImageName   string
}

// VoteState is the caller's relationship to a report
type VoteState struct {
	HasUpvoted   bool `json:"hasUpvoted"`
	HasDownvoted bool `json:"hasDownvoted"`
	CanVote      bool `json:"canVote"`
}

// VoteStateFor computes the caller's vote state. Authors and suspended
// reports cannot be voted on from the client.
func VoteStateFor(r *models.Report, userID string) VoteState {
	suspended := r.Status == models.StatusResolutionPending || r.Status == models.StatusClosed
	return VoteState{
		HasUpvoted:   r.HasUpvoted(userID),
		HasDownvoted: r.HasDownvoted(userID),
		CanVote:      userID != r.UserID && !suspended,
	}
}

// IngestResult is either a newly created report or the existing duplicate
type IngestResult struct {
	Report    *models.Report
	Duplicate bool
	// Distance to the duplicate in meters
	Distance float64
	VoteState
}

// NearbyReport is a feed entry with its distance from the query point
type NearbyReport struct {
	*models.Report
	Distance float64 `json:"distance"`
}

// ReportConfig tunes the ingestion and feed radii
type ReportConfig struct {
	NearbyRadius float64
}

// ReportService ingests and reads reports
type ReportService struct {
	store      store.ReportStore
	duplicates *DuplicateDetector
	classifier classifier.Classifier
	images     storage.ImageStore
	notifier   notify.Notifier
	activity   *ActivityLogService
	validate   *validator.Validate
	cfg        ReportConfig
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewReportService wires the ingestion pipeline
func NewReportService(
	s store.ReportStore,
	duplicates *DuplicateDetector,
	cls classifier.Classifier,
	images storage.ImageStore,
	notifier notify.Notifier,
	activity *ActivityLogService,
	cfg ReportConfig,
	logger *zap.SugaredLogger,
) *ReportService {
	if cfg.NearbyRadius <= 0 {
		cfg.NearbyRadius = DefaultNearbyRadius
	}
	return &ReportService{
		store:      s,
		duplicates: duplicates,
		classifier: cls,
		images:     images,
		notifier:   notifier,
		activity:   activity,
		validate:   validator.New(),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *ReportService) validateInput(in *IngestInput) (string, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	in.Description = strings.TrimSpace(in.Description)

	if err := s.validate.Struct(in); err != nil {
		return "", fromValidator(err)
	}

	if len(in.Image) == 0 {
		return "", invalid("image", "Report image is required")
	}
	if len(in.Image) > storage.MaxImageSize {
		return "", invalid("image", "Image must be 10 MB or smaller")
	}
	contentType, err := storage.SniffImage(in.ImageName, in.Image)
	if err != nil {
		return "", invalid("image", "%s", err.Error())
	}
	return contentType, nil
}

// Ingest validates a submission, short-circuits onto an existing nearby
// report of the same category, classifies it and persists it. A classifier
// rejection is returned as *classifier.RejectedError and nothing is stored.
func (s *ReportService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	contentType, err := s.validateInput(&in)
	if err != nil {
		return nil, err
	}
	lat, lng := *in.Lat, *in.Lng

	existing, dist, err := s.duplicates.Find(ctx, in.Category, lat, lng)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.DuplicatesFound.Inc()
		s.logger.Infow("Duplicate report detected",
			"report_id", existing.ID,
			"user_id", in.UserID,
			"distance_m", dist,
		)
		return &IngestResult{
			Report:    existing,
			Duplicate: true,
			Distance:  dist,
			VoteState: VoteStateFor(existing, in.UserID),
		}, nil
	}

	analysis, err := s.classifier.Classify(ctx, classifier.Request{
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Image:       in.Image,
		Filename:    in.ImageName,
	})
	if err != nil {
		var rej *classifier.RejectedError
		if errors.As(err, &rej) {
			s.logger.Infow("Report rejected by classifier",
				"user_id", in.UserID,
				"reason", rej.Reason,
			)
		}
		return nil, err
	}

	imageURL, err := s.images.Save(ctx, in.ImageName, contentType, in.Image)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	now := s.now()
	processed := now
	report := &models.Report{
		ID:          uuid.New(),
		UserID:      in.UserID,
		Title:       in.Title,
		Description: in.Description,
		Category:    chooseCategory(in.Category, analysis.SuggestedCategory),
		ImageURL:    imageURL,
		Location:    models.NewPoint(lat, lng),
		Status:      lifecycle.InitialStatus(analysis.Priority),
		AIAnalysis: models.AIAnalysis{
			Priority:       analysis.Priority,
			IsCritical:     analysis.Priority == models.PriorityCritical,
			SentimentScore: analysis.Sentiment,
			Keywords:       analysis.Keywords(),
			ProcessedAt:    &processed,
		},
		Upvotes:   []string{},
		Downvotes: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateReport(ctx, report); err != nil {
		if delErr := s.images.Delete(ctx, imageURL); delErr != nil {
			s.logger.Warnw("Failed to remove orphaned image",
				"image_url", imageURL,
				"error", delErr,
			)
		}
		return nil, fmt.Errorf("create report: %w", err)
	}

	metrics.ReportsCreated.WithLabelValues(string(report.Status)).Inc()
	s.activity.Log(ctx, report.ID, models.ActivityCreated, in.UserID,
		fmt.Sprintf("Report created as %s with priority %s", report.Status, report.AIAnalysis.Priority))
	s.notifier.NewReport(report)

	return &IngestResult{Report: report, VoteState: VoteStateFor(report, in.UserID)}, nil
}

// chooseCategory prefers the classifier's suggestion unless it is empty or
// the generic fallback.
func chooseCategory(given, suggested string) string {
	suggested = strings.TrimSpace(suggested)
	if suggested == "" || strings.EqualFold(suggested, classifier.GenericCategory) {
		return given
	}
	return suggested
}

// Nearby returns reports within the feed radius, nearest first. The caller
// only sees their own reports once Verified, and never sees Rejected reports.
func (s *ReportService) Nearby(ctx context.Context, userID string, lat, lng float64) ([]NearbyReport, error) {
	if lat < -90 || lat > 90 {
		return nil, invalid("lat", "Latitude must be between -90 and 90")
	}
	if lng < -180 || lng > 180 {
		return nil, invalid("lng", "Longitude must be between -180 and 180")
	}

	candidates, err := s.store.FindWithin(ctx, geo.BoundingBox(lat, lng, s.cfg.NearbyRadius))
	if err != nil {
		return nil, fmt.Errorf("find nearby reports: %w", err)
	}

	out := []NearbyReport{}
	for _, r := range candidates {
		if r.UserID == userID {
			if r.Status != models.StatusVerified {
				continue
			}
		} else if r.Status == models.StatusRejected || r.Status == models.StatusDeleted {
			continue
		}

		dist := geo.Haversine(lat, lng, r.Location.Lat(), r.Location.Lng())
		if dist <= s.cfg.NearbyRadius {
			out = append(out, NearbyReport{Report: r, Distance: dist})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// Mine lists the caller's own reports, newest first
func (s *ReportService) Mine(ctx context.Context, userID string) ([]*models.Report, error) {
	reports, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user reports: %w", err)
	}
	if reports == nil {
		reports = []*models.Report{}
	}
	return reports, nil
}

// Get returns a report with the caller's vote state
func (s *ReportService) Get(ctx context.Context, id uuid.UUID, userID string) (*models.Report, VoteState, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, VoteState{}, err
	}
	return r, VoteStateFor(r, userID), nil
}

// NearbyRadius is the feed radius in meters
func (s *ReportService) NearbyRadius() float64 { return s.cfg.NearbyRadius }
