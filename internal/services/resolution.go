package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/geo"
	"github.com/civicaudit/report-server/internal/lifecycle"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/notify"
	"github.com/civicaudit/report-server/internal/store"
)

// DefaultResolutionRadius is how close, in meters, a citizen must live to a
// report to verify its resolution
const DefaultResolutionRadius = 500.0

// ResolutionConfig tunes resolution consensus
type ResolutionConfig struct {
	RequiredApprovals int
	Radius            float64
}

// ResolutionService handles admin status changes and the peer verification
// that closes a resolved report.
type ResolutionService struct {
	store    store.ReportStore
	citizens store.CitizenStore
	notifier notify.Notifier
	activity *ActivityLogService
	cfg      ResolutionConfig
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewResolutionService creates a resolution service. Zero config values fall
// back to the lifecycle approval default and DefaultResolutionRadius.
func NewResolutionService(
	s store.ReportStore,
	citizens store.CitizenStore,
	notifier notify.Notifier,
	activity *ActivityLogService,
	cfg ResolutionConfig,
	logger *zap.SugaredLogger,
) *ResolutionService {
	if cfg.RequiredApprovals <= 0 {
		cfg.RequiredApprovals = lifecycle.DefaultRequiredApprovals
	}
	if cfg.Radius <= 0 {
		cfg.Radius = DefaultResolutionRadius
	}
	return &ResolutionService{
		store:    s,
		citizens: citizens,
		notifier: notifier,
		activity: activity,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetStatus applies an admin status change. Resolved opens resolution
// consensus and leaves the report in Resolution Pending.
func (s *ResolutionService) SetStatus(ctx context.Context, reportID uuid.UUID, adminID string, status string) (*models.Report, error) {
	to, ok := models.ParseStatus(status)
	if !ok {
		return nil, invalid("status", "Invalid status %q", status)
	}

	var tr lifecycle.Transition
	updated, err := s.store.MutateReport(ctx, reportID, func(r *models.Report) error {
		var err error
		tr, err = lifecycle.AdminSetStatus(r, to, adminID, s.cfg.RequiredApprovals, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.activity.LogTransition(ctx, reportID, adminID, tr)
	s.logger.Infow("Admin changed report status",
		"report_id", reportID,
		"admin_id", adminID,
		"from", tr.From,
		"to", tr.To,
	)

	if tr.Changed() {
		switch tr.To {
		case models.StatusResolutionPending:
			s.notifier.ResolutionRequested(updated)
		case models.StatusVerified:
			s.notifier.ReportVerified(updated)
		}
	}
	return updated, nil
}

// Verify records a citizen's approve/reject of a resolution claim. Only
// onboarded citizens living within the resolution radius may vote. Voting on
// an already Closed report is a no-op that returns the current state.
func (s *ResolutionService) Verify(ctx context.Context, reportID uuid.UUID, voterID string, decision string) (*models.Report, lifecycle.ResolutionResult, error) {
	d, ok := lifecycle.ParseDecision(decision)
	if !ok {
		return nil, lifecycle.ResolutionResult{}, invalid("decision", "Decision must be approve or reject")
	}

	current, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return nil, lifecycle.ResolutionResult{}, err
	}
	if current.Status == models.StatusResolutionPending {
		if err := s.checkVerifier(ctx, current, voterID); err != nil {
			return nil, lifecycle.ResolutionResult{}, err
		}
	}

	var res lifecycle.ResolutionResult
	updated, err := s.store.MutateReport(ctx, reportID, func(r *models.Report) error {
		var err error
		res, err = lifecycle.CastResolutionVote(r, voterID, d, s.now())
		return err
	})
	if err != nil {
		return nil, lifecycle.ResolutionResult{}, err
	}
	if res.NoOp {
		return updated, res, nil
	}

	rv := updated.ResolutionVerification
	s.activity.Log(ctx, reportID, models.ActivityResolutionVote, voterID,
		fmt.Sprintf("Resolution %s (%d/%d approvals)", d, len(rv.Approvals), rv.RequiredApprovals))
	s.activity.LogTransition(ctx, reportID, voterID, res.Transition)

	switch {
	case res.Transition.Changed() && res.Transition.To == models.StatusClosed:
		s.notifier.ReportClosed(updated)
	case d == lifecycle.DecisionReject:
		s.notifier.ResolutionRejected(updated, voterID)
	}
	return updated, res, nil
}

// checkVerifier enforces the resolution audience: not the author, and an
// onboarded citizen whose home lies within the configured radius.
func (s *ResolutionService) checkVerifier(ctx context.Context, r *models.Report, voterID string) error {
	if voterID == r.UserID {
		return lifecycle.ErrPermissionDenied
	}
	c, err := s.citizens.GetCitizen(ctx, voterID)
	if errors.Is(err, store.ErrNotFound) {
		return lifecycle.ErrPermissionDenied
	}
	if err != nil {
		return err
	}
	if !c.OnboardingCompleted {
		return lifecycle.ErrPermissionDenied
	}
	if geo.Haversine(r.Location.Lat(), r.Location.Lng(), c.Lat, c.Lng) > s.cfg.Radius {
		s.logger.Infow("Resolution vote refused, voter too far",
			"report_id", r.ID,
			"voter_id", voterID,
		)
		return lifecycle.ErrPermissionDenied
	}
	return nil
}
