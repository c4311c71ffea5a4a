package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/lifecycle"
	"github.com/civicaudit/report-server/internal/metrics"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

// ActivityLogService records the report audit trail
type ActivityLogService struct {
	store  store.ActivityStore
	logger *zap.SugaredLogger
}

// NewActivityLogService creates a new activity log service
func NewActivityLogService(s store.ActivityStore, logger *zap.SugaredLogger) *ActivityLogService {
	return &ActivityLogService{store: s, logger: logger}
}

// Log records one event. Audit failures are logged and never fail the
// operation that triggered them.
func (s *ActivityLogService) Log(ctx context.Context, reportID uuid.UUID, t models.ActivityType, actor, description string) {
	entry := models.ActivityLog{
		ID:           uuid.New(),
		ReportID:     reportID,
		ActivityType: t,
		Actor:        actor,
		Description:  description,
		CreatedAt:    time.Now(),
	}

	if err := s.store.AppendActivity(ctx, entry); err != nil {
		s.logger.Errorw("Failed to record activity",
			"report_id", reportID,
			"type", t,
			"error", err,
		)
		return
	}

	s.logger.Infow("Activity logged",
		"report_id", reportID,
		"actor", actor,
		"type", t,
		"action", description,
	)
}

// LogTransition records a status change, if there was one
func (s *ActivityLogService) LogTransition(ctx context.Context, reportID uuid.UUID, actor string, tr lifecycle.Transition) {
	if !tr.Changed() {
		return
	}
	metrics.RecordTransition(string(tr.From), string(tr.To))

	t := models.ActivityStatusChanged
	switch {
	case tr.To == models.StatusVerified:
		t = models.ActivityVerified
	case tr.To == models.StatusRejected:
		t = models.ActivityRejected
	case tr.From == models.StatusVerified && tr.To == models.StatusPending:
		t = models.ActivityDemoted
	case tr.To == models.StatusResolutionPending:
		t = models.ActivityResolutionRequested
	case tr.To == models.StatusClosed:
		t = models.ActivityClosed
	case tr.To == models.StatusDeleted:
		t = models.ActivityDeleted
	}

	s.Log(ctx, reportID, t, actor, fmt.Sprintf("Status changed from %s to %s", tr.From, tr.To))
}

// FetchByReport returns the newest activity entries for a report
func (s *ActivityLogService) FetchByReport(ctx context.Context, reportID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	logs, err := s.store.ListActivity(ctx, reportID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return logs, nil
}
