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
	"github.com/civicaudit/report-server/internal/notify"
	"github.com/civicaudit/report-server/internal/store"
)

// VoteOutcome is the post-vote state returned to the client
type VoteOutcome struct {
	Report *models.Report
	Result lifecycle.VoteResult
}

// VoteService applies community votes
type VoteService struct {
	store    store.ReportStore
	notifier notify.Notifier
	activity *ActivityLogService
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// NewVoteService creates a new vote service
func NewVoteService(s store.ReportStore, notifier notify.Notifier, activity *ActivityLogService, logger *zap.SugaredLogger) *VoteService {
	return &VoteService{store: s, notifier: notifier, activity: activity, logger: logger, now: time.Now}
}

// Vote toggles the voter's up/down vote and re-evaluates status and priority.
// The whole read-modify-write runs inside one store mutation.
func (s *VoteService) Vote(ctx context.Context, reportID uuid.UUID, voterID string, vote lifecycle.VoteType) (*VoteOutcome, error) {
	var res lifecycle.VoteResult
	updated, err := s.store.MutateReport(ctx, reportID, func(r *models.Report) error {
		var err error
		res, err = lifecycle.ApplyVote(r, voterID, vote, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.Votes.WithLabelValues(string(vote), string(res.Action)).Inc()
	s.activity.Log(ctx, reportID, models.ActivityVote, voterID,
		fmt.Sprintf("%s vote %s, score %d", vote, res.Action, updated.Score))
	s.activity.LogTransition(ctx, reportID, voterID, res.Transition)

	if res.PriorityFrom != res.PriorityTo {
		s.logger.Infow("Report priority changed by votes",
			"report_id", reportID,
			"from", res.PriorityFrom,
			"to", res.PriorityTo,
		)
	}
	if vote == lifecycle.VoteUp && res.Action != lifecycle.VoteRemoved {
		s.notifier.ReportUpvoted(updated, voterID)
	}
	if res.Transition.Changed() && res.Transition.To == models.StatusVerified {
		s.notifier.ReportVerified(updated)
	}

	return &VoteOutcome{Report: updated, Result: res}, nil
}
