package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/lifecycle"
	"github.com/civicaudit/report-server/internal/metrics"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

const (
	// DefaultRejectedRetention is how long a Rejected report stays visible
	DefaultRejectedRetention = 30 * time.Minute

	sweepLockKey = "civic:sweeper"
)

// SweeperWorker periodically soft-deletes reports that stayed Rejected past
// the retention window. With a locker set, only one instance sweeps per tick.
type SweeperWorker struct {
	store     store.ReportStore
	activity  *ActivityLogService
	locker    *redislock.Client
	retention time.Duration
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewSweeperWorker creates a new background retention sweeper. locker may be nil.
func NewSweeperWorker(s store.ReportStore, activity *ActivityLogService, locker *redislock.Client, retention time.Duration, logger *zap.SugaredLogger) *SweeperWorker {
	if retention <= 0 {
		retention = DefaultRejectedRetention
	}
	return &SweeperWorker{
		store:     s,
		activity:  activity,
		locker:    locker,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Start begins the periodic sweep loop
func (w *SweeperWorker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial sweep
	w.tick(ctx, interval)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Retention sweeper stopped")
			return
		case <-ticker.C:
			w.tick(ctx, interval)
		}
	}
}

func (w *SweeperWorker) tick(ctx context.Context, interval time.Duration) {
	if w.locker != nil {
		lock, err := w.locker.Obtain(ctx, sweepLockKey, interval, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			w.logger.Debug("Sweep lock held by another instance, skipping")
			return
		}
		if err != nil {
			w.logger.Warnw("Could not obtain sweep lock, sweeping anyway", "error", err)
		} else {
			defer func() {
				if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
					w.logger.Warnw("Failed to release sweep lock", "error", err)
				}
			}()
		}
	}

	if _, err := w.Sweep(ctx); err != nil {
		w.logger.Errorw("Retention sweep failed", "error", err)
	}
}

// Sweep runs one pass and returns the ids it soft-deleted
func (w *SweeperWorker) Sweep(ctx context.Context) ([]uuid.UUID, error) {
	now := w.now()
	cutoff := now.Add(-w.retention)

	swept, err := w.store.SweepRejected(ctx, cutoff, now)
	if err != nil {
		return swept, fmt.Errorf("sweep rejected reports: %w", err)
	}

	for _, id := range swept {
		w.activity.LogTransition(ctx, id, "system", lifecycle.Transition{
			From: models.StatusRejected,
			To:   models.StatusDeleted,
		})
	}
	metrics.ReportsSwept.Add(float64(len(swept)))

	if len(swept) > 0 {
		w.logger.Infow("Retention sweep complete",
			"deleted", len(swept),
			"cutoff", cutoff,
		)
	}
	return swept, nil
}
