// Package store persists reports, notifications, citizens and the activity
// audit trail. PostgresStore is the production backend; MemoryStore backs
// tests and the STORE_DRIVER=memory development mode.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/civicaudit/report-server/internal/geo"
	"github.com/civicaudit/report-server/internal/models"
)

var (
	// ErrNotFound is returned for unknown ids and for soft-deleted reports
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a report kept changing underneath a
	// mutation for every retry attempt.
	ErrConflict = errors.New("concurrent modification: retries exhausted")
)

// maxMutateAttempts bounds optimistic retries in MutateReport
const maxMutateAttempts = 8

// MutateFunc edits a private copy of a report. Returning an error aborts
// the mutation and leaves the stored report untouched.
type MutateFunc func(r *models.Report) error

// ReportStore is the Report Store. MutateReport is the only way to change an
// existing report and must be read-modify-write consistent per report.
type ReportStore interface {
	CreateReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error)
	MutateReport(ctx context.Context, id uuid.UUID, fn MutateFunc) (*models.Report, error)

	// FindActiveByCategory returns Pending/Verified reports whose category
	// matches case-insensitively and whose point lies inside box.
	FindActiveByCategory(ctx context.Context, category string, box geo.Box) ([]*models.Report, error)
	// FindWithin returns every non-deleted report inside box
	FindWithin(ctx context.Context, box geo.Box) ([]*models.Report, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Report, error)
	ListReports(ctx context.Context, f models.ReportFilter) ([]*models.Report, int64, error)
	Stats(ctx context.Context) (*models.DashboardStats, error)
	Trends(ctx context.Context, since time.Time) ([]models.AnalyticsTrend, error)
	CategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error)

	// SweepRejected soft-deletes reports still Rejected with rejected_at at
	// or before cutoff. The predicate is evaluated as part of the write.
	SweepRejected(ctx context.Context, cutoff, now time.Time) ([]uuid.UUID, error)
}

// NotificationStore persists in-app notifications
type NotificationStore interface {
	CreateNotifications(ctx context.Context, ns []models.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID string, id uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
}

// CitizenStore reads the user directory projection used for fan-out
type CitizenStore interface {
	UpsertCitizen(ctx context.Context, c models.Citizen) error
	GetCitizen(ctx context.Context, id string) (models.Citizen, error)
	FindCitizensWithin(ctx context.Context, box geo.Box, excludeID string) ([]models.Citizen, error)
}

// ActivityStore persists the report audit trail
type ActivityStore interface {
	AppendActivity(ctx context.Context, entries ...models.ActivityLog) error
	ListActivity(ctx context.Context, reportID uuid.UUID, limit int) ([]models.ActivityLog, error)
}

// Store is everything the server needs from persistence
type Store interface {
	ReportStore
	NotificationStore
	CitizenStore
	ActivityStore
	Ping(ctx context.Context) error
	Close()
}

// statsFromCounts folds per-(status, priority) counts into dashboard totals
func statsFromCounts(counts map[models.ReportStatus]map[models.Priority]int64) *models.DashboardStats {
	sum := func(st models.ReportStatus) int64 {
		var n int64
		for _, c := range counts[st] {
			n += c
		}
		return n
	}

	s := &models.DashboardStats{
		Total:    sum(models.StatusVerified),
		Critical: counts[models.StatusVerified][models.PriorityCritical],
		High:     counts[models.StatusVerified][models.PriorityHigh],
		Pending:  sum(models.StatusPending),
		Verified: sum(models.StatusVerified),
		Rejected: sum(models.StatusRejected),
	}
	s.Completed = sum(models.StatusClosed)
	s.Resolved = s.Completed
	return s
}

// sortForAdmin orders by priority rank, then newest first
func sortForAdmin(rs []*models.Report) {
	sort.SliceStable(rs, func(i, j int) bool {
		pi, pj := rs[i].AIAnalysis.Priority.Rank(), rs[j].AIAnalysis.Priority.Rank()
		if pi != pj {
			return pi < pj
		}
		return rs[i].CreatedAt.After(rs[j].CreatedAt)
	})
}
