package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicaudit/report-server/internal/geo"
	"github.com/civicaudit/report-server/internal/lifecycle"
	"github.com/civicaudit/report-server/internal/models"
)

// MemoryStore keeps everything in process. A single mutex serializes
// mutations, which gives the same per-report guarantees as PostgresStore.
type MemoryStore struct {
	mu            sync.RWMutex
	reports       map[uuid.UUID]*models.Report
	notifications []models.Notification
	citizens      map[string]models.Citizen
	activity      []models.ActivityLog
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:  make(map[uuid.UUID]*models.Report),
		citizens: make(map[string]models.Citizen),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }
func (m *MemoryStore) Close()                         {}

// CreateReport stores a copy of r
func (m *MemoryStore) CreateReport(ctx context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.reports[r.ID]; exists {
		return fmt.Errorf("report %s already exists", r.ID)
	}
	r.Version = 1
	m.reports[r.ID] = r.Clone()
	return nil
}

// GetReport returns a copy of the report, hiding soft-deleted ones
func (m *MemoryStore) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.reports[id]
	if !ok || r.Status == models.StatusDeleted {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// MutateReport applies fn to a copy under the store lock
func (m *MemoryStore) MutateReport(ctx context.Context, id uuid.UUID, fn MutateFunc) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.reports[id]
	if !ok || current.Status == models.StatusDeleted {
		return nil, ErrNotFound
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Version = current.Version + 1
	m.reports[id] = next

	return next.Clone(), nil
}

func (m *MemoryStore) filter(keep func(r *models.Report) bool) []*models.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Report
	for _, r := range m.reports {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *MemoryStore) FindActiveByCategory(ctx context.Context, category string, box geo.Box) ([]*models.Report, error) {
	return m.filter(func(r *models.Report) bool {
		return r.Status.IsActive() &&
			strings.EqualFold(r.Category, category) &&
			box.Contains(r.Location.Lat(), r.Location.Lng())
	}), nil
}

func (m *MemoryStore) FindWithin(ctx context.Context, box geo.Box) ([]*models.Report, error) {
	return m.filter(func(r *models.Report) bool {
		return r.Status != models.StatusDeleted && box.Contains(r.Location.Lat(), r.Location.Lng())
	}), nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*models.Report, error) {
	return m.filter(func(r *models.Report) bool {
		return r.UserID == userID && r.Status != models.StatusDeleted
	}), nil
}

func (m *MemoryStore) ListReports(ctx context.Context, f models.ReportFilter) ([]*models.Report, int64, error) {
	all := m.filter(func(r *models.Report) bool {
		if r.Status == models.StatusDeleted {
			return false
		}
		if f.Priority != "" && r.AIAnalysis.Priority != f.Priority {
			return false
		}
		if len(f.Statuses) == 0 {
			return true
		}
		for _, st := range f.Statuses {
			if r.Status == st {
				return true
			}
		}
		return false
	})
	sortForAdmin(all)

	total := int64(len(all))
	if f.Offset >= len(all) {
		return []*models.Report{}, total, nil
	}
	end := len(all)
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return all[f.Offset:end], total, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (*models.DashboardStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[models.ReportStatus]map[models.Priority]int64)
	for _, r := range m.reports {
		if counts[r.Status] == nil {
			counts[r.Status] = make(map[models.Priority]int64)
		}
		counts[r.Status][r.AIAnalysis.Priority]++
	}
	return statsFromCounts(counts), nil
}

func (m *MemoryStore) Trends(ctx context.Context, since time.Time) ([]models.AnalyticsTrend, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buckets := make(map[string]int)
	for _, r := range m.reports {
		if r.CreatedAt.After(since) {
			buckets[r.CreatedAt.UTC().Truncate(time.Hour).Format("2006-01-02 15:04:05")]++
		}
	}

	trends := make([]models.AnalyticsTrend, 0, len(buckets))
	for date, count := range buckets {
		trends = append(trends, models.AnalyticsTrend{Date: date, Count: count})
	}
	sort.Slice(trends, func(i, j int) bool { return trends[i].Date > trends[j].Date })
	return trends, nil
}

func (m *MemoryStore) CategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, r := range m.reports {
		if r.Status != models.StatusDeleted {
			counts[r.Category]++
		}
	}

	cats := make([]models.CategoryDistribution, 0, len(counts))
	for c, n := range counts {
		cats = append(cats, models.CategoryDistribution{Category: c, Count: n})
	}
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].Count != cats[j].Count {
			return cats[i].Count > cats[j].Count
		}
		return cats[i].Category < cats[j].Category
	})
	return cats, nil
}

// SweepRejected soft-deletes expired Rejected reports under the store lock
func (m *MemoryStore) SweepRejected(ctx context.Context, cutoff, now time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var swept []uuid.UUID
	for id, r := range m.reports {
		if !lifecycle.Expired(r, cutoff) {
			continue
		}
		next := r.Clone()
		if _, err := lifecycle.SoftDelete(next, cutoff, now); err != nil {
			return swept, err
		}
		next.Version++
		m.reports[id] = next
		swept = append(swept, id)
	}
	return swept, nil
}

func (m *MemoryStore) CreateNotifications(ctx context.Context, ns []models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, ns...)
	return nil
}

func (m *MemoryStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.Notification{}
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			out = append(out, m.notifications[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkNotificationRead(ctx context.Context, userID string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i := range m.notifications {
		if m.notifications[i].UserID == userID && !m.notifications[i].Read {
			m.notifications[i].Read = true
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) UpsertCitizen(ctx context.Context, c models.Citizen) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.citizens[c.ID] = c
	return nil
}

func (m *MemoryStore) GetCitizen(ctx context.Context, id string) (models.Citizen, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.citizens[id]
	if !ok {
		return models.Citizen{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) FindCitizensWithin(ctx context.Context, box geo.Box, excludeID string) ([]models.Citizen, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Citizen
	for _, c := range m.citizens {
		if c.ID == excludeID || !c.OnboardingCompleted || !box.Contains(c.Lat, c.Lng) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) AppendActivity(ctx context.Context, entries ...models.ActivityLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, entries...)
	return nil
}

func (m *MemoryStore) ListActivity(ctx context.Context, reportID uuid.UUID, limit int) ([]models.ActivityLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.ActivityLog{}
	for i := len(m.activity) - 1; i >= 0; i-- {
		if m.activity[i].ReportID == reportID {
			out = append(out, m.activity[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
