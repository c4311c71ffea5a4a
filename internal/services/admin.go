package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxTrendHours   = 720
)

// AdminQuery is the raw admin listing query
type AdminQuery struct {
	Status   string
	Priority string
	Page     int
	Limit    int
}

// Page describes one page of an admin listing
type Page struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

// AdminService serves the admin dashboard listings and analytics
type AdminService struct {
	store  store.ReportStore
	logger *zap.SugaredLogger
}

// NewAdminService creates a new admin service
func NewAdminService(s store.ReportStore, logger *zap.SugaredLogger) *AdminService {
	return &AdminService{store: s, logger: logger}
}

// filterFor translates the dashboard's status/priority query. No status
// means Verified only, "all" means every visible status, and "Resolved"
// covers the whole resolution flow.
func filterFor(q AdminQuery) (models.ReportFilter, error) {
	var f models.ReportFilter

	switch status := strings.TrimSpace(q.Status); {
	case status == "":
		f.Statuses = []models.ReportStatus{models.StatusVerified}
	case strings.EqualFold(status, "all"):
	default:
		st, ok := models.ParseStatus(status)
		if !ok || st == models.StatusDeleted {
			return f, invalid("status", "Invalid status %q", status)
		}
		if st == models.StatusResolved {
			f.Statuses = []models.ReportStatus{models.StatusResolutionPending, models.StatusClosed}
		} else {
			f.Statuses = []models.ReportStatus{st}
		}
	}

	if p := strings.TrimSpace(q.Priority); p != "" && !strings.EqualFold(p, "all") {
		priority := models.ParsePriority(p)
		if !strings.EqualFold(string(priority), p) {
			return f, invalid("priority", "Invalid priority %q", p)
		}
		f.Priority = priority
	}
	return f, nil
}

// ListReports returns one page of reports, most urgent first
func (s *AdminService) ListReports(ctx context.Context, q AdminQuery) ([]*models.Report, Page, error) {
	f, err := filterFor(q)
	if err != nil {
		return nil, Page{}, err
	}

	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	f.Limit = q.Limit
	f.Offset = (q.Page - 1) * q.Limit

	reports, total, err := s.store.ListReports(ctx, f)
	if err != nil {
		return nil, Page{}, fmt.Errorf("list reports: %w", err)
	}
	if reports == nil {
		reports = []*models.Report{}
	}

	pages := (total + int64(q.Limit) - 1) / int64(q.Limit)
	return reports, Page{Page: q.Page, Limit: q.Limit, Total: total, Pages: pages}, nil
}

// Stats returns the dashboard counters
func (s *AdminService) Stats(ctx context.Context) (*models.DashboardStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("dashboard stats: %w", err)
	}
	return stats, nil
}

// GetTrends returns report submission trends over the last N hours
func (s *AdminService) GetTrends(ctx context.Context, hours int) ([]models.AnalyticsTrend, error) {
	if hours <= 0 {
		hours = 24
	}
	if hours > maxTrendHours {
		hours = maxTrendHours
	}
	return s.store.Trends(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
}

// GetCategoryDistribution returns report categories for analytics charts
func (s *AdminService) GetCategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error) {
	return s.store.CategoryDistribution(ctx)
}
