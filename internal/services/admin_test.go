package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicaudit/report-server/internal/models"
)

func TestFilterFor(t *testing.T) {
	tests := []struct {
		name     string
		query    AdminQuery
		statuses []models.ReportStatus
		priority models.Priority
		wantErr  bool
	}{
		{"default is verified", AdminQuery{}, []models.ReportStatus{models.StatusVerified}, "", false},
		{"all", AdminQuery{Status: "all", Priority: "all"}, nil, "", false},
		{"resolved covers the resolution flow", AdminQuery{Status: "Resolved"},
			[]models.ReportStatus{models.StatusResolutionPending, models.StatusClosed}, "", false},
		{"pending with priority", AdminQuery{Status: "pending", Priority: "critical"},
			[]models.ReportStatus{models.StatusPending}, models.PriorityCritical, false},
		{"deleted is never listed", AdminQuery{Status: "Deleted"}, nil, "", true},
		{"unknown status", AdminQuery{Status: "Started"}, nil, "", true},
		{"unknown priority", AdminQuery{Priority: "urgent"}, nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := filterFor(tt.query)
			if tt.wantErr {
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.statuses, f.Statuses)
			assert.Equal(t, tt.priority, f.Priority)
		})
	}
}

func TestAdmin_ListReportsPaginates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.seed(t, "author", "Road", models.StatusVerified, float64(i))
	}
	f.seed(t, "author", "Road", models.StatusPending, 0)

	reports, page, err := f.admin.ListReports(context.Background(), AdminQuery{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.Equal(t, Page{Page: 2, Limit: 2, Total: 5, Pages: 3}, page)
}

func TestAdmin_AnalyticsAndStats(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "Road", models.StatusVerified, 0)
	f.seed(t, "a", "Road", models.StatusPending, 0)
	f.seed(t, "a", "Water", models.StatusClosed, 0)

	cats, err := f.admin.GetCategoryDistribution(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.CategoryDistribution{{Category: "Road", Count: 2}, {Category: "Water", Count: 1}}, cats)

	trends, err := f.admin.GetTrends(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, trends, 1)
	assert.Equal(t, 3, trends[0].Count)

	stats, err := f.admin.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.Pending)
}
