package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/civicaudit/report-server/internal/classifier"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

func TestIngest_CreatesReport(t *testing.T) {
	f := newFixture(t)
	f.classifier.analysis = classifier.Analysis{
		Priority:          models.PriorityHigh,
		SuggestedCategory: "General",
		Sentiment:         -0.3,
		KeywordsByCategory: []classifier.KeywordGroup{
			{Category: "road", Keywords: []string{"pothole", "crack"}},
		},
	}

	res, err := f.reports.Ingest(context.Background(), f.input(t, "Road", 0))
	require.NoError(t, err)
	require.False(t, res.Duplicate)

	r := res.Report
	assert.Equal(t, "Broken Road", r.Title)
	assert.Equal(t, "Road", r.Category, "generic suggestion keeps the citizen's category")
	assert.Equal(t, models.StatusPending, r.Status)
	assert.Equal(t, models.PriorityHigh, r.AIAnalysis.Priority)
	assert.False(t, r.AIAnalysis.IsCritical)
	assert.Equal(t, []string{"pothole", "crack"}, r.AIAnalysis.Keywords)
	assert.NotNil(t, r.AIAnalysis.ProcessedAt)
	assert.Equal(t, 0, r.Score)
	assert.Equal(t, 1, f.images.count())
	assert.False(t, res.CanVote, "authors cannot vote on their own report")

	stored, err := f.store.GetReport(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, stored.ID)

	logs, err := f.activity.FetchByReport(context.Background(), r.ID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.ActivityCreated, logs[0].ActivityType)

	f.notifier.AssertCalled(t, "NewReport", mock.MatchedBy(func(got *models.Report) bool { return got.ID == r.ID }))
}

func TestIngest_CriticalStartsVerifiedWithSuggestedCategory(t *testing.T) {
	f := newFixture(t)
	f.classifier.analysis = classifier.Analysis{Priority: models.PriorityCritical, SuggestedCategory: "Electricity"}

	res, err := f.reports.Ingest(context.Background(), f.input(t, "Road", 0))
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, res.Report.Status)
	assert.True(t, res.Report.AIAnalysis.IsCritical)
	assert.Equal(t, "Electricity", res.Report.Category)
}

func TestIngest_Duplicates(t *testing.T) {
	tests := []struct {
		name          string
		seedCategory  string
		seedStatus    models.ReportStatus
		seedDistance  float64
		inputCategory string
		wantDuplicate bool
	}{
		{"same category 400 m", "Road", models.StatusPending, 400, "Road", true},
		{"case-insensitive category", "road", models.StatusVerified, 100, "ROAD", true},
		{"same category 600 m", "Road", models.StatusPending, 600, "Road", false},
		{"different category same point", "Water", models.StatusPending, 0, "Road", false},
		{"closed report never blocks", "Road", models.StatusClosed, 10, "Road", false},
		{"rejected report never blocks", "Road", models.StatusRejected, 10, "Road", false},
		{"resolution pending never blocks", "Road", models.StatusResolutionPending, 10, "Road", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			existing := f.seed(t, "someone-else", tt.seedCategory, tt.seedStatus, tt.seedDistance)

			res, err := f.reports.Ingest(context.Background(), f.input(t, tt.inputCategory, 0))
			require.NoError(t, err)
			assert.Equal(t, tt.wantDuplicate, res.Duplicate)

			if tt.wantDuplicate {
				assert.Equal(t, existing.ID, res.Report.ID)
				assert.True(t, res.CanVote)
				assert.InDelta(t, tt.seedDistance, res.Distance, 1)
				assert.Equal(t, 0, f.images.count(), "duplicate image must not be stored")
				assert.Equal(t, 0, f.classifier.calls)
			} else {
				assert.NotEqual(t, existing.ID, res.Report.ID)
			}
		})
	}
}

func TestIngest_DuplicatePicksNearest(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "a", "Garbage", models.StatusPending, 300)
	nearest := f.seed(t, "b", "Garbage", models.StatusPending, 50)

	res, err := f.reports.Ingest(context.Background(), f.input(t, "Garbage", 0))
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	assert.Equal(t, nearest.ID, res.Report.ID)
}

func TestIngest_DuplicateReportsVoteState(t *testing.T) {
	f := newFixture(t)
	existing := f.seed(t, "someone-else", "Road", models.StatusPending, 10)
	_, err := f.votes.Vote(context.Background(), existing.ID, "citizen-1", "up")
	require.NoError(t, err)

	res, err := f.reports.Ingest(context.Background(), f.input(t, "Road", 0))
	require.NoError(t, err)
	require.True(t, res.Duplicate)
	assert.True(t, res.HasUpvoted)
	assert.False(t, res.HasDownvoted)
}

func TestIngest_ClassifierRejection(t *testing.T) {
	f := newFixture(t)
	f.classifier.err = &classifier.RejectedError{Reason: "mismatch", Message: "not a civic issue"}

	res, err := f.reports.Ingest(context.Background(), f.input(t, "Road", 0))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, classifier.IsRejected(err))
	assert.Equal(t, 0, f.images.count())

	all, total, err := f.store.ListReports(context.Background(), models.ReportFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, all)
	f.notifier.AssertNotCalled(t, "NewReport", mock.Anything)
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(in *IngestInput)
		message string
	}{
		{"blank title", func(in *IngestInput) { in.Title = "   " }, "Title is required"},
		{"missing category", func(in *IngestInput) { in.Category = "" }, "Category is required"},
		{"missing lat", func(in *IngestInput) { in.Lat = nil }, "Latitude and longitude are required"},
		{"lat out of range", func(in *IngestInput) { in.Lat = ptr(91) }, "Latitude must be between -90 and 90"},
		{"lng out of range", func(in *IngestInput) { in.Lng = ptr(-181) }, "Longitude must be between -180 and 180"},
		{"missing image", func(in *IngestInput) { in.Image = nil }, "Report image is required"},
		{"not an image", func(in *IngestInput) { in.Image = []byte("<html></html>") }, "only JPG"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			in := f.input(t, "Road", 0)
			tt.mutate(&in)

			_, err := f.reports.Ingest(context.Background(), in)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
			assert.Contains(t, err.Error(), tt.message)
			assert.Equal(t, 0, f.classifier.calls)
		})
	}
}

func TestIngest_ZeroCoordinatesAreValid(t *testing.T) {
	f := newFixture(t)
	in := f.input(t, "Road", 0)
	in.Lat, in.Lng = ptr(0), ptr(0)

	res, err := f.reports.Ingest(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Report.Location.Lat())
}

func TestNearby_Visibility(t *testing.T) {
	f := newFixture(t)
	ownPending := f.seed(t, "me", "Road", models.StatusPending, 100)
	ownVerified := f.seed(t, "me", "Road", models.StatusVerified, 200)
	otherPending := f.seed(t, "other", "Water", models.StatusPending, 50)
	otherRejected := f.seed(t, "other", "Water", models.StatusRejected, 60)
	otherClosed := f.seed(t, "other", "Garbage", models.StatusClosed, 1500)
	far := f.seed(t, "other", "Garbage", models.StatusPending, 2500)

	got, err := f.reports.Nearby(context.Background(), "me", baseLat, baseLng)
	require.NoError(t, err)

	var ids []string
	for _, r := range got {
		ids = append(ids, r.ID.String())
	}
	assert.Equal(t, []string{otherPending.ID.String(), ownVerified.ID.String(), otherClosed.ID.String()}, ids)
	assert.NotContains(t, ids, ownPending.ID.String())
	assert.NotContains(t, ids, otherRejected.ID.String())
	assert.NotContains(t, ids, far.ID.String())
}

func TestNearby_RejectsBadCoordinates(t *testing.T) {
	f := newFixture(t)
	_, err := f.reports.Nearby(context.Background(), "me", 100, 0)
	assert.True(t, IsValidation(err))
}

func TestGet_HidesDeleted(t *testing.T) {
	f := newFixture(t)
	r := f.seed(t, "other", "Road", models.StatusDeleted, 0)

	_, _, err := f.reports.Get(context.Background(), r.ID, "me")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMine_NewestFirstWithoutDeleted(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "me", "Road", models.StatusPending, 0)
	f.seed(t, "me", "Road", models.StatusDeleted, 0)
	f.seed(t, "other", "Road", models.StatusPending, 0)

	got, err := f.reports.Mine(context.Background(), "me")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
