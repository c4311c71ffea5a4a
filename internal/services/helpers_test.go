package services

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/classifier"
	"github.com/civicaudit/report-server/internal/geo"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

const baseLat, baseLng = 12.9716, 77.5946

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NewReport(r *models.Report)      { m.Called(r) }
func (m *mockNotifier) ReportVerified(r *models.Report) { m.Called(r) }
func (m *mockNotifier) ReportUpvoted(r *models.Report, voterID string) {
	m.Called(r, voterID)
}
func (m *mockNotifier) ResolutionRequested(r *models.Report) { m.Called(r) }
func (m *mockNotifier) ReportClosed(r *models.Report)        { m.Called(r) }
func (m *mockNotifier) ResolutionRejected(r *models.Report, voterID string) {
	m.Called(r, voterID)
}

// permissiveNotifier accepts any call
func permissiveNotifier() *mockNotifier {
	n := &mockNotifier{}
	for _, method := range []string{"NewReport", "ReportVerified", "ResolutionRequested", "ReportClosed"} {
		n.On(method, mock.Anything).Maybe()
	}
	n.On("ReportUpvoted", mock.Anything, mock.Anything).Maybe()
	n.On("ResolutionRejected", mock.Anything, mock.Anything).Maybe()
	return n
}

type fakeClassifier struct {
	analysis classifier.Analysis
	err      error
	calls    int
}

func (f *fakeClassifier) Classify(ctx context.Context, req classifier.Request) (classifier.Analysis, error) {
	f.calls++
	if f.err != nil {
		return classifier.Analysis{}, f.err
	}
	a := f.analysis
	if a.Priority == "" {
		a = classifier.Default(req.Category)
	}
	return a, nil
}

type memImages struct {
	mu      sync.Mutex
	saved   map[string][]byte
	deleted []string
}

func newMemImages() *memImages { return &memImages{saved: map[string][]byte{}} }

func (m *memImages) Save(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url := "/uploads/reports/" + uuid.NewString() + ".png"
	m.saved[url] = data
	return url, nil
}

func (m *memImages) Delete(ctx context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, url)
	m.deleted = append(m.deleted, url)
	return nil
}

func (m *memImages) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	return buf.Bytes()
}

func ptr(f float64) *float64 { return &f }

type fixture struct {
	store      *store.MemoryStore
	notifier   *mockNotifier
	classifier *fakeClassifier
	images     *memImages
	activity   *ActivityLogService
	reports    *ReportService
	votes      *VoteService
	resolution *ResolutionService
	admin      *AdminService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	s := store.NewMemoryStore()
	f := &fixture{
		store:      s,
		notifier:   permissiveNotifier(),
		classifier: &fakeClassifier{},
		images:     newMemImages(),
	}
	f.activity = NewActivityLogService(s, logger)
	f.reports = NewReportService(s, NewDuplicateDetector(s, 500), f.classifier, f.images, f.notifier,
		f.activity, ReportConfig{NearbyRadius: 2000}, logger)
	f.votes = NewVoteService(s, f.notifier, f.activity, logger)
	f.resolution = NewResolutionService(s, s, f.notifier, f.activity, ResolutionConfig{RequiredApprovals: 2}, logger)
	f.admin = NewAdminService(s, logger)
	return f
}

// seed stores a report directly, north of the base point by the given distance
func (f *fixture) seed(t *testing.T, author, category string, status models.ReportStatus, metersNorth float64) *models.Report {
	t.Helper()
	now := time.Now()
	r := &models.Report{
		ID:         uuid.New(),
		UserID:     author,
		Title:      category + " issue",
		Category:   category,
		ImageURL:   "/uploads/reports/seed.png",
		Location:   models.NewPoint(geo.OffsetNorth(baseLat, metersNorth), baseLng),
		Status:     status,
		AIAnalysis: models.AIAnalysis{Priority: models.PriorityLow, Keywords: []string{}},
		Upvotes:    []string{},
		Downvotes:  []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, f.store.CreateReport(context.Background(), r))
	return r
}

// neighbour registers an onboarded citizen living north of the base point
func (f *fixture) neighbour(t *testing.T, id string, metersNorth float64) {
	t.Helper()
	require.NoError(t, f.store.UpsertCitizen(context.Background(), models.Citizen{
		ID:                  id,
		Name:                id,
		Role:                "citizen",
		Lat:                 geo.OffsetNorth(baseLat, metersNorth),
		Lng:                 baseLng,
		OnboardingCompleted: true,
	}))
}

func (f *fixture) input(t *testing.T, category string, metersNorth float64) IngestInput {
	return IngestInput{
		UserID:    "citizen-1",
		Title:     "  Broken " + category + "  ",
		Category:  category,
		Lat:       ptr(geo.OffsetNorth(baseLat, metersNorth)),
		Lng:       ptr(baseLng),
		Image:     pngImage(t),
		ImageName: "photo.png",
	}
}
