package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/civicaudit/report-server/internal/geo"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, ns []models.Notification) error {
	args := m.Called(ctx, ns)
	return args.Error(0)
}

const baseLat, baseLng = 12.9716, 77.5946

func seedCitizens(t *testing.T, s *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	add := func(id string, meters float64, onboarded bool) {
		require.NoError(t, s.UpsertCitizen(ctx, models.Citizen{
			ID:                  id,
			Lat:                 geo.OffsetNorth(baseLat, meters),
			Lng:                 baseLng,
			OnboardingCompleted: onboarded,
		}))
	}
	add("author", 0, true)
	add("admin", 50, true)
	for i := 0; i < 8; i++ {
		add(fmt.Sprintf("close-%d", i), float64(100+i*40), true)
	}
	add("mid", 1500, true)
	add("far", 2500, true)
	add("fresh", 100, false)
}

func testReport() *models.Report {
	return &models.Report{
		ID:        uuid.New(),
		UserID:    "author",
		Title:     "Overflowing bin",
		Category:  "Garbage",
		Location:  models.NewPoint(baseLat, baseLng),
		Status:    models.StatusPending,
		Upvotes:   []string{},
		Downvotes: []string{},
	}
}

// runDispatcher executes the queued jobs and waits for them to finish
func runDispatcher(d *Dispatcher, enqueue func()) {
	ctx, cancel := context.WithCancel(context.Background())
	enqueue()
	d.Start(ctx)
	cancel()
	d.Wait()
}

func byUser(ns []models.Notification) map[string]models.Notification {
	out := make(map[string]models.Notification)
	for _, n := range ns {
		out[n.UserID] = n
	}
	return out
}

func allNotifications(t *testing.T, s *store.MemoryStore, users ...string) []models.Notification {
	t.Helper()
	var out []models.Notification
	for _, u := range users {
		ns, err := s.ListNotifications(context.Background(), u, 0)
		require.NoError(t, err)
		out = append(out, ns...)
	}
	return out
}

func everyone() []string {
	users := []string{"author", "admin", "mid", "far", "fresh"}
	for i := 0; i < 8; i++ {
		users = append(users, fmt.Sprintf("close-%d", i))
	}
	return users
}

func TestDispatcher_NewReportTargetsNearbyOnboarded(t *testing.T) {
	s := store.NewMemoryStore()
	seedCitizens(t, s)

	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	d := NewDispatcher(s, pub, DefaultConfig(), zap.NewNop().Sugar())
	r := testReport()
	runDispatcher(d, func() { d.NewReport(r) })

	got := byUser(allNotifications(t, s, everyone()...))
	assert.Len(t, got, 10)
	assert.Contains(t, got, "mid")
	assert.Contains(t, got, "admin")
	assert.NotContains(t, got, "author")
	assert.NotContains(t, got, "far")
	assert.NotContains(t, got, "fresh")
	assert.Equal(t, models.NotifyNewReport, got["mid"].Type)
	assert.Equal(t, r.ID, got["mid"].ReportID)

	pub.AssertExpectations(t)
}

func TestDispatcher_ResolutionRequestedSamplesVerifiers(t *testing.T) {
	s := store.NewMemoryStore()
	seedCitizens(t, s)

	d := NewDispatcher(s, nil, DefaultConfig(), zap.NewNop().Sugar())
	r := testReport()
	r.Status = models.StatusResolutionPending
	r.ResolutionVerification = &models.ResolutionVerification{RequestedBy: "admin", RequiredApprovals: 2}
	runDispatcher(d, func() { d.ResolutionRequested(r) })

	var verifiers []models.Notification
	var authorNote *models.Notification
	for _, n := range allNotifications(t, s, everyone()...) {
		n := n
		switch n.Type {
		case models.NotifyResolutionVerification:
			verifiers = append(verifiers, n)
		case models.NotifyReportResolved:
			authorNote = &n
		}
	}

	assert.Len(t, verifiers, 5)
	for _, n := range verifiers {
		assert.Contains(t, n.UserID, "close-", "verifiers must be within 500 m and not the requesting admin")
		assert.Contains(t, n.Link, r.ID.String())
	}
	require.NotNil(t, authorNote)
	assert.Equal(t, "author", authorNote.UserID)
}

func TestDispatcher_AuthorNotifications(t *testing.T) {
	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil, DefaultConfig(), zap.NewNop().Sugar())
	r := testReport()

	runDispatcher(d, func() {
		d.ReportVerified(r)
		d.ReportUpvoted(r, "neighbour")
		d.ReportUpvoted(r, "author")
		d.ResolutionRejected(r, "neighbour")
		d.ReportClosed(r)
	})

	ns, err := s.ListNotifications(context.Background(), "author", 0)
	require.NoError(t, err)

	types := map[models.NotificationType]int{}
	for _, n := range ns {
		types[n.Type]++
	}
	assert.Equal(t, map[models.NotificationType]int{
		models.NotifyReportVerified:     1,
		models.NotifyReportUpvoted:      1,
		models.NotifyResolutionRejected: 1,
		models.NotifyReportClosed:       1,
	}, types)
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil, Config{Workers: 1, QueueSize: 1, JobTimeout: time.Second}, zap.NewNop().Sugar())
	r := testReport()

	// nothing consumes yet, so the second job is dropped
	d.ReportVerified(r)
	d.ReportClosed(r)
	runDispatcher(d, func() {})

	ns, err := s.ListNotifications(context.Background(), "author", 0)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, models.NotifyReportVerified, ns[0].Type)
}

func TestDispatcher_PublisherFailureIsNotFatal(t *testing.T) {
	s := store.NewMemoryStore()
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(assert.AnError)

	d := NewDispatcher(s, pub, DefaultConfig(), zap.NewNop().Sugar())
	runDispatcher(d, func() { d.ReportClosed(testReport()) })

	ns, err := s.ListNotifications(context.Background(), "author", 0)
	require.NoError(t, err)
	assert.Len(t, ns, 1)
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestDispatcher_PanickingJobKeepsWorkerAlive(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil, Config{Workers: 1, QueueSize: 4, JobTimeout: time.Second}, zap.New(core).Sugar())

	runDispatcher(d, func() {
		d.enqueue("explode", func(ctx context.Context) error { panic("boom") })
		d.ReportClosed(testReport())
	})

	ns, err := s.ListNotifications(context.Background(), "author", 0)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, models.NotifyReportClosed, ns[0].Type)

	entries := logs.FilterMessage("Notification job panicked").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "explode", entries[0].ContextMap()["job"])
}
