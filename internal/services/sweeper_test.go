package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicaudit/report-server/internal/lifecycle"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

func rejectedAgo(t *testing.T, f *fixture, ago time.Duration, now time.Time) *models.Report {
	t.Helper()
	r := f.seed(t, "author", "Road", models.StatusPending, 0)
	_, err := f.store.MutateReport(context.Background(), r.ID, func(r *models.Report) error {
		_, err := lifecycle.AdminSetStatus(r, models.StatusRejected, "admin", 2, now.Add(-ago))
		return err
	})
	require.NoError(t, err)
	return r
}

func TestSweeper_DeletesOnlyExpired(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	old := rejectedAgo(t, f, 31*time.Minute, now)
	fresh := rejectedAgo(t, f, 10*time.Minute, now)

	w := NewSweeperWorker(f.store, f.activity, nil, 30*time.Minute, zap.NewNop().Sugar())
	w.now = func() time.Time { return now }

	swept, err := w.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, old.ID, swept[0])

	_, err = f.store.GetReport(context.Background(), old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	got, err := f.store.GetReport(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, got.Status)

	logs, err := f.activity.FetchByReport(context.Background(), old.ID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, models.ActivityDeleted, logs[0].ActivityType)
}

func TestSweeper_RecoveredReportSurvives(t *testing.T) {
	f := newFixture(t)
	now := time.Now()
	r := rejectedAgo(t, f, time.Hour, now)

	// the community rescues the report before the sweep runs
	for _, voter := range []string{"a", "b", "c"} {
		_, err := f.votes.Vote(context.Background(), r.ID, voter, lifecycle.VoteUp)
		require.NoError(t, err)
	}

	w := NewSweeperWorker(f.store, f.activity, nil, 30*time.Minute, zap.NewNop().Sugar())
	swept, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, swept)

	got, err := f.store.GetReport(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, got.Status)
	assert.Nil(t, got.RejectedAt)
}

func TestSweeper_StartStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	w := NewSweeperWorker(f.store, f.activity, nil, 0, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
