package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/civicaudit/report-server/internal/lifecycle"
	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

func TestVote_VerifiesAndNotifies(t *testing.T) {
	f := newFixture(t)
	r := f.seed(t, "author", "Road", models.StatusPending, 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		out, err := f.votes.Vote(ctx, r.ID, fmt.Sprintf("voter-%d", i), lifecycle.VoteUp)
		require.NoError(t, err)
		assert.Equal(t, i, out.Report.Score)
	}

	got, err := f.store.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, got.Status)
	assert.Equal(t, models.PriorityHigh, got.AIAnalysis.Priority)

	f.notifier.AssertNumberOfCalls(t, "ReportVerified", 1)
	f.notifier.AssertNumberOfCalls(t, "ReportUpvoted", 3)

	logs, err := f.activity.FetchByReport(ctx, r.ID, 50)
	require.NoError(t, err)
	var verified int
	for _, l := range logs {
		if l.ActivityType == models.ActivityVerified {
			verified++
		}
	}
	assert.Equal(t, 1, verified)
}

func TestVote_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.seed(t, "author", "Road", models.StatusPending, 0)
	resolving := f.seed(t, "author", "Road", models.StatusResolutionPending, 0)
	closed := f.seed(t, "author", "Road", models.StatusClosed, 0)

	tests := []struct {
		name    string
		id      uuid.UUID
		voter   string
		vote    lifecycle.VoteType
		wantErr error
	}{
		{"author downvote", pending.ID, "author", lifecycle.VoteDown, lifecycle.ErrPermissionDenied},
		{"resolution pending", resolving.ID, "voter", lifecycle.VoteUp, lifecycle.ErrVotingSuspended},
		{"closed", closed.ID, "voter", lifecycle.VoteDown, lifecycle.ErrVotingSuspended},
		{"unknown report", uuid.New(), "voter", lifecycle.VoteUp, store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.votes.Vote(ctx, tt.id, tt.voter, tt.vote)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	got, err := f.store.GetReport(ctx, pending.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Downvotes)
	assert.Equal(t, 0, got.Score)
}

func TestVote_AuthorMayUpvote(t *testing.T) {
	f := newFixture(t)
	r := f.seed(t, "author", "Road", models.StatusPending, 0)

	out, err := f.votes.Vote(context.Background(), r.ID, "author", lifecycle.VoteUp)
	require.NoError(t, err)
	assert.Equal(t, []string{"author"}, out.Report.Upvotes)
	assert.Equal(t, lifecycle.VoteAdded, out.Result.Action)
	f.notifier.AssertCalled(t, "ReportUpvoted", mock.Anything, "author")
}

func TestVote_ConcurrentVotesNoLostUpdates(t *testing.T) {
	f := newFixture(t)
	r := f.seed(t, "author", "Road", models.StatusPending, 0)
	ctx := context.Background()

	const voters = 30
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vote := lifecycle.VoteUp
			if i%3 == 0 {
				vote = lifecycle.VoteDown
			}
			_, err := f.votes.Vote(ctx, r.ID, fmt.Sprintf("voter-%d", i), vote)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.store.GetReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.Upvotes, 20)
	assert.Len(t, got.Downvotes, 10)
	assert.Equal(t, 10, got.Score)
	assert.Equal(t, lifecycle.Score(got), got.Score)
}
