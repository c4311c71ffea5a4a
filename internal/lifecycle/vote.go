package lifecycle

import (
	"strings"
	"time"

	"github.com/civicaudit/report-server/internal/models"
)

// VoteType is the polarity of a citizen vote
type VoteType string

const (
	VoteUp   VoteType = "up"
	VoteDown VoteType = "down"
)

// ParseVoteType accepts up/down in any case
func ParseVoteType(s string) (VoteType, bool) {
	switch VoteType(strings.ToLower(strings.TrimSpace(s))) {
	case VoteUp:
		return VoteUp, true
	case VoteDown:
		return VoteDown, true
	}
	return "", false
}

// VoteAction says what a vote did to the voter's membership
type VoteAction string

const (
	VoteAdded    VoteAction = "added"
	VoteRemoved  VoteAction = "removed"
	VoteSwitched VoteAction = "switched"
)

// VoteResult summarizes the effect of one vote
type VoteResult struct {
	Action       VoteAction
	Transition   Transition
	PriorityFrom models.Priority
	PriorityTo   models.Priority
}

// Score is the net community score, always derived from the two sets
func Score(r *models.Report) int {
	return len(r.Upvotes) - len(r.Downvotes)
}

// ApplyVote toggles the voter's membership, recomputes the score and then
// applies the status and priority rules. On error the report is untouched.
func ApplyVote(r *models.Report, voterID string, vote VoteType, now time.Time) (VoteResult, error) {
	switch r.Status {
	case models.StatusResolutionPending, models.StatusClosed:
		return VoteResult{}, ErrVotingSuspended
	case models.StatusDeleted:
		return VoteResult{}, ErrInvalidTransition
	}
	if vote != VoteUp && vote != VoteDown {
		return VoteResult{}, ErrInvalidTransition
	}
	if vote == VoteDown && voterID == r.UserID {
		return VoteResult{}, ErrPermissionDenied
	}

	same, opposite := &r.Upvotes, &r.Downvotes
	if vote == VoteDown {
		same, opposite = &r.Downvotes, &r.Upvotes
	}

	res := VoteResult{PriorityFrom: r.AIAnalysis.Priority}
	switch {
	case remove(same, voterID):
		res.Action = VoteRemoved
	case remove(opposite, voterID):
		*same = append(*same, voterID)
		res.Action = VoteSwitched
	default:
		*same = append(*same, voterID)
		res.Action = VoteAdded
	}

	r.Score = Score(r)
	res.Transition = evaluateStatus(r, now)
	res.PriorityTo = escalatePriority(r)
	r.UpdatedAt = now

	return res, nil
}

// evaluateStatus applies exactly one of the score rules
func evaluateStatus(r *models.Report, now time.Time) Transition {
	switch {
	case r.Score >= VerifyScore && (r.Status == models.StatusPending || r.Status == models.StatusRejected):
		return setStatus(r, models.StatusVerified, now)
	case r.Score <= RejectScore:
		return setStatus(r, models.StatusRejected, now)
	case r.Status == models.StatusVerified && r.Score < 0:
		return setStatus(r, models.StatusPending, now)
	}
	return Transition{From: r.Status, To: r.Status}
}

// escalatePriority derives priority from the upvote count. A disputed
// CRITICAL report (net score below zero) drops to HIGH.
func escalatePriority(r *models.Report) models.Priority {
	p := r.AIAnalysis.Priority
	switch up := len(r.Upvotes); {
	case up >= 5:
		p = models.PriorityCritical
	case up >= 3:
		p = models.PriorityHigh
	case up >= 2:
		p = models.PriorityMedium
	}
	if p == models.PriorityCritical && r.Score < 0 {
		p = models.PriorityHigh
	}

	r.AIAnalysis.Priority = p
	r.AIAnalysis.IsCritical = p == models.PriorityCritical
	return p
}

func remove(set *[]string, id string) bool {
	for i, v := range *set {
		if v == id {
			*set = append((*set)[:i], (*set)[i+1:]...)
			return true
		}
	}
	return false
}
