// Package lifecycle owns every report status transition. The vote, resolution,
// admin and retention paths all call into this package so the state machine
// lives in exactly one place. Functions mutate the report they are given and
// never touch storage; callers run them inside a store mutation.
package lifecycle

import (
	"errors"
	"strings"
	"time"

	"github.com/civicaudit/report-server/internal/models"
)

var (
	// ErrPermissionDenied is returned for self-downvotes and for the requesting
	// admin voting on their own resolution claim.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrAlreadyVoted is returned for a repeated resolution vote
	ErrAlreadyVoted = errors.New("already voted on this resolution")
	// ErrVotingSuspended is returned for up/down votes while a report awaits
	// or has completed resolution consensus.
	ErrVotingSuspended = errors.New("voting is suspended for this report")
	// ErrInvalidTransition is returned when the requested change is not
	// reachable from the report's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	// VerifyScore promotes Pending or Rejected reports to Verified
	VerifyScore = 3
	// RejectScore rejects a report
	RejectScore = -3
	// DefaultRequiredApprovals is the peer approvals needed to close a report
	DefaultRequiredApprovals = 2
)

// Transition records a status change; From == To when nothing changed
type Transition struct {
	From models.ReportStatus
	To   models.ReportStatus
}

// Changed reports whether the status actually moved
func (t Transition) Changed() bool { return t.From != t.To }

// InitialStatus is the status a freshly ingested report starts in
func InitialStatus(p models.Priority) models.ReportStatus {
	if p == models.PriorityCritical {
		return models.StatusVerified
	}
	return models.StatusPending
}

// setStatus is the only writer of Report.Status. It keeps RejectedAt in sync:
// stamped on entry into Rejected, cleared on exit.
func setStatus(r *models.Report, to models.ReportStatus, now time.Time) Transition {
	from := r.Status
	if from == to {
		return Transition{From: from, To: to}
	}

	r.Status = to
	switch {
	case to == models.StatusRejected:
		stamp := now
		r.RejectedAt = &stamp
	case from == models.StatusRejected:
		r.RejectedAt = nil
	}
	r.UpdatedAt = now

	return Transition{From: from, To: to}
}

// AdminSetStatus applies an administrator's status change. Resolved is never
// stored: it opens resolution consensus and leaves the report Resolution Pending.
func AdminSetStatus(r *models.Report, to models.ReportStatus, adminID string, requiredApprovals int, now time.Time) (Transition, error) {
	if r.Status == models.StatusDeleted {
		return Transition{From: r.Status, To: r.Status}, ErrInvalidTransition
	}

	switch to {
	case models.StatusResolved:
		if r.Status == models.StatusResolutionPending || r.Status == models.StatusClosed {
			return Transition{From: r.Status, To: r.Status}, ErrInvalidTransition
		}
		if requiredApprovals <= 0 {
			requiredApprovals = DefaultRequiredApprovals
		}
		r.ResolutionVerification = &models.ResolutionVerification{
			RequestedBy:       adminID,
			RequestedAt:       now,
			Approvals:         []string{},
			Rejections:        []string{},
			RequiredApprovals: requiredApprovals,
		}
		return setStatus(r, models.StatusResolutionPending, now), nil

	case models.StatusPending, models.StatusVerified, models.StatusRejected:
		return setStatus(r, to, now), nil
	}

	return Transition{From: r.Status, To: r.Status}, ErrInvalidTransition
}

// Decision is a peer's verdict on a resolution claim
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// ParseDecision accepts approve/reject in any case
func ParseDecision(s string) (Decision, bool) {
	switch Decision(strings.ToLower(strings.TrimSpace(s))) {
	case DecisionApprove:
		return DecisionApprove, true
	case DecisionReject:
		return DecisionReject, true
	}
	return "", false
}

// ResolutionResult describes the effect of one resolution vote
type ResolutionResult struct {
	Transition Transition
	// NoOp is set when the report was already Closed
	NoOp bool
}

// CastResolutionVote records a peer's approve/reject. Neither the report's
// author nor the requesting admin may vote. Reaching the required approvals
// closes the report. Rejections are kept for audit and never reopen it.
func CastResolutionVote(r *models.Report, voterID string, d Decision, now time.Time) (ResolutionResult, error) {
	if r.Status == models.StatusClosed {
		return ResolutionResult{Transition: Transition{From: r.Status, To: r.Status}, NoOp: true}, nil
	}

	rv := r.ResolutionVerification
	if r.Status != models.StatusResolutionPending || rv == nil {
		return ResolutionResult{}, ErrInvalidTransition
	}
	if voterID == rv.RequestedBy || voterID == r.UserID {
		return ResolutionResult{}, ErrPermissionDenied
	}
	if rv.HasVoted(voterID) {
		return ResolutionResult{}, ErrAlreadyVoted
	}

	res := ResolutionResult{Transition: Transition{From: r.Status, To: r.Status}}
	switch d {
	case DecisionApprove:
		rv.Approvals = append(rv.Approvals, voterID)
		if len(rv.Approvals) >= rv.RequiredApprovals {
			closed := now
			rv.ClosedAt = &closed
			res.Transition = setStatus(r, models.StatusClosed, now)
		}
	case DecisionReject:
		rv.Rejections = append(rv.Rejections, voterID)
	default:
		return ResolutionResult{}, ErrInvalidTransition
	}
	r.UpdatedAt = now

	return res, nil
}

// Expired reports whether a Rejected report is past its retention window
func Expired(r *models.Report, cutoff time.Time) bool {
	return r.Status == models.StatusRejected && r.RejectedAt != nil && !r.RejectedAt.After(cutoff)
}

// SoftDelete moves an expired Rejected report to Deleted
func SoftDelete(r *models.Report, cutoff, now time.Time) (Transition, error) {
	if !Expired(r, cutoff) {
		return Transition{From: r.Status, To: r.Status}, ErrInvalidTransition
	}
	return setStatus(r, models.StatusDeleted, now), nil
}
