package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReportStatus is the moderation state of a report
type ReportStatus string

const (
	StatusPending           ReportStatus = "Pending"
	StatusVerified          ReportStatus = "Verified"
	StatusResolutionPending ReportStatus = "Resolution Pending"
	// StatusResolved is accepted from admins but never stored; it is
	// rewritten to StatusResolutionPending before persistence.
	StatusResolved ReportStatus = "Resolved"
	StatusClosed   ReportStatus = "Closed"
	StatusRejected ReportStatus = "Rejected"
	StatusDeleted  ReportStatus = "Deleted"
)

// AllStatuses lists every named status, including the Resolved alias
var AllStatuses = []ReportStatus{
	StatusPending, StatusVerified, StatusResolutionPending, StatusResolved,
	StatusClosed, StatusRejected, StatusDeleted,
}

// ParseStatus matches a status name case-insensitively
func ParseStatus(s string) (ReportStatus, bool) {
	for _, st := range AllStatuses {
		if strings.EqualFold(string(st), strings.TrimSpace(s)) {
			return st, true
		}
	}
	return "", false
}

// IsActive reports whether a report in this status blocks duplicate submissions
func (s ReportStatus) IsActive() bool {
	return s == StatusPending || s == StatusVerified
}

// Priority is the triage level assigned by the classifier or the community
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// ParsePriority normalizes a priority string; unknown values become LOW
func ParsePriority(s string) Priority {
	switch Priority(strings.ToUpper(strings.TrimSpace(s))) {
	case PriorityCritical:
		return PriorityCritical
	case PriorityHigh:
		return PriorityHigh
	case PriorityMedium:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Rank orders priorities for admin listings, CRITICAL first
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	}
	return 99
}

// GeoPoint is a GeoJSON point. Coordinates are [longitude, latitude].
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewPoint builds a GeoJSON point from latitude and longitude
func NewPoint(lat, lng float64) GeoPoint {
	return GeoPoint{Type: "Point", Coordinates: [2]float64{lng, lat}}
}

func (p GeoPoint) Lat() float64 { return p.Coordinates[1] }
func (p GeoPoint) Lng() float64 { return p.Coordinates[0] }

// AIAnalysis holds the classifier's verdict, later adjusted by community votes
type AIAnalysis struct {
	Priority       Priority   `json:"priority"`
	IsCritical     bool       `json:"isCritical"`
	SentimentScore float64    `json:"sentimentScore"`
	Keywords       []string   `json:"keywords"`
	ProcessedAt    *time.Time `json:"processedAt,omitempty"`
}

// ResolutionVerification tracks peer approval of an admin's resolution claim
type ResolutionVerification struct {
	RequestedBy       string     `json:"requestedBy"`
	RequestedAt       time.Time  `json:"requestedAt"`
	Approvals         []string   `json:"approvals"`
	Rejections        []string   `json:"rejections"`
	RequiredApprovals int        `json:"requiredApprovals"`
	ClosedAt          *time.Time `json:"closedAt"`
}

// HasVoted reports whether the user already approved or rejected
func (rv *ResolutionVerification) HasVoted(userID string) bool {
	return contains(rv.Approvals, userID) || contains(rv.Rejections, userID)
}

// Report is a citizen-submitted civic issue and its moderation state
type Report struct {
	ID                     uuid.UUID               `json:"id"`
	UserID                 string                  `json:"userId"`
	Title                  string                  `json:"title"`
	Description            string                  `json:"description"`
	Category               string                  `json:"category"`
	ImageURL               string                  `json:"imageUrl"`
	Location               GeoPoint                `json:"location"`
	Status                 ReportStatus            `json:"status"`
	AIAnalysis             AIAnalysis              `json:"aiAnalysis"`
	Upvotes                []string                `json:"upvotes"`
	Downvotes              []string                `json:"downvotes"`
	Score                  int                     `json:"score"`
	RejectedAt             *time.Time              `json:"rejectedAt,omitempty"`
	ResolutionVerification *ResolutionVerification `json:"resolutionVerification,omitempty"`
	CreatedAt              time.Time               `json:"createdAt"`
	UpdatedAt              time.Time               `json:"updatedAt"`

	// Version is the optimistic-concurrency counter maintained by the store
	Version int64 `json:"-"`
}

// HasUpvoted reports whether userID is in the upvote set
func (r *Report) HasUpvoted(userID string) bool { return contains(r.Upvotes, userID) }

// HasDownvoted reports whether userID is in the downvote set
func (r *Report) HasDownvoted(userID string) bool { return contains(r.Downvotes, userID) }

// Clone returns a deep copy so callers can mutate it without sharing slices
func (r *Report) Clone() *Report {
	c := *r
	c.Upvotes = cloneStrings(r.Upvotes)
	c.Downvotes = cloneStrings(r.Downvotes)
	c.AIAnalysis.Keywords = cloneStrings(r.AIAnalysis.Keywords)
	if r.AIAnalysis.ProcessedAt != nil {
		t := *r.AIAnalysis.ProcessedAt
		c.AIAnalysis.ProcessedAt = &t
	}
	if r.RejectedAt != nil {
		t := *r.RejectedAt
		c.RejectedAt = &t
	}
	if r.ResolutionVerification != nil {
		rv := *r.ResolutionVerification
		rv.Approvals = cloneStrings(r.ResolutionVerification.Approvals)
		rv.Rejections = cloneStrings(r.ResolutionVerification.Rejections)
		if r.ResolutionVerification.ClosedAt != nil {
			t := *r.ResolutionVerification.ClosedAt
			rv.ClosedAt = &t
		}
		c.ResolutionVerification = &rv
	}
	return &c
}

// cloneStrings copies s and keeps nil and empty distinct
func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func contains(set []string, id string) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
