// Package models defines the data structures used across the application.
// JSON field names are part of the public contract consumed by the web
// clients and the admin dashboard.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType names a lifecycle event recorded in the audit trail
type ActivityType string

const (
	ActivityCreated             ActivityType = "created"
	ActivityVote                ActivityType = "vote"
	ActivityVerified            ActivityType = "verified"
	ActivityDemoted             ActivityType = "demoted"
	ActivityRejected            ActivityType = "rejected"
	ActivityStatusChanged       ActivityType = "status_changed"
	ActivityResolutionRequested ActivityType = "resolution_requested"
	ActivityResolutionVote      ActivityType = "resolution_vote"
	ActivityClosed              ActivityType = "closed"
	ActivityDeleted             ActivityType = "deleted"
)

// ActivityLog is one entry of a report's audit trail
type ActivityLog struct {
	ID           uuid.UUID    `json:"id"`
	ReportID     uuid.UUID    `json:"reportId"`
	ActivityType ActivityType `json:"activityType"`
	Actor        string       `json:"actor"`
	Description  string       `json:"description"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// NotificationType mirrors the notification kinds shown in the web client
type NotificationType string

const (
	NotifyNewReport              NotificationType = "new_report"
	NotifyReportVerified         NotificationType = "report_verified"
	NotifyReportUpvoted          NotificationType = "report_upvoted"
	NotifyReportResolved         NotificationType = "report_resolved"
	NotifyResolutionVerification NotificationType = "resolution_verification"
	NotifyReportClosed           NotificationType = "report_closed"
	NotifyResolutionRejected     NotificationType = "resolution_rejected"
)

// Notification is an in-app message addressed to one user
type Notification struct {
	ID        uuid.UUID        `json:"id"`
	UserID    string           `json:"userId"`
	ReportID  uuid.UUID        `json:"reportId"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Link      string           `json:"link,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Citizen is the slice of the user directory needed for fan-out targeting
type Citizen struct {
	ID                  string  `json:"id"`
	Name                string  `json:"name"`
	Role                string  `json:"role"`
	Lat                 float64 `json:"lat"`
	Lng                 float64 `json:"lng"`
	OnboardingCompleted bool    `json:"onboardingCompleted"`
}

// ReportFilter narrows admin report listings
type ReportFilter struct {
	Statuses []ReportStatus
	Priority Priority
	Offset   int
	Limit    int
}

// DashboardStats backs the admin dashboard counters
type DashboardStats struct {
	Total     int64 `json:"total"`
	Critical  int64 `json:"critical"`
	High      int64 `json:"high"`
	Resolved  int64 `json:"resolved"`
	Completed int64 `json:"completed"`
	Pending   int64 `json:"pending"`
	Verified  int64 `json:"verified"`
	Rejected  int64 `json:"rejected"`
}

// AnalyticsTrend represents aggregated report submissions per hour
type AnalyticsTrend struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// CategoryDistribution for pie/bar charts
type CategoryDistribution struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// HealthStatus represents the server health check response
type HealthStatus struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
}
