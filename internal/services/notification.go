package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/civicaudit/report-server/internal/models"
	"github.com/civicaudit/report-server/internal/store"
)

const notificationPageSize = 50

// NotificationService reads and acknowledges in-app notifications
type NotificationService struct {
	store store.NotificationStore
}

// NewNotificationService creates a new notification service
func NewNotificationService(s store.NotificationStore) *NotificationService {
	return &NotificationService{store: s}
}

// List returns the user's latest notifications and how many are unread
func (s *NotificationService) List(ctx context.Context, userID string) ([]models.Notification, int, error) {
	ns, err := s.store.ListNotifications(ctx, userID, notificationPageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	unread := 0
	for _, n := range ns {
		if !n.Read {
			unread++
		}
	}
	return ns, unread, nil
}

// MarkRead marks one of the user's notifications read
func (s *NotificationService) MarkRead(ctx context.Context, userID string, id uuid.UUID) error {
	return s.store.MarkNotificationRead(ctx, userID, id)
}

// MarkAllRead marks every unread notification of the user read
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}
