package service

import (
	"context"
	"fmt"

	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/utils"
)

const (
	DefaultNotificationLimit = 20
	MaxNotificationLimit     = 100
)

// NotificationStore is the read/update side of the notifications table.
// *repository.NotificationRepo satisfies it.
type NotificationStore interface {
	List(ctx context.Context, rc model.Recipient, unreadOnly bool, limit int) ([]model.Notification, int, error)
	MarkRead(ctx context.Context, id string, rc model.Recipient) error
	MarkAllRead(ctx context.Context, rc model.Recipient) (int64, error)
}

// NotificationPage is one listing of a user's notifications.
type NotificationPage struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unread_count"`
}

// NotificationService serves a user's notifications. A user sees rows
// addressed to their id and rows addressed to their anonymous hash.
type NotificationService struct {
	store  NotificationStore
	hasher *utils.AnonHasher
}

func NewNotificationService(store NotificationStore, hasher *utils.AnonHasher) *NotificationService {
	return &NotificationService{store: store, hasher: hasher}
}

// RecipientFor builds the recipient key of a user.
func (s *NotificationService) RecipientFor(userID string) model.Recipient {
	return model.Recipient{UserID: userID, ReporterHash: s.hasher.Hash(userID)}
}

// List returns notifications for userID. status is "all" (default) or
// "unread"; limit is clamped to [1, MaxNotificationLimit].
func (s *NotificationService) List(ctx context.Context, userID, status string, limit int) (NotificationPage, error) {
	if userID == "" {
		return NotificationPage{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	var unreadOnly bool
	switch status {
	case "", "all":
	case "unread":
		unreadOnly = true
	default:
		return NotificationPage{}, fmt.Errorf("%w: status must be all or unread", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}
	if limit > MaxNotificationLimit {
		limit = MaxNotificationLimit
	}
	items, unread, err := s.store.List(ctx, s.RecipientFor(userID), unreadOnly, limit)
	if err != nil {
		return NotificationPage{}, err
	}
	return NotificationPage{Notifications: items, UnreadCount: unread}, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	return s.store.MarkRead(ctx, id, s.RecipientFor(userID))
}

// MarkAllRead marks every unread notification of the user as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.store.MarkAllRead(ctx, s.RecipientFor(userID))
}
