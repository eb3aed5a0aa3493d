package service

import (
	"context"
	"errors"
	"testing"

	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/repository"
	"github.com/iliyamo/citizen-report/internal/testutil"
	"github.com/iliyamo/citizen-report/internal/utils"
)

func TestNotificationService_ListsDirectAndAnonymousRows(t *testing.T) {
	hasher, _ := utils.NewAnonHasher("k", "")
	store := testutil.NewNotifications()
	svc := NewNotificationService(store, hasher)
	ctx := context.Background()

	hash := hasher.Hash("u-1")
	rows := []model.Notification{
		{ID: "n-1", EventID: "e-1", UserID: testutil.Ptr("u-1"), Message: "direct"},
		{ID: "n-2", EventID: "e-2", ReporterHash: &hash, Message: "anonymous"},
		{ID: "n-3", EventID: "e-3", UserID: testutil.Ptr("u-2"), Message: "someone else"},
	}
	for i := range rows {
		if _, err := store.InsertIgnore(ctx, &rows[i]); err != nil {
			t.Fatalf("InsertIgnore: %v", err)
		}
	}

	page, err := svc.List(ctx, "u-1", "all", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page.Notifications) != 2 || page.UnreadCount != 2 {
		t.Fatalf("page = %+v", page)
	}
	if page.Notifications[0].ID != "n-2" {
		t.Errorf("newest first: got %s", page.Notifications[0].ID)
	}

	if err := svc.MarkRead(ctx, "u-1", "n-2"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := svc.MarkRead(ctx, "u-1", "n-3"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("marking someone else's notification: err = %v", err)
	}
	page, _ = svc.List(ctx, "u-1", "unread", 10)
	if len(page.Notifications) != 1 || page.Notifications[0].ID != "n-1" || page.UnreadCount != 1 {
		t.Errorf("unread page = %+v", page)
	}

	n, err := svc.MarkAllRead(ctx, "u-1")
	if err != nil || n != 1 {
		t.Errorf("MarkAllRead = %d, %v", n, err)
	}
	page, _ = svc.List(ctx, "u-2", "unread", 10)
	if page.UnreadCount != 1 {
		t.Error("MarkAllRead touched another user's rows")
	}
}

func TestNotificationService_ListValidation(t *testing.T) {
	hasher, _ := utils.NewAnonHasher("k", "")
	svc := NewNotificationService(testutil.NewNotifications(), hasher)
	if _, err := svc.List(context.Background(), "u-1", "archived", 10); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad status filter: err = %v", err)
	}
	if _, err := svc.List(context.Background(), "", "all", 10); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing user: err = %v", err)
	}
}
