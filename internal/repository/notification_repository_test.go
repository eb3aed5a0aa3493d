package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/iliyamo/citizen-report/internal/model"
)

func TestInsertIgnore_AffectedRows(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"new event", 1, true},
		{"duplicate event", 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := newMock(t)
			at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
			hash, report := "abc123", "r-1"

			mock.ExpectExec(`INSERT INTO notifications .+ ON DUPLICATE KEY UPDATE event_id = event_id`).
				WithArgs("n-1", "ev-1", nil, hash, report, "status_change", "Report status changed from submitted to routed", at).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			got, err := NewNotificationRepo(db).InsertIgnore(context.Background(), &model.Notification{
				ID:           "n-1",
				EventID:      "ev-1",
				ReporterHash: &hash,
				ReportID:     &report,
				Type:         "status_change",
				Message:      "Report status changed from submitted to routed",
				CreatedAt:    at,
			})
			if err != nil {
				t.Fatalf("InsertIgnore: %v", err)
			}
			if got != tc.want {
				t.Errorf("inserted = %v, want %v", got, tc.want)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestMarkRead_OtherRecipientIsNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM notifications WHERE id=? AND (user_id=? OR reporter_hash=?) LIMIT 1")).
		WithArgs("n-1", "u-2", "h-2").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))

	err := NewNotificationRepo(db).MarkRead(context.Background(), "n-1", model.Recipient{UserID: "u-2", ReporterHash: "h-2"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestMarkAllRead_ReturnsChangedRows(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read=TRUE WHERE is_read=FALSE AND (user_id=?)")).
		WithArgs("u-1").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewNotificationRepo(db).MarkAllRead(context.Background(), model.Recipient{UserID: "u-1"})
	if err != nil || n != 3 {
		t.Fatalf("MarkAllRead = %d, %v", n, err)
	}
	expectationsMet(t, mock)
}
