package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iliyamo/citizen-report/internal/model"
)

// NotificationRepo persists rows of 'notifications'. Rows are only inserted by
// the notification consumer; callers may flip is_read afterwards.
type NotificationRepo struct{ DB *sql.DB }

func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{DB: db} }

// InsertIgnore stores n unless a row with the same event_id already exists.
// It reports whether a new row was written; a duplicate is not an error.
func (r *NotificationRepo) InsertIgnore(ctx context.Context, n *model.Notification) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO notifications (id, event_id, user_id, reporter_hash, report_id, notification_type, message, is_read, created_at)
		 VALUES (?,?,?,?,?,?,?,FALSE,?)
		 ON DUPLICATE KEY UPDATE event_id = event_id`,
		n.ID, n.EventID, nullString(n.UserID), nullString(n.ReporterHash), nullString(n.ReportID),
		n.Type, n.Message, n.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// recipientClause matches rows addressed to either half of the recipient key.
func recipientClause(rc model.Recipient) (string, []any) {
	var (
		parts []string
		args  []any
	)
	if rc.UserID != "" {
		parts = append(parts, "user_id=?")
		args = append(args, rc.UserID)
	}
	if rc.ReporterHash != "" {
		parts = append(parts, "reporter_hash=?")
		args = append(args, rc.ReporterHash)
	}
	if len(parts) == 0 {
		return "FALSE", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// List returns the recipient's newest notifications (all or unread only)
// together with the total unread count.
func (r *NotificationRepo) List(ctx context.Context, rc model.Recipient, unreadOnly bool, limit int) ([]model.Notification, int, error) {
	where, args := recipientClause(rc)
	q := `SELECT id, event_id, user_id, reporter_hash, report_id, notification_type, message, is_read, created_at
	      FROM notifications WHERE ` + where
	if unreadOnly {
		q += " AND is_read=FALSE"
	}
	q += " ORDER BY created_at DESC, id LIMIT ?"
	rows, err := r.DB.QueryContext(ctx, q, append(append([]any{}, args...), limit)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Notification, 0)
	for rows.Next() {
		var (
			n                      model.Notification
			userID, hash, reportID sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.EventID, &userID, &hash, &reportID, &n.Type, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		if userID.Valid {
			v := userID.String
			n.UserID = &v
		}
		if hash.Valid {
			v := hash.String
			n.ReporterHash = &v
		}
		if reportID.Valid {
			v := reportID.String
			n.ReportID = &v
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var unread int
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE "+where+" AND is_read=FALSE", args...).Scan(&unread); err != nil {
		return nil, 0, err
	}
	return out, unread, nil
}

// MarkRead flips is_read on one notification owned by the recipient. It
// returns ErrNotFound when no such notification belongs to them.
func (r *NotificationRepo) MarkRead(ctx context.Context, id string, rc model.Recipient) error {
	where, args := recipientClause(rc)
	var exists int
	err := r.DB.QueryRowContext(ctx,
		"SELECT 1 FROM notifications WHERE id=? AND "+where+" LIMIT 1",
		append([]any{id}, args...)...).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx,
		"UPDATE notifications SET is_read=TRUE WHERE id=? AND "+where,
		append([]any{id}, args...)...)
	return err
}

// MarkAllRead flips is_read on every unread notification of the recipient and
// returns how many rows changed.
func (r *NotificationRepo) MarkAllRead(ctx context.Context, rc model.Recipient) (int64, error) {
	where, args := recipientClause(rc)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE notifications SET is_read=TRUE WHERE is_read=FALSE AND "+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
