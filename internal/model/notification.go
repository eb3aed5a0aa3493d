package model

import "time"

// NotificationTypeStatusChange marks notifications produced from
// REPORT_STATUS_CHANGED events.
const NotificationTypeStatusChange = "status_change"

// Department is a row of `departments`. Code equals exactly one Category.
type Department struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Notification is a row of `notifications`. A recipient is addressed either by
// UserID or, for anonymous reports, by ReporterHash. EventID is unique and
// makes redelivered events collapse into one row.
type Notification struct {
	ID           string    `json:"id"`
	EventID      string    `json:"-"`
	UserID       *string   `json:"-"`
	ReporterHash *string   `json:"-"`
	ReportID     *string   `json:"report_id"`
	Type         string    `json:"notification_type"`
	Message      string    `json:"message"`
	IsRead       bool      `json:"is_read"`
	CreatedAt    time.Time `json:"created_at"`
}

// Recipient identifies whose notifications are being read or updated. A row
// matches when either its user id equals UserID or its reporter hash equals
// ReporterHash.
type Recipient struct {
	UserID       string
	ReporterHash string
}
