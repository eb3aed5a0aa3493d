package model

import "time"

// Category is the fixed report classification shared with Department.Code.
type Category string

const (
	CategoryCrime          Category = "crime"
	CategoryCleanliness    Category = "cleanliness"
	CategoryHealth         Category = "health"
	CategoryInfrastructure Category = "infrastructure"
	CategoryOther          Category = "other"
)

// Categories lists every valid category in display order.
var Categories = []Category{
	CategoryCrime,
	CategoryCleanliness,
	CategoryHealth,
	CategoryInfrastructure,
	CategoryOther,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// Visibility controls who can see a report and whether its owner is stored.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityPrivate   Visibility = "private"
	VisibilityAnonymous Visibility = "anonymous"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityAnonymous:
		return true
	}
	return false
}

// Status is a report lifecycle state.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusRouted     Status = "routed"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusEscalated  Status = "escalated"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusRouted, StatusInProgress, StatusResolved, StatusEscalated, StatusCancelled:
		return true
	}
	return false
}

// Location is the optional geolocation attached to a report.
type Location struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address *string `json:"address,omitempty"`
}

// Report mirrors a row of the `reports` table.
//
// Fields:
//
//	ID                   – UUID primary key.
//	ReporterID           – owner user id; always nil for anonymous reports.
//	AssignedDepartmentID – set when the report is routed.
//	UpvoteCount          – public upvote counter.
type Report struct {
	ID                   string     `json:"id"`
	ReporterID           *string    `json:"reporter_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Category             Category   `json:"category"`
	Visibility           Visibility `json:"visibility"`
	Status               Status     `json:"status"`
	Location             *Location  `json:"location,omitempty"`
	AssignedDepartmentID *string    `json:"assigned_department_id"`
	UpvoteCount          int        `json:"upvote_count"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// StatusHistoryEntry is one append-only row of `report_status_history`.
type StatusHistoryEntry struct {
	ID        uint64    `json:"id"`
	ReportID  string    `json:"report_id"`
	OldStatus Status    `json:"old_status"`
	NewStatus Status    `json:"new_status"`
	ChangedBy *string   `json:"changed_by,omitempty"`
	Notes     *string   `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AnonymousReporter maps an anonymous report to the keyed hash of its owner.
type AnonymousReporter struct {
	ReportID     string
	ReporterHash string
	CreatedAt    time.Time
}
