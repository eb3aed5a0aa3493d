package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/citizen-report/internal/model"
)

// StatusTx is the set of statements a status transition runs inside one
// database transaction. Implementations must not commit; the caller of
// ReportRepo.WithinStatusTx commits when the callback returns nil and rolls
// back otherwise.
type StatusTx interface {
	// GetForUpdate loads the report and locks its row until the end of the
	// transaction. Returns ErrNotFound when it does not exist.
	GetForUpdate(ctx context.Context, id string) (*model.Report, error)
	// UpdateStatus writes the new status and updated_at, and the assigned
	// department when departmentID is non-nil.
	UpdateStatus(ctx context.Context, id string, status model.Status, departmentID *string, at time.Time) error
	// InsertHistory appends one status history row.
	InsertHistory(ctx context.Context, e *model.StatusHistoryEntry) error
}

// ReportRepo provides access to reports, report_status_history and
// anonymous_reporters. All timestamps are stored in UTC.
type ReportRepo struct {
	db *sql.DB
}

// NewReportRepo returns a new ReportRepo bound to the provided database.
func NewReportRepo(db *sql.DB) *ReportRepo { return &ReportRepo{db: db} }

const reportColumns = `id, reporter_id, title, description, category, visibility, status,
       location_lat, location_lng, location_address, assigned_department_id,
       upvote_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(s rowScanner) (*model.Report, error) {
	var (
		rep                model.Report
		reporterID, deptID sql.NullString
		lat, lng           sql.NullFloat64
		address            sql.NullString
	)
	err := s.Scan(&rep.ID, &reporterID, &rep.Title, &rep.Description, &rep.Category, &rep.Visibility, &rep.Status,
		&lat, &lng, &address, &deptID, &rep.UpvoteCount, &rep.CreatedAt, &rep.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if reporterID.Valid {
		v := reporterID.String
		rep.ReporterID = &v
	}
	if deptID.Valid {
		v := deptID.String
		rep.AssignedDepartmentID = &v
	}
	if lat.Valid && lng.Valid {
		rep.Location = &model.Location{Lat: lat.Float64, Lng: lng.Float64}
		if address.Valid {
			a := address.String
			rep.Location.Address = &a
		}
	}
	return &rep, nil
}

// Create inserts the report and, when ownerHash is non-empty, its anonymous
// owner mapping in a single transaction. CreatedAt and UpdatedAt must be set.
func (r *ReportRepo) Create(ctx context.Context, rep *model.Report, ownerHash string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var lat, lng any
	var address any
	if rep.Location != nil {
		lat, lng = rep.Location.Lat, rep.Location.Lng
		if rep.Location.Address != nil {
			address = *rep.Location.Address
		}
	}
	const q = `INSERT INTO reports (id, reporter_id, title, description, category, visibility, status,
	                                location_lat, location_lng, location_address, upvote_count, created_at, updated_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, rep.ID, nullString(rep.ReporterID), rep.Title, rep.Description,
		rep.Category, rep.Visibility, rep.Status, lat, lng, address, rep.CreatedAt.UTC(), rep.UpdatedAt.UTC()); err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	if ownerHash != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO anonymous_reporters (report_id, reporter_hash, created_at) VALUES (?, ?, ?)`,
			rep.ID, ownerHash, rep.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert anonymous reporter: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// GetByID fetches a report. Returns ErrNotFound when it does not exist.
func (r *ReportRepo) GetByID(ctx context.Context, id string) (*model.Report, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)
	return scanReport(row)
}

// AnonymousHash returns the owner hash stored for an anonymous report, or
// ErrNotFound when the report has no mapping.
func (r *ReportRepo) AnonymousHash(ctx context.Context, reportID string) (string, error) {
	var hash string
	err := r.db.QueryRowContext(ctx,
		`SELECT reporter_hash FROM anonymous_reporters WHERE report_id = ? LIMIT 1`, reportID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return hash, err
}

// History returns the status history of a report, oldest first.
func (r *ReportRepo) History(ctx context.Context, reportID string) ([]model.StatusHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, report_id, old_status, new_status, changed_by, notes, created_at
		 FROM report_status_history WHERE report_id = ? ORDER BY created_at, id`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := make([]model.StatusHistoryEntry, 0)
	for rows.Next() {
		var (
			e         model.StatusHistoryEntry
			by, notes sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ReportID, &e.OldStatus, &e.NewStatus, &by, &notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		if by.Valid {
			v := by.String
			e.ChangedBy = &v
		}
		if notes.Valid {
			v := notes.String
			e.Notes = &v
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListStale returns the ids of reports whose status is one of statuses and
// whose most recent history row (or creation time when there is none) is
// older than cutoff.
func (r *ReportRepo) ListStale(ctx context.Context, statuses []model.Status, cutoff time.Time) ([]string, error) {
	if len(statuses) == 0 {
		return []string{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	query := `SELECT r.id
	          FROM reports r
	          LEFT JOIN (
	              SELECT report_id, MAX(created_at) AS last_at
	              FROM report_status_history
	              GROUP BY report_id
	          ) h ON h.report_id = r.id
	          WHERE r.status IN (` + placeholders + `)
	            AND COALESCE(h.last_at, r.created_at) < ?
	          ORDER BY r.created_at`
	args := make([]any, 0, len(statuses)+1)
	for _, s := range statuses {
		args = append(args, s)
	}
	args = append(args, cutoff.UTC())

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReportScope selects which reports a listing may return.
type ReportScope int

const (
	// ScopePublic lists public reports.
	ScopePublic ReportScope = iota
	// ScopeOwned lists the private and anonymous reports filed by
	// ReporterID, or by OwnerHash through the anonymous mapping.
	ScopeOwned
	// ScopeDepartment lists the private and anonymous reports of Department.
	ScopeDepartment
	// ScopeRestricted lists every private and anonymous report.
	ScopeRestricted
)

// ReportSortColumns are the columns a listing may be ordered by. Anything
// else falls back to created_at.
var ReportSortColumns = []string{"created_at", "updated_at", "title", "status", "upvote_count"}

// ReportQuery filters and pages a report listing. Status and Category are
// optional filters applied on top of Scope.
type ReportQuery struct {
	Scope      ReportScope
	ReporterID string
	OwnerHash  string
	Department model.Category

	Status   model.Status
	Category model.Category

	SortBy    string
	Ascending bool
	Limit     int
	Offset    int
}

// OrderBy returns the whitelisted ORDER BY clause. id breaks ties so pages
// are stable.
func (q ReportQuery) OrderBy() string {
	col := "created_at"
	for _, c := range ReportSortColumns {
		if q.SortBy == c {
			col = c
			break
		}
	}
	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}
	return col + " " + dir + ", id " + dir
}

// where builds the WHERE clause and its arguments.
func (q ReportQuery) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	restricted := func() {
		conds = append(conds, "visibility IN (?, ?)")
		args = append(args, model.VisibilityPrivate, model.VisibilityAnonymous)
	}
	switch q.Scope {
	case ScopeOwned:
		restricted()
		conds = append(conds, "(reporter_id = ? OR id IN (SELECT report_id FROM anonymous_reporters WHERE reporter_hash = ?))")
		args = append(args, q.ReporterID, q.OwnerHash)
	case ScopeDepartment:
		restricted()
		conds = append(conds, "category = ?")
		args = append(args, q.Department)
	case ScopeRestricted:
		restricted()
	default:
		conds = append(conds, "visibility = ?")
		args = append(args, model.VisibilityPublic)
	}
	if q.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, q.Status)
	}
	if q.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, q.Category)
	}
	return strings.Join(conds, " AND "), args
}

// List returns one page of reports matching q and the total number of
// matches.
func (r *ReportRepo) List(ctx context.Context, q ReportQuery) ([]model.Report, int, error) {
	where, args := q.where()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reports WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	query := `SELECT ` + reportColumns + ` FROM reports WHERE ` + where +
		` ORDER BY ` + q.OrderBy() + ` LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	reports := make([]model.Report, 0)
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, 0, err
		}
		reports = append(reports, *rep)
	}
	return reports, total, rows.Err()
}

// WithinStatusTx runs fn inside a transaction and commits when it returns nil.
// Any error, including a failed commit, rolls the transaction back.
func (r *ReportRepo) WithinStatusTx(ctx context.Context, fn func(tx StatusTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&sqlStatusTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

type sqlStatusTx struct {
	tx *sql.Tx
}

func (s *sqlStatusTx) GetForUpdate(ctx context.Context, id string) (*model.Report, error) {
	row := s.tx.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ? FOR UPDATE`, id)
	return scanReport(row)
}

func (s *sqlStatusTx) UpdateStatus(ctx context.Context, id string, status model.Status, departmentID *string, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	if departmentID != nil {
		res, err = s.tx.ExecContext(ctx,
			`UPDATE reports SET status = ?, assigned_department_id = ?, updated_at = ? WHERE id = ?`,
			status, *departmentID, at.UTC(), id)
	} else {
		res, err = s.tx.ExecContext(ctx,
			`UPDATE reports SET status = ?, updated_at = ? WHERE id = ?`,
			status, at.UTC(), id)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStatusTx) InsertHistory(ctx context.Context, e *model.StatusHistoryEntry) error {
	res, err := s.tx.ExecContext(ctx,
		`INSERT INTO report_status_history (report_id, old_status, new_status, changed_by, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ReportID, e.OldStatus, e.NewStatus, nullString(e.ChangedBy), nullString(e.Notes), e.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = uint64(id)
	}
	return nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
