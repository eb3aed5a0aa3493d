// Package testutil provides in-memory stand-ins for the MySQL repositories
// and small helpers shared by tests of the service, worker and handler
// packages.
//
// [Reports], [Departments] and [Notifications] mirror the behaviour of
// their repository counterparts closely enough for lifecycle tests: status
// transactions are serialised and roll back on error, notification inserts
// are idempotent on event id and stale-report selection uses the latest
// history timestamp.
//
// Failures are injected per operation with Fail.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/repository"
)

// Operation names accepted by Reports.Fail.
const (
	OpCreate        = "create"
	OpGet           = "get"
	OpUpdateStatus  = "update_status"
	OpInsertHistory = "insert_history"
	OpListStale     = "list_stale"
	OpAnonHash      = "anon_hash"
	OpList          = "list"
)

// Reports is an in-memory report store.
type Reports struct {
	mu      sync.Mutex
	reports map[string]model.Report
	history []model.StatusHistoryEntry
	anon    map[string]string
	fail    map[string]error
	nextID  uint64
	commits int
}

func NewReports() *Reports {
	return &Reports{
		reports: make(map[string]model.Report),
		anon:    make(map[string]string),
		fail:    make(map[string]error),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Reports) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Put stores a report as-is, bypassing validation. ownerHash, when
// non-empty, records the anonymous mapping.
func (s *Reports) Put(rep model.Report, ownerHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[rep.ID] = rep
	if ownerHash != "" {
		s.anon[rep.ID] = ownerHash
	}
}

// AddHistory appends a history row directly.
func (s *Reports) AddHistory(e model.StatusHistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	s.history = append(s.history, e)
}

// Snapshot returns a copy of the stored report and whether it exists.
func (s *Reports) Snapshot(id string) (model.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.reports[id]
	return rep, ok
}

// HistoryLen returns the number of history rows for a report.
func (s *Reports) HistoryLen(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.history {
		if e.ReportID == id {
			n++
		}
	}
	return n
}

// Commits returns how many status transactions committed.
func (s *Reports) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Reports) Create(ctx context.Context, rep *model.Report, ownerHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpCreate]; err != nil {
		return err
	}
	if _, ok := s.reports[rep.ID]; ok {
		return repository.ErrConflict
	}
	s.reports[rep.ID] = *rep
	if ownerHash != "" {
		s.anon[rep.ID] = ownerHash
	}
	return nil
}

func (s *Reports) GetByID(ctx context.Context, id string) (*model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpGet]; err != nil {
		return nil, err
	}
	rep, ok := s.reports[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rep, nil
}

func (s *Reports) AnonymousHash(ctx context.Context, reportID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpAnonHash]; err != nil {
		return "", err
	}
	h, ok := s.anon[reportID]
	if !ok {
		return "", repository.ErrNotFound
	}
	return h, nil
}

func (s *Reports) History(ctx context.Context, reportID string) ([]model.StatusHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.StatusHistoryEntry, 0)
	for _, e := range s.history {
		if e.ReportID == reportID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Reports) ListStale(ctx context.Context, statuses []model.Status, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpListStale]; err != nil {
		return nil, err
	}
	want := make(map[model.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	last := make(map[string]time.Time)
	for _, e := range s.history {
		if e.CreatedAt.After(last[e.ReportID]) {
			last[e.ReportID] = e.CreatedAt
		}
	}
	var stale []model.Report
	for id, rep := range s.reports {
		if !want[rep.Status] {
			continue
		}
		at, ok := last[id]
		if !ok {
			at = rep.CreatedAt
		}
		if at.Before(cutoff) {
			stale = append(stale, rep)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	ids := make([]string, 0, len(stale))
	for _, rep := range stale {
		ids = append(ids, rep.ID)
	}
	return ids, nil
}

// List applies the scope, filters, ordering and paging of q the way the
// SQL listing does.
func (s *Reports) List(ctx context.Context, q repository.ReportQuery) ([]model.Report, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[OpList]; err != nil {
		return nil, 0, err
	}
	var matched []model.Report
	for id, rep := range s.reports {
		if !inScope(q, rep, s.anon[id]) {
			continue
		}
		if q.Status != "" && rep.Status != q.Status {
			continue
		}
		if q.Category != "" && rep.Category != q.Category {
			continue
		}
		matched = append(matched, rep)
	}

	col := strings.Fields(q.OrderBy())[0]
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if q.Ascending {
			a, b = b, a
		}
		if c := compareColumn(col, a, b); c != 0 {
			return c > 0
		}
		return a.ID > b.ID
	})

	total := len(matched)
	if q.Offset >= total {
		return []model.Report{}, total, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > total {
		end = total
	}
	return append([]model.Report{}, matched[q.Offset:end]...), total, nil
}

func inScope(q repository.ReportQuery, rep model.Report, ownerHash string) bool {
	restricted := rep.Visibility == model.VisibilityPrivate || rep.Visibility == model.VisibilityAnonymous
	switch q.Scope {
	case repository.ScopeOwned:
		if !restricted {
			return false
		}
		return (rep.ReporterID != nil && *rep.ReporterID == q.ReporterID) ||
			(ownerHash != "" && ownerHash == q.OwnerHash)
	case repository.ScopeDepartment:
		return restricted && rep.Category == q.Department
	case repository.ScopeRestricted:
		return restricted
	}
	return rep.Visibility == model.VisibilityPublic
}

// compareColumn orders a and b by one of repository.ReportSortColumns.
func compareColumn(col string, a, b model.Report) int {
	switch col {
	case "updated_at":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	case "title":
		return strings.Compare(a.Title, b.Title)
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "upvote_count":
		return a.UpvoteCount - b.UpvoteCount
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}

// WithinStatusTx holds the store lock for the whole callback, which stands in
// for the row lock, and applies staged writes only when fn returns nil.
func (s *Reports) WithinStatusTx(ctx context.Context, fn func(tx repository.StatusTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memTx{s: s, updates: make(map[string]model.Report)}
	if err := fn(tx); err != nil {
		return err
	}
	for id, rep := range tx.updates {
		s.reports[id] = rep
	}
	for _, e := range tx.history {
		s.nextID++
		e.ID = s.nextID
		s.history = append(s.history, e)
	}
	s.commits++
	return nil
}

type memTx struct {
	s       *Reports
	updates map[string]model.Report
	history []model.StatusHistoryEntry
}

func (t *memTx) current(id string) (model.Report, bool) {
	if rep, ok := t.updates[id]; ok {
		return rep, true
	}
	rep, ok := t.s.reports[id]
	return rep, ok
}

func (t *memTx) GetForUpdate(ctx context.Context, id string) (*model.Report, error) {
	if err := t.s.fail[OpGet]; err != nil {
		return nil, err
	}
	rep, ok := t.current(id)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rep, nil
}

func (t *memTx) UpdateStatus(ctx context.Context, id string, status model.Status, departmentID *string, at time.Time) error {
	if err := t.s.fail[OpUpdateStatus]; err != nil {
		return err
	}
	rep, ok := t.current(id)
	if !ok {
		return repository.ErrNotFound
	}
	rep.Status = status
	rep.UpdatedAt = at
	if departmentID != nil {
		d := *departmentID
		rep.AssignedDepartmentID = &d
	}
	t.updates[id] = rep
	return nil
}

func (t *memTx) InsertHistory(ctx context.Context, e *model.StatusHistoryEntry) error {
	if err := t.s.fail[OpInsertHistory]; err != nil {
		return err
	}
	t.history = append(t.history, *e)
	return nil
}

// Departments is an in-memory department table.
type Departments struct {
	mu   sync.Mutex
	list []model.Department
	err  error
}

// NewDepartments returns a table seeded like the initial migration.
func NewDepartments() *Departments {
	return &Departments{list: []model.Department{
		{ID: "dept-crime", Name: "Police Department", Code: string(model.CategoryCrime)},
		{ID: "dept-cleanliness", Name: "Sanitation Department", Code: string(model.CategoryCleanliness)},
		{ID: "dept-health", Name: "Health Department", Code: string(model.CategoryHealth)},
		{ID: "dept-infrastructure", Name: "Public Works Department", Code: string(model.CategoryInfrastructure)},
		{ID: "dept-other", Name: "General Affairs", Code: string(model.CategoryOther)},
	}}
}

// Remove deletes the department with the given code.
func (d *Departments) Remove(code string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.list[:0]
	for _, dep := range d.list {
		if dep.Code != code {
			out = append(out, dep)
		}
	}
	d.list = out
}

// Fail makes every later lookup return err. A nil err clears it.
func (d *Departments) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *Departments) GetByCode(ctx context.Context, code string) (*model.Department, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	for _, dep := range d.list {
		if dep.Code == code {
			dep := dep
			return &dep, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d *Departments) List(ctx context.Context) ([]model.Department, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	out := append([]model.Department(nil), d.list...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Notifications is an in-memory notifications table with a unique event id.
type Notifications struct {
	mu   sync.Mutex
	rows []model.Notification
	err  error
}

func NewNotifications() *Notifications { return &Notifications{} }

// Fail makes every later insert return err. A nil err clears it.
func (n *Notifications) Fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// All returns a copy of every stored row in insertion order.
func (n *Notifications) All() []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Notification(nil), n.rows...)
}

func (n *Notifications) InsertIgnore(ctx context.Context, row *model.Notification) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return false, n.err
	}
	for _, r := range n.rows {
		if r.EventID == row.EventID {
			return false, nil
		}
	}
	n.rows = append(n.rows, *row)
	return true, nil
}

func matches(row model.Notification, rc model.Recipient) bool {
	if rc.UserID != "" && row.UserID != nil && *row.UserID == rc.UserID {
		return true
	}
	return rc.ReporterHash != "" && row.ReporterHash != nil && *row.ReporterHash == rc.ReporterHash
}

func (n *Notifications) List(ctx context.Context, rc model.Recipient, unreadOnly bool, limit int) ([]model.Notification, int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var (
		out    []model.Notification
		unread int
	)
	for i := len(n.rows) - 1; i >= 0; i-- {
		row := n.rows[i]
		if !matches(row, rc) {
			continue
		}
		if !row.IsRead {
			unread++
		}
		if unreadOnly && row.IsRead {
			continue
		}
		if len(out) < limit {
			out = append(out, row)
		}
	}
	if out == nil {
		out = []model.Notification{}
	}
	return out, unread, nil
}

func (n *Notifications) MarkRead(ctx context.Context, id string, rc model.Recipient) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range n.rows {
		if n.rows[i].ID == id && matches(n.rows[i], rc) {
			n.rows[i].IsRead = true
			return nil
		}
	}
	return repository.ErrNotFound
}

func (n *Notifications) MarkAllRead(ctx context.Context, rc model.Recipient) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	var changed int64
	for i := range n.rows {
		if !n.rows[i].IsRead && matches(n.rows[i], rc) {
			n.rows[i].IsRead = true
			changed++
		}
	}
	return changed, nil
}
