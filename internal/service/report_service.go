package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/queue"
	"github.com/iliyamo/citizen-report/internal/repository"
	"github.com/iliyamo/citizen-report/internal/utils"
)

const (
	maxTitleLen       = 255
	maxDescriptionLen = 5000
	maxAddressLen     = 500

	defaultPageSize = 20
	maxPageSize     = 100
)

// ReportStore is the report persistence used by ReportService.
// *repository.ReportRepo satisfies it.
type ReportStore interface {
	StatusStore
	Create(ctx context.Context, rep *model.Report, ownerHash string) error
	GetByID(ctx context.Context, id string) (*model.Report, error)
	AnonymousHash(ctx context.Context, reportID string) (string, error)
	History(ctx context.Context, reportID string) ([]model.StatusHistoryEntry, error)
	List(ctx context.Context, q repository.ReportQuery) ([]model.Report, int, error)
}

// CreateReportInput is the validated payload of a new report. ReporterID is
// the authenticated caller; it is never stored on anonymous reports.
type CreateReportInput struct {
	ReporterID  string
	Title       string
	Description string
	Category    model.Category
	Visibility  model.Visibility
	Location    *model.Location
}

// ReportService implements report submission, lookup and caller-driven
// status changes on top of StatusService.
type ReportService struct {
	store  ReportStore
	status *StatusService
	events EventPublisher
	hasher *utils.AnonHasher
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewReportService wires a ReportService.
func NewReportService(store ReportStore, status *StatusService, events EventPublisher, hasher *utils.AnonHasher, logger *zap.Logger) *ReportService {
	return &ReportService{
		store:  store,
		status: status,
		events: events,
		hasher: hasher,
		logger: logger.Named("reports"),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
}

func validateCreate(in *CreateReportInput) error {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" || in.Description == "" {
		return fmt.Errorf("%w: title and description are required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLen {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, maxTitleLen)
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidInput, maxDescriptionLen)
	}
	if !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
	}
	if in.Visibility == "" {
		in.Visibility = model.VisibilityPublic
	}
	if !in.Visibility.Valid() {
		return fmt.Errorf("%w: unknown visibility %q", ErrInvalidInput, in.Visibility)
	}
	if in.Visibility == model.VisibilityAnonymous && in.ReporterID == "" {
		return fmt.Errorf("%w: anonymous reports require an authenticated reporter", ErrInvalidInput)
	}
	if loc := in.Location; loc != nil {
		if math.IsNaN(loc.Lat) || math.IsNaN(loc.Lng) || loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
			return fmt.Errorf("%w: location out of range", ErrInvalidInput)
		}
		if loc.Address != nil && utf8.RuneCountInString(*loc.Address) > maxAddressLen {
			return fmt.Errorf("%w: address exceeds %d characters", ErrInvalidInput, maxAddressLen)
		}
	}
	return nil
}

// Create validates and stores a new report in status submitted, then
// publishes REPORT_CREATED. Anonymous reports are stored without an owner;
// ownership is kept only as the keyed hash in the anonymous mapping.
func (s *ReportService) Create(ctx context.Context, in CreateReportInput) (*model.Report, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	now := s.now()
	rep := &model.Report{
		ID:          s.newID(),
		Title:       in.Title,
		Description: in.Description,
		Category:    in.Category,
		Visibility:  in.Visibility,
		Status:      model.StatusSubmitted,
		Location:    in.Location,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var ownerHash string
	if in.Visibility == model.VisibilityAnonymous {
		ownerHash = s.hasher.Hash(in.ReporterID)
	} else if in.ReporterID != "" {
		id := in.ReporterID
		rep.ReporterID = &id
	}

	if err := s.store.Create(ctx, rep, ownerHash); err != nil {
		return nil, fmt.Errorf("create report: %w", err)
	}
	s.logger.Info("report created",
		zap.String("report_id", rep.ID),
		zap.String("category", string(rep.Category)),
		zap.String("visibility", string(rep.Visibility)))

	ev := queue.ReportCreatedEvent{
		ReportID:    rep.ID,
		Category:    rep.Category,
		Title:       rep.Title,
		Description: rep.Description,
		Visibility:  rep.Visibility,
	}
	if rep.Location != nil {
		ev.Location = &queue.EventLocation{Lat: rep.Location.Lat, Lng: rep.Location.Lng}
	}
	s.events.PublishReportCreated(ctx, ev)
	return rep, nil
}

// IsOwner reports whether userID filed the report, directly or through the
// anonymous mapping.
func (s *ReportService) IsOwner(ctx context.Context, rep *model.Report, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if rep.Visibility != model.VisibilityAnonymous {
		return rep.ReporterID != nil && *rep.ReporterID == userID, nil
	}
	hash, err := s.store.AnonymousHash(ctx, rep.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.hasher.Matches(userID, hash), nil
}

// Get returns a report the actor may see. Public reports are visible to
// everyone; private and anonymous ones only to their owner, the responsible
// department and admins.
func (s *ReportService) Get(ctx context.Context, actor model.Actor, id string) (*model.Report, error) {
	rep, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rep.Visibility == model.VisibilityPublic || actor.IsAdmin() || actor.Handles(rep.Category) {
		return rep, nil
	}
	owner, err := s.IsOwner(ctx, rep, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !owner {
		return nil, repository.ErrForbidden
	}
	return rep, nil
}

// History returns the status history of a report the actor may see.
func (s *ReportService) History(ctx context.Context, actor model.Actor, id string) ([]model.StatusHistoryEntry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.store.History(ctx, id)
}

// ListScope names a report listing. ListPublic is the open feed; ListPrivate
// returns the non-public reports the caller is entitled to.
type ListScope string

const (
	ListPublic  ListScope = "public"
	ListPrivate ListScope = "private"
)

// ListReportsInput filters and pages a listing. Page starts at 1; zero
// values select the defaults.
type ListReportsInput struct {
	Scope     ListScope
	Status    model.Status
	Category  model.Category
	SortBy    string
	SortOrder string
	Page      int
	Limit     int
}

// ReportPage is one page of a report listing.
type ReportPage struct {
	Reports    []model.Report `json:"reports"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// List returns one page of reports visible to the actor. The private scope
// holds the actor's own reports for citizens, the reports of their category
// for department staff and every non-public report for admins. Anonymous
// reports match their owner through the hash only.
func (s *ReportService) List(ctx context.Context, actor model.Actor, in ListReportsInput) (ReportPage, error) {
	if in.Status != "" && !in.Status.Valid() {
		return ReportPage{}, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}
	if in.Category != "" && !in.Category.Valid() {
		return ReportPage{}, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
	}
	if in.Page < 0 || in.Limit < 0 {
		return ReportPage{}, fmt.Errorf("%w: page and limit must be positive", ErrInvalidInput)
	}
	if in.Page == 0 {
		in.Page = 1
	}
	switch {
	case in.Limit == 0:
		in.Limit = defaultPageSize
	case in.Limit > maxPageSize:
		in.Limit = maxPageSize
	}

	q := repository.ReportQuery{
		Status:    in.Status,
		Category:  in.Category,
		SortBy:    in.SortBy,
		Ascending: strings.EqualFold(in.SortOrder, "asc"),
		Limit:     in.Limit,
		Offset:    (in.Page - 1) * in.Limit,
	}
	switch in.Scope {
	case "", ListPublic:
		q.Scope = repository.ScopePublic
	case ListPrivate:
		switch {
		case actor.IsAdmin():
			q.Scope = repository.ScopeRestricted
		case actor.Role == model.RoleDepartment:
			if actor.Department == "" {
				return ReportPage{}, repository.ErrForbidden
			}
			q.Scope = repository.ScopeDepartment
			q.Department = actor.Department
		case actor.UserID != "":
			q.Scope = repository.ScopeOwned
			q.ReporterID = actor.UserID
			q.OwnerHash = s.hasher.Hash(actor.UserID)
		default:
			return ReportPage{}, repository.ErrForbidden
		}
	default:
		return ReportPage{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, in.Scope)
	}

	reports, total, err := s.store.List(ctx, q)
	if err != nil {
		return ReportPage{}, err
	}
	if reports == nil {
		reports = []model.Report{}
	}
	return ReportPage{
		Reports:    reports,
		Page:       in.Page,
		Limit:      in.Limit,
		Total:      total,
		TotalPages: (total + in.Limit - 1) / in.Limit,
	}, nil
}

// ChangeStatus applies a caller-requested status change after checking the
// transition rules. Callers unrelated to a report get repository.ErrForbidden
// before anything about it is returned, even for a same-status request.
// Terminal reports yield repository.ErrConflict; a move the caller may not
// make yields ErrTransitionNotAllowed.
//
// The rules are checked against an unlocked read, so the write only applies
// while the report is still in the status that was checked. A report that
// moved on in between yields repository.ErrConflict.
func (s *ReportService) ChangeStatus(ctx context.Context, actor model.Actor, id string, to model.Status, notes *string) (*model.Report, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	rep, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.IsOwner(ctx, rep, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !owner && !actor.IsAdmin() && !actor.Handles(rep.Category) {
		return nil, repository.ErrForbidden
	}
	if rep.Status == to {
		return rep, nil
	}
	if IsTerminal(rep.Status) {
		return nil, fmt.Errorf("%w: report is %s", repository.ErrConflict, rep.Status)
	}
	if !CanTransition(actor, owner, rep.Category, rep.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, rep.Status, to)
	}

	// The owner of an anonymous report stays out of the history.
	var changedBy *string
	if actor.UserID != "" && !(owner && rep.Visibility == model.VisibilityAnonymous) {
		u := actor.UserID
		changedBy = &u
	}
	got, changed, err := s.status.TransitionFrom(ctx, id, []model.Status{rep.Status}, to, changedBy, notes)
	if err != nil {
		return nil, err
	}
	if !changed && got.Status != to {
		return nil, fmt.Errorf("%w: report changed to %s", repository.ErrConflict, got.Status)
	}
	return got, nil
}

// Cancel lets the owner withdraw a report that is not yet resolved.
func (s *ReportService) Cancel(ctx context.Context, actor model.Actor, id string, reason *string) (*model.Report, error) {
	rep, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	owner, err := s.IsOwner(ctx, rep, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !owner {
		return nil, repository.ErrForbidden
	}
	return s.ChangeStatus(ctx, actor, id, model.StatusCancelled, reason)
}
