package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/queue"
	"github.com/iliyamo/citizen-report/internal/repository"
)

// StatusStore is the transactional part of the report store used by
// StatusService. *repository.ReportRepo satisfies it.
type StatusStore interface {
	WithinStatusTx(ctx context.Context, fn func(tx repository.StatusTx) error) error
}

// EventPublisher publishes lifecycle events. *queue.Publisher satisfies it;
// both methods are fire-and-forget.
type EventPublisher interface {
	PublishReportCreated(ctx context.Context, ev queue.ReportCreatedEvent)
	PublishReportStatusChanged(ctx context.Context, ev queue.ReportStatusChangedEvent)
}

// StatusService is the single writer of report status. Every change runs in
// one transaction that locks the report row, appends a history entry and
// commits before REPORT_STATUS_CHANGED is published.
//
// It does not enforce the transition graph; callers gate requests with
// CanTransition first.
type StatusService struct {
	store  StatusStore
	events EventPublisher
	logger *zap.Logger
	now    func() time.Time
}

// NewStatusService wires a StatusService.
func NewStatusService(store StatusStore, events EventPublisher, logger *zap.Logger) *StatusService {
	return &StatusService{
		store:  store,
		events: events,
		logger: logger.Named("status"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Transition moves a report to newStatus. When the report is already in that
// status the unchanged report is returned and nothing is written or
// published. Returns repository.ErrNotFound for an unknown report and
// ErrInvalidStatus for an unknown status.
func (s *StatusService) Transition(ctx context.Context, reportID string, newStatus model.Status, actorID, notes *string) (*model.Report, error) {
	rep, _, err := s.transition(ctx, transitionRequest{reportID: reportID, to: newStatus, actorID: actorID, notes: notes})
	return rep, err
}

// Route moves a submitted report to routed and assigns its department. A
// report that has already left submitted, for example cancelled by its owner
// before the routing event arrived, is returned unchanged with false.
func (s *StatusService) Route(ctx context.Context, reportID, departmentID string, notes *string) (*model.Report, bool, error) {
	return s.transition(ctx, transitionRequest{
		reportID:     reportID,
		from:         []model.Status{model.StatusSubmitted},
		to:           model.StatusRouted,
		departmentID: &departmentID,
		notes:        notes,
	})
}

// TransitionFrom changes the status only while the locked row is still in
// one of the from statuses, and reports whether it did. Sweeps use it so a
// report that moved on after being selected is left alone.
func (s *StatusService) TransitionFrom(ctx context.Context, reportID string, from []model.Status, newStatus model.Status, actorID, notes *string) (*model.Report, bool, error) {
	return s.transition(ctx, transitionRequest{reportID: reportID, from: from, to: newStatus, actorID: actorID, notes: notes})
}

type transitionRequest struct {
	reportID     string
	from         []model.Status
	to           model.Status
	departmentID *string
	actorID      *string
	notes        *string
}

func (r transitionRequest) allows(cur model.Status) bool {
	if r.from == nil {
		return true
	}
	for _, s := range r.from {
		if s == cur {
			return true
		}
	}
	return false
}

func (s *StatusService) transition(ctx context.Context, req transitionRequest) (*model.Report, bool, error) {
	if !req.to.Valid() {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidStatus, req.to)
	}

	var (
		report    *model.Report
		oldStatus model.Status
		changed   bool
	)
	err := s.store.WithinStatusTx(ctx, func(tx repository.StatusTx) error {
		cur, err := tx.GetForUpdate(ctx, req.reportID)
		if err != nil {
			return err
		}
		report = cur
		oldStatus = cur.Status
		if oldStatus == req.to || !req.allows(oldStatus) {
			return nil
		}

		now := s.now()
		if err := tx.UpdateStatus(ctx, req.reportID, req.to, req.departmentID, now); err != nil {
			return err
		}
		if err := tx.InsertHistory(ctx, &model.StatusHistoryEntry{
			ReportID:  req.reportID,
			OldStatus: oldStatus,
			NewStatus: req.to,
			ChangedBy: req.actorID,
			Notes:     req.notes,
			CreatedAt: now,
		}); err != nil {
			return err
		}
		report.Status = req.to
		report.UpdatedAt = now
		if req.departmentID != nil {
			d := *req.departmentID
			report.AssignedDepartmentID = &d
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("transition report %s to %s: %w", req.reportID, req.to, err)
	}
	if !changed {
		s.logger.Debug("status unchanged",
			zap.String("report_id", req.reportID),
			zap.String("status", string(oldStatus)),
			zap.String("requested", string(req.to)))
		return report, false, nil
	}

	s.logger.Info("status changed",
		zap.String("report_id", req.reportID),
		zap.String("old_status", string(oldStatus)),
		zap.String("new_status", string(req.to)))
	s.events.PublishReportStatusChanged(ctx, queue.ReportStatusChangedEvent{
		ReportID:   req.reportID,
		OldStatus:  oldStatus,
		NewStatus:  req.to,
		ReporterID: report.ReporterID,
	})
	return report, true, nil
}
