// Package worker contains the asynchronous side of the report lifecycle: the
// department routing consumer, the notification consumer and the escalation
// sweep.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/queue"
	"github.com/iliyamo/citizen-report/internal/repository"
)

// DepartmentFinder resolves a department by its code.
type DepartmentFinder interface {
	GetByCode(ctx context.Context, code string) (*model.Department, error)
}

// Router assigns a submitted report to a department. *service.StatusService
// satisfies it.
type Router interface {
	Route(ctx context.Context, reportID, departmentID string, notes *string) (*model.Report, bool, error)
}

// RoutingHandler consumes REPORT_CREATED from a department queue and moves
// the report to routed with its department assigned.
type RoutingHandler struct {
	departments DepartmentFinder
	router      Router
	logger      *zap.Logger
}

func NewRoutingHandler(departments DepartmentFinder, router Router, logger *zap.Logger) *RoutingHandler {
	return &RoutingHandler{departments: departments, router: router, logger: logger.Named("routing")}
}

// Handle implements queue.Handler.
func (h *RoutingHandler) Handle(ctx context.Context, d queue.Delivery) queue.Result {
	log := h.logger.With(zap.String("queue", d.Queue), zap.Int("attempt", d.Attempt()))

	env, err := queue.DecodeEnvelope(d.Body)
	if err != nil {
		log.Warn("malformed message", zap.Error(err))
		return malformed(d)
	}
	if env.EventType != queue.EventReportCreated {
		log.Info("ignoring event", zap.String("event_type", env.EventType))
		return queue.Ack
	}
	var ev queue.ReportCreatedEvent
	if err := env.DecodeData(&ev); err != nil || ev.ReportID == "" {
		if err == nil {
			err = errors.New("missing reportId")
		}
		log.Warn("malformed REPORT_CREATED", zap.Error(err))
		return malformed(d)
	}
	log = log.With(zap.String("report_id", ev.ReportID), zap.String("category", string(ev.Category)))

	dept, err := h.departments.GetByCode(ctx, string(ev.Category))
	if errors.Is(err, repository.ErrNotFound) {
		log.Error("no department for category")
		return queue.Ack
	}
	if err != nil {
		log.Warn("department lookup failed", zap.Error(err))
		return queue.Retry
	}

	note := fmt.Sprintf("Routed to %s", dept.Name)
	_, changed, err := h.router.Route(ctx, ev.ReportID, dept.ID, &note)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		log.Error("report not found")
		return queue.Ack
	case err != nil:
		log.Warn("routing failed", zap.Error(err))
		return queue.Retry
	case !changed:
		log.Info("report already left submitted, not routed")
		return queue.Ack
	}
	log.Info("report routed", zap.String("department", dept.Name))
	return queue.Ack
}

// malformed gives an undecodable message one more attempt in case it was a
// transient corruption, then dead-letters it.
func malformed(d queue.Delivery) queue.Result {
	if d.Attempt() == 0 {
		return queue.Retry
	}
	return queue.Reject
}
