package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/iliyamo/citizen-report/internal/logging"
	"github.com/iliyamo/citizen-report/internal/model"
)

// escalationLockKey serialises sweeps across report-service replicas.
const escalationLockKey = "citizen-report:escalation"

// OpenStatuses are the statuses a report can go stale in.
var OpenStatuses = []model.Status{model.StatusSubmitted, model.StatusRouted}

// StaleFinder lists reports without a status change since cutoff.
type StaleFinder interface {
	ListStale(ctx context.Context, statuses []model.Status, cutoff time.Time) ([]string, error)
}

// ConditionalTransitioner changes status only while the report is still in
// one of the from statuses. *service.StatusService satisfies it.
type ConditionalTransitioner interface {
	TransitionFrom(ctx context.Context, reportID string, from []model.Status, newStatus model.Status, actorID, notes *string) (*model.Report, bool, error)
}

// Escalator periodically moves reports that sat in an open status for longer
// than the SLA to escalated.
type Escalator struct {
	reports  StaleFinder
	status   ConditionalTransitioner
	locker   Locker
	hours    int
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewEscalator builds an Escalator. locker may be nil, in which case every
// replica sweeps.
func NewEscalator(reports StaleFinder, status ConditionalTransitioner, locker Locker, hours int, interval time.Duration, logger *zap.Logger) *Escalator {
	return &Escalator{
		reports:  reports,
		status:   status,
		locker:   locker,
		hours:    hours,
		interval: interval,
		logger:   logger.Named("escalation"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RunCycle escalates every stale report once and returns how many changed.
// A failure on one report is logged and reported, and the sweep continues.
func (e *Escalator) RunCycle(ctx context.Context) (int, error) {
	if e.locker != nil {
		release, ok, err := e.locker.TryLock(ctx, escalationLockKey, e.interval)
		if err != nil {
			// Redis trouble must not stop escalation; sweeping twice is harmless.
			e.logger.Warn("escalation lock unavailable, sweeping unlocked", zap.Error(err))
		} else if !ok {
			e.logger.Debug("another replica holds the escalation lock")
			return 0, nil
		} else {
			defer release()
		}
	}

	cutoff := e.now().Add(-time.Duration(e.hours) * time.Hour)
	ids, err := e.reports.ListStale(ctx, OpenStatuses, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale reports: %w", err)
	}

	note := fmt.Sprintf("Auto-escalated after %d hours without status update", e.hours)
	escalated := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		n := note
		_, changed, err := e.status.TransitionFrom(ctx, id, OpenStatuses, model.StatusEscalated, nil, &n)
		if err != nil {
			e.logger.Error("escalation failed", zap.String("report_id", id), zap.Error(err))
			logging.ReportError(err, map[string]string{"component": "escalation", "report_id": id})
			continue
		}
		if changed {
			escalated++
		}
	}
	return escalated, nil
}

func (e *Escalator) sweep(ctx context.Context) {
	n, err := e.RunCycle(ctx)
	if err != nil {
		e.logger.Error("escalation cycle failed", zap.Error(err))
		logging.ReportError(err, map[string]string{"component": "escalation"})
		return
	}
	if n > 0 {
		e.logger.Info("auto-escalated reports", zap.Int("count", n))
	}
}

// Run sweeps once immediately and then every interval until ctx is done.
// Overlapping runs are skipped rather than queued.
func (e *Escalator) Run(ctx context.Context) error {
	clog := cronLogger{e.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", e.interval), func() { e.sweep(ctx) }); err != nil {
		return fmt.Errorf("schedule escalation: %w", err)
	}
	e.logger.Info("escalation worker started",
		zap.Int("sla_hours", e.hours),
		zap.Duration("interval", e.interval))

	e.sweep(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	e.logger.Info("escalation worker stopped")
	return nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
