package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/queue"
	"github.com/iliyamo/citizen-report/internal/service"
	"github.com/iliyamo/citizen-report/internal/testutil"
)

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	err      error
	released int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, false, l.err
	}
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.released++
	}, true, nil
}

// failingFor fails transitions of one report and delegates the rest.
type failingFor struct {
	ConditionalTransitioner
	id string
}

func (f failingFor) TransitionFrom(ctx context.Context, id string, from []model.Status, to model.Status, actor, notes *string) (*model.Report, bool, error) {
	if id == f.id {
		return nil, false, errors.New("lock wait timeout")
	}
	return f.ConditionalTransitioner.TransitionFrom(ctx, id, from, to, actor, notes)
}

func seedAt(reports *testutil.Reports, id string, status model.Status, created time.Time, lastChange *time.Time) {
	reports.Put(model.Report{
		ID:         id,
		ReporterID: testutil.Ptr("citizen-" + id),
		Title:      "Graffiti",
		Category:   model.CategoryOther,
		Visibility: model.VisibilityPublic,
		Status:     status,
		CreatedAt:  created,
		UpdatedAt:  created,
	}, "")
	if lastChange != nil {
		reports.AddHistory(model.StatusHistoryEntry{ReportID: id, OldStatus: model.StatusSubmitted, NewStatus: status, CreatedAt: *lastChange})
	}
}

func newEscalator(t *testing.T, reports *testutil.Reports, status ConditionalTransitioner, locker Locker) *Escalator {
	t.Helper()
	e := NewEscalator(reports, status, locker, 24, time.Minute, zaptest.NewLogger(t))
	e.now = func() time.Time { return t0.Add(48 * time.Hour) }
	return e
}

func newStatus(t *testing.T, reports *testutil.Reports) *service.StatusService {
	t.Helper()
	b := queue.NewMemoryBroker()
	t.Cleanup(func() { _ = b.Close() })
	logger := zaptest.NewLogger(t)
	return service.NewStatusService(reports, queue.NewPublisher(b, logger), logger)
}

func TestEscalator_Selection(t *testing.T) {
	reports := testutil.NewReports()
	recent := t0.Add(30 * time.Hour) // 18h before now
	old := t0.Add(10 * time.Hour)    // 38h before now

	seedAt(reports, "stale-submitted", model.StatusSubmitted, t0, nil)
	seedAt(reports, "stale-routed", model.StatusRouted, t0, &old)
	seedAt(reports, "fresh-routed", model.StatusRouted, t0, &recent)
	seedAt(reports, "fresh-submitted", model.StatusSubmitted, recent, nil)
	seedAt(reports, "old-in-progress", model.StatusInProgress, t0, nil)
	seedAt(reports, "old-resolved", model.StatusResolved, t0, nil)
	seedAt(reports, "old-cancelled", model.StatusCancelled, t0, nil)
	seedAt(reports, "old-escalated", model.StatusEscalated, t0, nil)

	e := newEscalator(t, reports, newStatus(t, reports), nil)
	n, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if n != 2 {
		t.Errorf("escalated = %d, want 2", n)
	}

	want := map[string]model.Status{
		"stale-submitted": model.StatusEscalated,
		"stale-routed":    model.StatusEscalated,
		"fresh-routed":    model.StatusRouted,
		"fresh-submitted": model.StatusSubmitted,
		"old-in-progress": model.StatusInProgress,
		"old-resolved":    model.StatusResolved,
		"old-cancelled":   model.StatusCancelled,
		"old-escalated":   model.StatusEscalated,
	}
	for id, st := range want {
		rep, _ := reports.Snapshot(id)
		if rep.Status != st {
			t.Errorf("%s: status = %s, want %s", id, rep.Status, st)
		}
	}
	hist, _ := reports.History(context.Background(), "stale-submitted")
	if len(hist) != 1 || hist[0].Notes == nil || *hist[0].Notes != "Auto-escalated after 24 hours without status update" || hist[0].ChangedBy != nil {
		t.Errorf("history = %+v", hist)
	}
}

func TestEscalator_ContinuesPastFailures(t *testing.T) {
	reports := testutil.NewReports()
	seedAt(reports, "a", model.StatusSubmitted, t0, nil)
	seedAt(reports, "b", model.StatusSubmitted, t0.Add(time.Minute), nil)
	seedAt(reports, "c", model.StatusSubmitted, t0.Add(2*time.Minute), nil)

	e := newEscalator(t, reports, failingFor{newStatus(t, reports), "b"}, nil)
	n, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if n != 2 {
		t.Errorf("escalated = %d, want 2", n)
	}
	if rep, _ := reports.Snapshot("c"); rep.Status != model.StatusEscalated {
		t.Error("sweep stopped at the failing report")
	}
	if rep, _ := reports.Snapshot("b"); rep.Status != model.StatusSubmitted {
		t.Errorf("failing report status = %s", rep.Status)
	}
}

func TestEscalator_ListFailure(t *testing.T) {
	reports := testutil.NewReports()
	reports.Fail(testutil.OpListStale, errors.New("gone away"))
	e := newEscalator(t, reports, newStatus(t, reports), nil)
	if _, err := e.RunCycle(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}

func TestEscalator_Lock(t *testing.T) {
	reports := testutil.NewReports()
	seedAt(reports, "a", model.StatusSubmitted, t0, nil)
	status := newStatus(t, reports)

	held := &fakeLocker{held: true}
	n, err := newEscalator(t, reports, status, held).RunCycle(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("with lock held: n = %d, err = %v", n, err)
	}
	if rep, _ := reports.Snapshot("a"); rep.Status != model.StatusSubmitted {
		t.Fatal("swept while another replica held the lock")
	}

	broken := &fakeLocker{err: errors.New("redis down")}
	if n, _ := newEscalator(t, reports, status, broken).RunCycle(context.Background()); n != 1 {
		t.Errorf("with lock error: escalated = %d, want 1", n)
	}

	free := &fakeLocker{}
	seedAt(reports, "b", model.StatusSubmitted, t0, nil)
	if n, _ := newEscalator(t, reports, status, free).RunCycle(context.Background()); n != 1 {
		t.Errorf("with free lock: escalated = %d, want 1", n)
	}
	if free.released != 1 || free.held {
		t.Errorf("lock not released: released = %d, held = %v", free.released, free.held)
	}
}

func TestEscalator_RunSweepsImmediately(t *testing.T) {
	reports := testutil.NewReports()
	seedAt(reports, "a", model.StatusRouted, t0, nil)
	e := newEscalator(t, reports, newStatus(t, reports), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	testutil.Eventually(t, 5*time.Second, "first sweep", func() bool {
		rep, _ := reports.Snapshot("a")
		return rep.Status == model.StatusEscalated
	})
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
