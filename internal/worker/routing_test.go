package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/citizen-report/internal/model"
	"github.com/iliyamo/citizen-report/internal/queue"
	"github.com/iliyamo/citizen-report/internal/service"
	"github.com/iliyamo/citizen-report/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func delivery(t *testing.T, queueName, eventType, eventID string, data any, attempt int) queue.Delivery {
	t.Helper()
	body, err := queue.EncodeEnvelope(eventType, eventID, t0, data)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	return rawDelivery(queueName, body, attempt)
}

func rawDelivery(queueName string, body []byte, attempt int) queue.Delivery {
	var headers map[string]any
	if attempt > 0 {
		headers = map[string]any{queue.AttemptHeader: int32(attempt)}
	}
	return queue.NewDelivery(queueName, "", queue.Message{Body: body, Headers: headers}, nil, nil)
}

type routingFixture struct {
	handler *RoutingHandler
	reports *testutil.Reports
	depts   *testutil.Departments
	broker  *queue.MemoryBroker
}

func newRoutingFixture(t *testing.T) routingFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	broker := queue.NewMemoryBroker()
	if err := broker.DeclareTopology(context.Background(), queue.DefaultTopology()); err != nil {
		t.Fatalf("DeclareTopology: %v", err)
	}
	t.Cleanup(func() { _ = broker.Close() })
	reports := testutil.NewReports()
	depts := testutil.NewDepartments()
	status := service.NewStatusService(reports, queue.NewPublisher(broker, logger), logger)
	return routingFixture{
		handler: NewRoutingHandler(depts, status, logger),
		reports: reports,
		depts:   depts,
		broker:  broker,
	}
}

func (f routingFixture) seed(id string, category model.Category, status model.Status) {
	f.reports.Put(model.Report{
		ID:         id,
		ReporterID: testutil.Ptr("citizen-1"),
		Title:      "Pothole",
		Category:   category,
		Visibility: model.VisibilityPublic,
		Status:     status,
		CreatedAt:  t0,
		UpdatedAt:  t0,
	}, "")
}

func createdEvent(id string, c model.Category) queue.ReportCreatedEvent {
	return queue.ReportCreatedEvent{ReportID: id, Category: c, Title: "Pothole", Visibility: model.VisibilityPublic}
}

func TestRoutingHandler_RoutesReport(t *testing.T) {
	f := newRoutingFixture(t)
	f.seed("r-1", model.CategoryInfrastructure, model.StatusSubmitted)

	d := delivery(t, queue.DepartmentQueue("infrastructure"), queue.EventReportCreated, "", createdEvent("r-1", model.CategoryInfrastructure), 0)
	if res := f.handler.Handle(context.Background(), d); res != queue.Ack {
		t.Fatalf("result = %s, want ack", res)
	}

	rep, _ := f.reports.Snapshot("r-1")
	if rep.Status != model.StatusRouted {
		t.Errorf("status = %s", rep.Status)
	}
	if rep.AssignedDepartmentID == nil || *rep.AssignedDepartmentID != "dept-infrastructure" {
		t.Errorf("department = %v", rep.AssignedDepartmentID)
	}
	hist, _ := f.reports.History(context.Background(), "r-1")
	if len(hist) != 1 || hist[0].Notes == nil || *hist[0].Notes != "Routed to Public Works Department" {
		t.Errorf("history = %+v", hist)
	}
	if f.broker.Depth(queue.NotificationQueue) != 1 {
		t.Errorf("notification queue depth = %d, want 1", f.broker.Depth(queue.NotificationQueue))
	}
}

func TestRoutingHandler_Redelivery(t *testing.T) {
	f := newRoutingFixture(t)
	f.seed("r-1", model.CategoryHealth, model.StatusSubmitted)
	d := delivery(t, queue.DepartmentQueue("health"), queue.EventReportCreated, "", createdEvent("r-1", model.CategoryHealth), 0)

	for i := 0; i < 2; i++ {
		if res := f.handler.Handle(context.Background(), d); res != queue.Ack {
			t.Fatalf("delivery %d: result = %s", i, res)
		}
	}
	if n := f.reports.HistoryLen("r-1"); n != 1 {
		t.Errorf("history rows = %d, want 1", n)
	}
	if n := f.broker.Depth(queue.NotificationQueue); n != 1 {
		t.Errorf("status events = %d, want 1", n)
	}
}

func TestRoutingHandler_DoesNotRouteCancelledReport(t *testing.T) {
	f := newRoutingFixture(t)
	f.seed("r-1", model.CategoryHealth, model.StatusCancelled)
	d := delivery(t, queue.DepartmentQueue("health"), queue.EventReportCreated, "", createdEvent("r-1", model.CategoryHealth), 0)

	if res := f.handler.Handle(context.Background(), d); res != queue.Ack {
		t.Fatalf("result = %s", res)
	}
	rep, _ := f.reports.Snapshot("r-1")
	if rep.Status != model.StatusCancelled || rep.AssignedDepartmentID != nil {
		t.Errorf("cancelled report modified: %+v", rep)
	}
}

func TestRoutingHandler_Settlement(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f routingFixture)
		build   func(t *testing.T) queue.Delivery
		want    queue.Result
		touched bool
	}{
		{
			name:  "unknown department acks",
			setup: func(f routingFixture) { f.depts.Remove(string(model.CategoryCrime)) },
			build: func(t *testing.T) queue.Delivery {
				return delivery(t, "reports.police", queue.EventReportCreated, "", createdEvent("r-1", model.CategoryCrime), 0)
			},
			want: queue.Ack,
		},
		{
			name: "other event type acks",
			build: func(t *testing.T) queue.Delivery {
				return delivery(t, "reports.police", queue.EventReportStatusChanged, "e-1", queue.ReportStatusChangedEvent{ReportID: "r-1"}, 0)
			},
			want: queue.Ack,
		},
		{
			name: "missing report acks",
			build: func(t *testing.T) queue.Delivery {
				return delivery(t, "reports.police", queue.EventReportCreated, "", createdEvent("nope", model.CategoryCrime), 0)
			},
			want: queue.Ack,
		},
		{
			name:  "store failure retries",
			setup: func(f routingFixture) { f.reports.Fail(testutil.OpUpdateStatus, errors.New("deadlock")) },
			build: func(t *testing.T) queue.Delivery {
				return delivery(t, "reports.police", queue.EventReportCreated, "", createdEvent("r-1", model.CategoryCrime), 0)
			},
			want: queue.Retry,
		},
		{
			name:  "department lookup failure retries",
			setup: func(f routingFixture) { f.depts.Fail(errors.New("connection refused")) },
			build: func(t *testing.T) queue.Delivery {
				return delivery(t, "reports.police", queue.EventReportCreated, "", createdEvent("r-1", model.CategoryCrime), 0)
			},
			want: queue.Retry,
		},
		{
			name:  "malformed first attempt retries",
			build: func(t *testing.T) queue.Delivery { return rawDelivery("reports.police", []byte("{oops"), 0) },
			want:  queue.Retry,
		},
		{
			name:  "malformed second attempt rejects",
			build: func(t *testing.T) queue.Delivery { return rawDelivery("reports.police", []byte("{oops"), 1) },
			want:  queue.Reject,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRoutingFixture(t)
			f.seed("r-1", model.CategoryCrime, model.StatusSubmitted)
			if tt.setup != nil {
				tt.setup(f)
			}
			if got := f.handler.Handle(context.Background(), tt.build(t)); got != tt.want {
				t.Errorf("result = %s, want %s", got, tt.want)
			}
			rep, _ := f.reports.Snapshot("r-1")
			if rep.Status != model.StatusSubmitted {
				t.Errorf("report status changed to %s", rep.Status)
			}
		})
	}
}
