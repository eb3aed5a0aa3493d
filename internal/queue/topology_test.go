package queue

import (
	"testing"

	"github.com/iliyamo/citizen-report/internal/model"
)

func TestRoutingKeyFor(t *testing.T) {
	tests := []struct {
		category model.Category
		want     string
	}{
		{model.CategoryCrime, "report.police"},
		{model.CategoryCleanliness, "report.sanitation"},
		{model.CategoryHealth, "report.health"},
		{model.CategoryInfrastructure, "report.infrastructure"},
		{model.CategoryOther, "report.general"},
		{model.Category("parking"), "report.general"},
		{model.Category(""), "report.general"},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			got := RoutingKeyFor(tt.category)
			if got != tt.want {
				t.Errorf("RoutingKeyFor(%q) = %q, want %q", tt.category, got, tt.want)
			}
			if again := RoutingKeyFor(tt.category); again != got {
				t.Errorf("RoutingKeyFor not deterministic: %q then %q", got, again)
			}
		})
	}
}

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		pattern, key string
		want         bool
	}{
		{"report.police", "report.police", true},
		{"report.police", "report.health", false},
		{"report.notification.*", "report.notification.status", true},
		{"report.notification.*", "report.notification", false},
		{"report.notification.*", "report.notification.status.extra", false},
		{"report.#", "report", true},
		{"report.#", "report.notification.status", true},
		{"#", "anything.at.all", true},
		{"*.health", "report.health", true},
		{"*.health", "health", false},
		{"report.#.status", "report.notification.status", true},
		{"report.#.status", "report.status", true},
	}
	for _, tt := range tests {
		if got := TopicMatch(tt.pattern, tt.key); got != tt.want {
			t.Errorf("TopicMatch(%q, %q) = %v, want %v", tt.pattern, tt.key, got, tt.want)
		}
	}
}

func TestDefaultTopology(t *testing.T) {
	topo := DefaultTopology()
	if topo.Exchange != ExchangeName {
		t.Fatalf("exchange = %q", topo.Exchange)
	}
	queues := make(map[string]bool)
	for _, q := range topo.Queues {
		queues[q] = true
	}
	for _, r := range Routes {
		if !queues[DepartmentQueue(r)] {
			t.Errorf("missing department queue for route %q", r)
		}
	}
	if !queues[NotificationQueue] || !queues[DeadLetterQueue] {
		t.Errorf("missing notification or dead-letter queue: %v", topo.Queues)
	}

	// Every category's routing key reaches exactly one department queue and
	// the status key reaches only the notification queue.
	for _, c := range model.Categories {
		key := RoutingKeyFor(c)
		hits := 0
		for _, b := range topo.Bindings {
			if TopicMatch(b.Pattern, key) {
				hits++
				if b.Queue == NotificationQueue {
					t.Errorf("category %q routed to the notification queue", c)
				}
			}
		}
		if hits != 1 {
			t.Errorf("category %q matched %d bindings, want 1", c, hits)
		}
	}
	for _, b := range topo.Bindings {
		if TopicMatch(b.Pattern, StatusChangedKey) && b.Queue != NotificationQueue {
			t.Errorf("status key routed to %q", b.Queue)
		}
	}
}

func TestValidRoute(t *testing.T) {
	if !ValidRoute("police") || !ValidRoute(GeneralRoute) {
		t.Error("expected known routes to be valid")
	}
	if ValidRoute("crime") || ValidRoute("") {
		t.Error("categories and empty strings are not routes")
	}
}
