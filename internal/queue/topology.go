package queue

import "github.com/iliyamo/citizen-report/internal/model"

// Broker names shared by every service.
const (
	ExchangeName        = "reports.exchange"
	NotificationQueue   = "reports.notifications"
	NotificationPattern = "report.notification.*"
	StatusChangedKey    = "report.notification.status"
	DeadLetterQueue     = "reports.dead-letter"
	GeneralRoute        = "general"
)

// Routes are the department routes, one queue each.
var Routes = []string{"police", "sanitation", "health", "infrastructure", GeneralRoute}

var categoryRoutes = map[model.Category]string{
	model.CategoryCrime:          "police",
	model.CategoryCleanliness:    "sanitation",
	model.CategoryHealth:         "health",
	model.CategoryInfrastructure: "infrastructure",
	model.CategoryOther:          GeneralRoute,
}

// RouteFor returns the department route of a category. Unknown categories fall
// back to the general route.
func RouteFor(c model.Category) string {
	if r, ok := categoryRoutes[c]; ok {
		return r
	}
	return GeneralRoute
}

// RoutingKeyFor returns the topic routing key REPORT_CREATED is published with.
func RoutingKeyFor(c model.Category) string { return routeKey(RouteFor(c)) }

// DepartmentQueue returns the durable queue name of a route.
func DepartmentQueue(route string) string { return "reports." + route }

// ValidRoute reports whether route is one of Routes.
func ValidRoute(route string) bool {
	for _, r := range Routes {
		if r == route {
			return true
		}
	}
	return false
}

func routeKey(route string) string { return "report." + route }

// Binding attaches a queue to the exchange with a topic pattern.
type Binding struct {
	Queue   string
	Pattern string
}

// Topology is the set of broker objects a service declares on start.
type Topology struct {
	Exchange string
	Queues   []string
	Bindings []Binding
}

// DefaultTopology declares the topic exchange, one durable queue per department
// route, the notification queue and the dead-letter queue. Declaring it again
// is a no-op on the broker.
func DefaultTopology() Topology {
	t := Topology{Exchange: ExchangeName}
	for _, r := range Routes {
		q := DepartmentQueue(r)
		t.Queues = append(t.Queues, q)
		t.Bindings = append(t.Bindings, Binding{Queue: q, Pattern: routeKey(r)})
	}
	t.Queues = append(t.Queues, NotificationQueue, DeadLetterQueue)
	t.Bindings = append(t.Bindings, Binding{Queue: NotificationQueue, Pattern: NotificationPattern})
	return t
}
