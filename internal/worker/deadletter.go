package worker

import (
	"fmt"
	"strconv"

	"github.com/iliyamo/citizen-report/internal/logging"
	"github.com/iliyamo/citizen-report/internal/queue"
)

// ReportDeadLetter returns a queue.Consumer OnDeadLetter hook that forwards
// every dead-lettered delivery to error reporting.
func ReportDeadLetter(service string) func(d queue.Delivery, reason string) {
	return func(d queue.Delivery, reason string) {
		logging.ReportError(fmt.Errorf("delivery dead-lettered from %s: %s", d.Queue, reason), map[string]string{
			"service":     service,
			"queue":       d.Queue,
			"routing_key": d.RoutingKey,
			"message_id":  d.MessageID,
			"attempt":     strconv.Itoa(d.Attempt()),
		})
	}
}
