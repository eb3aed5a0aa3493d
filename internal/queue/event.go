// Package queue defines the events exchanged between the report, routing and
// notification services, the broker topology they share, and the broker
// clients used to publish and consume them.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/citizen-report/internal/model"
)

// Event types carried in Envelope.EventType.
const (
	EventReportCreated       = "REPORT_CREATED"
	EventReportStatusChanged = "REPORT_STATUS_CHANGED"
)

// ErrMalformedEnvelope is returned when a message body is not a valid event
// envelope.
var ErrMalformedEnvelope = errors.New("malformed event envelope")

// Envelope is the JSON wrapper of every message on the exchange. EventID is
// set on status-changed events and is the consumer's idempotency key.
type Envelope struct {
	EventID   string          `json:"eventId,omitempty"`
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventLocation is the coordinate pair sent with REPORT_CREATED.
type EventLocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// ReportCreatedEvent is published once a report row has been committed.
type ReportCreatedEvent struct {
	ReportID    string           `json:"reportId"`
	Category    model.Category   `json:"category"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Visibility  model.Visibility `json:"visibility"`
	Location    *EventLocation   `json:"location,omitempty"`
}

// ReportStatusChangedEvent is published after every non no-op status
// transition. ReporterID is nil for anonymous reports.
type ReportStatusChangedEvent struct {
	ReportID   string       `json:"reportId"`
	OldStatus  model.Status `json:"oldStatus"`
	NewStatus  model.Status `json:"newStatus"`
	ReporterID *string      `json:"reporterId"`
}

// EncodeEnvelope marshals data into an envelope body.
func EncodeEnvelope(eventType, eventID string, at time.Time, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", eventType, err)
	}
	return json.Marshal(Envelope{
		EventID:   eventID,
		EventType: eventType,
		Timestamp: at.UTC(),
		Data:      raw,
	})
}

// DecodeEnvelope parses a message body. An envelope without an event type or
// data is reported as ErrMalformedEnvelope.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.EventType == "" || len(env.Data) == 0 {
		return Envelope{}, ErrMalformedEnvelope
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedEnvelope, e.EventType, err)
	}
	return nil
}
