package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventSource identifies where an intake event originated.
type EventSource string

const (
	SourceEmail   EventSource = "email"
	SourceWebhook EventSource = "webhook"
	SourceManual  EventSource = "manual"
)

// IntakeEvent is one inbound recruiting event. ExternalID is the
// idempotency key: two events with the same ExternalID are the same
// logical event regardless of how many times they are delivered.
type IntakeEvent struct {
	ExternalID    string      `json:"external_id"`
	Source        EventSource `json:"source,omitempty"`
	Subject       string      `json:"subject,omitempty"`
	RawBody       string      `json:"raw_body"`
	ReceivedAt    time.Time   `json:"received_at,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// EnsureCorrelationID assigns a correlation id if the event arrived
// without one. The id is immutable for the event's lifetime after this.
func (e *IntakeEvent) EnsureCorrelationID() string {
	if e.CorrelationID == "" {
		e.CorrelationID = uuid.New().String()
	}
	return e.CorrelationID
}

// Validate checks that the event is well-formed enough to process.
// A failing event must never reach the ledger.
func (e *IntakeEvent) Validate() []string {
	var problems []string
	if strings.TrimSpace(e.ExternalID) == "" {
		problems = append(problems, "external_id is required")
	}
	if strings.TrimSpace(e.RawBody) == "" {
		problems = append(problems, "raw_body is empty")
	}
	return problems
}
