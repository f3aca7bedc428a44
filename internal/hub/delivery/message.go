package delivery

import (
	"encoding/json"
	"time"
)

// Status of a message inside the hub. Accepted and pending repeat across
// retries; delivered and failed are terminal.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// FailureReason classifies a terminal failure.
type FailureReason string

const (
	ReasonServiceUnavailable FailureReason = "SERVICE_UNAVAILABLE"
	ReasonCircuitOpen        FailureReason = "CIRCUIT_OPEN"
	ReasonDeliveryFailed     FailureReason = "DELIVERY_FAILED"
)

// Message is a point-to-point message accepted by the hub. Payload is opaque;
// the hub moves bytes and enforces availability policy, nothing else.
type Message struct {
	ID            string          `json:"id"`
	Source        string          `json:"source"`
	Destination   string          `json:"destination"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	TTL           time.Duration   `json:"-"`
	Priority      int             `json:"priority"`
	CreatedAt     time.Time       `json:"timestamp"`
}

// Expired reports whether the message's TTL elapsed at time now. Checked
// before every attempt so a message never outlives its TTL mid-retry.
func (m *Message) Expired(now time.Time) bool {
	return now.Sub(m.CreatedAt) >= m.TTL
}

// StatusInfo is the queryable delivery state of a message.
type StatusInfo struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Reason      FailureReason `json:"reason,omitempty"`
	Attempts    int           `json:"delivery_attempts"`
	LastAttempt time.Time     `json:"last_attempt"`
}
