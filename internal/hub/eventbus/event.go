package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	hberrors "github.com/dungeonforge/messagehub/internal/hub/errors"
)

// Type classifies an event. The set is closed; anything else is rejected at
// publish time.
type Type string

const (
	TypeStateChange Type = "state_change"
	TypeError       Type = "error"
	TypeLifecycle   Type = "lifecycle"
	TypeBusiness    Type = "business"
	TypeAudit       Type = "audit"
)

// Types lists every valid classification tag, in topic registration order.
func Types() []Type {
	return []Type{TypeStateChange, TypeError, TypeLifecycle, TypeBusiness, TypeAudit}
}

// ValidType reports whether t belongs to the closed set.
func ValidType(t Type) bool {
	switch t {
	case TypeStateChange, TypeError, TypeLifecycle, TypeBusiness, TypeAudit:
		return true
	}
	return false
}

// Event is one published event. Immutable once accepted; payload is opaque.
type Event struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"`
	Type      Type            `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"timestamp"`
}

func (e *Event) validate() error {
	if e.Source == "" {
		return fmt.Errorf("%w: source is empty", hberrors.ErrInvalidEvent)
	}
	if !ValidType(e.Type) {
		return fmt.Errorf("%w: unknown event type %q", hberrors.ErrInvalidEvent, e.Type)
	}
	return nil
}

// topicPrefix keys the event fabric's Watermill topics.
const topicPrefix = "hub.events."

func topicFor(t Type) string { return topicPrefix + string(t) }
