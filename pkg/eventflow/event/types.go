package event

import (
	"fmt"
	"strings"
)

// Type is the event type tag, scoped to a content kind.
type Type string

// Built-in event types. Custom types are plain strings.
const (
	TypeCreate Type = "CREATE"
	TypeUpdate Type = "UPDATE"
	TypeDelete Type = "DELETE"
	TypeNotify Type = "NOTIFY"
)

// ContentKind names the kind of content an envelope carries.
type ContentKind string

// Priority is the resolved execution urgency of an envelope.
// The zero value means unset; as a vote it means abstain.
type Priority int

const (
	PriorityUnset Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityImmediate
)

var priorityNames = map[Priority]string{
	PriorityUnset:     "",
	PriorityLow:       "LOW",
	PriorityNormal:    "NORMAL",
	PriorityHigh:      "HIGH",
	PriorityImmediate: "IMMEDIATE",
}

// String returns the upper-case name, or an empty string when unset.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// IsSet reports whether p holds an actual priority.
func (p Priority) IsSet() bool {
	return p > PriorityUnset && p <= PriorityImmediate
}

// ParsePriority parses a priority name case-insensitively.
// An empty string parses to PriorityUnset.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return PriorityUnset, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Well-known property keys.
const (
	PropertyExecuteDate   = "executeDate"
	PropertyPriority      = "priority"
	PropertyCorrelationID = "correlationId"
	PropertyLockKey       = "lockKey"
	PropertyTransactionID = "transactionId"
)
