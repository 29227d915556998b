// Package signal defines the internal protocol envelope exchanged between the
// connectivity gateway and the rest of the platform: topic paths, headers,
// the opaque Adaptable payload, and acknowledgements.
package signal

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a signal for routing purposes.
type Kind int

const (
	// KindCommand is a request directed at an entity
	KindCommand Kind = iota
	// KindEvent is a fact emitted after a state change
	KindEvent
	// KindResponse answers a previously issued command
	KindResponse
	// KindError is an error response carrying a coded error payload
	KindError
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindEvent:
		return "event"
	case KindResponse:
		return "response"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Adaptable is the serialization-agnostic protocol envelope: a topic path,
// headers, a JSON pointer style path, an opaque JSON value, and optional
// extra enrichment fields merged in before outbound mapping. The gateway
// never interprets Value beyond passing it through mappers and filters.
type Adaptable struct {
	Topic   TopicPath       `json:"topic"`
	Headers Headers         `json:"headers,omitempty"`
	Path    string          `json:"path"`
	Value   json.RawMessage `json:"value,omitempty"`
	Extra   json.RawMessage `json:"extra,omitempty"`
	Status  int             `json:"status,omitempty"`
}

// MarshalTopic is implemented via custom JSON on TopicPath.
func (tp TopicPath) MarshalJSON() ([]byte, error) {
	return json.Marshal(tp.String())
}

// UnmarshalJSON parses the wire form of a topic path.
func (tp *TopicPath) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTopicPath(s)
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}

// Signal pairs an Adaptable with derived routing information. Signals are
// immutable by convention; mutating helpers return copies.
type Signal struct {
	Adaptable
}

// New builds a Signal from an Adaptable envelope.
func New(a Adaptable) Signal {
	if a.Headers == nil {
		a.Headers = Headers{}
	}
	return Signal{Adaptable: a}
}

// ParseJSON decodes a Signal from its JSON wire form.
func ParseJSON(data []byte) (Signal, error) {
	var a Adaptable
	if err := json.Unmarshal(data, &a); err != nil {
		return Signal{}, fmt.Errorf("parse signal: %w", err)
	}
	return New(a), nil
}

// EntityID returns the entity the signal addresses.
func (s Signal) EntityID() EntityID {
	return s.Topic.EntityID()
}

// Kind derives the signal kind from the topic criterion and status.
func (s Signal) Kind() Kind {
	switch s.Topic.Criterion {
	case CriterionEvents:
		return KindEvent
	case CriterionErrors:
		return KindError
	case CriterionCommands, CriterionMessages, CriterionAcks:
		if s.Status >= 400 {
			return KindError
		}
		if s.Status > 0 {
			return KindResponse
		}
		return KindCommand
	default:
		return KindCommand
	}
}

// CorrelationID returns the signal's correlation id header.
func (s Signal) CorrelationID() string {
	return s.Headers.CorrelationID()
}

// WithHeaders returns a copy of the signal with the given headers merged in.
func (s Signal) WithHeaders(extra map[string]string) Signal {
	out := s
	out.Headers = s.Headers.Copy()
	for k, v := range extra {
		out.Headers.Set(k, v)
	}
	return out
}

// WithExtra returns a copy of the signal carrying pre-fetched enrichment
// fields for targets whose filters need them.
func (s Signal) WithExtra(extra json.RawMessage) Signal {
	out := s
	out.Extra = extra
	return out
}

// FieldTree decodes the signal value into a generic field tree for filter
// evaluation. Extra enrichment fields overlay the value's fields.
func (s Signal) FieldTree() map[string]any {
	tree := map[string]any{}
	if len(s.Value) > 0 {
		_ = json.Unmarshal(s.Value, &tree)
	}
	if len(s.Extra) > 0 {
		extra := map[string]any{}
		if err := json.Unmarshal(s.Extra, &extra); err == nil {
			for k, v := range extra {
				tree[k] = v
			}
		}
	}
	return tree
}

// ToJSON encodes the signal into its JSON wire form.
func (s Signal) ToJSON() ([]byte, error) {
	return json.Marshal(s.Adaptable)
}
