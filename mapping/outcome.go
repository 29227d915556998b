// Package mapping applies named payload mappers to messages crossing the
// gateway boundary: external wire messages become internal signals on the way
// in, signals become wire messages on the way out. Every mapper invocation
// yields exactly one outcome.
package mapping

import (
	"github.com/eclipse-ditto/ditto-sub022/connection"
)

// OutcomeKind discriminates the outcome union.
type OutcomeKind int

const (
	// OutcomeMapped carries a successfully mapped value.
	OutcomeMapped OutcomeKind = iota
	// OutcomeDropped records that the mapper intentionally produced nothing.
	OutcomeDropped
	// OutcomeError records a mapper failure scoped to this message.
	OutcomeError
)

// String returns the string representation of OutcomeKind
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeMapped:
		return "mapped"
	case OutcomeDropped:
		return "dropped"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one mapper invocation. Consumers switch on Kind
// and must handle all three variants.
type Outcome[T any] struct {
	kind      OutcomeKind
	mapperID  string
	value     T
	err       error
	topicPath string
	targets   []connection.Target
}

// Mapped builds a successful outcome.
func Mapped[T any](mapperID string, value T) Outcome[T] {
	return Outcome[T]{kind: OutcomeMapped, mapperID: mapperID, value: value}
}

// DroppedOutcome builds a dropped outcome.
func DroppedOutcome[T any](mapperID string) Outcome[T] {
	return Outcome[T]{kind: OutcomeDropped, mapperID: mapperID}
}

// ErrorOutcome builds an error outcome. topicPath may be empty when it could
// not be derived from the failed input.
func ErrorOutcome[T any](mapperID string, err error, topicPath string) Outcome[T] {
	return Outcome[T]{kind: OutcomeError, mapperID: mapperID, err: err, topicPath: topicPath}
}

// Kind returns the outcome variant.
func (o Outcome[T]) Kind() OutcomeKind { return o.kind }

// MapperID returns the id of the mapper that produced the outcome.
func (o Outcome[T]) MapperID() string { return o.mapperID }

// Value returns the mapped value. Only meaningful for OutcomeMapped.
func (o Outcome[T]) Value() T { return o.value }

// Err returns the mapper failure. Only meaningful for OutcomeError.
func (o Outcome[T]) Err() error { return o.err }

// TopicPath returns the topic path derived from the failed input, if any.
func (o Outcome[T]) TopicPath() string { return o.topicPath }

// Targets returns the targets addressed by an outbound outcome.
func (o Outcome[T]) Targets() []connection.Target { return o.targets }

// withTargets attaches the target group an outbound outcome covers.
func (o Outcome[T]) withTargets(targets []connection.Target) Outcome[T] {
	o.targets = targets
	return o
}
