// Package external defines the wire-level message value exchanged with
// brokers: case-insensitive headers, a text or byte payload, and the
// source/target binding context a message travels with. Messages are
// immutable once constructed; every mutation helper returns a copy.
package external

import (
	"strings"
)

// Message is an external wire message. The payload is either textual or
// binary, never both. Filters and mappers never mutate a message in place.
type Message struct {
	headers        map[string]string
	textPayload    string
	bytePayload    []byte
	isText         bool
	topicPath      string
	sourceAddress  string
	targetAddress  string
	payloadMapping []string
}

// NewMessage builds a message with the given headers and no payload.
// Header keys are normalized to lower case for case-insensitive access.
func NewMessage(headers map[string]string) Message {
	return Message{headers: normalizeHeaders(headers)}
}

func normalizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Headers returns a copy of the message headers.
func (m Message) Headers() map[string]string {
	out := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		out[k] = v
	}
	return out
}

// Header returns the value for key, matching case-insensitively.
func (m Message) Header(key string) (string, bool) {
	v, ok := m.headers[strings.ToLower(key)]
	return v, ok
}

// ContentType returns the content-type header, if any.
func (m Message) ContentType() string {
	v, _ := m.Header("content-type")
	return v
}

// CorrelationID returns the correlation-id header, if any.
func (m Message) CorrelationID() string {
	v, _ := m.Header("correlation-id")
	return v
}

// IsText reports whether the payload is textual.
func (m Message) IsText() bool { return m.isText }

// TextPayload returns the textual payload. Empty when the payload is binary.
func (m Message) TextPayload() string { return m.textPayload }

// BytePayload returns the binary payload. Nil when the payload is textual.
func (m Message) BytePayload() []byte { return m.bytePayload }

// PayloadBytes returns the payload as bytes regardless of its kind.
func (m Message) PayloadBytes() []byte {
	if m.isText {
		return []byte(m.textPayload)
	}
	return m.bytePayload
}

// TopicPath returns the protocol topic path attached to the message, if any.
func (m Message) TopicPath() string { return m.topicPath }

// SourceAddress returns the source binding address the message arrived on.
func (m Message) SourceAddress() string { return m.sourceAddress }

// TargetAddress returns the target binding address the message is destined for.
func (m Message) TargetAddress() string { return m.targetAddress }

// PayloadMapping returns the ordered mapper ids configured for this message.
func (m Message) PayloadMapping() []string { return m.payloadMapping }

// WithHeaders returns a copy with the headers replaced.
func (m Message) WithHeaders(headers map[string]string) Message {
	out := m
	out.headers = normalizeHeaders(headers)
	return out
}

// WithHeader returns a copy with one header set.
func (m Message) WithHeader(key, value string) Message {
	headers := m.Headers()
	headers[strings.ToLower(key)] = value
	out := m
	out.headers = headers
	return out
}

// WithTextPayload returns a copy carrying a textual payload.
func (m Message) WithTextPayload(text string) Message {
	out := m
	out.textPayload = text
	out.bytePayload = nil
	out.isText = true
	return out
}

// WithBytePayload returns a copy carrying a binary payload.
func (m Message) WithBytePayload(payload []byte) Message {
	out := m
	out.textPayload = ""
	out.bytePayload = payload
	out.isText = false
	return out
}

// WithTopicPath returns a copy with the topic path set.
func (m Message) WithTopicPath(topicPath string) Message {
	out := m
	out.topicPath = topicPath
	return out
}

// WithSourceAddress returns a copy referencing the source binding.
func (m Message) WithSourceAddress(address string) Message {
	out := m
	out.sourceAddress = address
	return out
}

// WithTargetAddress returns a copy referencing the target binding.
func (m Message) WithTargetAddress(address string) Message {
	out := m
	out.targetAddress = address
	return out
}

// WithPayloadMapping returns a copy with the mapper chain set.
func (m Message) WithPayloadMapping(mapperIDs []string) Message {
	out := m
	out.payloadMapping = append([]string(nil), mapperIDs...)
	return out
}
