package signal

import (
	"strings"
)

// Well-known header names. Header access is case-insensitive; these constants
// give the canonical lower-case spelling.
const (
	HeaderCorrelationID = "correlation-id"
	HeaderContentType   = "content-type"
	HeaderReplyTo       = "reply-to"
	HeaderReadSubjects  = "read-subjects"
	HeaderRequestedAcks = "requested-acks"
	HeaderResponseReq   = "response-required"
	HeaderChannel       = "channel"
)

// Headers carries protocol headers with case-insensitive access. Keys are
// stored lower-cased; the zero value is usable for reads.
type Headers map[string]string

// NewHeaders builds Headers from an arbitrary-cased map.
func NewHeaders(m map[string]string) Headers {
	h := make(Headers, len(m))
	for k, v := range m {
		h[strings.ToLower(k)] = v
	}
	return h
}

// Get returns the value for key, matching case-insensitively.
func (h Headers) Get(key string) string {
	return h[strings.ToLower(key)]
}

// Has reports whether key is present.
func (h Headers) Has(key string) bool {
	_, ok := h[strings.ToLower(key)]
	return ok
}

// Set stores value under the lower-cased key.
func (h Headers) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Copy returns an independent copy of the headers.
func (h Headers) Copy() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// CorrelationID returns the correlation-id header.
func (h Headers) CorrelationID() string {
	return h.Get(HeaderCorrelationID)
}

// ContentType returns the content-type header.
func (h Headers) ContentType() string {
	return h.Get(HeaderContentType)
}

// ReplyTo returns the reply-to header.
func (h Headers) ReplyTo() string {
	return h.Get(HeaderReplyTo)
}

// IsResponseRequired reports whether the sender expects a response. Absent
// header defaults to true.
func (h Headers) IsResponseRequired() bool {
	return h.Get(HeaderResponseReq) != "false"
}

// ReadSubjects returns the authorization subjects allowed to read the signal.
func (h Headers) ReadSubjects() []string {
	return splitList(h.Get(HeaderReadSubjects))
}

// RequestedAcks returns the acknowledgement labels the sender requested.
func (h Headers) RequestedAcks() []string {
	return splitList(h.Get(HeaderRequestedAcks))
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
