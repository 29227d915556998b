package signal

import (
	"encoding/json"
	"net/http"
)

// LiveResponseLabel is the conventional acknowledgement label for in-band
// live responses. Targets issuing this label answer through the live channel
// instead of a delivery acknowledgement, so weak-ack synthesis skips it.
const LiveResponseLabel = "live-response"

// Acknowledgement reports the outcome of delivering a signal to one
// acknowledging party. Weak acknowledgements are synthesized for signals
// that never reached the actual publish step and are marked as such.
type Acknowledgement struct {
	Label         string          `json:"label"`
	EntityID      EntityID        `json:"entityId"`
	Status        int             `json:"status"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Weak          bool            `json:"weak,omitempty"`
}

// IsSuccess reports whether the acknowledgement carries a 2xx status.
func (a Acknowledgement) IsSuccess() bool {
	return a.Status >= 200 && a.Status < 300
}

// NewAcknowledgement builds a successful acknowledgement for the given label.
func NewAcknowledgement(label string, entityID EntityID, correlationID string) Acknowledgement {
	return Acknowledgement{
		Label:         label,
		EntityID:      entityID,
		Status:        http.StatusOK,
		CorrelationID: correlationID,
	}
}

// NewWeakAcknowledgement builds a synthesized, non-authoritative success
// acknowledgement for a signal that was dropped before publishing.
func NewWeakAcknowledgement(label string, entityID EntityID, correlationID string) Acknowledgement {
	return Acknowledgement{
		Label:         label,
		EntityID:      entityID,
		Status:        http.StatusOK,
		CorrelationID: correlationID,
		Weak:          true,
		Payload:       json.RawMessage(`"Acknowledgement was issued automatically, because the signal was dropped before it reached the target."`),
	}
}

// AggregateStatus combines a set of acknowledgement statuses into one
// response status: the lone status when exactly one arrived, 200 when all
// succeeded, 424 when any failed, and 408 when none arrived at all.
func AggregateStatus(acks []Acknowledgement) int {
	if len(acks) == 0 {
		return http.StatusRequestTimeout
	}
	if len(acks) == 1 {
		return acks[0].Status
	}
	for _, a := range acks {
		if !a.IsSuccess() {
			return http.StatusFailedDependency
		}
	}
	return http.StatusOK
}

// NewFailedAcknowledgement builds a failed acknowledgement from an error
// payload and status.
func NewFailedAcknowledgement(label string, entityID EntityID, correlationID string, status int, payload []byte) Acknowledgement {
	if status < 400 {
		status = http.StatusInternalServerError
	}
	return Acknowledgement{
		Label:         label,
		EntityID:      entityID,
		Status:        status,
		CorrelationID: correlationID,
		Payload:       payload,
	}
}
