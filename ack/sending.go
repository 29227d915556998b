package ack

import (
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Monitor receives per-message delivery events for connection metrics and
// logs. Implementations must be safe for concurrent use.
type Monitor interface {
	Published(correlationID string)
	Dropped(correlationID, reason string)
	Failed(correlationID string, err error)
}

// NopMonitor discards all events.
type NopMonitor struct{}

func (NopMonitor) Published(string)       {}
func (NopMonitor) Dropped(string, string) {}
func (NopMonitor) Failed(string, error)   {}

// ErrorConverter turns a publish failure into the acknowledgement reported
// back to the requester.
type ErrorConverter func(err error) signal.Acknowledgement

// PublishResult is the broker client's report for one publish attempt. A nil
// Ack with a nil Err means the publish completed without yielding the
// acknowledgement the target expected.
type PublishResult struct {
	Ack *signal.Acknowledgement
	Err error
}

// Context carries everything known about one (signal, target) delivery
// attempt.
type Context struct {
	Signal  signal.Signal
	Target  connection.Target
	Message external.Message
	Monitor Monitor
}

func (c Context) monitor() Monitor {
	if c.Monitor == nil {
		return NopMonitor{}
	}
	return c.Monitor
}

// IssuesAck reports whether the target issues a delivery acknowledgement.
// The live-response label is an in-band response channel, not a delivery
// acknowledgement, and never participates in synthesis.
func IssuesAck(t connection.Target) bool {
	return t.IssuedAckLabel != "" && t.IssuedAckLabel != signal.LiveResponseLabel
}

func (c Context) issuesAck() bool {
	return IssuesAck(c.Target)
}

// SendingOrDropped is the per-delivery decision record. MonitorAndAcknowledge
// records the delivery event on the monitor and returns a channel yielding
// the acknowledgement to report, or false when there is nothing to wait for.
type SendingOrDropped interface {
	MonitorAndAcknowledge(convert ErrorConverter) (<-chan signal.Acknowledgement, bool)
}

// Sending wraps a pending publish attempt.
type Sending struct {
	Context Context
	// Result yields exactly one publish result.
	Result <-chan PublishResult
}

// MonitorAndAcknowledge awaits the publish result in the background. Success
// records a published event and yields the broker's acknowledgement when the
// target issues one; a missing acknowledgement from a target that expects one
// is converted into a failed acknowledgement. Failures yield the converted
// failure acknowledgement.
func (s Sending) MonitorAndAcknowledge(convert ErrorConverter) (<-chan signal.Acknowledgement, bool) {
	ctx := s.Context
	wantsAck := ctx.issuesAck()

	out := make(chan signal.Acknowledgement, 1)
	go func() {
		defer close(out)
		result := <-s.Result

		if result.Err != nil {
			ctx.monitor().Failed(ctx.Signal.CorrelationID(), result.Err)
			if wantsAck {
				out <- convert(result.Err)
			}
			return
		}

		ctx.monitor().Published(ctx.Signal.CorrelationID())
		if !wantsAck {
			return
		}
		if result.Ack == nil {
			out <- convert(gwerrors.ErrNullAck)
			return
		}
		out <- *result.Ack
	}()

	if !wantsAck {
		// Drain happens in the goroutine; the caller has nothing to await.
		return nil, false
	}
	return out, true
}

// Dropped records a signal filtered out before publish.
type Dropped struct {
	Context Context
	Reason  string
}

// MonitorAndAcknowledge records the drop. When the target issues an
// acknowledgement label, a weak success acknowledgement is synthesized so the
// requester is not left waiting for a delivery that will never happen.
func (d Dropped) MonitorAndAcknowledge(ErrorConverter) (<-chan signal.Acknowledgement, bool) {
	ctx := d.Context
	ctx.monitor().Dropped(ctx.Signal.CorrelationID(), d.Reason)

	if !ctx.issuesAck() {
		return nil, false
	}

	weak := signal.NewWeakAcknowledgement(
		ctx.Target.IssuedAckLabel, ctx.Signal.EntityID(), ctx.Signal.CorrelationID())
	out := make(chan signal.Acknowledgement, 1)
	out <- weak
	close(out)
	return out, true
}
