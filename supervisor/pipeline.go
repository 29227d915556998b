package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/eclipse-ditto/ditto-sub022/ack"
	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/filter"
	"github.com/eclipse-ditto/ditto-sub022/logging"
	"github.com/eclipse-ditto/ditto-sub022/mapping"
	"github.com/eclipse-ditto/ditto-sub022/metric"
	"github.com/eclipse-ditto/ditto-sub022/placeholder"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// headerAuthSubjects carries the source's authorization context on inbound
// signals so downstream authorization can evaluate them.
const headerAuthSubjects = "auth-subjects"

// pipeline is the per-session message path: inbound wire messages up to the
// forwarder, outbound signals down to the broker. It is built once per
// client session from an immutable connection snapshot and is safe for
// concurrent use.
type pipeline struct {
	conn      connection.Connection
	processor *mapping.Processor
	counters  *metric.Counters
	clog      *logging.ConnectionLogger
	client    *client.Client
	forwarder Forwarder
	log       *slog.Logger
}

// handleInbound consumes one wire message from a source: count, map,
// enforce, forward. Per-message failures are contained here; they never
// reach the session state machine.
func (p *pipeline) handleInbound(ctx context.Context, msg external.Message) {
	addr := msg.SourceAddress()
	p.counters.Consumed(addr)
	src := p.sourceFor(addr)

	for _, outcome := range p.processor.ProcessInbound(msg) {
		switch outcome.Kind() {
		case mapping.OutcomeDropped:
			p.counters.InboundDropped(addr)
			p.clog.Success(logging.CategorySource, addr, msg.CorrelationID(),
				"inbound message dropped by mapper %s", outcome.MapperID())

		case mapping.OutcomeError:
			p.counters.InboundFailed(addr, outcome.MapperID())
			p.clog.Failure(logging.CategorySource, addr, msg.CorrelationID(),
				"inbound mapping failed: %v", outcome.Err())
			p.replyError(ctx, src, msg, outcome.Err())

		case mapping.OutcomeMapped:
			s := outcome.Value()
			if s.CorrelationID() == "" {
				s = s.WithHeaders(map[string]string{
					signal.HeaderCorrelationID: uuid.NewString(),
				})
			}
			if src != nil && len(src.Authorization) > 0 {
				s = s.WithHeaders(map[string]string{
					headerAuthSubjects: strings.Join(src.Authorization, ","),
				})
			}
			if src != nil && src.Enforcement != nil {
				if err := enforceIdentity(*src.Enforcement, msg, s); err != nil {
					p.counters.InboundFailed(addr, outcome.MapperID())
					p.clog.Failure(logging.CategorySource, addr, s.CorrelationID(),
						"enforcement rejected message: %v", err)
					p.replyError(ctx, src, msg, err)
					continue
				}
			}
			// Inbound acknowledgements may only carry labels the source
			// declared.
			if s.Topic.Criterion == signal.CriterionAcks && !declaresLabel(src, s.Topic.Action) {
				p.counters.InboundFailed(addr, outcome.MapperID())
				p.clog.Failure(logging.CategorySource, addr, s.CorrelationID(),
					"acknowledgement label %q is not declared by the source", s.Topic.Action)
				continue
			}

			if err := p.forwarder.Publish(ctx, s); err != nil {
				p.counters.InboundFailed(addr, outcome.MapperID())
				p.clog.Failure(logging.CategorySource, addr, s.CorrelationID(),
					"forwarding inbound signal failed: %v", err)
				continue
			}
			p.counters.InboundMapped(addr)
			p.clog.Success(logging.CategorySource, addr, s.CorrelationID(),
				"inbound message mapped by %s", outcome.MapperID())
		}
	}
}

func (p *pipeline) sourceFor(address string) *connection.Source {
	for i := range p.conn.Sources {
		for _, addr := range p.conn.Sources[i].Addresses {
			if addr == address {
				return &p.conn.Sources[i]
			}
		}
	}
	return nil
}

func declaresLabel(src *connection.Source, label string) bool {
	if src == nil {
		return false
	}
	for _, l := range src.DeclaredAcks {
		if l == label {
			return true
		}
	}
	return false
}

// enforceIdentity resolves the enforcement input against the message and
// signal, then requires it to equal one of the resolved filters.
func enforceIdentity(enf connection.Enforcement, msg external.Message, s signal.Signal) error {
	resolver := placeholder.NewResolver(
		placeholder.HeaderSource{Headers: msg.Headers()},
		placeholder.ThingSource{ID: s.EntityID()},
		placeholder.TopicSource{Topic: s.Topic},
	)
	input, err := resolver.Resolve(enf.Input)
	if err != nil {
		return gwerrors.NewEnforcementFailed(enf.Input)
	}
	for _, tmpl := range enf.Filters {
		resolved, err := resolver.Resolve(tmpl)
		if err != nil {
			continue
		}
		if resolved == input {
			return nil
		}
	}
	return gwerrors.NewEnforcementFailed(input)
}

// replyError publishes an error response to the source's reply target when
// the sender expects a response.
func (p *pipeline) replyError(ctx context.Context, src *connection.Source, msg external.Message, cause error) {
	if src == nil || src.ReplyTarget == nil {
		return
	}
	if v, ok := msg.Header(signal.HeaderResponseReq); ok && v == "false" {
		return
	}

	resolver := placeholder.NewResolver(placeholder.HeaderSource{Headers: msg.Headers()})
	address, err := resolver.Resolve(src.ReplyTarget.Address)
	if err != nil {
		p.log.Debug("reply target address unresolvable", "error", err)
		return
	}

	coded := gwerrors.AsCoded(cause)
	if corr := msg.CorrelationID(); corr != "" {
		coded = coded.WithCorrelationID(corr)
	}
	body, err := json.Marshal(coded)
	if err != nil {
		return
	}

	headers := map[string]string{
		signal.HeaderContentType: "application/json",
	}
	if corr := msg.CorrelationID(); corr != "" {
		headers[signal.HeaderCorrelationID] = corr
	}
	if mapped, err := resolver.ResolveAll(src.ReplyTarget.HeaderMapping); err == nil {
		for k, v := range mapped {
			headers[k] = v
		}
	}

	reply := external.NewMessage(headers).
		WithTextPayload(string(body)).
		WithTargetAddress(address)

	if _, err := p.client.Publish(ctx, connection.Target{Address: address}, reply); err != nil {
		p.clog.Failure(logging.CategoryResponse, address, msg.CorrelationID(),
			"publishing error response failed: %v", err)
		return
	}
	p.clog.Failure(logging.CategoryResponse, address, msg.CorrelationID(),
		"error response sent: %s", coded.Code)
}

// ackAggregationTimeout bounds how long the pipeline waits for the per-target
// acknowledgements of one requested-acks signal before forwarding a partial
// aggregate.
const ackAggregationTimeout = time.Minute

// outboundDelivery is one resolved (target, message) pair of an outbound
// signal. A delivery without a mapped message is a drop with a reason.
type outboundDelivery struct {
	target connection.Target
	msg    external.Message
	mapped bool
	reason string
}

// handleOutbound routes one platform signal to the matching targets: filter,
// map per target group, publish, acknowledge. A target that issues an
// acknowledgement label but whose subscription excludes the signal still owes
// the requester an answer; it is treated as a drop and acknowledged weakly.
func (p *pipeline) handleOutbound(ctx context.Context, s signal.Signal) {
	var matched, excluded []connection.Target
	for _, t := range p.conn.Targets {
		switch {
		case filter.TargetMatches(t, s):
			matched = append(matched, t)
		case ack.IssuesAck(t):
			excluded = append(excluded, t)
		}
	}
	if len(matched) == 0 && len(excluded) == 0 {
		return
	}
	for _, t := range matched {
		p.counters.Filtered(t.Address)
	}

	var deliveries []outboundDelivery
	for _, t := range excluded {
		deliveries = append(deliveries, outboundDelivery{
			target: t, reason: "signal excluded by the target's topic filter"})
	}

	if len(matched) > 0 {
		outcomes := p.processor.ProcessOutbound(mapping.OutboundSignal{Signal: s, Targets: matched})
		for _, outcome := range outcomes {
			switch outcome.Kind() {
			case mapping.OutcomeError:
				for _, t := range outcome.Targets() {
					p.counters.OutboundFailed(t.Address, outcome.MapperID())
					p.clog.Failure(logging.CategoryTarget, t.Address, s.CorrelationID(),
						"outbound mapping failed: %v", outcome.Err())
				}

			case mapping.OutcomeDropped:
				for _, t := range outcome.Targets() {
					deliveries = append(deliveries, outboundDelivery{
						target: t, reason: "mapper " + outcome.MapperID() + " produced no output"})
				}

			case mapping.OutcomeMapped:
				for _, t := range outcome.Targets() {
					deliveries = append(deliveries, outboundDelivery{
						target: t, msg: outcome.Value(), mapped: true})
				}
			}
		}
	}

	// When the sender requested acknowledgements, the per-target results are
	// aggregated into one response instead of being forwarded one by one.
	var col *ack.Collector
	if len(s.Headers.RequestedAcks()) > 0 {
		issuing := 0
		for _, d := range deliveries {
			if ack.IssuesAck(d.target) {
				issuing++
			}
		}
		if issuing > 0 {
			col = ack.NewCollector()
			col.SetCount(issuing)
			go p.forwardAggregate(ctx, s, col)
		}
	}

	for _, d := range deliveries {
		if d.mapped {
			go p.publishTo(ctx, s, d.target, d.msg, col)
			continue
		}
		dropped := ack.Dropped{
			Context: ack.Context{Signal: s, Target: d.target, Monitor: p.monitorFor(d.target.Address)},
			Reason:  d.reason,
		}
		p.acknowledge(ctx, dropped, s, d.target, col)
	}
}

// publishTo delivers one mapped message to one target: header mapping with
// placeholder resolution, publish through the session, acknowledgement
// handling.
func (p *pipeline) publishTo(ctx context.Context, s signal.Signal, t connection.Target, msg external.Message, col *ack.Collector) {
	if len(t.HeaderMapping) > 0 {
		resolver := placeholder.NewResolver(
			placeholder.HeaderSource{Headers: msg.Headers()},
			placeholder.ThingSource{ID: s.EntityID()},
			placeholder.TopicSource{Topic: s.Topic},
		)
		mapped, err := resolver.ResolveAll(t.HeaderMapping)
		if err != nil {
			p.counters.OutboundFailed(t.Address, "")
			p.clog.Failure(logging.CategoryTarget, t.Address, s.CorrelationID(),
				"target header mapping failed: %v", err)
			return
		}
		for k, v := range mapped {
			msg = msg.WithHeader(k, v)
		}
	}
	msg = msg.WithTargetAddress(t.Address)

	resultCh := make(chan ack.PublishResult, 1)
	go func() {
		a, err := p.client.Publish(ctx, t, msg)
		resultCh <- ack.PublishResult{Ack: a, Err: err}
	}()

	sending := ack.Sending{
		Context: ack.Context{Signal: s, Target: t, Message: msg, Monitor: p.monitorFor(t.Address)},
		Result:  resultCh,
	}
	p.acknowledge(ctx, sending, s, t, col)
}

// acknowledge runs the delivery decision's monitoring and reports the
// resulting acknowledgement, if the target issues one: into the collector
// when the sender requested aggregation, forwarded individually otherwise.
func (p *pipeline) acknowledge(ctx context.Context, decision ack.SendingOrDropped, s signal.Signal, t connection.Target, col *ack.Collector) {
	ackCh, ok := decision.MonitorAndAcknowledge(failedAckConverter(s, t))
	if !ok {
		return
	}
	acknowledgement, ok := <-ackCh
	if !ok {
		return
	}
	if col != nil {
		col.Add(acknowledgement)
		return
	}
	if err := p.forwarder.Publish(ctx, ackSignal(acknowledgement)); err != nil {
		p.log.Warn("forwarding acknowledgement failed",
			"label", acknowledgement.Label, "error", err)
	}
}

// forwardAggregate awaits the collected per-target acknowledgements and
// forwards the combined response, including partial results on timeout.
func (p *pipeline) forwardAggregate(ctx context.Context, s signal.Signal, col *ack.Collector) {
	res, err := col.Await(ctx, ackAggregationTimeout)
	if err != nil {
		return
	}
	if !res.AllArrived {
		p.log.Warn("acknowledgement aggregation timed out",
			"correlation_id", s.CorrelationID(), "collected", len(res.Responses))
	}
	if err := p.forwarder.Publish(ctx, aggregateAckSignal(s, res.Responses)); err != nil {
		p.log.Warn("forwarding aggregated acknowledgements failed", "error", err)
	}
}

// failedAckConverter turns a publish failure into the failed acknowledgement
// reported back for the target's issued label.
func failedAckConverter(s signal.Signal, t connection.Target) ack.ErrorConverter {
	return func(err error) signal.Acknowledgement {
		coded := gwerrors.AsCoded(err)
		payload, marshalErr := json.Marshal(coded)
		if marshalErr != nil {
			payload = nil
		}
		return signal.NewFailedAcknowledgement(
			t.IssuedAckLabel, s.EntityID(), s.CorrelationID(), coded.Status, payload)
	}
}

// aggregateAckSignal combines per-target acknowledgements into one acks
// envelope keyed by label, with the combined status of the set.
func aggregateAckSignal(s signal.Signal, acks []signal.Acknowledgement) signal.Signal {
	byLabel := make(map[string]signal.Acknowledgement, len(acks))
	for _, a := range acks {
		byLabel[a.Label] = a
	}
	body, err := json.Marshal(byLabel)
	if err != nil {
		body = nil
	}
	headers := signal.Headers{}
	if corr := s.CorrelationID(); corr != "" {
		headers.Set(signal.HeaderCorrelationID, corr)
	}
	return signal.New(signal.Adaptable{
		Topic: signal.TopicPath{
			Namespace:  s.EntityID().Namespace,
			EntityName: s.EntityID().Name,
			Group:      signal.GroupThings,
			Channel:    signal.ChannelTwin,
			Criterion:  signal.CriterionAcks,
		},
		Headers: headers,
		Path:    "/",
		Value:   body,
		Status:  signal.AggregateStatus(acks),
	})
}

// ackSignal wraps an acknowledgement into its protocol envelope for the
// forwarder.
func ackSignal(a signal.Acknowledgement) signal.Signal {
	headers := signal.Headers{}
	if a.CorrelationID != "" {
		headers.Set(signal.HeaderCorrelationID, a.CorrelationID)
	}
	if a.Weak {
		headers.Set("ditto-weak-ack", "true")
	}
	return signal.New(signal.Adaptable{
		Topic: signal.TopicPath{
			Namespace:  a.EntityID.Namespace,
			EntityName: a.EntityID.Name,
			Group:      signal.GroupThings,
			Channel:    signal.ChannelTwin,
			Criterion:  signal.CriterionAcks,
			Action:     a.Label,
		},
		Headers: headers,
		Path:    "/",
		Value:   a.Payload,
		Status:  a.Status,
	})
}

// deliveryMonitor bridges acknowledgement events into the connection's
// counters and log collector.
type deliveryMonitor struct {
	address  string
	counters *metric.Counters
	clog     *logging.ConnectionLogger
}

func (p *pipeline) monitorFor(address string) ack.Monitor {
	return deliveryMonitor{address: address, counters: p.counters, clog: p.clog}
}

func (m deliveryMonitor) Published(correlationID string) {
	m.counters.Published(m.address)
	m.clog.Success(logging.CategoryTarget, m.address, correlationID, "message published")
}

func (m deliveryMonitor) Dropped(correlationID, reason string) {
	m.counters.OutboundDropped(m.address)
	m.clog.Success(logging.CategoryTarget, m.address, correlationID, "message dropped: %s", reason)
}

func (m deliveryMonitor) Failed(correlationID string, err error) {
	m.counters.OutboundFailed(m.address, "")
	m.clog.Failure(logging.CategoryTarget, m.address, correlationID, "publish failed: %v", err)
}
