package mapping

import (
	"fmt"
	"strings"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// OutboundSignal pairs a signal with the targets it is addressed to. Extra
// enrichment fields, when present, travel inside the signal envelope.
type OutboundSignal struct {
	Signal  signal.Signal
	Targets []connection.Target
}

// Processor applies a connection's configured mappers. It is stateless after
// construction and safe for concurrent use from any connection goroutine.
type Processor struct {
	mappers map[string]configuredMapper
}

type configuredMapper struct {
	mapper Mapper
	def    connection.MappingDefinition
}

// NewProcessor builds a processor for the connection's mapping definitions.
// The built-in engines are always available under their engine names even
// without a definition.
func NewProcessor(registry *Registry, conn connection.Connection) (*Processor, error) {
	p := &Processor{mappers: map[string]configuredMapper{}}

	for _, engine := range []string{EngineDitto, EngineRaw} {
		m, err := registry.newMapper(engine, connection.MappingDefinition{Engine: engine})
		if err != nil {
			return nil, err
		}
		p.mappers[engine] = configuredMapper{mapper: m, def: connection.MappingDefinition{Engine: engine}}
	}

	for id, def := range conn.Mappings {
		m, err := registry.newMapper(def.Engine, def)
		if err != nil {
			return nil, err
		}
		p.mappers[id] = configuredMapper{mapper: m, def: def}
	}
	return p, nil
}

// ProcessInbound maps an inbound wire message through every mapper in its
// payload-mapping chain. Each mapper runs against the original message and
// yields its own outcomes: one Mapped outcome per produced envelope, one
// Dropped outcome for an empty result, one Error outcome on failure. Empty
// notification payloads are dropped before any mapper runs.
func (p *Processor) ProcessInbound(msg external.Message) []Outcome[signal.Signal] {
	if msg.ContentType() == ContentTypeEmptyNotification {
		return []Outcome[signal.Signal]{DroppedOutcome[signal.Signal](DefaultMapperID)}
	}

	var outcomes []Outcome[signal.Signal]
	for _, mapperID := range mapperChain(msg.PayloadMapping()) {
		outcomes = append(outcomes, p.mapInboundWith(mapperID, msg)...)
	}
	return outcomes
}

func (p *Processor) mapInboundWith(mapperID string, msg external.Message) []Outcome[signal.Signal] {
	cm, ok := p.mappers[mapperID]
	if !ok {
		return []Outcome[signal.Signal]{ErrorOutcome[signal.Signal](
			mapperID, fmt.Errorf("mapper %q not configured", mapperID), msg.TopicPath())}
	}
	if !contentTypeAccepted(cm.def, msg.ContentType()) {
		return []Outcome[signal.Signal]{DroppedOutcome[signal.Signal](mapperID)}
	}

	adaptables, err := safeMapExternal(cm.mapper, msg)
	if err != nil {
		return []Outcome[signal.Signal]{ErrorOutcome[signal.Signal](mapperID, err, msg.TopicPath())}
	}
	if len(adaptables) == 0 {
		return []Outcome[signal.Signal]{DroppedOutcome[signal.Signal](mapperID)}
	}

	outcomes := make([]Outcome[signal.Signal], 0, len(adaptables))
	for _, a := range adaptables {
		outcomes = append(outcomes, Mapped(mapperID, signal.New(a)))
	}
	return outcomes
}

// ProcessOutbound maps an outbound signal for its targets. Targets sharing
// the exact ordered mapper chain form one group; each mapper of a chain runs
// once per group and its outcomes carry the whole group's target set.
func (p *Processor) ProcessOutbound(out OutboundSignal) []Outcome[external.Message] {
	var outcomes []Outcome[external.Message]
	for _, group := range groupTargets(out.Targets) {
		for _, mapperID := range group.chain {
			for _, outcome := range p.mapOutboundWith(mapperID, out.Signal) {
				outcomes = append(outcomes, outcome.withTargets(group.targets))
			}
		}
	}
	return outcomes
}

func (p *Processor) mapOutboundWith(mapperID string, s signal.Signal) []Outcome[external.Message] {
	topic := s.Topic.String()

	cm, ok := p.mappers[mapperID]
	if !ok {
		return []Outcome[external.Message]{ErrorOutcome[external.Message](
			mapperID, fmt.Errorf("mapper %q not configured", mapperID), topic)}
	}
	if !contentTypeAccepted(cm.def, s.Headers.ContentType()) {
		return []Outcome[external.Message]{DroppedOutcome[external.Message](mapperID)}
	}

	messages, err := safeMapSignal(cm.mapper, s.Adaptable)
	if err != nil {
		return []Outcome[external.Message]{ErrorOutcome[external.Message](mapperID, err, topic)}
	}
	if len(messages) == 0 {
		return []Outcome[external.Message]{DroppedOutcome[external.Message](mapperID)}
	}

	outcomes := make([]Outcome[external.Message], 0, len(messages))
	for _, msg := range messages {
		outcomes = append(outcomes, Mapped(mapperID, msg))
	}
	return outcomes
}

// targetGroup is one set of targets sharing an identical ordered mapper chain.
type targetGroup struct {
	chain   []string
	targets []connection.Target
}

// groupTargets partitions targets by mapper chain, preserving first-seen
// order so outcome ordering is deterministic.
func groupTargets(targets []connection.Target) []targetGroup {
	var groups []targetGroup
	index := map[string]int{}
	for _, target := range targets {
		chain := mapperChain(target.PayloadMapping)
		key := strings.Join(chain, "\x1f")
		if i, ok := index[key]; ok {
			groups[i].targets = append(groups[i].targets, target)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, targetGroup{chain: chain, targets: []connection.Target{target}})
	}
	return groups
}

func mapperChain(ids []string) []string {
	if len(ids) == 0 {
		return []string{DefaultMapperID}
	}
	return ids
}

// contentTypeAccepted applies the mapper's allow and block lists. An empty
// allow list accepts everything not blocked.
func contentTypeAccepted(def connection.MappingDefinition, contentType string) bool {
	for _, blocked := range def.ContentTypeBlock {
		if strings.EqualFold(blocked, contentType) {
			return false
		}
	}
	if len(def.ContentTypeAllow) == 0 {
		return true
	}
	for _, allowed := range def.ContentTypeAllow {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

// safeMapExternal shields the pipeline from panicking mappers.
func safeMapExternal(m Mapper, msg external.Message) (result []signal.Adaptable, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mapper panic: %v", r)
		}
	}()
	return m.MapExternal(msg)
}

func safeMapSignal(m Mapper, a signal.Adaptable) (result []external.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("mapper panic: %v", r)
		}
	}()
	return m.MapSignal(a)
}
