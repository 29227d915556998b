package mapping

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Engine names of the built-in mappers. Connections may reference them in
// payload mappings without declaring a mapping definition.
const (
	EngineDitto = "ditto"
	EngineRaw   = "raw"
)

// DefaultMapperID is applied when a source or target declares no payload
// mapping.
const DefaultMapperID = EngineDitto

// ContentTypeDitto is the wire content type of the protocol envelope.
const ContentTypeDitto = "application/vnd.eclipse.ditto+json"

// ContentTypeEmptyNotification marks upstream keep-alive notifications that
// carry no signal and are dropped before any mapper runs.
const ContentTypeEmptyNotification = "application/vnd.eclipse-hono-empty-notification"

// Mapper transforms between wire messages and protocol envelopes. A mapper
// may return an empty slice (drop), several elements (duplicate), or an
// error, and must be safe for concurrent use after Configure.
type Mapper interface {
	// Configure applies the connection-level mapping definition. Called
	// once before the first Map call.
	Configure(def connection.MappingDefinition) error
	// MapExternal converts an inbound wire message to protocol envelopes.
	MapExternal(msg external.Message) ([]signal.Adaptable, error)
	// MapSignal converts an outbound protocol envelope to wire messages.
	MapSignal(a signal.Adaptable) ([]external.Message, error)
}

// Factory creates an unconfigured mapper instance.
type Factory func() Mapper

// Registry resolves mapping engine names to factories. It is populated at
// startup; there is no dynamic loading.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in engines registered.
func NewRegistry() *Registry {
	r := &Registry{factories: map[string]Factory{}}
	r.Register(EngineDitto, func() Mapper { return &dittoMapper{} })
	r.Register(EngineRaw, func() Mapper { return &rawMapper{} })
	return r
}

// Register adds or replaces an engine factory.
func (r *Registry) Register(engine string, factory Factory) {
	r.factories[engine] = factory
}

// Engines returns the sorted engine names known to the registry.
func (r *Registry) Engines() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// newMapper instantiates and configures an engine.
func (r *Registry) newMapper(engine string, def connection.MappingDefinition) (Mapper, error) {
	factory, ok := r.factories[engine]
	if !ok {
		return nil, gwerrors.NewConfigurationInvalid(
			fmt.Sprintf("unknown mapping engine %q", engine))
	}
	m := factory()
	if err := m.Configure(def); err != nil {
		return nil, gwerrors.Wrap(err, "mapping", "newMapper", "configure mapper")
	}
	return m, nil
}

// dittoMapper is the identity mapper for the protocol envelope content type.
// Inbound payloads are parsed as serialized envelopes; outbound envelopes are
// serialized as JSON text.
type dittoMapper struct{}

func (m *dittoMapper) Configure(connection.MappingDefinition) error { return nil }

func (m *dittoMapper) MapExternal(msg external.Message) ([]signal.Adaptable, error) {
	payload := msg.PayloadBytes()
	if len(payload) == 0 {
		return nil, nil
	}
	var a signal.Adaptable
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("parse protocol envelope: %w", err)
	}
	return []signal.Adaptable{a}, nil
}

func (m *dittoMapper) MapSignal(a signal.Adaptable) ([]external.Message, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("serialize protocol envelope: %w", err)
	}
	msg := external.NewMessage(map[string]string{
		"content-type":   ContentTypeDitto,
		"correlation-id": a.Headers.CorrelationID(),
	}).WithTextPayload(string(data)).WithTopicPath(a.Topic.String())
	return []external.Message{msg}, nil
}

// rawMapper passes payload bytes through untouched. Inbound messages must
// carry a topic path header or attribute so the envelope can be synthesized;
// outbound messages carry the envelope value verbatim.
type rawMapper struct {
	contentType string
}

// rawTopicHeader names the inbound header carrying the protocol topic when
// the transport itself does not.
const rawTopicHeader = "ditto-topic"

func (m *rawMapper) Configure(def connection.MappingDefinition) error {
	m.contentType = def.Options["contentType"]
	if m.contentType == "" {
		m.contentType = "application/octet-stream"
	}
	return nil
}

func (m *rawMapper) MapExternal(msg external.Message) ([]signal.Adaptable, error) {
	topic := msg.TopicPath()
	if topic == "" {
		topic, _ = msg.Header(rawTopicHeader)
	}
	if topic == "" {
		return nil, fmt.Errorf("raw payload carries no topic path")
	}
	tp, err := signal.ParseTopicPath(topic)
	if err != nil {
		return nil, err
	}
	payload := msg.PayloadBytes()
	if len(payload) == 0 {
		return nil, nil
	}
	value := json.RawMessage(payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return nil, fmt.Errorf("encode raw payload: %w", err)
		}
		value = quoted
	}
	return []signal.Adaptable{{
		Topic:   tp,
		Headers: signal.NewHeaders(msg.Headers()),
		Path:    "/",
		Value:   value,
	}}, nil
}

func (m *rawMapper) MapSignal(a signal.Adaptable) ([]external.Message, error) {
	msg := external.NewMessage(map[string]string{
		"content-type": m.contentType,
	}).WithBytePayload([]byte(a.Value)).WithTopicPath(a.Topic.String())
	return []external.Message{msg}, nil
}
