// Package connection defines the connectivity model: the immutable
// Connection value with its inbound Sources and outbound Targets, the
// append-only ConnectivityEvent log entries, and configuration validation.
package connection

import (
	"encoding/json"

	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Type enumerates the supported broker protocols.
type Type string

// Supported connection types.
const (
	TypeAMQP091  Type = "amqp-091"
	TypeAMQP10   Type = "amqp-10"
	TypeMQTT3    Type = "mqtt-3"
	TypeMQTT5    Type = "mqtt-5"
	TypeHTTPPush Type = "http-push"
	TypeKafka    Type = "kafka"
)

// Valid reports whether the type is a known protocol.
func (t Type) Valid() bool {
	switch t {
	case TypeAMQP091, TypeAMQP10, TypeMQTT3, TypeMQTT5, TypeHTTPPush, TypeKafka:
		return true
	default:
		return false
	}
}

// Status is the desired connection status.
type Status string

// Desired connection statuses.
const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Lifecycle marks a connection as live or tombstoned.
type Lifecycle string

// Lifecycle states.
const (
	LifecycleActive  Lifecycle = "active"
	LifecycleDeleted Lifecycle = "deleted"
)

// LiveStatus is the observed status of the client session, as opposed to the
// desired Status stored on the connection.
type LiveStatus string

// Observed client session statuses.
const (
	LiveStatusDisconnected  LiveStatus = "disconnected"
	LiveStatusConnecting    LiveStatus = "connecting"
	LiveStatusConnected     LiveStatus = "connected"
	LiveStatusDisconnecting LiveStatus = "disconnecting"
	LiveStatusFailed        LiveStatus = "failed"
)

// AuthorizationContext is the ordered list of authorization subjects a source
// or target acts as.
type AuthorizationContext []string

// Intersects reports whether any of the context's subjects appears in
// readSubjects. An empty context never matches (fail closed).
func (ac AuthorizationContext) Intersects(readSubjects []string) bool {
	if len(ac) == 0 {
		return false
	}
	for _, subject := range ac {
		for _, reader := range readSubjects {
			if subject == reader {
				return true
			}
		}
	}
	return false
}

// Enforcement validates that an inbound message's claimed entity identity
// matches an identity derived from the configured input template, preventing
// identity spoofing. Input and Filters carry placeholder templates.
type Enforcement struct {
	Input   string   `json:"input"`
	Filters []string `json:"filters"`
}

// ReplyTarget describes where command responses to inbound messages are
// published.
type ReplyTarget struct {
	Address       string            `json:"address"`
	HeaderMapping map[string]string `json:"headerMapping,omitempty"`
}

// Source is an inbound binding: broker addresses messages are consumed from,
// the authorization context applied to them, and the enforcement rule they
// must pass.
type Source struct {
	Addresses      []string             `json:"addresses"`
	ConsumerCount  int                  `json:"consumerCount,omitempty"`
	Authorization  AuthorizationContext `json:"authorizationContext"`
	Enforcement    *Enforcement         `json:"enforcement,omitempty"`
	HeaderMapping  map[string]string    `json:"headerMapping,omitempty"`
	PayloadMapping []string             `json:"payloadMapping,omitempty"`
	DeclaredAcks   []string             `json:"declaredAcks,omitempty"`
	ReplyTarget    *ReplyTarget         `json:"replyTarget,omitempty"`
	// ThrottlePerSecond bounds inbound consumption; 0 disables throttling.
	ThrottlePerSecond int `json:"throttlePerSecond,omitempty"`
}

// TopicKind enumerates the subscribable signal streams of a target.
type TopicKind string

// Subscribable topic kinds.
const (
	TopicTwinEvents   TopicKind = "twin-events"
	TopicLiveEvents   TopicKind = "live-events"
	TopicLiveMessages TopicKind = "live-messages"
	TopicLiveCommands TopicKind = "live-commands"
)

// Matches reports whether a signal belongs to the topic kind's stream.
func (k TopicKind) Matches(s signal.Signal) bool {
	switch k {
	case TopicTwinEvents:
		return s.Topic.Criterion == signal.CriterionEvents && s.Topic.Channel == signal.ChannelTwin
	case TopicLiveEvents:
		return s.Topic.Criterion == signal.CriterionEvents && s.Topic.Channel == signal.ChannelLive
	case TopicLiveMessages:
		return s.Topic.Criterion == signal.CriterionMessages
	case TopicLiveCommands:
		return s.Topic.Criterion == signal.CriterionCommands && s.Topic.Channel == signal.ChannelLive
	default:
		return false
	}
}

// FilteredTopic is one topic subscription of a target, optionally restricted
// by namespaces and an RQL filter expression, and optionally requesting
// extra enrichment fields before filtering.
type FilteredTopic struct {
	Kind        TopicKind `json:"topic"`
	Namespaces  []string  `json:"namespaces,omitempty"`
	Filter      string    `json:"filter,omitempty"`
	ExtraFields []string  `json:"extraFields,omitempty"`
}

// Target is an outbound binding: the broker address signals are published
// to, the topic subscriptions selecting them, and the acknowledgement label
// issued for deliveries.
type Target struct {
	Address        string               `json:"address"`
	Topics         []FilteredTopic      `json:"topics"`
	Authorization  AuthorizationContext `json:"authorizationContext"`
	HeaderMapping  map[string]string    `json:"headerMapping,omitempty"`
	PayloadMapping []string             `json:"payloadMapping,omitempty"`
	IssuedAckLabel string               `json:"issuedAcknowledgementLabel,omitempty"`
	QoS            int                  `json:"qos,omitempty"`
}

// MappingDefinition configures one named mapper instance.
type MappingDefinition struct {
	Engine           string            `json:"mappingEngine"`
	Options          map[string]string `json:"options,omitempty"`
	ContentTypeAllow []string          `json:"contentTypeAllowlist,omitempty"`
	ContentTypeBlock []string          `json:"contentTypeBlocklist,omitempty"`
}

// Connection is the immutable configuration of one managed broker
// connection. The supervisor owns the canonical value; client state machines
// receive a copy and never mutate it.
type Connection struct {
	ID                   string                       `json:"id"`
	Name                 string                       `json:"name,omitempty"`
	Type                 Type                         `json:"connectionType"`
	Status               Status                       `json:"connectionStatus"`
	URI                  string                       `json:"uri"`
	Sources              []Source                     `json:"sources,omitempty"`
	Targets              []Target                     `json:"targets,omitempty"`
	Mappings             map[string]MappingDefinition `json:"mappingDefinitions,omitempty"`
	ClientCount          int                          `json:"clientCount,omitempty"`
	ValidateCertificates bool                         `json:"validateCertificates"`
	Lifecycle            Lifecycle                    `json:"-"`
}

// Clone returns a deep copy of the connection.
func (c Connection) Clone() Connection {
	data, err := json.Marshal(c)
	if err != nil {
		// Connection is a plain data value; marshalling cannot fail for
		// values constructed through the public API.
		panic(err)
	}
	var out Connection
	if err := json.Unmarshal(data, &out); err != nil {
		panic(err)
	}
	out.Lifecycle = c.Lifecycle
	return out
}

// SubscribedTopicKinds returns the union of topic kinds over all targets.
func (c Connection) SubscribedTopicKinds() []TopicKind {
	seen := map[TopicKind]struct{}{}
	var kinds []TopicKind
	for _, target := range c.Targets {
		for _, topic := range target.Topics {
			if _, ok := seen[topic.Kind]; !ok {
				seen[topic.Kind] = struct{}{}
				kinds = append(kinds, topic.Kind)
			}
		}
	}
	return kinds
}
