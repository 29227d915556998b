package signal

import (
	"fmt"
	"strings"
)

// Group identifies the entity kind a topic path addresses.
type Group string

// Channel distinguishes the twin (managed state) from the live channel
// (messages routed directly to the device).
type Channel string

// Criterion identifies the protocol exchange kind within a channel.
type Criterion string

// Known topic path segments.
const (
	GroupThings   Group = "things"
	GroupPolicies Group = "policies"

	ChannelTwin Channel = "twin"
	ChannelLive Channel = "live"

	CriterionCommands Criterion = "commands"
	CriterionEvents   Criterion = "events"
	CriterionMessages Criterion = "messages"
	CriterionAcks     Criterion = "acks"
	CriterionErrors   Criterion = "errors"
)

// TopicPath is the structured address of a protocol signal:
// "namespace/name/group/channel/criterion[/action]".
type TopicPath struct {
	Namespace  string
	EntityName string
	Group      Group
	Channel    Channel
	Criterion  Criterion
	Action     string
}

// ParseTopicPath parses the string form of a topic path.
func ParseTopicPath(s string) (TopicPath, error) {
	parts := strings.Split(s, "/")
	if len(parts) < 5 {
		return TopicPath{}, fmt.Errorf("topic path %q must have at least 5 segments", s)
	}

	tp := TopicPath{
		Namespace:  parts[0],
		EntityName: parts[1],
		Group:      Group(parts[2]),
		Channel:    Channel(parts[3]),
		Criterion:  Criterion(parts[4]),
	}
	if len(parts) > 5 {
		tp.Action = strings.Join(parts[5:], "/")
	}

	switch tp.Group {
	case GroupThings, GroupPolicies:
	default:
		return TopicPath{}, fmt.Errorf("topic path %q has unknown group %q", s, tp.Group)
	}
	switch tp.Channel {
	case ChannelTwin, ChannelLive:
	default:
		return TopicPath{}, fmt.Errorf("topic path %q has unknown channel %q", s, tp.Channel)
	}

	return tp, nil
}

// String renders the topic path in wire form.
func (tp TopicPath) String() string {
	base := fmt.Sprintf("%s/%s/%s/%s/%s", tp.Namespace, tp.EntityName, tp.Group, tp.Channel, tp.Criterion)
	if tp.Action != "" {
		return base + "/" + tp.Action
	}
	return base
}

// EntityID returns the id addressed by this topic path.
func (tp TopicPath) EntityID() EntityID {
	return EntityID{Namespace: tp.Namespace, Name: tp.EntityName}
}

// IsEvent reports whether the path addresses an event.
func (tp TopicPath) IsEvent() bool { return tp.Criterion == CriterionEvents }

// IsCommand reports whether the path addresses a command.
func (tp TopicPath) IsCommand() bool { return tp.Criterion == CriterionCommands }

// IsLive reports whether the path uses the live channel.
func (tp TopicPath) IsLive() bool { return tp.Channel == ChannelLive }

// EntityID identifies a thing as "namespace:name".
type EntityID struct {
	Namespace string
	Name      string
}

// ParseEntityID splits "namespace:name" at the first colon. The namespace may
// be empty ("" before the colon) but the name may not.
func ParseEntityID(s string) (EntityID, error) {
	idx := strings.Index(s, ":")
	if idx < 0 {
		return EntityID{}, fmt.Errorf("entity id %q must contain a ':' separator", s)
	}
	id := EntityID{Namespace: s[:idx], Name: s[idx+1:]}
	if id.Name == "" {
		return EntityID{}, fmt.Errorf("entity id %q has an empty name", s)
	}
	return id, nil
}

// String renders the entity id in wire form.
func (id EntityID) String() string {
	return id.Namespace + ":" + id.Name
}

// IsZero reports whether the id is unset.
func (id EntityID) IsZero() bool {
	return id.Namespace == "" && id.Name == ""
}
