package connection

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Validator checks connection configurations at create/modify time.
// Validation failures are fatal: they surface immediately to the caller and
// are never retried.
type Validator struct {
	// BlockedHostnames are hostnames (or IP literals) that may never be used
	// as a connection endpoint, e.g. cloud metadata services.
	BlockedHostnames []string
	// KnownMappingEngines is the set of registered mapper factory ids used
	// to check payload-mapping references.
	KnownMappingEngines map[string]struct{}
}

// Validate checks the full connection configuration.
func (v *Validator) Validate(c Connection) error {
	if c.ID == "" {
		return errors.NewConfigurationInvalid("The connection id must not be empty.")
	}
	if !c.Type.Valid() {
		return errors.NewConfigurationInvalid(
			fmt.Sprintf("The connection type '%s' is not supported.", c.Type))
	}
	if c.Status != StatusOpen && c.Status != StatusClosed {
		return errors.NewConfigurationInvalid(
			fmt.Sprintf("The connection status '%s' is not valid.", c.Status))
	}

	host, err := v.validateURI(c)
	if err != nil {
		return err
	}
	if v.isBlocked(host) {
		return errors.NewHostBlocked(host)
	}

	if err := v.validateSources(c); err != nil {
		return err
	}
	if err := v.validateTargets(c); err != nil {
		return err
	}
	return v.validateMappings(c)
}

func (v *Validator) validateURI(c Connection) (string, error) {
	parsed, err := url.Parse(c.URI)
	if err != nil || parsed.Host == "" {
		return "", errors.NewConfigurationInvalid(
			fmt.Sprintf("The URI '%s' is not a valid connection URI.", c.URI))
	}
	host := parsed.Hostname()
	if host == "" {
		return "", errors.NewConfigurationInvalid(
			fmt.Sprintf("The URI '%s' has no host.", c.URI))
	}
	return host, nil
}

func (v *Validator) isBlocked(host string) bool {
	for _, blocked := range v.BlockedHostnames {
		if blocked == "" {
			continue
		}
		if strings.EqualFold(host, blocked) {
			return true
		}
		// Blocked IPs also match when the host resolves to an IP literal.
		if ip := net.ParseIP(host); ip != nil && ip.Equal(net.ParseIP(blocked)) {
			return true
		}
	}
	return false
}

func (v *Validator) validateSources(c Connection) error {
	for i, source := range c.Sources {
		if len(source.Addresses) == 0 {
			return errors.NewConfigurationInvalid(
				fmt.Sprintf("Source %d has no addresses.", i))
		}
		for _, addr := range source.Addresses {
			if addr == "" {
				return errors.NewConfigurationInvalid(
					fmt.Sprintf("Source %d has an empty address.", i))
			}
		}
		if source.ConsumerCount < 0 {
			return errors.NewConfigurationInvalid(
				fmt.Sprintf("Source %d has a negative consumer count.", i))
		}
		if source.Enforcement != nil && source.Enforcement.Input == "" {
			return errors.NewConfigurationInvalid(
				fmt.Sprintf("Source %d has an enforcement without input template.", i))
		}
		for _, label := range source.DeclaredAcks {
			if label == "" {
				return errors.NewConfigurationInvalid(
					fmt.Sprintf("Source %d declares an empty acknowledgement label.", i))
			}
			if label == signal.LiveResponseLabel {
				return errors.NewConfigurationInvalid(
					fmt.Sprintf("Source %d declares the reserved acknowledgement label '%s'.", i, label))
			}
		}
		if err := v.checkMappingRefs(c, source.PayloadMapping); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateTargets(c Connection) error {
	for i, target := range c.Targets {
		if target.Address == "" {
			return errors.NewConfigurationInvalid(
				fmt.Sprintf("Target %d has no address.", i))
		}
		if len(target.Topics) == 0 {
			return errors.NewConfigurationInvalid(
				fmt.Sprintf("Target %d subscribes to no topics.", i))
		}
		for _, topic := range target.Topics {
			switch topic.Kind {
			case TopicTwinEvents, TopicLiveEvents, TopicLiveMessages, TopicLiveCommands:
			default:
				return errors.NewConfigurationInvalid(
					fmt.Sprintf("Target %d subscribes to unknown topic '%s'.", i, topic.Kind))
			}
		}
		if err := v.checkMappingRefs(c, target.PayloadMapping); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateMappings(c Connection) error {
	for name, def := range c.Mappings {
		if def.Engine == "" {
			return errors.NewConfigurationInvalid(
				fmt.Sprintf("Payload mapping '%s' names no mapping engine.", name))
		}
		if v.KnownMappingEngines != nil {
			if _, ok := v.KnownMappingEngines[def.Engine]; !ok {
				return errors.NewConfigurationInvalid(
					fmt.Sprintf("Payload mapping '%s' references unknown engine '%s'.", name, def.Engine))
			}
		}
	}
	return nil
}

// checkMappingRefs verifies that every referenced payload mapping is either a
// built-in engine or defined on the connection.
func (v *Validator) checkMappingRefs(c Connection, refs []string) error {
	for _, ref := range refs {
		if _, defined := c.Mappings[ref]; defined {
			continue
		}
		if v.KnownMappingEngines != nil {
			if _, builtin := v.KnownMappingEngines[ref]; builtin {
				continue
			}
		}
		return errors.NewConfigurationInvalid(
			fmt.Sprintf("The payload mapping '%s' is not defined on the connection.", ref))
	}
	return nil
}
