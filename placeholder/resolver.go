// Package placeholder resolves "{{ prefix:name }}" template tokens against
// pluggable named sources. Resolution is a pure function over the supplied
// sources; no state is kept between calls.
package placeholder

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Source resolves placeholder names within one prefix, e.g. "header" or
// "thing". Implementations return false when the name is unknown or the
// value is absent.
type Source interface {
	// Prefix returns the source's placeholder prefix without the colon.
	Prefix() string
	// Resolve returns the value for name, and whether it could be resolved.
	Resolve(name string) (string, bool)
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_-]+):([a-zA-Z0-9_./-]+)\s*\}\}`)

// Resolver resolves placeholder tokens against a set of named sources.
type Resolver struct {
	sources map[string]Source
}

// NewResolver builds a resolver over the given sources. Later sources with
// the same prefix replace earlier ones.
func NewResolver(sources ...Source) *Resolver {
	r := &Resolver{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		r.sources[s.Prefix()] = s
	}
	return r
}

// Resolve replaces every placeholder token in template. An unknown prefix or
// an unresolvable name yields a typed invalid error naming the token.
func (r *Resolver) Resolve(template string) (string, error) {
	var resolveErr error
	result := tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		if resolveErr != nil {
			return token
		}
		groups := tokenPattern.FindStringSubmatch(token)
		prefix, name := groups[1], groups[2]

		source, ok := r.sources[prefix]
		if !ok {
			resolveErr = errors.WrapInvalid(
				fmt.Errorf("unknown placeholder prefix %q in %q", prefix, token),
				"Resolver", "Resolve", "lookup source")
			return token
		}
		value, ok := source.Resolve(name)
		if !ok {
			resolveErr = errors.WrapInvalid(
				fmt.Errorf("placeholder %q could not be resolved", token),
				"Resolver", "Resolve", "resolve token")
			return token
		}
		return value
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return result, nil
}

// ResolveAll resolves every value of the given map, leaving keys untouched.
func (r *Resolver) ResolveAll(templates map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(templates))
	for k, v := range templates {
		resolved, err := r.Resolve(v)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

// ContainsPlaceholder reports whether s carries any placeholder token.
func ContainsPlaceholder(s string) bool {
	return tokenPattern.MatchString(s)
}

// HeaderSource resolves "header:<name>" against message headers.
type HeaderSource struct {
	Headers map[string]string
}

// Prefix implements Source.
func (s HeaderSource) Prefix() string { return "header" }

// Resolve implements Source; header names match case-insensitively.
func (s HeaderSource) Resolve(name string) (string, bool) {
	v, ok := s.Headers[strings.ToLower(name)]
	if !ok {
		for k, candidate := range s.Headers {
			if strings.EqualFold(k, name) {
				return candidate, true
			}
		}
	}
	return v, ok
}

// ThingSource resolves "thing:id", "thing:namespace" and "thing:name"
// against an entity id.
type ThingSource struct {
	ID signal.EntityID
}

// Prefix implements Source.
func (s ThingSource) Prefix() string { return "thing" }

// Resolve implements Source.
func (s ThingSource) Resolve(name string) (string, bool) {
	if s.ID.IsZero() {
		return "", false
	}
	switch name {
	case "id":
		return s.ID.String(), true
	case "namespace":
		return s.ID.Namespace, true
	case "name":
		return s.ID.Name, true
	default:
		return "", false
	}
}

// TopicSource resolves "topic:full", "topic:channel", "topic:criterion",
// "topic:action" and "topic:subject" against a signal topic path.
type TopicSource struct {
	Topic signal.TopicPath
}

// Prefix implements Source.
func (s TopicSource) Prefix() string { return "topic" }

// Resolve implements Source.
func (s TopicSource) Resolve(name string) (string, bool) {
	switch name {
	case "full":
		return s.Topic.String(), true
	case "channel":
		return string(s.Topic.Channel), true
	case "criterion":
		return string(s.Topic.Criterion), true
	case "action":
		return s.Topic.Action, s.Topic.Action != ""
	case "subject":
		// Alias for the action path used by live message topics.
		return s.Topic.Action, s.Topic.Action != ""
	default:
		return "", false
	}
}
