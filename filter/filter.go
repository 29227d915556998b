// Package filter computes which of a connection's targets are authorized and
// topically matched to receive an outbound signal.
package filter

import (
	"github.com/eclipse-ditto/ditto-sub022/connection"
	"github.com/eclipse-ditto/ditto-sub022/filter/rql"
	"github.com/eclipse-ditto/ditto-sub022/pkg/cache"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// parsedFilters caches parsed RQL expressions keyed by their source text.
// Target filters repeat for every signal on a stream, so parsing each once
// is enough. A nil node records an unparseable filter.
var parsedFilters = cache.NewLRU[*rql.Node](256)

func parseFilter(expr string) (*rql.Node, bool) {
	if node, ok := parsedFilters.Get(expr); ok {
		return node, node != nil
	}
	node, err := rql.Parse(expr)
	if err != nil {
		parsedFilters.Set(expr, nil)
		return nil, false
	}
	parsedFilters.Set(expr, node)
	return node, true
}

// Filter returns the subset of the connection's targets that should receive
// the signal. Targets are evaluated independently; there is no cross-target
// precedence. The function is pure: identical inputs yield identical target
// slices in configuration order.
func Filter(conn connection.Connection, s signal.Signal) []connection.Target {
	var matched []connection.Target
	for _, target := range conn.Targets {
		if TargetMatches(target, s) {
			matched = append(matched, target)
		}
	}
	return matched
}

// TargetMatches reports whether a single target subscribes to the signal.
func TargetMatches(target connection.Target, s signal.Signal) bool {
	// Fail closed: a target without authorization subjects never matches.
	if !target.Authorization.Intersects(s.Headers.ReadSubjects()) {
		return false
	}

	for _, topic := range target.Topics {
		if topicMatches(topic, s) {
			return true
		}
	}
	return false
}

func topicMatches(topic connection.FilteredTopic, s signal.Signal) bool {
	if !topic.Kind.Matches(s) {
		return false
	}

	if len(topic.Namespaces) > 0 {
		namespace := s.EntityID().Namespace
		found := false
		for _, allowed := range topic.Namespaces {
			if allowed == namespace {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if topic.Filter != "" {
		node, ok := parseFilter(topic.Filter)
		if !ok {
			// Invalid filters exclude the topic rather than letting
			// unfiltered signals through.
			return false
		}
		matched, err := node.Evaluate(s.FieldTree())
		if err != nil || !matched {
			return false
		}
	}

	return true
}
