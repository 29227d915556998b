package external

import (
	"strings"
)

// FilterMode selects how a HeaderFilter treats its name set.
type FilterMode int

const (
	// FilterInclude keeps only the named headers
	FilterInclude FilterMode = iota
	// FilterExclude removes the named headers and keeps the rest
	FilterExclude
)

// String returns the string representation of FilterMode
func (m FilterMode) String() string {
	switch m {
	case FilterInclude:
		return "include"
	case FilterExclude:
		return "exclude"
	default:
		return "unknown"
	}
}

// HeaderFilter filters message headers by name, case-insensitively.
// An EXCLUDE filter over set S composed with an INCLUDE filter over the
// complement of S partitions the original header set without loss.
type HeaderFilter struct {
	Mode  FilterMode
	Names []string
}

// Apply returns a copy of the message with the filter applied to its headers.
func (f HeaderFilter) Apply(m Message) Message {
	named := make(map[string]struct{}, len(f.Names))
	for _, n := range f.Names {
		named[strings.ToLower(n)] = struct{}{}
	}

	filtered := make(map[string]string)
	for k, v := range m.headers {
		_, listed := named[k]
		keep := listed
		if f.Mode == FilterExclude {
			keep = !listed
		}
		if keep {
			filtered[k] = v
		}
	}

	out := m
	out.headers = filtered
	return out
}
