package rql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fields() map[string]any {
	return map[string]any{
		"attributes": map[string]any{
			"location": "kitchen",
			"floor":    float64(2),
			"enabled":  true,
		},
		"features": map[string]any{
			"temperature": map[string]any{
				"properties": map[string]any{
					"value": 23.5,
				},
			},
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		filter   string
		expected bool
	}{
		{"eq string match", `eq(attributes/location,"kitchen")`, true},
		{"eq string mismatch", `eq(attributes/location,"cellar")`, false},
		{"eq number", `eq(attributes/floor,2)`, true},
		{"eq bool", `eq(attributes/enabled,true)`, true},
		{"ne", `ne(attributes/location,"cellar")`, true},
		{"ne on missing field", `ne(attributes/missing,"x")`, true},
		{"eq on missing field", `eq(attributes/missing,"x")`, false},
		{"gt", `gt(features/temperature/properties/value,20)`, true},
		{"gt false", `gt(features/temperature/properties/value,30)`, false},
		{"ge boundary", `ge(features/temperature/properties/value,23.5)`, true},
		{"lt", `lt(features/temperature/properties/value,30)`, true},
		{"le", `le(attributes/floor,2)`, true},
		{"string order", `gt(attributes/location,"alpha")`, true},
		{"exists", `exists(features/temperature)`, true},
		{"exists missing", `exists(features/humidity)`, false},
		{"in match", `in(attributes/location,"hall","kitchen")`, true},
		{"in miss", `in(attributes/location,"hall","cellar")`, false},
		{"like prefix", `like(attributes/location,"kit*")`, true},
		{"like suffix", `like(attributes/location,"*chen")`, true},
		{"like middle", `like(attributes/location,"k*n")`, true},
		{"like miss", `like(attributes/location,"cel*")`, false},
		{"and", `and(eq(attributes/location,"kitchen"),gt(features/temperature/properties/value,20))`, true},
		{"and short-circuit", `and(eq(attributes/location,"cellar"),gt(features/temperature/properties/value,20))`, false},
		{"or", `or(eq(attributes/location,"cellar"),eq(attributes/floor,2))`, true},
		{"not", `not(eq(attributes/location,"cellar"))`, true},
		{"nested", `and(or(eq(attributes/floor,1),eq(attributes/floor,2)),not(exists(features/humidity)))`, true},
		{"spaces tolerated", `eq( attributes/location, "kitchen" )`, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			node, err := Parse(test.filter)
			require.NoError(t, err)

			got, err := node.Evaluate(fields())
			require.NoError(t, err)
			assert.Equal(t, test.expected, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	invalid := []string{
		"",
		"eq(attributes/location)",
		`unknownop(a,"b")`,
		`eq(attributes/location,"kitchen"`,
		`and(eq(a,1))`,
		`in(attributes/location)`,
		`eq(a,"unterminated`,
		`eq(a,1) trailing`,
	}
	for _, input := range invalid {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			require.Error(t, err)
		})
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	node, err := Parse(`and(eq(attributes/location,"kitchen"),ge(attributes/floor,2))`)
	require.NoError(t, err)

	f := fields()
	first, err := node.Evaluate(f)
	require.NoError(t, err)
	second, err := node.Evaluate(f)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
