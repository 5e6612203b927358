package ai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONFencedSingleQuoted(t *testing.T) {
	var got map[string]any
	require.NoError(t, ParseJSON("```json\n{'enough': true}\n```", &got))
	assert.Equal(t, map[string]any{"enough": true}, got)
}

func TestParseJSONVariants(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{name: "plain", in: `{"a": 1}`, want: map[string]any{"a": float64(1)}},
		{name: "fence without language", in: "```\n{\"a\": \"x\"}\n```", want: map[string]any{"a": "x"}},
		{name: "surrounding whitespace", in: "\n\n  {\"a\": null}  \n", want: map[string]any{"a": nil}},
		{name: "unterminated fence", in: "```json\n{\"a\": true}", want: map[string]any{"a": true}},
		{name: "apostrophe kept when strict parse works", in: `{"a": "it's"}`, want: map[string]any{"a": "it's"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			require.NoError(t, ParseJSON(tt.in, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseJSONFailures(t *testing.T) {
	for _, in := range []string{"", "```json\n```", "not json at all", "{'a': 'it's'}"} {
		var got map[string]any
		err := ParseJSON(in, &got)

		var perr *ParseError
		require.True(t, errors.As(err, &perr), "input %q", in)
		assert.Equal(t, in, perr.Raw)
	}
}
