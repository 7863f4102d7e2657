package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRejectsBadExpression(t *testing.T) {
	_, err := Compile("msg.confidence >")
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	p, err := Compile(`msg.confidence > 0.5 && msg.label == "person"`)
	require.NoError(t, err)

	assert.True(t, p.Match(map[string]any{"confidence": 0.9, "label": "person"}))
	assert.False(t, p.Match(map[string]any{"confidence": 0.2, "label": "person"}))
	assert.False(t, p.Match(map[string]any{"confidence": 0.9, "label": "car"}))
}

func TestMatchMissingFieldIsNoMatch(t *testing.T) {
	p, err := Compile(`msg.confidence > 0.5`)
	require.NoError(t, err)
	assert.False(t, p.Match(map[string]any{"label": "person"}))
}

func TestMatchNonBooleanIsNoMatch(t *testing.T) {
	p, err := Compile(`msg.label`)
	require.NoError(t, err)
	assert.False(t, p.Match(map[string]any{"label": "person"}))
}

func TestMatchSequence(t *testing.T) {
	p, err := Compile(`msg.n >= 2`)
	require.NoError(t, err)

	var got []int
	for _, rec := range []map[string]any{{"n": 1}, {"n": 2}, {"n": 3}} {
		if p.Match(rec) {
			got = append(got, rec["n"].(int))
		}
	}
	assert.Equal(t, []int{2, 3}, got)
}
