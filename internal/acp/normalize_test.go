package acp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTaggedString(t *testing.T) {
	raw := map[string]interface{}{
		"sessionId":     "s1",
		"sessionUpdate": "agentMessageChunk",
		"content":       "hi",
	}
	out := Normalize(raw)
	assert.Equal(t, "agentMessageChunk", out["type"])
	assert.Equal(t, "hi", out["content"])
	assert.NotContains(t, out, "sessionUpdate")
	assert.NotContains(t, out, "sessionId")
}

func TestNormalizeNestedObject(t *testing.T) {
	raw := map[string]interface{}{
		"sessionId": "s1",
		"sessionUpdate": map[string]interface{}{
			"type":    "agentMessageChunk",
			"content": "hi",
		},
	}
	out := Normalize(raw)
	assert.Equal(t, "agentMessageChunk", out["type"])
	assert.Equal(t, "hi", out["content"])
}

func TestNormalizeBareKey(t *testing.T) {
	raw := map[string]interface{}{
		"sessionId":         "s1",
		"availableCommands": []interface{}{"a", "b"},
	}
	out := Normalize(raw)
	assert.Equal(t, "availableCommandsUpdate", out["type"])
	assert.Equal(t, []interface{}{"a", "b"}, out["availableCommands"])
}

func TestNormalizeUnrecognizedShapeWrapsRaw(t *testing.T) {
	raw := map[string]interface{}{
		"sessionId":    "s1",
		"somethingNew": 42,
	}
	out := Normalize(raw)
	require.Equal(t, "raw", out["type"])
	inner, ok := out["json"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 42, inner["somethingNew"])
}

func TestNormalizeSessionUpdateWithUnrecognizedShapeWrapsRaw(t *testing.T) {
	raw := map[string]interface{}{
		"sessionId":     "s1",
		"sessionUpdate": 42,
	}
	out := Normalize(raw)
	assert.Equal(t, "raw", out["type"])
}

func TestNormalizeNilInputNeverPanics(t *testing.T) {
	out := Normalize(nil)
	assert.Equal(t, "raw", out["type"])
}

func TestNormalizeIsFixpoint(t *testing.T) {
	cases := []map[string]interface{}{
		{"sessionId": "s1", "sessionUpdate": "agentMessageChunk", "content": "hi"},
		{"sessionId": "s1", "sessionUpdate": map[string]interface{}{"type": "agentMessageChunk"}},
		{"sessionId": "s1", "availableCommands": []interface{}{"a"}},
		{"sessionId": "s1", "currentMode": "plan"},
		{"sessionId": "s1", "unknownField": true},
		{"type": "agentMessageChunk", "content": "hi"},
	}
	for _, raw := range cases {
		once := Normalize(raw)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "Normalize must be a fixpoint for %v", raw)
	}
}

func TestNormalizePassthroughWhenTypeAlreadyPresent(t *testing.T) {
	raw := map[string]interface{}{"type": "agentMessageChunk", "content": "hi"}
	out := Normalize(raw)
	assert.Equal(t, raw["type"], out["type"])
	assert.Equal(t, raw["content"], out["content"])
}
