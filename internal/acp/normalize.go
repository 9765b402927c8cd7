// Package acp implements the south-bound side of the protocol: spawning an
// adapter subprocess, speaking newline-delimited JSON-RPC to it over stdio,
// and normalizing the session/update notifications it emits into a single
// tagged shape for AgentHost consumers.
//
// The wire protocol allows three shapes for a session/update notification:
//
//	(a) tagged-string:  {"sessionId":"s1","sessionUpdate":"agentMessageChunk","content":"hi"}
//	(b) nested-object:  {"sessionId":"s1","sessionUpdate":{"type":"agentMessageChunk","content":"hi"}}
//	(c) bare:           {"sessionId":"s1","availableCommands":[...]}
//
// Normalize converts all three into {"type":"agentMessageChunk", ...fields}.
// Anything it cannot recognize is wrapped as {"type":"raw","json":<original>}
// rather than dropped — the adapter must never fail on an unrecognized
// notification shape, since that would silently lose agent output.
package acp

// bareKeyToType maps a field present directly at the top level (no
// sessionUpdate wrapper) to the tag it implies. Seen in agent adapters that
// emit, e.g., a bare availableCommands push without a discriminator field.
var bareKeyToType = map[string]string{
	"availableCommands": "availableCommandsUpdate",
	"currentMode":       "currentModeUpdate",
	"configOption":      "configOptionUpdate",
}

// Normalize reduces one of the three session/update wire shapes to
// {"type": <tag>, ...}. It is a fixpoint: Normalize(Normalize(x)) always
// equals Normalize(x), since the output of every branch either already
// carries a "type" field (handled by the first check on the next pass) or
// is the raw fallback (which also carries "type": "raw").
func Normalize(raw map[string]interface{}) map[string]interface{} {
	if raw == nil {
		return map[string]interface{}{"type": "raw", "json": raw}
	}

	if t, ok := raw["type"].(string); ok && t != "" {
		return copyMap(raw)
	}

	if su, ok := raw["sessionUpdate"]; ok {
		switch v := su.(type) {
		case string:
			if v != "" {
				out := copyMap(raw)
				delete(out, "sessionUpdate")
				delete(out, "sessionId")
				out["type"] = v
				return out
			}
		case map[string]interface{}:
			if t, ok := v["type"].(string); ok && t != "" {
				return copyMap(v)
			}
		}
		return wrapRaw(raw)
	}

	for key, typ := range bareKeyToType {
		if _, ok := raw[key]; ok {
			out := copyMap(raw)
			delete(out, "sessionId")
			out["type"] = typ
			return out
		}
	}

	return wrapRaw(raw)
}

func wrapRaw(raw map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"type": "raw", "json": copyMap(raw)}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
