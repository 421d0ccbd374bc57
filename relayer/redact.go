package relayer

// redactedKeys are payload fields that must never reach the logs: proof
// material and anything secret-shaped.
var redactedKeys = map[string]bool{
	"nullifier":  true,
	"commitment": true,
	"proof":      true,
	"secret":     true,
	"token":      true,
}

// Redact returns a copy of the payload with sensitive fields replaced,
// recursing into nested maps. The input is never mutated.
func Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		if redactedKeys[key] {
			out[key] = "[redacted]"
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			out[key] = Redact(nested)
			continue
		}
		out[key] = value
	}
	return out
}
