package core

import "strings"

// RedactedValue replaces any secret material before it reaches logs or
// serialized metadata.
const RedactedValue = "[REDACTED]"

var sensitiveMetadataTokens = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"access_key",
	"refresh",
	"credential",
	"verifier",
	"signature",
}

// RedactSensitiveMap returns a copy of the map with secret-bearing keys
// replaced. Nested maps are walked recursively.
func RedactSensitiveMap(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	redacted := make(map[string]any, len(values))
	for key, value := range values {
		if isSensitiveMetadataKey(key) {
			redacted[key] = RedactedValue
			continue
		}
		switch nested := value.(type) {
		case map[string]any:
			redacted[key] = RedactSensitiveMap(nested)
		default:
			redacted[key] = value
		}
	}
	return redacted
}

func isSensitiveMetadataKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	if isTraceabilityKey(lower) {
		return false
	}
	for _, token := range sensitiveMetadataTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// Identifier-shaped keys stay readable even when they contain a sensitive
// token substring.
func isTraceabilityKey(lower string) bool {
	switch lower {
	case "token_type", "credential_id", "credential_version", "payload_format":
		return true
	}
	return false
}
