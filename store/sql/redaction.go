package sqlstore

import (
	"github.com/goliatone/go-marketplace/core"
)

// RedactMetadata scrubs secret-bearing keys before metadata is logged or
// surfaced through diagnostics. Persistence keeps the raw values.
func RedactMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return core.RedactSensitiveMap(metadata)
}
