// Package registry holds the static table of models the gateway exposes
// through the OpenAI-compatible surface.
package registry

import (
	"github.com/firdyfirdy/antigravity-auth/internal/antigravity"
	. "github.com/firdyfirdy/antigravity-auth/internal/constant"
)

// ModelInfo describes one gateway model.
type ModelInfo struct {
	ID          string
	Family      string
	DisplayName string
}

// models lists every model the upstream serves through this gateway, in
// the order they are presented to clients.
var models = []ModelInfo{
	{ID: "gemini-3-pro", Family: Gemini, DisplayName: "Gemini 3 Pro"},
	{ID: "gemini-3-pro-high", Family: Gemini, DisplayName: "Gemini 3 Pro (high)"},
	{ID: "gemini-3-flash", Family: Gemini, DisplayName: "Gemini 3 Flash"},
	{ID: "gemini-2.5-pro", Family: Gemini, DisplayName: "Gemini 2.5 Pro"},
	{ID: "gemini-2.5-flash", Family: Gemini, DisplayName: "Gemini 2.5 Flash"},
	{ID: "claude-sonnet-4-5", Family: Claude, DisplayName: "Claude Sonnet 4.5"},
	{ID: "claude-opus-4-5", Family: Claude, DisplayName: "Claude Opus 4.5"},
}

// Models returns the gateway model table.
func Models() []ModelInfo {
	out := make([]ModelInfo, len(models))
	copy(out, models)
	return out
}

// DefaultModel is the model used when a request names none.
func DefaultModel() string {
	return antigravity.DefaultModel
}

// Known reports whether a model id is served. Unknown ids are still
// dispatched (the table is advisory, the upstream is authoritative), so
// this only backs diagnostics.
func Known(id string) bool {
	stripped := antigravity.StripAntigravitySuffix(id)
	for _, m := range models {
		if m.ID == id || m.ID == stripped {
			return true
		}
	}
	return false
}
