package registry

import (
	"testing"

	. "github.com/firdyfirdy/antigravity-auth/internal/constant"
	"github.com/stretchr/testify/require"
)

func TestModels(t *testing.T) {
	all := Models()
	require.NotEmpty(t, all)

	seen := map[string]bool{}
	for _, m := range all {
		require.False(t, seen[m.ID], "duplicate model id %s", m.ID)
		seen[m.ID] = true
		require.Contains(t, []string{Gemini, Claude}, m.Family)
	}
	require.True(t, seen[DefaultModel()])
}

func TestKnown(t *testing.T) {
	require.True(t, Known("gemini-3-pro"))
	require.True(t, Known("gemini-3-pro:antigravity"))
	require.True(t, Known("claude-sonnet-4-5"))
	require.False(t, Known("gpt-4o"))
}
