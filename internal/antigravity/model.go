package antigravity

import (
	"regexp"
	"strings"

	. "github.com/firdyfirdy/antigravity-auth/internal/constant"
)

var (
	antigravitySuffixRegexp = regexp.MustCompile(`(?i):antigravity$`)
	thinkingTierRegexp      = regexp.MustCompile(`(?i)-(minimal|low|medium|high)$`)
)

// ModelFamily infers the model family from a model name. Claude models are
// recognized by the claude/opus/sonnet markers; everything else is Gemini.
func ModelFamily(model string) string {
	lower := strings.ToLower(model)
	for _, marker := range []string{"claude", "opus", "sonnet"} {
		if strings.Contains(lower, marker) {
			return Claude
		}
	}
	return Gemini
}

// HeaderStyle infers which header personality a model is billed under.
// Claude always uses the antigravity personality. Gemini models use it when
// tagged with :antigravity, or when they are non-preview Gemini 3 models
// (legacy rule); everything else goes through the Gemini CLI personality.
func HeaderStyle(model string) string {
	if ModelFamily(model) == Claude {
		return Antigravity
	}
	lower := strings.ToLower(model)
	if strings.Contains(lower, ":antigravity") {
		return Antigravity
	}
	if strings.Contains(lower, "gemini-3") && !strings.Contains(lower, "-preview") {
		return Antigravity
	}
	return GeminiCLI
}

// StripAntigravitySuffix removes a trailing :antigravity marker from a model
// name, if present.
func StripAntigravitySuffix(model string) string {
	return antigravitySuffixRegexp.ReplaceAllString(model, "")
}

// ResolveGemini3Model normalizes a Gemini 3 model name and resolves its
// thinking tier. Gemini 3 Pro encodes the tier in the model name, so an
// unsuffixed name gains "-low". Gemini 3 Flash passes the tier out of band,
// so a suffixed name loses its tier. Models outside the Gemini 3 family are
// returned unchanged with an empty tier.
func ResolveGemini3Model(model string) (effective string, tier string) {
	effective = StripAntigravitySuffix(model)

	lower := strings.ToLower(effective)
	if m := thinkingTierRegexp.FindStringSubmatch(effective); m != nil {
		tier = strings.ToLower(m[1])
	}

	switch {
	case strings.Contains(lower, "gemini-3-pro"):
		if tier == "" {
			tier = "low"
			effective += "-low"
		}
	case strings.Contains(lower, "gemini-3-flash"):
		if tier == "" {
			tier = "low"
		} else {
			effective = thinkingTierRegexp.ReplaceAllString(effective, "")
		}
	default:
		tier = ""
	}
	return effective, tier
}
