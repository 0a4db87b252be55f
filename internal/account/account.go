// Package account holds the in-memory identity pool: per-identity,
// per-quota rate-limit state, cooldown tracking, and the sticky rotation
// policy that decides which identity serves the next request.
package account

import (
	"strings"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/auth"
	. "github.com/firdyfirdy/antigravity-auth/internal/constant"
)

// Pool behavior knobs.
const (
	// RateLimitDedupWindow collapses concurrent 429 marks for the same
	// quota key into one.
	RateLimitDedupWindow = 2 * time.Second

	// MaxConsecutiveFailures is the failure count that trips an identity
	// into cooldown.
	MaxConsecutiveFailures = 5

	// FailureCooldown is how long a tripped identity sits out.
	FailureCooldown = 30 * time.Second

	// FailureStateReset clears the failure counter after a quiet period.
	FailureStateReset = 120 * time.Second

	// MinWaitFallback is returned when every identity is rate limited but
	// no reset timestamp yields a usable wait.
	MinWaitFallback = 60 * time.Second
)

// CapacityBackoffTiers is the escalating sleep ladder applied between
// retries when the upstream fails without naming a wait.
var CapacityBackoffTiers = []time.Duration{
	5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 60 * time.Second,
}

// BackoffForAttempt returns the ladder entry for the given zero-based
// attempt, saturating at the last tier.
func BackoffForAttempt(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(CapacityBackoffTiers) {
		attempt = len(CapacityBackoffTiers) - 1
	}
	return CapacityBackoffTiers[attempt]
}

// Managed is one identity in the pool, combining its persisted fields with
// runtime-only rate-limit and failure state.
type Managed struct {
	Index            int
	Email            string
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
	AddedAt          int64
	LastUsed         int64
	LastSwitchReason string

	// RateLimitResets maps quota key to reset time in ms since epoch.
	RateLimitResets  map[string]int64
	CoolingDownUntil int64
	CooldownReason   string

	ConsecutiveFailures int
	lastFailureAt       int64
	lastMarkedAt        map[string]int64
}

// RefreshSecret assembles the composite refresh secret for this identity,
// folding the stored project fields into the pipe-delimited form when the
// refresh token itself does not carry them.
func (a *Managed) RefreshSecret() string {
	parts := auth.ParseRefreshParts(a.RefreshToken)
	if parts.ProjectID == "" {
		parts.ProjectID = a.ProjectID
	}
	if parts.ManagedProjectID == "" {
		parts.ManagedProjectID = a.ManagedProjectID
	}
	return parts.Format()
}

// EffectiveProjectID returns the project this identity should bill
// against. The caller applies the default when nothing is known.
func (a *Managed) EffectiveProjectID() string {
	if a.ProjectID != "" {
		return a.ProjectID
	}
	if a.ManagedProjectID != "" {
		return a.ManagedProjectID
	}
	return auth.ParseRefreshParts(a.RefreshToken).ProjectID
}

// QuotaKey derives the rate-limit bucket for a (family, style, model)
// combination. Claude has a single quota; Gemini splits per personality,
// optionally per model.
func QuotaKey(family, style, model string) string {
	if family == Claude {
		return Claude
	}
	key := GeminiCLI
	if style == Antigravity {
		key = "gemini-antigravity"
	}
	if model != "" {
		key += ":" + model
	}
	return key
}

// baseQuotaKey strips the per-model suffix from a quota key.
func baseQuotaKey(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}
