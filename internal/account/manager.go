package account

import (
	"fmt"
	"sync"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/auth"
	"github.com/firdyfirdy/antigravity-auth/internal/auth/store"
	. "github.com/firdyfirdy/antigravity-auth/internal/constant"
	log "github.com/sirupsen/logrus"
)

// Manager owns the identity pool. Every mutation happens under its mutex;
// the mutex is never held across disk or network I/O, so Persist snapshots
// under the lock and writes outside it.
type Manager struct {
	mu          sync.Mutex
	st          *store.Store
	accounts    []*Managed
	activeIndex map[string]int
}

// NewManager loads the pool from the given store. A missing file yields an
// empty pool.
func NewManager(st *store.Store) (*Manager, error) {
	m := &Manager{
		st:          st,
		activeIndex: map[string]int{Gemini: 0, Claude: 0},
	}
	doc, err := st.Load()
	if err != nil {
		return nil, err
	}
	m.applyStorage(doc)
	return m, nil
}

// applyStorage replaces the pool contents from a persisted document,
// carrying runtime state over from matching existing identities.
func (m *Manager) applyStorage(doc *store.Storage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if doc == nil {
		doc = store.NewStorage()
	}

	previous := make(map[string]*Managed, len(m.accounts))
	for _, a := range m.accounts {
		previous[matchKey(a.Email, a.RefreshToken)] = a
	}

	accounts := make([]*Managed, 0, len(doc.Accounts))
	for i, sa := range doc.Accounts {
		a := &Managed{
			Index:            i,
			Email:            sa.Email,
			RefreshToken:     sa.RefreshToken,
			ProjectID:        sa.ProjectID,
			ManagedProjectID: sa.ManagedProjectID,
			AddedAt:          sa.AddedAt,
			LastUsed:         sa.LastUsed,
			LastSwitchReason: sa.LastSwitchReason,
			RateLimitResets:  map[string]int64{},
			CoolingDownUntil: sa.CoolingDownUntil,
			CooldownReason:   sa.CooldownReason,
			lastMarkedAt:     map[string]int64{},
		}
		if sa.RateLimitResetTimes.Claude > 0 {
			a.RateLimitResets[Claude] = sa.RateLimitResetTimes.Claude
		}
		if sa.RateLimitResetTimes.GeminiAntigravity > 0 {
			a.RateLimitResets["gemini-antigravity"] = sa.RateLimitResetTimes.GeminiAntigravity
		}
		if sa.RateLimitResetTimes.GeminiCLI > 0 {
			a.RateLimitResets[GeminiCLI] = sa.RateLimitResetTimes.GeminiCLI
		}
		if prev, ok := previous[matchKey(sa.Email, sa.RefreshToken)]; ok {
			for k, v := range prev.RateLimitResets {
				if _, exists := a.RateLimitResets[k]; !exists {
					a.RateLimitResets[k] = v
				}
			}
			a.ConsecutiveFailures = prev.ConsecutiveFailures
			a.lastFailureAt = prev.lastFailureAt
			a.lastMarkedAt = prev.lastMarkedAt
			if a.CoolingDownUntil == 0 {
				a.CoolingDownUntil = prev.CoolingDownUntil
				a.CooldownReason = prev.CooldownReason
			}
		}
		accounts = append(accounts, a)
	}

	m.accounts = accounts
	m.activeIndex[Gemini] = clampIndex(doc.ActiveIndexByFamily.Gemini, len(accounts))
	m.activeIndex[Claude] = clampIndex(doc.ActiveIndexByFamily.Claude, len(accounts))
}

func matchKey(email, refreshToken string) string {
	if email != "" {
		return "email:" + email
	}
	return "refresh:" + refreshToken
}

func clampIndex(i, n int) int {
	if n == 0 || i < 0 || i >= n {
		return 0
	}
	return i
}

// Reload re-reads the pool from disk, used when another process rewrites
// the storage file.
func (m *Manager) Reload() error {
	doc, err := m.st.Load()
	if err != nil {
		return err
	}
	m.applyStorage(doc)
	return nil
}

// Len returns the pool size.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// Accounts returns a snapshot of the pool in rotation order.
func (m *Manager) Accounts() []*Managed {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Managed, len(m.accounts))
	copy(out, m.accounts)
	return out
}

// IsRateLimited reports whether an identity has no capacity at all for the
// family. A cooling-down identity is always limited. Gemini identities are
// limited only when both the antigravity and CLI quotas are exhausted.
func (m *Manager) IsRateLimited(a *Managed, family, model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRateLimitedLocked(a, family, model, time.Now().UnixMilli())
}

func (m *Manager) isRateLimitedLocked(a *Managed, family, model string, now int64) bool {
	if a.CoolingDownUntil > now {
		return true
	}
	if family == Claude {
		return m.quotaExhaustedLocked(a, QuotaKey(Claude, Antigravity, ""), now)
	}
	return m.quotaExhaustedLocked(a, QuotaKey(family, Antigravity, model), now) &&
		m.quotaExhaustedLocked(a, QuotaKey(family, GeminiCLI, model), now)
}

// IsRateLimitedForStyle reports whether one specific quota of an identity
// is exhausted.
func (m *Manager) IsRateLimitedForStyle(a *Managed, family, style, model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UnixMilli()
	if a.CoolingDownUntil > now {
		return true
	}
	return m.quotaExhaustedLocked(a, QuotaKey(family, style, model), now)
}

// quotaExhaustedLocked checks the per-model key and falls back to the base
// key so state persisted before per-model tracking still counts.
func (m *Manager) quotaExhaustedLocked(a *Managed, key string, now int64) bool {
	if a.RateLimitResets[key] > now {
		return true
	}
	if base := baseQuotaKey(key); base != key && a.RateLimitResets[base] > now {
		return true
	}
	return false
}

// AvailableStyle picks the header personality to try for an identity,
// preferring antigravity. Claude has no alternative personality. Returns
// an empty string when nothing has capacity.
func (m *Manager) AvailableStyle(a *Managed, family, model string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UnixMilli()
	if a.CoolingDownUntil > now {
		return ""
	}
	if !m.quotaExhaustedLocked(a, QuotaKey(family, Antigravity, model), now) {
		return Antigravity
	}
	if family == Gemini && !m.quotaExhaustedLocked(a, QuotaKey(family, GeminiCLI, model), now) {
		return GeminiCLI
	}
	return ""
}

// GetCurrentOrNext returns the identity that should serve the next request
// for a family. Selection is sticky: the active identity keeps serving as
// long as the preferred personality's quota has capacity, and rotation
// scans forward from it only when every quota it could use is gone.
func (m *Manager) GetCurrentOrNext(family, model, preferredStyle string) *Managed {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.accounts)
	if n == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	i := clampIndex(m.activeIndex[family], n)

	current := m.accounts[i]
	limited := current.CoolingDownUntil > now ||
		m.quotaExhaustedLocked(current, QuotaKey(family, preferredStyle, model), now)
	if !limited {
		current.LastUsed = now
		return current
	}

	for off := 0; off < n; off++ {
		pos := (i + off) % n
		candidate := m.accounts[pos]
		if m.isRateLimitedLocked(candidate, family, model, now) {
			continue
		}
		if pos != i {
			candidate.LastSwitchReason = fmt.Sprintf("rotated from %s", accountLabel(current))
			log.Debugf("rotating %s to account %s", family, accountLabel(candidate))
		}
		m.activeIndex[family] = pos
		candidate.LastUsed = now
		return candidate
	}
	return nil
}

func accountLabel(a *Managed) string {
	if a.Email != "" {
		return a.Email
	}
	return fmt.Sprintf("#%d", a.Index)
}

// MarkRateLimited records a 429 on one quota of an identity. The reset
// time overwrites any previous value, since the newest upstream hint is
// authoritative even when shorter. Marks inside the dedup window are
// dropped so a burst of concurrent 429s counts once.
func (m *Manager) MarkRateLimited(a *Managed, wait time.Duration, family, style, model string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := QuotaKey(family, style, model)
	now := time.Now().UnixMilli()
	if a.RateLimitResets == nil {
		a.RateLimitResets = map[string]int64{}
	}
	if a.lastMarkedAt == nil {
		a.lastMarkedAt = map[string]int64{}
	}
	if last := a.lastMarkedAt[key]; last > 0 && now-last < RateLimitDedupWindow.Milliseconds() {
		return
	}
	a.lastMarkedAt[key] = now
	a.RateLimitResets[key] = now + wait.Milliseconds()
	a.LastSwitchReason = fmt.Sprintf("rate limited on %s", key)
	log.Debugf("account %s rate limited on %s for %s", accountLabel(a), key, wait)
}

// MarkCoolingDown puts an identity on the bench for a fixed duration.
func (m *Manager) MarkCoolingDown(a *Managed, d time.Duration, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.CoolingDownUntil = time.Now().UnixMilli() + d.Milliseconds()
	a.CooldownReason = reason
}

// RecordFailure bumps the consecutive-failure counter, resetting it first
// when the previous failure is old enough, and trips the identity into
// cooldown once the threshold is reached.
func (m *Manager) RecordFailure(a *Managed) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	if a.lastFailureAt > 0 && now-a.lastFailureAt > FailureStateReset.Milliseconds() {
		a.ConsecutiveFailures = 0
	}
	a.lastFailureAt = now
	a.ConsecutiveFailures++
	if a.ConsecutiveFailures >= MaxConsecutiveFailures {
		a.CoolingDownUntil = now + FailureCooldown.Milliseconds()
		a.CooldownReason = fmt.Sprintf("%d consecutive failures", a.ConsecutiveFailures)
		a.ConsecutiveFailures = 0
		log.Warnf("account %s cooling down: %s", accountLabel(a), a.CooldownReason)
	}
}

// ResetFailures clears the failure counter after a successful exchange.
func (m *Manager) ResetFailures(a *Managed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ConsecutiveFailures = 0
	a.lastFailureAt = 0
}

// MinWait returns the shortest time until some identity regains capacity
// for the family. Zero means an identity is available right now; the fixed
// fallback is returned when no reset timestamp yields a bound.
func (m *Manager) MinWait(family, model string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UnixMilli()
	var minDelta int64 = -1
	for _, a := range m.accounts {
		if !m.isRateLimitedLocked(a, family, model, now) {
			return 0
		}
		if a.CoolingDownUntil > now {
			minDelta = lesserDelta(minDelta, a.CoolingDownUntil-now)
		}
		for key, reset := range a.RateLimitResets {
			if familyKey(key, family) && reset > now {
				minDelta = lesserDelta(minDelta, reset-now)
			}
		}
	}
	if minDelta < 0 {
		return MinWaitFallback
	}
	return time.Duration(minDelta) * time.Millisecond
}

func lesserDelta(current, candidate int64) int64 {
	if current < 0 || candidate < current {
		return candidate
	}
	return current
}

func familyKey(key, family string) bool {
	base := baseQuotaKey(key)
	if family == Claude {
		return base == Claude
	}
	return base == "gemini-antigravity" || base == GeminiCLI
}

// Remove evicts an identity from the pool, re-indexing the remainder and
// clamping the active indices. It reports whether the identity was found.
func (m *Manager) Remove(a *Managed) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos := -1
	for i, candidate := range m.accounts {
		if candidate == a {
			pos = i
			break
		}
	}
	if pos < 0 {
		return false
	}
	m.accounts = append(m.accounts[:pos], m.accounts[pos+1:]...)
	for i, candidate := range m.accounts {
		candidate.Index = i
	}
	for family, idx := range m.activeIndex {
		if idx > pos {
			idx--
		}
		m.activeIndex[family] = clampIndex(idx, len(m.accounts))
	}
	return true
}

// UpdateFromAuth folds a refresh result back into the identity. A rotated
// refresh secret replaces the stored one; the project components survive
// because the secret format preserves them.
func (m *Manager) UpdateFromAuth(a *Managed, details *auth.AuthDetails) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if details.RefreshSecret != "" && details.RefreshSecret != a.RefreshToken {
		a.RefreshToken = details.RefreshSecret
	}
	if details.Email != "" && a.Email == "" {
		a.Email = details.Email
	}
}

// Persist writes the pool back to disk. The document is assembled under
// the mutex and written outside it.
func (m *Manager) Persist() error {
	m.mu.Lock()
	doc := store.NewStorage()
	for _, a := range m.accounts {
		doc.Accounts = append(doc.Accounts, store.Account{
			RefreshToken:     a.RefreshToken,
			Email:            a.Email,
			ProjectID:        a.ProjectID,
			ManagedProjectID: a.ManagedProjectID,
			AddedAt:          a.AddedAt,
			LastUsed:         a.LastUsed,
			LastSwitchReason: a.LastSwitchReason,
			RateLimitResetTimes: store.RateLimitResetTimes{
				Claude:            a.RateLimitResets[Claude],
				GeminiAntigravity: a.RateLimitResets["gemini-antigravity"],
				GeminiCLI:         a.RateLimitResets[GeminiCLI],
			},
			CoolingDownUntil: a.CoolingDownUntil,
			CooldownReason:   a.CooldownReason,
		})
	}
	doc.ActiveIndex = m.activeIndex[Gemini]
	doc.ActiveIndexByFamily.Gemini = m.activeIndex[Gemini]
	doc.ActiveIndexByFamily.Claude = m.activeIndex[Claude]
	m.mu.Unlock()

	return m.st.Save(doc)
}
