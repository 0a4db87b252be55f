package cmd

import (
	"fmt"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/auth/store"
	"github.com/firdyfirdy/antigravity-auth/internal/config"
	log "github.com/sirupsen/logrus"
)

// ListAccounts prints the stored identities with their per-surface
// rate-limit state.
func ListAccounts(cfg *config.Config) {
	st := store.New(cfg.StoragePath)
	doc, err := st.Load()
	if err != nil {
		log.Fatalf("failed to load account storage: %v", err)
		return
	}
	if doc == nil || len(doc.Accounts) == 0 {
		fmt.Println("No accounts stored. Run with --login to add one.")
		return
	}

	now := time.Now().UnixMilli()
	fmt.Printf("Accounts in %s:\n", st.Path())
	for i, a := range doc.Accounts {
		email := a.Email
		if email == "" {
			email = "(no email)"
		}
		marker := " "
		if i == doc.ActiveIndexByFamily.Gemini {
			marker = "*"
		}
		fmt.Printf("%s [%d] %s project=%s\n", marker, i, email, orDash(a.ProjectID))
		printLimit("claude", a.RateLimitResetTimes.Claude, now)
		printLimit("gemini-antigravity", a.RateLimitResetTimes.GeminiAntigravity, now)
		printLimit("gemini-cli", a.RateLimitResetTimes.GeminiCLI, now)
		if a.CoolingDownUntil > now {
			fmt.Printf("      cooling down for %s (%s)\n",
				time.Duration(a.CoolingDownUntil-now)*time.Millisecond, a.CooldownReason)
		}
	}
}

func printLimit(name string, resetAt, now int64) {
	if resetAt <= now {
		return
	}
	fmt.Printf("      %s rate limited for %s\n", name, time.Duration(resetAt-now)*time.Millisecond)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// RemoveAccount deletes the identity with the given email.
func RemoveAccount(cfg *config.Config, email string) {
	st := store.New(cfg.StoragePath)
	removed, err := st.RemoveByEmail(email)
	if err != nil {
		log.Fatalf("failed to update account storage: %v", err)
		return
	}
	if !removed {
		log.Fatalf("no account with email %q", email)
		return
	}
	log.Infof("Removed account %s.", email)
}

// SetActiveAccount marks the identity at the given index as the rotation
// starting point for every model family.
func SetActiveAccount(cfg *config.Config, index int) {
	st := store.New(cfg.StoragePath)
	ok, err := st.SetActive(index)
	if err != nil {
		log.Fatalf("failed to update account storage: %v", err)
		return
	}
	if !ok {
		log.Fatalf("account index %d out of range", index)
		return
	}
	log.Infof("Account %d is now active.", index)
}

// ClearAccounts deletes the whole account storage file.
func ClearAccounts(cfg *config.Config) {
	st := store.New(cfg.StoragePath)
	if err := st.Clear(); err != nil {
		log.Fatalf("failed to clear account storage: %v", err)
		return
	}
	log.Infof("Removed %s.", st.Path())
}
