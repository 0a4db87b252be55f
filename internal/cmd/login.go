// Package cmd provides command-line entry points for the gateway: the
// interactive login flow, account management verbs, and server startup.
package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/auth"
	"github.com/firdyfirdy/antigravity-auth/internal/auth/store"
	"github.com/firdyfirdy/antigravity-auth/internal/browser"
	"github.com/firdyfirdy/antigravity-auth/internal/config"
	log "github.com/sirupsen/logrus"
)

// LoginOptions controls the interactive login flow.
type LoginOptions struct {
	// NoBrowser prints the consent URL instead of opening a browser.
	NoBrowser bool
}

// DoLogin runs the whole OAuth login: it starts the localhost callback
// listener, sends the user to the Google consent page, exchanges the
// returned code, and stores the resulting identity in the account pool.
func DoLogin(cfg *config.Config, projectID string, options *LoginOptions) {
	if options == nil {
		options = &LoginOptions{}
	}

	callback, err := auth.StartCallbackServer()
	if err != nil {
		log.Fatalf("failed to start OAuth callback listener: %v", err)
		return
	}
	defer callback.Close()

	url, _ := auth.AuthorizationURL(projectID)
	if options.NoBrowser {
		log.Infof("Open this URL in your browser to continue:\n\n%s\n", url)
	} else {
		log.Info("Opening browser for Google authentication...")
		if err = browser.OpenURL(url); err != nil {
			log.Warnf("failed to open browser: %v", err)
			log.Infof("Open this URL in your browser to continue:\n\n%s\n", url)
		}
	}

	ctx := context.Background()
	result, err := callback.Wait(ctx, 5*time.Minute)
	if err != nil {
		log.Fatalf("login failed: %v", err)
		return
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	login, err := auth.ExchangeCode(ctx, httpClient, result.Code, result.State)
	if err != nil {
		log.Fatalf("login failed: %v", err)
		return
	}

	st := store.New(cfg.StoragePath)
	if _, err = st.AddOrUpdate(login.Email, login.RefreshSecret, login.ProjectID, ""); err != nil {
		log.Fatalf("failed to save account: %v", err)
		return
	}

	if login.Email != "" {
		log.Infof("Login successful for %s.", login.Email)
	} else {
		log.Info("Login successful.")
	}
	if login.ProjectID != "" {
		log.Infof("Using project %s.", login.ProjectID)
	} else {
		log.Warn("No project could be resolved for this account; the shared default project will be used.")
	}
}
