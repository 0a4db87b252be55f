package auth

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/antigravity"
	log "github.com/sirupsen/logrus"
)

// CallbackResult is what the OAuth redirect delivered.
type CallbackResult struct {
	Code  string
	State string
	Err   string
}

// CallbackServer is the short-lived localhost listener the OAuth redirect
// lands on during login.
type CallbackServer struct {
	server *http.Server
	result chan CallbackResult
}

// StartCallbackServer binds the fixed redirect port and starts serving the
// callback path. The port is part of the registered redirect URI, so a
// busy port is a hard failure.
func StartCallbackServer() (*CallbackServer, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", antigravity.RedirectPort))
	if err != nil {
		return nil, fmt.Errorf("failed to bind callback port %d: %w", antigravity.RedirectPort, err)
	}

	cs := &CallbackServer{
		result: make(chan CallbackResult, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth-callback", cs.handleCallback)
	cs.server = &http.Server{Handler: mux}

	go func() {
		if serveErr := cs.server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Errorf("callback server failed: %v", serveErr)
		}
	}()
	return cs, nil
}

func (cs *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result := CallbackResult{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Err:   query.Get("error"),
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if result.Err != "" || result.Code == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprint(w, "<html><body><h1>Login failed</h1><p>You can close this window and try again.</p></body></html>")
	} else {
		_, _ = fmt.Fprint(w, "<html><body><h1>Login successful</h1><p>You can close this window and return to the terminal.</p></body></html>")
	}

	select {
	case cs.result <- result:
	default:
	}
}

// Wait blocks until the redirect arrives or the deadline passes.
func (cs *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (CallbackResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case result := <-cs.result:
		if result.Err != "" {
			return result, fmt.Errorf("authorization denied: %s", result.Err)
		}
		if result.Code == "" {
			return result, fmt.Errorf("callback arrived without an authorization code")
		}
		return result, nil
	case <-ctx.Done():
		return CallbackResult{}, fmt.Errorf("timed out waiting for the OAuth callback")
	}
}

// Close shuts the listener down.
func (cs *CallbackServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = cs.server.Shutdown(ctx)
}
