package auth

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/antigravity"
	"github.com/stretchr/testify/require"
)

func TestCallbackServer(t *testing.T) {
	cs, err := StartCallbackServer()
	if err != nil {
		t.Skipf("callback port unavailable: %v", err)
	}
	defer cs.Close()

	go func() {
		url := fmt.Sprintf("http://localhost:%d/oauth-callback?code=the-code&state=the-state", antigravity.RedirectPort)
		resp, getErr := http.Get(url)
		if getErr == nil {
			_ = resp.Body.Close()
		}
	}()

	result, err := cs.Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "the-code", result.Code)
	require.Equal(t, "the-state", result.State)
}

func TestCallbackServerDenied(t *testing.T) {
	cs, err := StartCallbackServer()
	if err != nil {
		t.Skipf("callback port unavailable: %v", err)
	}
	defer cs.Close()

	go func() {
		url := fmt.Sprintf("http://localhost:%d/oauth-callback?error=access_denied", antigravity.RedirectPort)
		resp, getErr := http.Get(url)
		if getErr == nil {
			_ = resp.Body.Close()
		}
	}()

	_, err = cs.Wait(context.Background(), 5*time.Second)
	require.ErrorContains(t, err, "access_denied")
}

func TestCallbackServerTimeout(t *testing.T) {
	cs, err := StartCallbackServer()
	if err != nil {
		t.Skipf("callback port unavailable: %v", err)
	}
	defer cs.Close()

	_, err = cs.Wait(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
}
