package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/account"
	"github.com/firdyfirdy/antigravity-auth/internal/antigravity"
	"github.com/firdyfirdy/antigravity-auth/internal/auth"
	"github.com/firdyfirdy/antigravity-auth/internal/auth/store"
	"github.com/firdyfirdy/antigravity-auth/internal/config"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func sseBody(text string) string {
	return `data: {"response":{"candidates":[{"content":{"parts":[{"text":"` + text + `"}]}}]}}` + "\n\ndata: [DONE]\n\n"
}

// fakeTokenEndpoint answers every refresh with an access token derived from
// the refresh token, so upstream handlers can tell accounts apart.
func fakeTokenEndpoint(t *testing.T, calls *int32) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		require.NoError(t, r.ParseForm())
		_, _ = w.Write([]byte(`{"access_token":"at-` + r.Form.Get("refresh_token") + `","expires_in":3600}`))
	}))
	prev := auth.TokenEndpoint
	auth.TokenEndpoint = srv.URL
	t.Cleanup(func() {
		auth.TokenEndpoint = prev
		srv.Close()
	})
}

type testConfig struct {
	retries       int
	quotaFallback bool
	maxWaitSec    int
}

func (c *testConfig) build() *config.Config {
	out := config.DefaultConfig()
	if c.retries > 0 {
		out.RequestRetry = c.retries
	}
	out.QuotaFallback = c.quotaFallback
	if c.maxWaitSec > 0 {
		out.MaxRateLimitWaitSeconds = c.maxWaitSec
	}
	return out
}

func newTestService(t *testing.T, cfg *testConfig, upstream string, emails ...string) (*Service, *account.Manager) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "accounts.json"))
	for _, email := range emails {
		_, err := st.AddOrUpdate(email, "tok-"+email+"|proj", "proj", "")
		require.NoError(t, err)
	}
	pool, err := account.NewManager(st)
	require.NoError(t, err)

	client := antigravity.NewClientWithEndpoints(5*time.Second, []string{upstream})
	svc := NewWithClient(cfg.build(), pool, client)
	return svc, pool
}

func userRequest(model, text string) *Request {
	return &Request{
		Model:    model,
		Contents: []antigravity.Content{{Role: "user", Parts: []antigravity.Part{{Text: text}}}},
	}
}

func TestGenerateSuccess(t *testing.T) {
	fakeTokenEndpoint(t, nil)

	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody = readAll(t, r)
		require.Equal(t, "Bearer at-tok-a|proj", r.Header.Get("Authorization"))
		require.True(t, strings.HasSuffix(r.URL.Path, ":streamGenerateContent"))
		require.Equal(t, "sse", r.URL.Query().Get("alt"))
		_, _ = w.Write([]byte(sseBody("hello there")))
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, &testConfig{retries: 3}, upstream.URL, "a")
	text, err := svc.Generate(context.Background(), userRequest("gemini-2.5-pro", "hi"))
	require.NoError(t, err)
	require.Equal(t, "hello there", text)
	require.Equal(t, "proj", gjson.GetBytes(gotBody, "project").String())
}

func TestGenerateNoAccounts(t *testing.T) {
	svc, _ := newTestService(t, &testConfig{retries: 3}, "http://127.0.0.1:0")
	_, err := svc.Generate(context.Background(), userRequest("gemini-2.5-pro", "hi"))
	require.ErrorIs(t, err, ErrNoAccounts)
}

func TestGenerateTokenCached(t *testing.T) {
	var tokenCalls int32
	fakeTokenEndpoint(t, &tokenCalls)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sseBody("ok")))
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, &testConfig{retries: 3}, upstream.URL, "a")
	for i := 0; i < 3; i++ {
		_, err := svc.Generate(context.Background(), userRequest("gemini-2.5-pro", "hi"))
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestGenerateShortRateLimitRetriesSameAccount(t *testing.T) {
	fakeTokenEndpoint(t, nil)

	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After-Ms", "20")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(sseBody("after wait")))
	}))
	defer upstream.Close()

	svc, pool := newTestService(t, &testConfig{retries: 1}, upstream.URL, "a")
	text, err := svc.Generate(context.Background(), userRequest("gemini-2.5-pro", "hi"))
	require.NoError(t, err)
	require.Equal(t, "after wait", text)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	// A short wait never marks the quota.
	a := pool.Accounts()[0]
	require.False(t, pool.IsRateLimitedForStyle(a, "gemini", "gemini-cli", "gemini-2.5-pro"))
}

func TestGenerateQuotaFallbackThenRotation(t *testing.T) {
	fakeTokenEndpoint(t, nil)

	var styles []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		antigravityStyle := strings.HasPrefix(r.Header.Get("User-Agent"), "antigravity/")
		if antigravityStyle {
			styles = append(styles, "antigravity")
		} else {
			styles = append(styles, "gemini-cli")
		}
		if strings.Contains(r.Header.Get("Authorization"), "tok-a") {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(sseBody("served by b")))
	}))
	defer upstream.Close()

	svc, pool := newTestService(t, &testConfig{retries: 3, quotaFallback: true}, upstream.URL, "a", "b")
	text, err := svc.Generate(context.Background(), userRequest("gemini-3-pro", "hi"))
	require.NoError(t, err)
	require.Equal(t, "served by b", text)

	// Account a burned its antigravity quota, fell back to the CLI quota,
	// burned that too, then rotation moved to account b.
	require.Equal(t, []string{"antigravity", "gemini-cli", "antigravity"}, styles)
	a := pool.Accounts()[0]
	require.True(t, pool.IsRateLimited(a, "gemini", "gemini-3-pro"))
}

func TestGenerateClaudeRotation(t *testing.T) {
	fakeTokenEndpoint(t, nil)

	var calls int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if strings.Contains(r.Header.Get("Authorization"), "tok-a") {
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(sseBody("served by b")))
	}))
	defer upstream.Close()

	// Claude has a single quota per identity, so one long 429 is enough to
	// rotate away.
	svc, _ := newTestService(t, &testConfig{retries: 3}, upstream.URL, "a", "b")
	text, err := svc.Generate(context.Background(), userRequest("claude-sonnet-4-5", "hi"))
	require.NoError(t, err)
	require.Equal(t, "served by b", text)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGenerateAllRateLimited(t *testing.T) {
	fakeTokenEndpoint(t, nil)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, &testConfig{retries: 3, quotaFallback: true, maxWaitSec: 1}, upstream.URL, "a")
	_, err := svc.Generate(context.Background(), userRequest("gemini-3-pro", "hi"))

	var allLimited *AllRateLimitedError
	require.ErrorAs(t, err, &allLimited)
	require.Greater(t, allLimited.Wait, time.Second)
}

func TestGenerateRevokedAccountEvicted(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if strings.HasPrefix(r.Form.Get("refresh_token"), "tok-a") {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"at-b","expires_in":3600}`))
	}))
	prev := auth.TokenEndpoint
	auth.TokenEndpoint = tokenSrv.URL
	t.Cleanup(func() {
		auth.TokenEndpoint = prev
		tokenSrv.Close()
	})

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sseBody("served by b")))
	}))
	defer upstream.Close()

	svc, pool := newTestService(t, &testConfig{retries: 3}, upstream.URL, "a", "b")
	text, err := svc.Generate(context.Background(), userRequest("gemini-2.5-pro", "hi"))
	require.NoError(t, err)
	require.Equal(t, "served by b", text)
	require.Equal(t, 1, pool.Len())
	require.Equal(t, "b", pool.Accounts()[0].Email)
}

func TestGenerateUpstreamError(t *testing.T) {
	fakeTokenEndpoint(t, nil)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"contents are required"}}`))
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, &testConfig{retries: 1}, upstream.URL, "a")
	_, err := svc.Generate(context.Background(), userRequest("gemini-2.5-pro", "hi"))

	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	require.Equal(t, http.StatusBadRequest, upstreamErr.StatusCode)
	require.Equal(t, "contents are required", upstreamErr.Message)
}

func TestGenerateTransportError(t *testing.T) {
	fakeTokenEndpoint(t, nil)

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	svc, pool := newTestService(t, &testConfig{retries: 1}, dead.URL, "a")
	_, err := svc.Generate(context.Background(), userRequest("gemini-2.5-pro", "hi"))

	var transport *TransportError
	require.ErrorAs(t, err, &transport)
	require.Equal(t, 1, pool.Accounts()[0].ConsecutiveFailures)
}

func TestGenerateStream(t *testing.T) {
	fakeTokenEndpoint(t, nil)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseBody("chunk one ")))
		_, _ = w.Write([]byte(sseBody("chunk two")))
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, &testConfig{retries: 3}, upstream.URL, "a")
	texts, errs := svc.GenerateStream(context.Background(), userRequest("gemini-2.5-pro", "hi"))

	var got string
	for text := range texts {
		got += text
	}
	require.Nil(t, <-errs)
	require.Equal(t, "chunk one chunk two", got)
}

func TestGenerateStreamDispatchError(t *testing.T) {
	fakeTokenEndpoint(t, nil)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	svc, _ := newTestService(t, &testConfig{retries: 1, maxWaitSec: 1}, upstream.URL, "a")
	texts, errs := svc.GenerateStream(context.Background(), userRequest("gemini-2.5-pro", "hi"))

	for range texts {
		t.Fatal("no text expected")
	}
	em := <-errs
	require.NotNil(t, em)
	require.Equal(t, http.StatusTooManyRequests, em.StatusCode)
}

func readAll(t *testing.T, r *http.Request) []byte {
	t.Helper()
	data := make([]byte, 0, 1024)
	buf := make([]byte, 1024)
	for {
		n, err := r.Body.Read(buf)
		data = append(data, buf[:n]...)
		if err != nil {
			return data
		}
	}
}
