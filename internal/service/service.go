// Package service implements the dispatch loop that binds the identity
// pool, the token manager, and the upstream client together: it selects an
// identity, ensures a fresh access token, issues the request, classifies
// the outcome, and rotates, falls back, or retries accordingly.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/account"
	"github.com/firdyfirdy/antigravity-auth/internal/antigravity"
	"github.com/firdyfirdy/antigravity-auth/internal/auth"
	"github.com/firdyfirdy/antigravity-auth/internal/config"
	. "github.com/firdyfirdy/antigravity-auth/internal/constant"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ShortRetryThreshold is the longest 429 wait that is slept through on the
// same identity instead of rotating away from it.
const ShortRetryThreshold = 5 * time.Second

// Request is one generation request in canonical turn shape.
type Request struct {
	Model            string
	Contents         []antigravity.Content
	SystemPrompt     string
	GenerationConfig json.RawMessage
}

// Service routes generation requests across the identity pool.
type Service struct {
	cfg    *config.Config
	pool   *account.Manager
	client *antigravity.Client

	tokens *tokenCache
}

// New creates a service over a pool, using the configured per-attempt
// timeout for upstream calls.
func New(cfg *config.Config, pool *account.Manager) *Service {
	return NewWithClient(cfg, pool, antigravity.NewClient(time.Duration(cfg.RequestTimeoutSeconds)*time.Second))
}

// NewWithClient creates a service with an explicit upstream client.
func NewWithClient(cfg *config.Config, pool *account.Manager, client *antigravity.Client) *Service {
	return &Service{
		cfg:    cfg,
		pool:   pool,
		client: client,
		tokens: newTokenCache(&http.Client{Timeout: 30 * time.Second}),
	}
}

// Pool exposes the identity pool, for the management surface.
func (s *Service) Pool() *account.Manager {
	return s.pool
}

// Generate runs one request to completion and returns the visible text.
// The upstream exchange always streams; the SSE payload is buffered and
// decoded once the exchange finishes.
func (s *Service) Generate(ctx context.Context, req *Request) (string, error) {
	resp, _, _, err := s.dispatch(ctx, req, false)
	if err != nil {
		return "", err
	}
	return antigravity.CollectText(resp.Body), nil
}

// GenerateStream runs one request in live streaming mode. Text chunks
// arrive on the first channel as upstream events are decoded; both
// channels close when the stream ends, with any terminal failure reported
// on the second channel first.
func (s *Service) GenerateStream(ctx context.Context, req *Request) (<-chan string, <-chan *antigravity.ErrorMessage) {
	out := make(chan string)
	errChan := make(chan *antigravity.ErrorMessage, 1)

	go func() {
		defer close(out)
		defer close(errChan)

		_, body, acct, err := s.dispatch(ctx, req, true)
		if err != nil {
			errChan <- errorMessageFor(err)
			return
		}

		texts, streamErrs := antigravity.StreamText(ctx, body)
		for text := range texts {
			select {
			case out <- text:
			case <-ctx.Done():
				return
			}
		}
		if em := <-streamErrs; em != nil {
			s.pool.RecordFailure(acct)
			errChan <- em
			return
		}
		s.pool.ResetFailures(acct)
		s.persist()
	}()

	return out, errChan
}

func errorMessageFor(err error) *antigravity.ErrorMessage {
	status := http.StatusInternalServerError
	var upstream *UpstreamError
	var allLimited *AllRateLimitedError
	switch {
	case errors.As(err, &upstream):
		status = upstream.StatusCode
	case errors.As(err, &allLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, ErrNoAccounts):
		status = http.StatusUnauthorized
	}
	return &antigravity.ErrorMessage{StatusCode: status, Error: err}
}

// dispatch is the request engine. In buffered mode it returns the upstream
// response; in stream mode it returns the open SSE body and the identity
// that served it, so the caller can settle failure state when the stream
// ends.
func (s *Service) dispatch(ctx context.Context, req *Request, stream bool) (*antigravity.Response, io.ReadCloser, *account.Managed, error) {
	family := antigravity.ModelFamily(req.Model)
	preferred := antigravity.HeaderStyle(req.Model)
	style := preferred
	maxWait := time.Duration(s.cfg.MaxRateLimitWaitSeconds) * time.Second

	var lastAcct *account.Managed
	var lastErr error
	for tries := 0; tries < s.cfg.RequestRetry; {
		if s.pool.Len() == 0 {
			return nil, nil, nil, ErrNoAccounts
		}

		acct := s.pool.GetCurrentOrNext(family, req.Model, style)
		if acct == nil {
			wait := s.pool.MinWait(family, req.Model)
			if wait > maxWait {
				return nil, nil, nil, &AllRateLimitedError{Wait: wait}
			}
			log.Debugf("all accounts rate limited, waiting %s", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return nil, nil, nil, err
			}
			continue
		}

		// Style rebinding from a quota fallback applies to one identity
		// only; a rotation starts over from the preferred personality,
		// skipping straight to the alternate when the preferred quota of
		// the new identity is already known to be exhausted.
		if acct != lastAcct {
			lastAcct = acct
			style = preferred
			if s.cfg.QuotaFallback && family == Gemini &&
				s.pool.IsRateLimitedForStyle(acct, family, preferred, req.Model) {
				if alt := s.pool.AvailableStyle(acct, family, req.Model); alt != "" {
					style = alt
				}
			}
		}

		details, err := s.tokens.ensure(ctx, acct, s.pool)
		if err != nil {
			var revoked *auth.RevokedError
			if errors.As(err, &revoked) {
				log.Warnf("refresh token revoked, removing account %s", revoked.Email)
				s.tokens.forget(acct.RefreshSecret())
				s.pool.Remove(acct)
				s.persist()
				lastErr = revoked
				tries++
				continue
			}
			s.pool.RecordFailure(acct)
			lastErr = err
			tries++
			continue
		}

		prepared, err := antigravity.BuildRequest(antigravity.RequestOptions{
			Model:            req.Model,
			Contents:         req.Contents,
			SystemPrompt:     req.SystemPrompt,
			GenerationConfig: req.GenerationConfig,
			Stream:           true,
			AccessToken:      details.AccessToken,
			ProjectID:        acct.EffectiveProjectID(),
			Style:            style,
		})
		if err != nil {
			return nil, nil, nil, err
		}

		var resp *antigravity.Response
		var body io.ReadCloser
		if stream {
			body, resp, err = s.client.ExecuteStream(ctx, prepared)
		} else {
			resp, err = s.client.Execute(ctx, prepared)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, nil, ctx.Err()
			}
			s.pool.RecordFailure(acct)
			lastErr = &TransportError{Err: err}
			tries++
			if tries < s.cfg.RequestRetry {
				if sleepErr := sleepCtx(ctx, account.BackoffForAttempt(tries-1)); sleepErr != nil {
					return nil, nil, nil, sleepErr
				}
			}
			continue
		}
		if stream && body != nil {
			return nil, body, acct, nil
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			wait := time.Duration(resp.RetryAfterMS) * time.Millisecond
			if wait == 0 {
				wait = time.Minute
			}
			if wait <= ShortRetryThreshold {
				log.Debugf("short rate limit (%s), retrying on same account", wait)
				if sleepErr := sleepCtx(ctx, wait); sleepErr != nil {
					return nil, nil, nil, sleepErr
				}
				continue
			}
			s.pool.MarkRateLimited(acct, wait, family, style, req.Model)
			s.persist()
			if s.cfg.QuotaFallback && family == Gemini {
				if alt := s.pool.AvailableStyle(acct, family, req.Model); alt != "" && alt != style {
					log.Debugf("falling back from %s quota to %s on same account", style, alt)
					style = alt
					continue
				}
			}
			lastErr = &UpstreamError{StatusCode: resp.StatusCode, Message: "rate limited"}
			tries++

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			s.pool.ResetFailures(acct)
			s.persist()
			return resp, nil, acct, nil

		default:
			s.pool.RecordFailure(acct)
			lastErr = &UpstreamError{
				StatusCode: resp.StatusCode,
				Message:    upstreamMessage(resp.Body),
			}
			tries++
		}
	}

	if lastErr == nil {
		lastErr = &UpstreamError{StatusCode: http.StatusServiceUnavailable, Message: "retries exhausted"}
	}
	return nil, nil, nil, lastErr
}

func (s *Service) persist() {
	if err := s.pool.Persist(); err != nil {
		log.Warnf("failed to persist account state: %v", err)
	}
}

func upstreamMessage(body []byte) string {
	if msg := gjson.GetBytes(body, "error.message").String(); msg != "" {
		return msg
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
