// Package auth implements credential handling for the gateway: the
// composite refresh secret grammar, access-token refresh against Google's
// token endpoint, and the interactive login flow that mints new identities.
package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/antigravity"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// AccessTokenExpiryBuffer is how long before the recorded expiry a token is
// already treated as expired.
const AccessTokenExpiryBuffer = time.Minute

// TokenEndpoint is the OAuth token endpoint refreshes are sent to. It is a
// variable so tests can point it at a local server.
var TokenEndpoint = antigravity.GoogleTokenURL

// RefreshParts is the decoded form of the composite refresh secret
// "<refresh_token>|<projectId>|<managedProjectId>" persisted per identity.
// Empty components mean absent.
type RefreshParts struct {
	RefreshToken     string
	ProjectID        string
	ManagedProjectID string
}

// ParseRefreshParts decodes a composite refresh secret. Inputs without pipe
// separators are plain refresh tokens.
func ParseRefreshParts(secret string) RefreshParts {
	fields := strings.SplitN(secret, "|", 3)
	parts := RefreshParts{RefreshToken: fields[0]}
	if len(fields) > 1 {
		parts.ProjectID = fields[1]
	}
	if len(fields) > 2 {
		parts.ManagedProjectID = fields[2]
	}
	return parts
}

// Format re-encodes the parts into the on-disk composite form. The managed
// project separator is emitted only when a managed project is present, so
// formatting never grows the secret beyond what was parsed.
func (p RefreshParts) Format() string {
	secret := p.RefreshToken + "|" + p.ProjectID
	if p.ManagedProjectID != "" {
		secret += "|" + p.ManagedProjectID
	}
	return secret
}

// AuthDetails is the live credential state for one identity.
type AuthDetails struct {
	RefreshSecret string
	AccessToken   string
	// ExpiresAt is ms since epoch, 0 when unknown.
	ExpiresAt int64
	Email     string
}

// Expired reports whether the access token needs a refresh, applying the
// safety buffer so a token is never used within a minute of its expiry.
func (a *AuthDetails) Expired(now time.Time) bool {
	if a == nil || a.AccessToken == "" || a.ExpiresAt == 0 {
		return true
	}
	return a.ExpiresAt <= now.Add(AccessTokenExpiryBuffer).UnixMilli()
}

// RevokedError reports that the upstream rejected the refresh token with
// invalid_grant, meaning the user revoked the grant. The identity must be
// evicted from the pool.
type RevokedError struct {
	Email string
}

func (e *RevokedError) Error() string {
	if e.Email != "" {
		return fmt.Sprintf("refresh token revoked for %s", e.Email)
	}
	return "refresh token revoked"
}

// Refresh exchanges the refresh token for a new access token. On success
// the returned details carry the rotated refresh secret when the upstream
// issued a new refresh token, with project components preserved. An
// invalid_grant response is surfaced as *RevokedError; any other failure is
// transient.
func Refresh(ctx context.Context, httpClient *http.Client, auth *AuthDetails) (*AuthDetails, error) {
	parts := ParseRefreshParts(auth.RefreshSecret)
	if parts.RefreshToken == "" {
		return nil, fmt.Errorf("empty refresh token")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {parts.RefreshToken},
		"client_id":     {antigravity.ClientID},
		"client_secret": {antigravity.ClientSecret},
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token refresh request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("token refresh read failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if gjson.GetBytes(body, "error").String() == "invalid_grant" {
			return nil, &RevokedError{Email: auth.Email}
		}
		return nil, fmt.Errorf("token refresh failed with status %d", resp.StatusCode)
	}

	accessToken := gjson.GetBytes(body, "access_token").String()
	if accessToken == "" {
		return nil, fmt.Errorf("token refresh response missing access_token")
	}
	expiresIn := gjson.GetBytes(body, "expires_in").Int()
	if expiresIn == 0 {
		expiresIn = 3600
	}

	refreshed := &AuthDetails{
		RefreshSecret: auth.RefreshSecret,
		AccessToken:   accessToken,
		ExpiresAt:     start.UnixMilli() + expiresIn*1000,
		Email:         auth.Email,
	}
	if rotated := gjson.GetBytes(body, "refresh_token").String(); rotated != "" && rotated != parts.RefreshToken {
		parts.RefreshToken = rotated
		refreshed.RefreshSecret = parts.Format()
		log.Debugf("refresh token rotated for %s", auth.Email)
	}
	return refreshed, nil
}
