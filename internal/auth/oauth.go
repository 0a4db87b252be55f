package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/antigravity"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

// UserInfoEndpoint is where the login flow resolves the account email.
var UserInfoEndpoint = antigravity.GoogleUserInfoURL

func oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     antigravity.ClientID,
		ClientSecret: antigravity.ClientSecret,
		RedirectURL:  antigravity.RedirectURI,
		Scopes:       antigravity.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  antigravity.GoogleAuthURL,
			TokenURL: TokenEndpoint,
		},
	}
}

// statePayload rides through the OAuth redirect, carrying the PKCE
// verifier and the user's chosen project.
type statePayload struct {
	Verifier  string `json:"verifier"`
	ProjectID string `json:"projectId"`
}

// EncodeState packs the verifier and project id into the OAuth state
// parameter as base64url JSON.
func EncodeState(verifier, projectID string) string {
	payload, _ := json.Marshal(statePayload{Verifier: verifier, ProjectID: projectID})
	return base64.RawURLEncoding.EncodeToString(payload)
}

// DecodeState unpacks a state parameter produced by EncodeState.
func DecodeState(state string) (verifier, projectID string, err error) {
	normalized := strings.TrimRight(state, "=")
	raw, err := base64.RawURLEncoding.DecodeString(normalized)
	if err != nil {
		return "", "", fmt.Errorf("invalid state parameter: %w", err)
	}
	var payload statePayload
	if err = json.Unmarshal(raw, &payload); err != nil {
		return "", "", fmt.Errorf("invalid state payload: %w", err)
	}
	if payload.Verifier == "" {
		return "", "", fmt.Errorf("state payload missing verifier")
	}
	return payload.Verifier, payload.ProjectID, nil
}

// AuthorizationURL builds the consent URL for the login flow. The consent
// prompt is forced so Google always issues a refresh token.
func AuthorizationURL(projectID string) (url string, state string) {
	verifier := oauth2.GenerateVerifier()
	state = EncodeState(verifier, projectID)
	url = oauthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	return url, state
}

// LoginResult is what a completed login hands to the account store.
type LoginResult struct {
	Email         string
	RefreshSecret string
	ProjectID     string
	AccessToken   string
	ExpiresAt     int64
}

// ExchangeCode turns an authorization code and its state parameter into a
// stored identity: it redeems the code with the PKCE verifier, resolves
// the account email, resolves a project when the user did not choose one,
// and folds the project into the composite refresh secret.
func ExchangeCode(ctx context.Context, httpClient *http.Client, code, state string) (*LoginResult, error) {
	verifier, projectID, err := DecodeState(state)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	token, err := oauthConfig().Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("token exchange response missing refresh token")
	}

	email, err := fetchUserEmail(ctx, httpClient, token.AccessToken)
	if err != nil {
		log.Warnf("failed to resolve account email: %v", err)
	}

	if projectID == "" {
		projectID = ResolveProjectID(ctx, httpClient, token.AccessToken, antigravity.LoadEndpoints)
	}

	secret := RefreshParts{RefreshToken: token.RefreshToken, ProjectID: projectID}.Format()
	expiresAt := token.Expiry.UnixMilli()
	if token.Expiry.IsZero() {
		expiresAt = start.Add(time.Hour).UnixMilli()
	}

	return &LoginResult{
		Email:         email,
		RefreshSecret: secret,
		ProjectID:     projectID,
		AccessToken:   token.AccessToken,
		ExpiresAt:     expiresAt,
	}, nil
}

func fetchUserEmail(ctx context.Context, httpClient *http.Client, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, UserInfoEndpoint+"?alt=json", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}
	return gjson.GetBytes(body, "email").String(), nil
}

// ResolveProjectID asks the CloudCode environments which project backs
// this account, walking the load order until one answers. The project
// field may be a plain string or an object with an id. Returns empty when
// no environment answers.
func ResolveProjectID(ctx context.Context, httpClient *http.Client, accessToken string, endpoints []string) string {
	payload := []byte(`{"metadata":{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}}`)

	for _, endpoint := range endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/v1internal:loadCodeAssist", strings.NewReader(string(payload)))
		if err != nil {
			continue
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "google-api-nodejs-client/9.15.1")
		req.Header.Set("X-Goog-Api-Client", "google-cloud-sdk vscode_cloudshelleditor/0.1")
		req.Header.Set("Client-Metadata", `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`)

		resp, err := httpClient.Do(req)
		if err != nil {
			log.Debugf("loadCodeAssist on %s failed: %v", endpoint, err)
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil || resp.StatusCode != http.StatusOK {
			log.Debugf("loadCodeAssist on %s returned %d", endpoint, resp.StatusCode)
			continue
		}

		project := gjson.GetBytes(body, "cloudaicompanionProject")
		if project.Type == gjson.String && project.String() != "" {
			return project.String()
		}
		if id := project.Get("id").String(); id != "" {
			return id
		}
	}
	return ""
}
