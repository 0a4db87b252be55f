package antigravity

import (
	"encoding/json"
	"fmt"

	. "github.com/firdyfirdy/antigravity-auth/internal/constant"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// Part is a single piece of a conversation turn.
type Part struct {
	Text string `json:"text"`
}

// Content is one conversation turn in the upstream's canonical shape.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// TranslateRole maps caller-side roles onto the two roles the upstream
// accepts. Assistant turns become model turns, anything unrecognized is
// treated as a user turn.
func TranslateRole(role string) string {
	switch role {
	case "assistant":
		return "model"
	case "user", "model":
		return role
	default:
		return "user"
	}
}

// RequestOptions carries everything needed to build one upstream request.
type RequestOptions struct {
	Model            string
	Contents         []Content
	SystemPrompt     string
	GenerationConfig json.RawMessage
	Stream           bool

	AccessToken string
	ProjectID   string

	// Style overrides the inferred header personality when non-empty. The
	// dispatch loop sets it during quota fallback.
	Style string
}

// PreparedRequest is a fully built upstream request, ready to execute
// against any CloudCode endpoint base.
type PreparedRequest struct {
	Endpoint string
	URL      string
	Headers  map[string]string
	Body     []byte
	Stream   bool

	Model          string
	EffectiveModel string
	Family         string
	Style          string
}

// BuildRequest assembles the CloudCode request envelope for a model call:
// model-name normalization, header personality, initial endpoint, URL, and
// the JSON body with role-translated contents, thinking configuration, and
// the system instruction the personality requires.
func BuildRequest(opts RequestOptions) (*PreparedRequest, error) {
	family := ModelFamily(opts.Model)
	style := opts.Style
	if style == "" {
		style = HeaderStyle(opts.Model)
	}

	effective := StripAntigravitySuffix(opts.Model)
	tier := ""
	if family == Gemini {
		effective, tier = ResolveGemini3Model(opts.Model)
	}

	endpoint := EndpointDaily
	if style == GeminiCLI {
		endpoint = EndpointProd
	}

	action := "generateContent"
	if opts.Stream {
		action = "streamGenerateContent"
	}

	projectID := opts.ProjectID
	if projectID == "" {
		projectID = DefaultProjectID
	}

	contentsJSON, err := json.Marshal(opts.Contents)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal contents: %w", err)
	}

	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "project", projectID)
	body, _ = sjson.SetBytes(body, "model", effective)
	body, _ = sjson.SetRawBytes(body, "request.contents", contentsJSON)

	if len(opts.GenerationConfig) > 0 {
		body, _ = sjson.SetRawBytes(body, "request.generationConfig", opts.GenerationConfig)
	}
	if tier != "" {
		body, _ = sjson.SetBytes(body, "request.generationConfig.thinkingConfig.includeThoughts", true)
		body, _ = sjson.SetBytes(body, "request.generationConfig.thinkingConfig.thinkingLevel", tier)
	}

	if style == Antigravity {
		instruction := SystemInstruction
		if opts.SystemPrompt != "" {
			instruction = instruction + "\n\n" + opts.SystemPrompt
		}
		body, _ = sjson.SetBytes(body, "request.systemInstruction.role", "user")
		body, _ = sjson.SetBytes(body, "request.systemInstruction.parts.0.text", instruction)
	} else if opts.SystemPrompt != "" {
		body, _ = sjson.SetBytes(body, "request.systemInstruction.parts.0.text", opts.SystemPrompt)
	}

	body, _ = sjson.SetBytes(body, "requestType", "agent")
	body, _ = sjson.SetBytes(body, "userAgent", "antigravity")
	body, _ = sjson.SetBytes(body, "requestId", "agent-"+uuid.NewString())

	headers := map[string]string{
		"Authorization": "Bearer " + opts.AccessToken,
		"Content-Type":  "application/json",
		"Accept":        "application/json",
	}
	if opts.Stream {
		headers["Accept"] = "text/event-stream"
	}
	styleHeaders := geminiCLIHeaders
	if style == Antigravity {
		styleHeaders = antigravityHeaders
	}
	for k, v := range styleHeaders {
		headers[k] = v
	}

	url := fmt.Sprintf("%s/v1internal:%s", endpoint, action)
	if opts.Stream {
		url += "?alt=sse"
	}

	return &PreparedRequest{
		Endpoint:       endpoint,
		URL:            url,
		Headers:        headers,
		Body:           body,
		Stream:         opts.Stream,
		Model:          opts.Model,
		EffectiveModel: effective,
		Family:         family,
		Style:          style,
	}, nil
}

// URLFor rebuilds the request URL against a different endpoint base. The
// dispatch client uses it while walking the endpoint fallback chain.
func (r *PreparedRequest) URLFor(endpoint string) string {
	action := "generateContent"
	if r.Stream {
		action = "streamGenerateContent"
	}
	url := fmt.Sprintf("%s/v1internal:%s", endpoint, action)
	if r.Stream {
		url += "?alt=sse"
	}
	return url
}
