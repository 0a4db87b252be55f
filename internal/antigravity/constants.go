// Package antigravity implements the CloudCode wire contract used by the
// Antigravity and Gemini CLI surfaces: model family and header personality
// inference, request envelope construction, endpoint fallback, and SSE
// response decoding. The package is stateless; account selection and retry
// policy live in the service layer.
package antigravity

// OAuth client configuration. These values identify the Antigravity IDE
// installation to Google's OAuth endpoints and are fixed by the upstream.
const (
	ClientID     = "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com"
	ClientSecret = "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"

	RedirectURI  = "http://localhost:51121/oauth-callback"
	RedirectPort = 51121

	GoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleTokenURL    = "https://oauth2.googleapis.com/token"
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"
)

// Scopes is the OAuth scope set requested during login.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/cclog",
	"https://www.googleapis.com/auth/experimentsandconfigs",
}

// CloudCode API endpoints.
const (
	EndpointDaily    = "https://daily-cloudcode-pa.sandbox.googleapis.com"
	EndpointAutopush = "https://autopush-cloudcode-pa.sandbox.googleapis.com"
	EndpointProd     = "https://cloudcode-pa.googleapis.com"
)

// EndpointFallbacks is the order in which generation requests walk the
// CloudCode environments when one is unreachable or rejects the request.
var EndpointFallbacks = []string{EndpointDaily, EndpointAutopush, EndpointProd}

// LoadEndpoints is the order used for project resolution calls, which
// prefer prod first.
var LoadEndpoints = []string{EndpointProd, EndpointDaily, EndpointAutopush}

// DefaultProjectID is used when project resolution fails for an identity.
const DefaultProjectID = "rising-fact-p41fc"

// DefaultModel is the model assumed when a request names none.
const DefaultModel = "gemini-3-pro"

// antigravityHeaders is sent for requests billed against the Antigravity
// quota (Claude models and :antigravity Gemini variants).
var antigravityHeaders = map[string]string{
	"User-Agent":        "antigravity/1.11.5 windows/amd64",
	"X-Goog-Api-Client": "google-cloud-sdk vscode_cloudshelleditor/0.1",
	"Client-Metadata":   `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
}

// geminiCLIHeaders is sent for requests billed against the Gemini CLI quota.
var geminiCLIHeaders = map[string]string{
	"User-Agent":        "google-api-nodejs-client/9.15.1",
	"X-Goog-Api-Client": "gl-node/22.17.0",
	"Client-Metadata":   "ideType=IDE_UNSPECIFIED,platform=PLATFORM_UNSPECIFIED,pluginType=GEMINI",
}

// SystemInstruction is the preamble the Antigravity surface expects as the
// first system instruction part. The upstream rejects or degrades requests
// without it, so it must be sent verbatim.
const SystemInstruction = `<identity>
You are Antigravity, a powerful agentic AI coding assistant designed by the Google DeepMind team working on Advanced Agentic Coding.
You are pair programming with a USER to solve their coding task. The task may require creating a new codebase, modifying or debugging an existing codebase, or simply answering a question.
The USER will send you requests, which you must always prioritize addressing. Along with each USER request, we will attach additional metadata about their current state, such as what files they have open and where their cursor is.
This information may or may not be relevant to the coding task, it is up for you to decide.
</identity>

<tool_calling>
Call tools as you normally would. The following list provides additional guidance to help you avoid errors:
  - **Absolute paths only**. When using tools that accept file path arguments, ALWAYS use the absolute file path.
</tool_calling>

<communication_style>
- **Formatting**. Format your responses in github-style markdown to make your responses easier for the USER to parse.
- **Proactiveness**. As an agent, you are allowed to be proactive, but only in the course of completing the user's task.
- **Helpfulness**. Respond like a helpful software engineer who is explaining your work to a friendly collaborator on the project.
- **Ask for clarification**. If you are unsure about the USER's intent, always ask for clarification rather than making assumptions.
</communication_style>`
