// Package constant defines identifier constants shared across the gateway.
// These constants name model families and upstream header personalities,
// ensuring consistent naming across the application.
package constant

const (
	// Gemini represents the Gemini model family identifier.
	Gemini = "gemini"

	// Claude represents the Anthropic Claude model family identifier.
	Claude = "claude"

	// Image represents the image generation model family identifier.
	Image = "image"

	// Antigravity represents the Antigravity header personality identifier.
	Antigravity = "antigravity"

	// GeminiCLI represents the Gemini CLI header personality identifier.
	GeminiCLI = "gemini-cli"

	// OpenAI represents the OpenAI-compatible front-end format identifier.
	OpenAI = "openai"
)
