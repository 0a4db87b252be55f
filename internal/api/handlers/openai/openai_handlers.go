// Package openai provides HTTP handlers for the OpenAI-compatible API
// endpoints, including model listing and chat completion functionality.
// It supports both streaming and non-streaming responses, translating
// OpenAI-shaped requests into upstream generation calls and converting the
// results back to OpenAI-compatible format.
package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/firdyfirdy/antigravity-auth/internal/antigravity"
	"github.com/firdyfirdy/antigravity-auth/internal/registry"
	"github.com/firdyfirdy/antigravity-auth/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrorDetail carries one API error in OpenAI's error envelope.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// ErrorResponse is the OpenAI-compatible error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// OpenAIAPIHandler contains the handlers for OpenAI API endpoints.
type OpenAIAPIHandler struct {
	svc *service.Service
}

// NewOpenAIAPIHandler creates a new OpenAI API handlers instance.
func NewOpenAIAPIHandler(svc *service.Service) *OpenAIAPIHandler {
	return &OpenAIAPIHandler{svc: svc}
}

// OpenAIModels handles the /v1/models endpoint.
// It returns the gateway model table in OpenAI-compatible format.
func (h *OpenAIAPIHandler) OpenAIModels(c *gin.Context) {
	data := make([]gin.H, 0)
	for _, m := range registry.Models() {
		data = append(data, gin.H{
			"id":       m.ID,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "antigravity",
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}

// ChatCompletions handles the /v1/chat/completions endpoint.
// It determines whether the request is for a streaming or non-streaming
// response and calls the appropriate handler.
func (h *OpenAIAPIHandler) ChatCompletions(c *gin.Context) {
	rawJSON, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Message: fmt.Sprintf("Invalid request: %v", err),
				Type:    "invalid_request_error",
			},
		})
		return
	}

	req, err := buildServiceRequest(rawJSON)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Message: err.Error(),
				Type:    "invalid_request_error",
			},
		})
		return
	}

	if gjson.GetBytes(rawJSON, "stream").Type == gjson.True {
		h.handleStreamingResponse(c, req)
	} else {
		h.handleNonStreamingResponse(c, req)
	}
}

// buildServiceRequest translates an OpenAI chat completions request into a
// canonical generation request. System messages become the system prompt;
// the remaining turns are role-translated. Sampling parameters move into
// the upstream generation config.
func buildServiceRequest(rawJSON []byte) (*service.Request, error) {
	root := gjson.ParseBytes(rawJSON)

	model := root.Get("model").String()
	if model == "" {
		model = registry.DefaultModel()
	}

	messages := root.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, fmt.Errorf("messages must be a non-empty array")
	}

	req := &service.Request{Model: model}
	messages.ForEach(func(_, message gjson.Result) bool {
		role := message.Get("role").String()
		text := messageText(message.Get("content"))
		if role == "system" {
			if req.SystemPrompt != "" {
				req.SystemPrompt += "\n\n"
			}
			req.SystemPrompt += text
			return true
		}
		req.Contents = append(req.Contents, antigravity.Content{
			Role:  antigravity.TranslateRole(role),
			Parts: []antigravity.Part{{Text: text}},
		})
		return true
	})
	if len(req.Contents) == 0 {
		return nil, fmt.Errorf("messages must contain at least one non-system turn")
	}

	req.GenerationConfig = generationConfig(root)
	return req, nil
}

// messageText flattens an OpenAI message content field, which is either a
// plain string or an array of typed parts.
func messageText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	text := ""
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			text += part.Get("text").String()
		}
		return true
	})
	return text
}

func generationConfig(root gjson.Result) json.RawMessage {
	out := ""
	if v := root.Get("temperature"); v.Exists() {
		out, _ = sjson.Set(out, "temperature", v.Float())
	}
	if v := root.Get("top_p"); v.Exists() {
		out, _ = sjson.Set(out, "topP", v.Float())
	}
	if v := root.Get("max_tokens"); v.Exists() {
		out, _ = sjson.Set(out, "maxOutputTokens", v.Int())
	}
	if v := root.Get("max_completion_tokens"); v.Exists() {
		out, _ = sjson.Set(out, "maxOutputTokens", v.Int())
	}
	if v := root.Get("stop"); v.Exists() {
		if v.IsArray() {
			out, _ = sjson.SetRaw(out, "stopSequences", v.Raw)
		} else {
			out, _ = sjson.Set(out, "stopSequences.0", v.String())
		}
	}
	if out == "" {
		return nil
	}
	return json.RawMessage(out)
}

// handleNonStreamingResponse runs the request to completion and returns a
// single chat completion object.
func (h *OpenAIAPIHandler) handleNonStreamingResponse(c *gin.Context, req *service.Request) {
	text, err := h.svc.Generate(c.Request.Context(), req)
	if err != nil {
		status, detail := classifyError(err)
		c.JSON(status, ErrorResponse{Error: detail})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   req.Model,
		"choices": []gin.H{
			{
				"index": 0,
				"message": gin.H{
					"role":    "assistant",
					"content": text,
				},
				"finish_reason": "stop",
			},
		},
	})
}

// handleStreamingResponse forwards live text chunks as OpenAI-compatible
// SSE chunk events, terminated by a finish chunk and the [DONE] marker.
func (h *OpenAIAPIHandler) handleStreamingResponse(c *gin.Context, req *service.Request) {
	texts, errs := h.svc.GenerateStream(c.Request.Context(), req)

	id := "chatcmpl-" + uuid.NewString()
	created := time.Now().Unix()
	started := false

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	writeChunk := func(delta gin.H, finishReason interface{}) {
		chunk := gin.H{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": created,
			"model":   req.Model,
			"choices": []gin.H{
				{
					"index":         0,
					"delta":         delta,
					"finish_reason": finishReason,
				},
			},
		}
		payload, _ := json.Marshal(chunk)
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}

	for text := range texts {
		if !started {
			writeChunk(gin.H{"role": "assistant", "content": ""}, nil)
			started = true
		}
		writeChunk(gin.H{"content": text}, nil)
	}

	if em := <-errs; em != nil {
		if !started {
			status, detail := classifyError(em.Error)
			if em.StatusCode >= 400 && em.StatusCode <= 599 {
				status = em.StatusCode
			}
			c.JSON(status, ErrorResponse{Error: detail})
			return
		}
		payload, _ := json.Marshal(gin.H{"error": gin.H{"message": em.Error.Error(), "code": em.StatusCode}})
		_, _ = fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	writeChunk(gin.H{}, "stop")
	_, _ = fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func classifyError(err error) (int, ErrorDetail) {
	var allLimited *service.AllRateLimitedError
	var upstream *service.UpstreamError
	var transport *service.TransportError

	switch {
	case errors.Is(err, service.ErrNoAccounts):
		return http.StatusUnauthorized, ErrorDetail{Message: err.Error(), Type: "authentication_error"}
	case errors.As(err, &allLimited):
		return http.StatusTooManyRequests, ErrorDetail{Message: err.Error(), Type: "rate_limit_error"}
	case errors.As(err, &upstream):
		status := upstream.StatusCode
		if status < 400 || status > 599 {
			status = http.StatusBadGateway
		}
		return status, ErrorDetail{Message: err.Error(), Type: "upstream_error"}
	case errors.As(err, &transport):
		return http.StatusBadGateway, ErrorDetail{Message: err.Error(), Type: "connection_error"}
	default:
		return http.StatusInternalServerError, ErrorDetail{Message: err.Error(), Type: "server_error"}
	}
}
