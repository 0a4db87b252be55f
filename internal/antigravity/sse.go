package antigravity

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrorMessage carries a failure across the streaming channel boundary,
// with enough context for the dispatch loop to classify it.
type ErrorMessage struct {
	StatusCode   int
	Error        error
	RetryAfterMS int64
}

// extractEventText pulls the model-visible text out of one upstream event.
// Candidates may sit at the top level or under a nested response field, and
// parts that carry a thought marker are thinking blocks and are dropped
// even when they also carry text.
func extractEventText(event gjson.Result) string {
	candidates := event.Get("response.candidates")
	if !candidates.Exists() {
		candidates = event.Get("candidates")
	}
	var sb strings.Builder
	candidates.ForEach(func(_, candidate gjson.Result) bool {
		candidate.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			if part.Get("thought").Exists() {
				return true
			}
			if text := part.Get("text"); text.Exists() {
				sb.WriteString(text.String())
			}
			return true
		})
		return true
	})
	return sb.String()
}

// ExtractText decodes a non-streaming generate response body into its
// visible text.
func ExtractText(body []byte) string {
	return extractEventText(gjson.ParseBytes(body))
}

// CollectText decodes a fully buffered SSE payload into its visible text.
// Lines that are not data events, the [DONE] marker, and events that fail
// to parse are all skipped.
func CollectText(body []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(body, []byte("\n")) {
		data, ok := ssePayload(line)
		if !ok {
			continue
		}
		event := gjson.ParseBytes(data)
		if !event.IsObject() {
			continue
		}
		sb.WriteString(extractEventText(event))
	}
	return sb.String()
}

// ssePayload strips the data: framing from one SSE line. The second return
// is false for non-data lines and the [DONE] terminator.
func ssePayload(line []byte) ([]byte, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, []byte("data:")) {
		return nil, false
	}
	data := bytes.TrimSpace(line[len("data:"):])
	if len(data) == 0 || bytes.Equal(data, []byte("[DONE]")) {
		return nil, false
	}
	return data, true
}

// StreamText incrementally decodes a live SSE stream, emitting one visible
// text chunk per upstream event. Both channels close when the stream ends;
// a read failure is reported on the error channel first. The body is always
// closed, including on context cancellation.
func StreamText(ctx context.Context, body io.ReadCloser) (<-chan string, <-chan *ErrorMessage) {
	textChan := make(chan string)
	errChan := make(chan *ErrorMessage, 1)

	go func() {
		defer close(textChan)
		defer close(errChan)
		defer func() {
			_ = body.Close()
		}()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)
		for scanner.Scan() {
			data, ok := ssePayload(scanner.Bytes())
			if !ok {
				continue
			}
			event := gjson.ParseBytes(data)
			if !event.IsObject() {
				continue
			}
			text := extractEventText(event)
			if text == "" {
				continue
			}
			select {
			case textChan <- text:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			errChan <- &ErrorMessage{StatusCode: 500, Error: fmt.Errorf("stream read failed: %w", err)}
		}
	}()

	return textChan, errChan
}
