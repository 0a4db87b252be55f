package antigravity

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var delayStringRegexp = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)\s*(s|m|h)?$`)

// ParseRetryAfter resolves the retry delay of a 429 response in
// milliseconds. Resolution order is the retry-after-ms header, the
// retry-after header (seconds), then RetryInfo or quotaResetDelay entries
// in the error body. Returns 0 when the response carries no usable hint.
func ParseRetryAfter(headers http.Header, body []byte) int64 {
	if v := headers.Get("Retry-After-Ms"); v != "" {
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && ms > 0 {
			return ms
		}
	}
	if v := headers.Get("Retry-After"); v != "" {
		if s, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && s > 0 {
			return s * 1000
		}
	}

	var ms int64
	gjson.GetBytes(body, "error.details").ForEach(func(_, detail gjson.Result) bool {
		delay := ""
		if strings.Contains(detail.Get("@type").String(), "RetryInfo") {
			delay = detail.Get("retryDelay").String()
		}
		if delay == "" {
			delay = detail.Get("metadata.quotaResetDelay").String()
		}
		if delay == "" {
			return true
		}
		if parsed := parseDelayString(delay); parsed > 0 {
			ms = parsed
			return false
		}
		return true
	})
	return ms
}

// parseDelayString converts a delay like "2.5s", "3m" or "1h" to
// milliseconds. A bare number is taken as seconds.
func parseDelayString(s string) int64 {
	m := delayStringRegexp.FindStringSubmatch(strings.TrimSpace(strings.ToLower(s)))
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch m[2] {
	case "m":
		value *= 60
	case "h":
		value *= 3600
	}
	return int64(value * 1000)
}
