package backends

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRateLimitResetMs extracts a cooldown hint, in milliseconds, from a
// 429 response. Sources in precedence order: the Retry-After header
// (seconds or HTTP-date), then body fields resets_in_seconds / resets_at /
// retryDelay found anywhere in the JSON. Returns 0 when no hint exists;
// callers apply the default cooldown.
func ParseRateLimitResetMs(header http.Header, body []byte) int64 {
	if v := header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.ParseFloat(v, 64); err == nil && seconds > 0 {
			return int64(seconds * 1000)
		}
		if t, err := http.ParseTime(v); err == nil {
			if ms := time.Until(t).Milliseconds(); ms > 0 {
				return ms
			}
		}
	}
	if v := header.Get("x-ratelimit-reset-after"); v != "" {
		if seconds, err := strconv.ParseFloat(v, 64); err == nil && seconds > 0 {
			return int64(seconds * 1000)
		}
	}
	if v := header.Get("x-ratelimit-reset"); v != "" {
		// Either relative seconds or an absolute unix-second timestamp.
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			if n > 1e9 {
				if ms := int64(n*1000) - time.Now().UnixMilli(); ms > 0 {
					return ms
				}
			} else {
				return int64(n * 1000)
			}
		}
	}

	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0
	}
	return findResetMs(parsed)
}

func findResetMs(node any) int64 {
	switch v := node.(type) {
	case map[string]any:
		if n, ok := asSeconds(v["resets_in_seconds"]); ok {
			return n * 1000
		}
		if n, ok := asSeconds(v["resets_at"]); ok {
			// Absolute unix-second timestamp.
			if ms := n*1000 - time.Now().UnixMilli(); ms > 0 {
				return ms
			}
			return 0
		}
		// Google RPC style: "retryDelay": "32s".
		if s, ok := v["retryDelay"].(string); ok {
			if d, err := time.ParseDuration(s); err == nil && d > 0 {
				return d.Milliseconds()
			}
		}
		for _, child := range v {
			if ms := findResetMs(child); ms > 0 {
				return ms
			}
		}
	case []any:
		for _, child := range v {
			if ms := findResetMs(child); ms > 0 {
				return ms
			}
		}
	}
	return 0
}

func asSeconds(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n > 0 {
			return int64(n), true
		}
	case string:
		trimmed := strings.TrimSpace(n)
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil && f > 0 {
			return int64(f), true
		}
	}
	return 0, false
}
