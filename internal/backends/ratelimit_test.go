package backends

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRetryAfterSeconds(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "30")
	assert.Equal(t, int64(30_000), ParseRateLimitResetMs(h, nil))

	h.Set("Retry-After", "1.5")
	assert.Equal(t, int64(1500), ParseRateLimitResetMs(h, nil))
}

func TestParseRetryAfterHTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(45*time.Second).UTC().Format(http.TimeFormat))

	ms := ParseRateLimitResetMs(h, nil)
	assert.Greater(t, ms, int64(30_000))
	assert.LessOrEqual(t, ms, int64(45_000))
}

func TestParseRateLimitResetAfterHeader(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-reset-after", "12")
	assert.Equal(t, int64(12_000), ParseRateLimitResetMs(h, nil))
}

func TestParseRateLimitResetHeader(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-reset", "20")
	assert.Equal(t, int64(20_000), ParseRateLimitResetMs(h, nil))

	// Absolute unix-second timestamps are converted to a relative wait.
	h.Set("x-ratelimit-reset", fmt.Sprintf("%d", time.Now().Add(30*time.Second).Unix()))
	ms := ParseRateLimitResetMs(h, nil)
	assert.Greater(t, ms, int64(20_000))
	assert.LessOrEqual(t, ms, int64(30_000))
}

func TestParseBodyResetsInSeconds(t *testing.T) {
	body := []byte(`{"error":{"resets_in_seconds":90}}`)
	assert.Equal(t, int64(90_000), ParseRateLimitResetMs(http.Header{}, body))

	// String-encoded numbers are accepted too.
	body = []byte(`{"resets_in_seconds":"15"}`)
	assert.Equal(t, int64(15_000), ParseRateLimitResetMs(http.Header{}, body))
}

func TestParseBodyResetsAt(t *testing.T) {
	at := time.Now().Add(time.Minute).Unix()
	body := []byte(fmt.Sprintf(`{"error":{"resets_at":%d}}`, at))

	ms := ParseRateLimitResetMs(http.Header{}, body)
	assert.Greater(t, ms, int64(50_000))
	assert.LessOrEqual(t, ms, int64(60_000))
}

func TestParseBodyRetryDelayDuration(t *testing.T) {
	body := []byte(`{"error":{"details":[{"retryDelay":"32s"}]}}`)
	assert.Equal(t, int64(32_000), ParseRateLimitResetMs(http.Header{}, body))
}

func TestParseHeaderWinsOverBody(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "5")
	body := []byte(`{"resets_in_seconds":500}`)
	assert.Equal(t, int64(5_000), ParseRateLimitResetMs(h, body))
}

func TestParseNoHint(t *testing.T) {
	assert.Zero(t, ParseRateLimitResetMs(http.Header{}, nil))
	assert.Zero(t, ParseRateLimitResetMs(http.Header{}, []byte("not json")))
	assert.Zero(t, ParseRateLimitResetMs(http.Header{}, []byte(`{"error":"rate limited"}`)))
}
