package utils

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// FormatDuration renders a millisecond duration as "1h23m", "4m30s" or "12s".
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	d := time.Duration(ms) * time.Millisecond
	switch {
	case d >= time.Hour:
		h := d / time.Hour
		m := (d % time.Hour) / time.Minute
		return fmt.Sprintf("%dh%dm", h, m)
	case d >= time.Minute:
		m := d / time.Minute
		s := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", m, s)
	case d >= time.Second:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", ms)
	}
}

// FormatPercent renders a 0..1 fraction as "42.0%".
func FormatPercent(fraction float64) string {
	return fmt.Sprintf("%.1f%%", fraction*100)
}

// SleepMs sleeps for the given number of milliseconds.
func SleepMs(ms int64) {
	if ms > 0 {
		time.Sleep(time.Duration(ms) * time.Millisecond)
	}
}

// IsNetworkError reports whether err looks like a transient transport error
// rather than an application-level failure.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"tls handshake",
		"eof",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// TruncateString shortens s to at most n runes, appending "..." if trimmed.
func TruncateString(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}
