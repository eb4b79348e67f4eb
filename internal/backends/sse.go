package backends

import (
	"bufio"
	"io"
	"strings"
)

// maxSSELineBytes bounds one SSE line; tool arguments can get large.
const maxSSELineBytes = 10 * 1024 * 1024

// ScanSSE reads an SSE body line by line and invokes fn for every data
// payload. "[DONE]" sentinels and comment/event lines are skipped. fn
// returning false stops the scan early.
func ScanSSE(r io.Reader, fn func(data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineBytes)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		if !fn(data) {
			return nil
		}
	}
	return scanner.Err()
}
