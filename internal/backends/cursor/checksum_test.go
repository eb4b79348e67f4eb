package cursor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScrambleDeterministic(t *testing.T) {
	a := scramble([]byte{1, 2, 3, 4, 5, 6})
	b := scramble([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, a, b)

	c := scramble([]byte{6, 5, 4, 3, 2, 1})
	assert.NotEqual(t, a, c)
}

func TestChecksumHeaderShape(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	machineID := machineIDForToken("tok-1")

	header := checksumHeader(machineID, now)
	require.True(t, strings.HasSuffix(header, machineID))

	// Six scrambled timestamp bytes encode to eight base64url characters.
	prefix := strings.TrimSuffix(header, machineID)
	assert.Len(t, prefix, 8)
	assert.NotContains(t, prefix, "=")

	// Same inputs, same header.
	assert.Equal(t, header, checksumHeader(machineID, now))
}

func TestMachineIDForToken(t *testing.T) {
	id := machineIDForToken("session-token")
	assert.Len(t, id, 64)
	assert.Equal(t, id, machineIDForToken("session-token"))
	assert.NotEqual(t, id, machineIDForToken("other-token"))

	// The machine id and client key are derived differently from one token.
	assert.NotEqual(t, id, clientKey("session-token"))
}

func TestClientKeyStable(t *testing.T) {
	key := clientKey("abc")
	assert.Len(t, key, 64)
	assert.Equal(t, key, clientKey("abc"))
}
