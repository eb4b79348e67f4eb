package cursor

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

// scrambleKey seeds the rolling XOR applied to the timestamp bytes.
const scrambleKey byte = 165

// scramble XOR-obfuscates bytes in place under a rolling key: each output
// byte feeds the key for the next.
func scramble(b []byte) []byte {
	key := scrambleKey
	for i := range b {
		b[i] = (b[i] ^ key) + byte(i)
		key = b[i]
	}
	return b
}

// checksumHeader builds the X-Cursor-Checksum value: the scrambled,
// base64url-encoded timestamp followed by the machine identifier.
func checksumHeader(machineID string, now time.Time) string {
	ts := uint64(now.UnixMilli() / 1_000_000)
	raw := []byte{
		byte(ts >> 40),
		byte(ts >> 32),
		byte(ts >> 24),
		byte(ts >> 16),
		byte(ts >> 8),
		byte(ts),
	}
	return base64.RawURLEncoding.EncodeToString(scramble(raw)) + machineID
}

// machineIDForToken derives a stable machine identifier from the account
// token, so one account always presents the same device.
func machineIDForToken(token string) string {
	sum := sha256.Sum256([]byte("machine:" + token))
	return hex.EncodeToString(sum[:])
}

// clientKey is the SHA-256 hex digest of the session token.
func clientKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
