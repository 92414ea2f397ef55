package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// opaqueTokenBytes gives 256 bits of entropy, above the 160-bit floor for
// single-use verification and reset tokens.
const opaqueTokenBytes = 32

// NewOpaqueToken returns a random URL-safe token string.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
