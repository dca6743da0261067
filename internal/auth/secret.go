package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// SecretPrefix is the reserved namespace marker for pinning secrets. A
// credential starting with it is always routed to secret validation, never to
// bearer-token verification; generated secrets always start with it.
const SecretPrefix = "ts_ps_"

// DisplayPrefixLen is how many leading characters of a raw secret are kept as
// the public, displayable prefix.
const DisplayPrefixLen = 12

// GenerateSecret produces a new random pinning secret. The raw value is shown
// to the caller once at creation and never stored.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashSecret creates a SHA-256 hex digest of a raw secret for storage. Only
// the digest is ever stored or compared.
func HashSecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// DisplayPrefix returns the public, displayable prefix of a raw secret.
func DisplayPrefix(raw string) string {
	if len(raw) > DisplayPrefixLen {
		return raw[:DisplayPrefixLen]
	}
	return raw
}
