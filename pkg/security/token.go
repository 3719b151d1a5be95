package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// HashToken returns the hex SHA-256 digest of a bearer token. Tokens are
// compared as digests so the configured secret never sits in memory longer
// than the comparison needs.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokensMatch compares two raw tokens in constant time. Both sides are
// hashed first so the comparison length never depends on either input.
func TokensMatch(presented, expected string) bool {
	presentedSum := sha256.Sum256([]byte(presented))
	expectedSum := sha256.Sum256([]byte(expected))
	return subtle.ConstantTimeCompare(presentedSum[:], expectedSum[:]) == 1
}

// GenerateToken produces a random hex token for provisioning master
// credentials or webhook secrets.
func GenerateToken(bytes int) (string, error) {
	if bytes <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
