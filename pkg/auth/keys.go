package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// Project keys are opaque bearer tokens for the ingest API. Only the
// SHA-256 digest is persisted; the plaintext is shown once at creation
// or rotation. A short prefix is kept alongside so dashboards can
// identify a key without revealing it.
const (
	projectKeyPrefix = "proj_"
	projectKeyBytes  = 32
	displayPrefixLen = 12
)

// GenerateProjectKey returns a fresh plaintext project key.
func GenerateProjectKey() (string, error) {
	buf := make([]byte, projectKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate project key: %w", err)
	}
	return projectKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashProjectKey returns the hex SHA-256 digest stored and used for lookup.
func HashProjectKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// KeyDisplayPrefix returns the leading characters of a key, safe to
// persist and show in listings.
func KeyDisplayPrefix(key string) string {
	if len(key) <= displayPrefixLen {
		return key
	}
	return key[:displayPrefixLen]
}
