// Package secret produces the random material every credential in the
// service is made of: opaque refresh tokens, TOTP seeds, backup recovery
// codes and legacy API keys. crypto/rand is the only source; if it fails the
// operation fails, there is no weaker fallback.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const (
	// Opaque tokens carry 32 bytes = 256 bits of entropy
	opaqueTokenBytes = 32

	// Backup codes: 10 chars from an alphabet without 0/O, 1/I/L ambiguity,
	// rendered in two groups of five
	backupCodeLength   = 10
	backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
)

// RandomBytes returns n bytes from the process CSPRNG
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("error while reading random source. Err: %w", err)
	}
	return b, nil
}

// OpaqueToken returns a URL-safe random string suitable as a refresh token
// or API key value
func OpaqueToken() (string, error) {
	b, err := RandomBytes(opaqueTokenBytes)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// BackupCode returns one human-readable recovery code like "K7MXQ-2WRTH"
func BackupCode() (string, error) {
	b, err := RandomBytes(backupCodeLength)
	if err != nil {
		return "", err
	}

	code := make([]byte, 0, backupCodeLength+1)
	for i, v := range b {
		if i == backupCodeLength/2 {
			code = append(code, '-')
		}
		code = append(code, backupCodeAlphabet[int(v)%len(backupCodeAlphabet)])
	}
	return string(code), nil
}

// HashToken returns the hex sha256 of a credential value. It is the at-rest
// form of refresh tokens, access tokens and backup codes: fast enough for a
// per-request lookup and useless to an attacker reading the store, because
// the preimage carries full random entropy.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
