// Package totp derives and verifies RFC 6238 time-based one-time codes.
// HMAC-SHA1, 30 second step, 6 digits: the parameters every authenticator
// app ships with.
package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"

	"github.com/wayroute/authd/internal/secret"
)

const (
	// Code parameters per RFC 6238 defaults
	StepSeconds = 30
	Digits      = 6

	// TOTP seed is 20 random bytes (sha1 block-friendly, per RFC 4226 §4)
	secretBytes = 20

	// Accepted clock drift: current step plus one step either side.
	// Anything wider is rejected.
	driftSteps = 1
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh base32 seed for authenticator enrollment
func GenerateSecret() (string, error) {
	b, err := secret.RandomBytes(secretBytes)
	if err != nil {
		return "", err
	}
	return encoding.EncodeToString(b), nil
}

// ProvisioningURI renders the otpauth:// payload encoded into the QR code
// shown during enrollment
func ProvisioningURI(secretKey, account, issuer string) string {
	q := url.Values{}
	q.Set("secret", secretKey)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", Digits))
	q.Set("period", fmt.Sprintf("%d", StepSeconds))

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// CodeAt returns the code for the time step containing t.
// A malformed secret is a configuration error, not a user mistake.
func CodeAt(secretKey string, t time.Time) (string, error) {
	return codeAtStep(secretKey, uint64(t.Unix()/StepSeconds))
}

// Verify checks a submitted code against the steps n-1, n, n+1 where n is
// the step containing t. Every window position is compared in constant time
// and the matching step is never revealed.
func Verify(secretKey string, submitted string, t time.Time) (bool, error) {
	if len(submitted) != Digits {
		return false, nil
	}

	step := t.Unix() / StepSeconds
	matched := 0
	for offset := int64(-driftSteps); offset <= driftSteps; offset++ {
		code, err := codeAtStep(secretKey, uint64(step+offset))
		if err != nil {
			return false, err
		}
		matched |= subtle.ConstantTimeCompare([]byte(code), []byte(submitted))
	}

	return matched == 1, nil
}

func codeAtStep(secretKey string, step uint64) (string, error) {
	key, err := encoding.DecodeString(secretKey)
	if err != nil {
		return "", fmt.Errorf("error while decoding totp secret. Err: %w", err)
	}

	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], step)

	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for range Digits {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", Digits, value%mod), nil
}
