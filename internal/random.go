package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const refreshSecretSize = 48

// NewOTP returns a numeric one-time code of the requested length,
// drawn digit by digit from crypto/rand.
func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// NewRefreshSecret returns a fresh opaque refresh secret: 48 bytes of
// CSPRNG output, base64url encoded without padding. The plaintext is
// handed to the caller exactly once and never stored.
func NewRefreshSecret() (string, error) {
	var raw [refreshSecretSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// HashSecret returns the storable one-way digest of an OTP code or
// refresh secret. Refresh secrets carry 48 bytes of entropy, and OTP
// guessing is bounded by attempt counters, so an unsalted digest holds.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// SecretMatches reports whether candidate hashes to storedHash using a
// constant-time comparison.
func SecretMatches(storedHash, candidate string) bool {
	decoded, err := base64.RawURLEncoding.DecodeString(storedHash)
	if err != nil || len(decoded) != sha256.Size {
		return false
	}
	sum := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(decoded, sum[:]) == 1
}
