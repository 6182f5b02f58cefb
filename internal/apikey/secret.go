package apikey

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// SecretMarker is the fixed literal prefix on every issued secret.
	SecretMarker = "av_live_"

	// PrefixLength is how many characters after the marker form the
	// non-secret display prefix used for candidate lookup.
	PrefixLength = 8

	// secretBytes is sized so marker plus hex body stays under bcrypt's
	// 72-byte input limit; bytes past that limit are ignored by the hash.
	secretBytes = 28

	// hashCost is fixed at issuance; raising it only affects new keys.
	hashCost = bcrypt.DefaultCost
)

// GenerateSecret returns a fresh plaintext secret and its display prefix.
func GenerateSecret() (secret, displayPrefix string, err error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}
	body := hex.EncodeToString(raw)
	return SecretMarker + body, body[:PrefixLength], nil
}

// HashSecret produces the one-way hash stored in place of the plaintext.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret compares a presented secret against a stored hash.
func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// SplitSecret validates the marker and extracts the display prefix from a
// presented secret. The prefix narrows lookup only; it authenticates nothing.
func SplitSecret(secret string) (displayPrefix string, err error) {
	if !strings.HasPrefix(secret, SecretMarker) {
		return "", ErrInvalidFormat
	}
	body := secret[len(SecretMarker):]
	if len(body) < PrefixLength {
		return "", ErrInvalidFormat
	}
	return body[:PrefixLength], nil
}
