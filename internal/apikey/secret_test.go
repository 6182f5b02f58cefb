package apikey

import (
	"strings"
	"testing"
)

func TestGenerateSecretFormat(t *testing.T) {
	secret, prefix, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(secret, SecretMarker) {
		t.Fatalf("secret missing marker: %s", secret)
	}
	if len(prefix) != PrefixLength {
		t.Fatalf("unexpected prefix length: %d", len(prefix))
	}
	if !strings.HasPrefix(secret[len(SecretMarker):], prefix) {
		t.Fatal("display prefix must be the head of the secret body")
	}
	if len(secret) >= 72 {
		t.Fatalf("secret length %d reaches the bcrypt input limit", len(secret))
	}

	secret2, _, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	if secret == secret2 {
		t.Fatal("secrets must be unique")
	}
}

func TestHashAndVerify(t *testing.T) {
	secret, _, err := GenerateSecret()
	if err != nil {
		t.Fatal(err)
	}
	hash, err := HashSecret(secret)
	if err != nil {
		t.Fatal(err)
	}
	if hash == secret {
		t.Fatal("hash must not equal plaintext")
	}
	if !VerifySecret(hash, secret) {
		t.Fatal("expected verification to succeed")
	}
	if VerifySecret(hash, secret+"x") {
		t.Fatal("expected verification to fail for wrong secret")
	}
}

func TestSplitSecret(t *testing.T) {
	if _, err := SplitSecret("sk_other_abcdefgh123"); err != ErrInvalidFormat {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if _, err := SplitSecret(SecretMarker + "short"); err != ErrInvalidFormat {
		t.Fatalf("expected ErrInvalidFormat for truncated body, got %v", err)
	}
	prefix, err := SplitSecret(SecretMarker + "abcdefgh-rest-of-secret")
	if err != nil {
		t.Fatal(err)
	}
	if prefix != "abcdefgh" {
		t.Fatalf("unexpected prefix: %s", prefix)
	}
}
