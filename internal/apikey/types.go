// Package apikey implements API credential issuance and validation.
//
// A credential's secret is stored only as a bcrypt hash; the plaintext is
// returned exactly once at creation. The non-secret display prefix narrows
// lookup to a small candidate set so hash verification never scans the whole
// credential table.
package apikey

import "time"

// Credential is a long-lived bearer secret owned by exactly one principal.
type Credential struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Name          string     `json:"name"`
	SecretHash    string     `json:"-"`
	DisplayPrefix string     `json:"display_prefix"`
	Permissions   []string   `json:"permissions"`
	Active        bool       `json:"active"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Identity is the result of a successful credential validation.
type Identity struct {
	CredentialID string
	OwnerID      string
	Permissions  map[string]struct{}
}

// Update mutates the caller-editable fields of a credential. Nil fields are
// left unchanged; the secret hash and display prefix are immutable.
type Update struct {
	Name        *string
	Permissions []string
	Active      *bool
}
