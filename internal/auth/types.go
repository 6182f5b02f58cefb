// Package auth resolves principals and answers authorization queries.
package auth

import (
	"time"

	"github.com/authvital/authvital/internal/permission"
)

// Principal is the identity a request is authorized on behalf of: a user
// resolved from a session, or a credential owner resolved by the API key
// validator. CredentialPermissions is non-nil only on the credential path.
type Principal struct {
	UserID                string
	TenantID              string
	CredentialID          string
	CredentialPermissions map[string]struct{}
}

// Role groups permission patterns. System roles are seeded per tenant and
// immutable once assigned.
type Role struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	System      bool      `json:"is_system"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
}

// Patterns returns the role's grant set. System roles always resolve from
// the seeded table so a stale row cannot widen them.
func (r Role) Patterns() map[string]struct{} {
	if r.System {
		if seeded := permission.RolePatterns(r.Slug); seeded != nil {
			return seeded
		}
	}
	return permission.Set(r.Permissions)
}
