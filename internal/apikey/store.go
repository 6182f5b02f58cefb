package apikey

import "context"

// Store describes persistence operations required for credentials.
type Store interface {
	// FindCandidatesByPrefix returns active credentials whose stored display
	// prefix equals the given prefix. A narrowing index lookup, not a
	// security boundary.
	FindCandidatesByPrefix(ctx context.Context, prefix string) ([]Credential, error)

	// TouchLastUsed is best-effort; callers never block on it.
	TouchLastUsed(ctx context.Context, id string) error

	Insert(ctx context.Context, cred *Credential) error
	Find(ctx context.Context, id string) (Credential, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Credential, error)
	Update(ctx context.Context, id string, upd Update) (Credential, error)

	// Delete removes the credential row permanently. Revocation is a hard
	// delete, not a soft flag.
	Delete(ctx context.Context, id string) error
}
