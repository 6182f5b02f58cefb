package license

import "errors"

var (
	// ErrNoSeatsAvailable means the target subscription has no free seat.
	// Expected and reported, never auto-corrected.
	ErrNoSeatsAvailable = errors.New("license: no seats available")

	// ErrAlreadyAssigned means the (user, tenant, application) tuple already
	// holds an assignment.
	ErrAlreadyAssigned = errors.New("license: user already assigned")

	// ErrNotAssigned means no assignment exists to revoke or change.
	ErrNotAssigned = errors.New("license: user not assigned")

	// ErrInvariantViolation is fatal: a counter would go negative or exceed
	// the purchased quantity. The transaction aborts; nothing is clamped.
	ErrInvariantViolation = errors.New("license: seat accounting invariant violated")

	// ErrRetryable means the operation lost a lock race it may win on a
	// clean retry, such as a lock timeout enforced by the storage backend.
	ErrRetryable = errors.New("license: operation contended, retry")

	ErrNotFound     = errors.New("license: not found")
	ErrInvalidInput = errors.New("license: invalid input")
)
