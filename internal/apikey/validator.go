package apikey

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/authvital/authvital/internal/obs"
	"github.com/authvital/authvital/internal/permission"
)

const defaultTouchTimeout = 5 * time.Second

// Validator resolves raw bearer secrets to verified identities.
type Validator struct {
	store        Store
	logger       *log.Logger
	now          func() time.Time
	touchTimeout time.Duration
}

// ValidatorOption configures Validator behavior.
type ValidatorOption func(*Validator)

// WithValidatorClock overrides the time source (useful for tests).
func WithValidatorClock(fn func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if fn != nil {
			v.now = fn
		}
	}
}

// WithLogger overrides the logger used for swallowed background failures.
func WithLogger(logger *log.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator constructs a Validator.
func NewValidator(store Store, opts ...ValidatorOption) *Validator {
	v := &Validator{
		store:        store,
		logger:       obs.Logger(),
		now:          time.Now,
		touchTimeout: defaultTouchTimeout,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate resolves a raw secret to an identity and its permission set.
//
// The raw secret is never persisted or logged. The error is identical whether
// no candidate existed or every hash comparison failed.
func (v *Validator) Validate(ctx context.Context, rawSecret string) (Identity, error) {
	prefix, err := SplitSecret(rawSecret)
	if err != nil {
		obs.ObserveCredentialValidation("invalid_format")
		return Identity{}, err
	}

	candidates, err := v.store.FindCandidatesByPrefix(ctx, prefix)
	if err != nil {
		obs.ObserveCredentialValidation("store_error")
		return Identity{}, fmt.Errorf("credential lookup: %w", err)
	}

	var matched *Credential
	for i := range candidates {
		if VerifySecret(candidates[i].SecretHash, rawSecret) {
			matched = &candidates[i]
			break
		}
	}
	if matched == nil {
		obs.ObserveCredentialValidation("invalid")
		return Identity{}, ErrInvalidCredential
	}

	if matched.ExpiresAt != nil && v.now().After(*matched.ExpiresAt) {
		obs.ObserveCredentialValidation("expired")
		return Identity{}, ErrExpired
	}
	if !matched.Active {
		obs.ObserveCredentialValidation("invalid")
		return Identity{}, ErrInvalidCredential
	}

	v.touchAsync(matched.ID)
	obs.ObserveCredentialValidation("ok")
	return Identity{
		CredentialID: matched.ID,
		OwnerID:      matched.OwnerID,
		Permissions:  permission.Set(matched.Permissions),
	}, nil
}

// Require validates the secret and checks every required permission against
// the credential's set, failing with the first missing one. An empty required
// list only authenticates.
func (v *Validator) Require(ctx context.Context, rawSecret string, required []string) (Identity, error) {
	identity, err := v.Validate(ctx, rawSecret)
	if err != nil {
		return Identity{}, err
	}
	if missing := permission.HasAll(identity.Permissions, required); missing != "" {
		return Identity{}, fmt.Errorf("%w: missing permission %s", ErrForbidden, missing)
	}
	return identity, nil
}

// touchAsync updates last_used_at on a detached context so the request path
// never waits on it. Failures are logged and swallowed.
func (v *Validator) touchAsync(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), v.touchTimeout)
		defer cancel()
		if err := v.store.TouchLastUsed(ctx, id); err != nil {
			v.logger.Printf(`{"level":"warn","msg":"touch last_used failed","credential_id":%q,"error":%q}`, id, err.Error())
		}
	}()
}
