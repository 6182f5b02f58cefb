package apikey

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/authvital/authvital/internal/ids"
)

// IssueParams describes a credential to create.
type IssueParams struct {
	OwnerID     string
	Name        string
	Permissions []string
	ExpiresAt   *time.Time
}

// Service provides credential lifecycle operations.
type Service struct {
	store Store
	now   func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a credential Service.
func NewService(store Store, opts ...ServiceOption) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a credential and returns it together with the plaintext
// secret. The plaintext is never stored and never returned again.
func (s *Service) Issue(ctx context.Context, params IssueParams) (Credential, string, error) {
	params.OwnerID = strings.TrimSpace(params.OwnerID)
	if params.OwnerID == "" {
		return Credential{}, "", fmt.Errorf("%w: owner_id is required", ErrInvalidInput)
	}
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return Credential{}, "", fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if params.ExpiresAt != nil && !params.ExpiresAt.After(s.now()) {
		return Credential{}, "", fmt.Errorf("%w: expires_at must be in the future", ErrInvalidInput)
	}

	secret, prefix, err := GenerateSecret()
	if err != nil {
		return Credential{}, "", err
	}
	hash, err := HashSecret(secret)
	if err != nil {
		return Credential{}, "", err
	}

	cred := Credential{
		ID:            ids.New(),
		OwnerID:       params.OwnerID,
		Name:          params.Name,
		SecretHash:    hash,
		DisplayPrefix: prefix,
		Permissions:   dedupePatterns(params.Permissions),
		Active:        true,
		ExpiresAt:     params.ExpiresAt,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Insert(ctx, &cred); err != nil {
		return Credential{}, "", err
	}
	return cred, secret, nil
}

// List returns the owner's credentials. Hashes stay server-side but are
// stripped anyway so callers cannot accidentally serialize them.
func (s *Service) List(ctx context.Context, ownerID string) ([]Credential, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner_id is required", ErrInvalidInput)
	}
	creds, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	for i := range creds {
		creds[i].SecretHash = ""
	}
	return creds, nil
}

// Update changes name, permissions or the active flag.
func (s *Service) Update(ctx context.Context, id string, upd Update) (Credential, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Credential{}, fmt.Errorf("%w: credential id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Credential{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Permissions != nil {
		upd.Permissions = dedupePatterns(upd.Permissions)
	}
	cred, err := s.store.Update(ctx, id, upd)
	if err != nil {
		return Credential{}, err
	}
	cred.SecretHash = ""
	return cred, nil
}

// Revoke hard-deletes the credential.
func (s *Service) Revoke(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: credential id is required", ErrInvalidInput)
	}
	return s.store.Delete(ctx, id)
}

func dedupePatterns(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		result = append(result, p)
	}
	return result
}
