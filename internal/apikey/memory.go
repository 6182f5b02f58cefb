package apikey

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used by
// tests and local development; production uses the Postgres store.
type InMemory struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty credential store.
func NewInMemory() *InMemory {
	return &InMemory{creds: make(map[string]*Credential)}
}

func (s *InMemory) FindCandidatesByPrefix(ctx context.Context, prefix string) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Credential
	for _, c := range s.creds {
		if c.Active && c.DisplayPrefix == prefix {
			out = append(out, cloneCredential(*c))
		}
	}
	return out, nil
}

func (s *InMemory) TouchLastUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	c.LastUsedAt = &now
	return nil
}

func (s *InMemory) Insert(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneCredential(*cred)
	s.creds[cred.ID] = &cp
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cloneCredential(*c), nil
}

func (s *InMemory) ListByOwner(ctx context.Context, ownerID string) ([]Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Credential
	for _, c := range s.creds {
		if c.OwnerID == ownerID {
			out = append(out, cloneCredential(*c))
		}
	}
	return out, nil
}

func (s *InMemory) Update(ctx context.Context, id string, upd Update) (Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	if upd.Name != nil {
		c.Name = *upd.Name
	}
	if upd.Permissions != nil {
		c.Permissions = append([]string(nil), upd.Permissions...)
	}
	if upd.Active != nil {
		c.Active = *upd.Active
	}
	return cloneCredential(*c), nil
}

func (s *InMemory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[id]; !ok {
		return ErrNotFound
	}
	delete(s.creds, id)
	return nil
}

func cloneCredential(c Credential) Credential {
	c.Permissions = append([]string(nil), c.Permissions...)
	if c.ExpiresAt != nil {
		t := *c.ExpiresAt
		c.ExpiresAt = &t
	}
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		c.LastUsedAt = &t
	}
	return c
}
