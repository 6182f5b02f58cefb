package auth

import (
	"context"
	"sync"
)

// InMemoryRoles implements RoleStore for tests and local development.
type InMemoryRoles struct {
	mu      sync.RWMutex
	byScope map[string][]Role // tenantID + "/" + userID
}

var _ RoleStore = (*InMemoryRoles)(nil)

// NewInMemoryRoles creates an empty role assignment store.
func NewInMemoryRoles() *InMemoryRoles {
	return &InMemoryRoles{byScope: make(map[string][]Role)}
}

// Assign records a role for a user's membership in a tenant.
func (s *InMemoryRoles) Assign(tenantID, userID string, role Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tenantID + "/" + userID
	s.byScope[key] = append(s.byScope[key], role)
}

func (s *InMemoryRoles) RolesForMember(ctx context.Context, tenantID, userID string) ([]Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roles := s.byScope[tenantID+"/"+userID]
	out := make([]Role, len(roles))
	copy(out, roles)
	return out, nil
}
