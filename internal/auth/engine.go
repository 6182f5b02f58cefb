package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/authvital/authvital/internal/permission"
)

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrNotFound     = errors.New("auth: not found")
)

// RoleStore loads the roles assigned to a user's membership in a tenant.
type RoleStore interface {
	RolesForMember(ctx context.Context, tenantID, userID string) ([]Role, error)
}

// Engine composes a principal's roles and credential grants into an
// effective permission set and answers authorization queries.
type Engine struct {
	roles RoleStore
}

// NewEngine constructs an Engine.
func NewEngine(roles RoleStore) (*Engine, error) {
	if roles == nil {
		return nil, errors.New("role store is required")
	}
	return &Engine{roles: roles}, nil
}

// EffectivePermissions is the union of all role patterns from the
// principal's membership in its tenant plus any credential-scoped patterns.
func (e *Engine) EffectivePermissions(ctx context.Context, p Principal) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for pat := range p.CredentialPermissions {
		set[pat] = struct{}{}
	}
	if strings.TrimSpace(p.TenantID) == "" || strings.TrimSpace(p.UserID) == "" {
		return set, nil
	}
	roles, err := e.roles.RolesForMember(ctx, p.TenantID, p.UserID)
	if err != nil {
		return nil, err
	}
	for _, role := range roles {
		for pat := range role.Patterns() {
			set[pat] = struct{}{}
		}
	}
	return set, nil
}

// Authorize reports whether the principal may perform the action.
func (e *Engine) Authorize(ctx context.Context, p Principal, action string) (bool, error) {
	perms, err := e.EffectivePermissions(ctx, p)
	if err != nil {
		return false, err
	}
	return permission.HasPermission(perms, action), nil
}

// RequireAll checks a declared permission list, failing with ErrUnauthorized
// naming the first missing permission.
func (e *Engine) RequireAll(ctx context.Context, p Principal, required []string) error {
	perms, err := e.EffectivePermissions(ctx, p)
	if err != nil {
		return err
	}
	if missing := permission.HasAll(perms, required); missing != "" {
		return fmt.Errorf("%w: missing permission %s", ErrUnauthorized, missing)
	}
	return nil
}
