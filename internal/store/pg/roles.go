package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/authvital/authvital/internal/auth"
)

// Roles returns the pg-backed role store.
func (s *Store) Roles() auth.RoleStore {
	return &roleStore{db: s.db}
}

type roleStore struct {
	db *sql.DB
}

var _ auth.RoleStore = (*roleStore)(nil)

func (r *roleStore) RolesForMember(ctx context.Context, tenantID, userID string) ([]auth.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select r.id, r.slug, r.is_system, r.permissions, r.created_at
		from roles r
		join member_roles mr on mr.role_id = r.id
		where mr.tenant_id=$1 and mr.user_id=$2
		order by r.slug
	`, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("query member roles: %w", err)
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var (
			role  auth.Role
			perms []byte
		)
		if err := rows.Scan(&role.ID, &role.Slug, &role.System, &perms, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		if len(perms) > 0 {
			if err := json.Unmarshal(perms, &role.Permissions); err != nil {
				return nil, fmt.Errorf("decode role permissions: %w", err)
			}
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
