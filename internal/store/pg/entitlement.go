package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/authvital/authvital/internal/entitlement"
	"github.com/authvital/authvital/internal/license"
)

// Entitlements returns the pg-backed read model for entitlement queries.
func (s *Store) Entitlements() entitlement.Reader {
	return &entitlementStore{db: s.db}
}

type entitlementStore struct {
	db *sql.DB
}

var _ entitlement.Reader = (*entitlementStore)(nil)

// Subscriptions lists a tenant's pools. An empty applicationID means all
// applications, matching the Reader contract.
func (e *entitlementStore) Subscriptions(ctx context.Context, tenantID, applicationID string) ([]license.Subscription, error) {
	rows, err := e.db.QueryContext(ctx, `
		select id, tenant_id, application_id, license_type_id,
		       quantity_purchased, quantity_assigned, status, current_period_end, created_at
		from subscriptions
		where tenant_id=$1 and ($2 = '' or application_id=$2)
		order by created_at
	`, tenantID, applicationID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []license.Subscription
	for rows.Next() {
		var sub license.Subscription
		if err := rows.Scan(&sub.ID, &sub.TenantID, &sub.ApplicationID, &sub.LicenseTypeID,
			&sub.QuantityPurchased, &sub.QuantityAssigned, &sub.Status,
			&sub.CurrentPeriodEnd, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (e *entitlementStore) LicenseType(ctx context.Context, id string) (license.LicenseType, error) {
	var (
		lt       license.LicenseType
		features []byte
	)
	err := e.db.QueryRowContext(ctx, `
		select id, application_id, slug, name, features, max_members, status, created_at
		from license_types
		where id=$1
	`, id).Scan(&lt.ID, &lt.ApplicationID, &lt.Slug, &lt.Name, &features, &lt.MaxMembers, &lt.Status, &lt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return license.LicenseType{}, license.ErrNotFound
	}
	if err != nil {
		return license.LicenseType{}, fmt.Errorf("query license type: %w", err)
	}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &lt.Features); err != nil {
			return license.LicenseType{}, fmt.Errorf("decode features: %w", err)
		}
	}
	return lt, nil
}
