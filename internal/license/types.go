// Package license implements the seat-accounting ledger: tenant-scoped
// inventories of purchased seats and the atomic grant/revoke/change-type
// operations that move users in and out of them.
package license

import "time"

// Subscription statuses.
const (
	StatusActive   = "ACTIVE"
	StatusTrialing = "TRIALING"
	StatusPastDue  = "PAST_DUE"
	StatusCanceled = "CANCELED"
	StatusExpired  = "EXPIRED"
)

// Audit actions.
const (
	ActionGranted = "GRANTED"
	ActionRevoked = "REVOKED"
	ActionChanged = "CHANGED"
)

// LicenseType defines what a seat unlocks. Referenced, never embedded, by
// subscriptions.
type LicenseType struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Slug          string          `json:"slug"`
	Name          string          `json:"name"`
	Features      map[string]bool `json:"features"`
	MaxMembers    *int            `json:"max_members,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Subscription is a tenant's purchased seat pool for one (application,
// license type) pair. Invariant: 0 <= QuantityAssigned <= QuantityPurchased
// for every committed state. The row is never deleted while assignments
// reference it; it soft-expires via status and period end.
type Subscription struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenant_id"`
	ApplicationID     string    `json:"application_id"`
	LicenseTypeID     string    `json:"license_type_id"`
	QuantityPurchased int       `json:"quantity_purchased"`
	QuantityAssigned  int       `json:"quantity_assigned"`
	Status            string    `json:"status"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CreatedAt         time.Time `json:"created_at"`
}

// SeatsAvailable returns the free seat count.
func (s Subscription) SeatsAvailable() int {
	return s.QuantityPurchased - s.QuantityAssigned
}

// IsActive reports whether the subscription currently entitles its tenant:
// status ACTIVE or TRIALING and the period end still in the future.
func (s Subscription) IsActive(now time.Time) bool {
	if s.Status != StatusActive && s.Status != StatusTrialing {
		return false
	}
	return s.CurrentPeriodEnd.After(now)
}

// Assignment consumes exactly one seat. At most one assignment exists per
// (user, tenant, application) tuple at any time.
type Assignment struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	TenantID       string    `json:"tenant_id"`
	ApplicationID  string    `json:"application_id"`
	LicenseTypeID  string    `json:"license_type_id"`
	SubscriptionID string    `json:"subscription_id"`
	AssignedAt     time.Time `json:"assigned_at"`
}

// AuditEntry is appended once per committed ledger mutation; never mutated
// or deleted.
type AuditEntry struct {
	ID                    string    `json:"id"`
	TenantID              string    `json:"tenant_id"`
	UserID                string    `json:"user_id"`
	ApplicationID         string    `json:"application_id"`
	LicenseTypeID         string    `json:"license_type_id"`
	Action                string    `json:"action"`
	PreviousLicenseTypeID string    `json:"previous_license_type_id,omitempty"`
	PerformedBy           string    `json:"performed_by"`
	PerformedAt           time.Time `json:"performed_at"`
	Reason                string    `json:"reason,omitempty"`
}

// GrantParams identifies a seat to assign.
type GrantParams struct {
	TenantID      string
	UserID        string
	ApplicationID string
	LicenseTypeID string
	PerformedBy   string
	Reason        string
}

// RevokeParams identifies an assignment to remove.
type RevokeParams struct {
	TenantID      string
	UserID        string
	ApplicationID string
	PerformedBy   string
	Reason        string
}

// ChangeParams identifies an assignment to move to a different license type.
type ChangeParams struct {
	TenantID         string
	UserID           string
	ApplicationID    string
	NewLicenseTypeID string
	PerformedBy      string
	Reason           string
}

// BulkResult reports one item's outcome in a bulk operation.
type BulkResult struct {
	UserID  string `json:"user_id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// EventSink receives committed ledger events. Delivery is fire-and-forget;
// the ledger never depends on it succeeding.
type EventSink interface {
	Emit(event string, fields map[string]any)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Emit(string, map[string]any) {}
