package license

import (
	"context"
	"fmt"
	"strings"
)

// Service defines ledger operations. Every method performs its writes inside
// a single atomic unit of work: a failed operation leaves counters,
// assignments and the audit log untouched.
type Service interface {
	Grant(ctx context.Context, params GrantParams) (Assignment, error)
	Revoke(ctx context.Context, params RevokeParams) error
	ChangeType(ctx context.Context, params ChangeParams) (Assignment, error)
}

// BulkGrant applies Grant per user, each inside its own transaction
// boundary. Partial success is expected: one user's seat exhaustion must not
// block the others, so nothing is rolled back across items.
func BulkGrant(ctx context.Context, svc Service, params GrantParams, userIDs []string) []BulkResult {
	results := make([]BulkResult, 0, len(userIDs))
	for _, userID := range userIDs {
		item := params
		item.UserID = userID
		_, err := svc.Grant(ctx, item)
		results = append(results, bulkResult(userID, err))
	}
	return results
}

// BulkRevoke applies Revoke per user with the same per-item semantics.
func BulkRevoke(ctx context.Context, svc Service, params RevokeParams, userIDs []string) []BulkResult {
	results := make([]BulkResult, 0, len(userIDs))
	for _, userID := range userIDs {
		item := params
		item.UserID = userID
		err := svc.Revoke(ctx, item)
		results = append(results, bulkResult(userID, err))
	}
	return results
}

func bulkResult(userID string, err error) BulkResult {
	if err != nil {
		return BulkResult{UserID: userID, Error: err.Error()}
	}
	return BulkResult{UserID: userID, Success: true}
}

func (p GrantParams) Validate() error {
	if anyBlank(p.TenantID, p.UserID, p.ApplicationID, p.LicenseTypeID) {
		return fmt.Errorf("%w: tenant_id, user_id, application_id and license_type_id are required", ErrInvalidInput)
	}
	return nil
}

func (p RevokeParams) Validate() error {
	if anyBlank(p.TenantID, p.UserID, p.ApplicationID) {
		return fmt.Errorf("%w: tenant_id, user_id and application_id are required", ErrInvalidInput)
	}
	return nil
}

func (p ChangeParams) Validate() error {
	if anyBlank(p.TenantID, p.UserID, p.ApplicationID, p.NewLicenseTypeID) {
		return fmt.Errorf("%w: tenant_id, user_id, application_id and new_license_type_id are required", ErrInvalidInput)
	}
	return nil
}

func anyBlank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
