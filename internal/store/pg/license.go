package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/authvital/authvital/internal/ids"
	"github.com/authvital/authvital/internal/license"
	"github.com/authvital/authvital/internal/obs"
)

// Ledger returns the pg-backed seat ledger.
func (s *Store) Ledger(opts ...LedgerOption) license.Service {
	l := &ledger{db: s.db, sink: license.NopSink{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LedgerOption configures the pg ledger.
type LedgerOption func(*ledger)

// WithSink routes committed ledger events to the given sink.
func WithSink(sink license.EventSink) LedgerOption {
	return func(l *ledger) {
		if sink != nil {
			l.sink = sink
		}
	}
}

type ledger struct {
	db   *sql.DB
	sink license.EventSink
}

var _ license.Service = (*ledger)(nil)

func (l *ledger) Grant(ctx context.Context, params license.GrantParams) (license.Assignment, error) {
	assignment, err := l.grant(ctx, params)
	obs.ObserveSeatOperation("grant", outcomeLabel(err))
	if err != nil {
		return license.Assignment{}, err
	}
	l.emit("license.granted", params.TenantID, params.UserID, params.ApplicationID, params.LicenseTypeID, params.PerformedBy)
	return assignment, nil
}

func (l *ledger) grant(ctx context.Context, params license.GrantParams) (license.Assignment, error) {
	if err := params.Validate(); err != nil {
		return license.Assignment{}, err
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return license.Assignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	// Row lock serializes concurrent grants against the same pool: the
	// second caller observes the first's committed counter before the seat
	// check below.
	var (
		subID               string
		purchased, assigned int
	)
	err = tx.QueryRowContext(ctx, `
		select id, quantity_purchased, quantity_assigned
		from subscriptions
		where tenant_id=$1 and application_id=$2 and license_type_id=$3
		for update
	`, params.TenantID, params.ApplicationID, params.LicenseTypeID).Scan(&subID, &purchased, &assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return license.Assignment{}, license.ErrNotFound
	}
	if isLockNotAvailable(err) {
		return license.Assignment{}, license.ErrRetryable
	}
	if err != nil {
		return license.Assignment{}, err
	}

	var exists int
	err = tx.QueryRowContext(ctx, `
		select 1 from license_assignments
		where user_id=$1 and tenant_id=$2 and application_id=$3
	`, params.UserID, params.TenantID, params.ApplicationID).Scan(&exists)
	if err == nil {
		return license.Assignment{}, license.ErrAlreadyAssigned
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return license.Assignment{}, err
	}

	if assigned >= purchased {
		return license.Assignment{}, license.ErrNoSeatsAvailable
	}
	if assigned < 0 {
		return license.Assignment{}, license.ErrInvariantViolation
	}

	if _, err := tx.ExecContext(ctx, `
		update subscriptions set quantity_assigned = quantity_assigned + 1 where id=$1
	`, subID); err != nil {
		return license.Assignment{}, err
	}

	assignment := license.Assignment{
		ID:             ids.New(),
		UserID:         params.UserID,
		TenantID:       params.TenantID,
		ApplicationID:  params.ApplicationID,
		LicenseTypeID:  params.LicenseTypeID,
		SubscriptionID: subID,
		AssignedAt:     time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx, `
		insert into license_assignments(id, user_id, tenant_id, application_id, license_type_id, subscription_id, assigned_at)
		values ($1,$2,$3,$4,$5,$6,$7)
	`, assignment.ID, assignment.UserID, assignment.TenantID, assignment.ApplicationID,
		assignment.LicenseTypeID, assignment.SubscriptionID, assignment.AssignedAt); err != nil {
		// The unique index backs the in-transaction check above.
		if isUniqueViolation(err) {
			return license.Assignment{}, license.ErrAlreadyAssigned
		}
		// A missing referenced user or tenant row trips the foreign keys.
		if isForeignKeyViolation(err) {
			return license.Assignment{}, license.ErrNotFound
		}
		return license.Assignment{}, err
	}

	if err := l.appendAudit(ctx, tx, license.AuditEntry{
		TenantID:      params.TenantID,
		UserID:        params.UserID,
		ApplicationID: params.ApplicationID,
		LicenseTypeID: params.LicenseTypeID,
		Action:        license.ActionGranted,
		PerformedBy:   params.PerformedBy,
		Reason:        params.Reason,
	}); err != nil {
		return license.Assignment{}, err
	}

	if err := tx.Commit(); err != nil {
		return license.Assignment{}, err
	}
	return assignment, nil
}

func (l *ledger) Revoke(ctx context.Context, params license.RevokeParams) error {
	err := l.revoke(ctx, params)
	obs.ObserveSeatOperation("revoke", outcomeLabel(err))
	if err != nil {
		return err
	}
	l.emit("license.revoked", params.TenantID, params.UserID, params.ApplicationID, "", params.PerformedBy)
	return nil
}

func (l *ledger) revoke(ctx context.Context, params license.RevokeParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		assignmentID  string
		subID         string
		licenseTypeID string
	)
	err = tx.QueryRowContext(ctx, `
		select id, subscription_id, license_type_id
		from license_assignments
		where user_id=$1 and tenant_id=$2 and application_id=$3
	`, params.UserID, params.TenantID, params.ApplicationID).Scan(&assignmentID, &subID, &licenseTypeID)
	if errors.Is(err, sql.ErrNoRows) {
		return license.ErrNotAssigned
	}
	if err != nil {
		return err
	}

	var assigned int
	err = tx.QueryRowContext(ctx,
		`select quantity_assigned from subscriptions where id=$1 for update`, subID).Scan(&assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return license.ErrNotFound
	}
	if isLockNotAvailable(err) {
		return license.ErrRetryable
	}
	if err != nil {
		return err
	}
	if assigned <= 0 {
		return license.ErrInvariantViolation
	}

	res, err := tx.ExecContext(ctx, `delete from license_assignments where id=$1`, assignmentID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// A concurrent revoke won the race after our unlocked read.
		return license.ErrNotAssigned
	}

	if _, err := tx.ExecContext(ctx, `
		update subscriptions set quantity_assigned = quantity_assigned - 1 where id=$1
	`, subID); err != nil {
		return err
	}

	if err := l.appendAudit(ctx, tx, license.AuditEntry{
		TenantID:      params.TenantID,
		UserID:        params.UserID,
		ApplicationID: params.ApplicationID,
		LicenseTypeID: licenseTypeID,
		Action:        license.ActionRevoked,
		PerformedBy:   params.PerformedBy,
		Reason:        params.Reason,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

func (l *ledger) ChangeType(ctx context.Context, params license.ChangeParams) (license.Assignment, error) {
	assignment, err := l.changeType(ctx, params)
	obs.ObserveSeatOperation("change", outcomeLabel(err))
	if err != nil {
		return license.Assignment{}, err
	}
	l.emit("license.changed", params.TenantID, params.UserID, params.ApplicationID, params.NewLicenseTypeID, params.PerformedBy)
	return assignment, nil
}

func (l *ledger) changeType(ctx context.Context, params license.ChangeParams) (license.Assignment, error) {
	if err := params.Validate(); err != nil {
		return license.Assignment{}, err
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return license.Assignment{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		assignmentID string
		oldSubID     string
		oldTypeID    string
		assignedAt   time.Time
	)
	err = tx.QueryRowContext(ctx, `
		select id, subscription_id, license_type_id, assigned_at
		from license_assignments
		where user_id=$1 and tenant_id=$2 and application_id=$3
	`, params.UserID, params.TenantID, params.ApplicationID).Scan(&assignmentID, &oldSubID, &oldTypeID, &assignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return license.Assignment{}, license.ErrNotAssigned
	}
	if err != nil {
		return license.Assignment{}, err
	}
	if oldTypeID == params.NewLicenseTypeID {
		return license.Assignment{}, license.ErrAlreadyAssigned
	}

	var newSubID string
	err = tx.QueryRowContext(ctx, `
		select id from subscriptions
		where tenant_id=$1 and application_id=$2 and license_type_id=$3
	`, params.TenantID, params.ApplicationID, params.NewLicenseTypeID).Scan(&newSubID)
	if errors.Is(err, sql.ErrNoRows) {
		return license.Assignment{}, license.ErrNotFound
	}
	if err != nil {
		return license.Assignment{}, err
	}

	// Lock both pools in ascending id order so two concurrent change calls
	// swapping the same pair cannot deadlock.
	counters := make(map[string]*struct{ purchased, assigned int }, 2)
	for _, subID := range sorted(oldSubID, newSubID) {
		var purchased, assigned int
		if err := tx.QueryRowContext(ctx, `
			select quantity_purchased, quantity_assigned from subscriptions where id=$1 for update
		`, subID).Scan(&purchased, &assigned); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return license.Assignment{}, license.ErrNotFound
			}
			if isLockNotAvailable(err) {
				return license.Assignment{}, license.ErrRetryable
			}
			return license.Assignment{}, err
		}
		counters[subID] = &struct{ purchased, assigned int }{purchased, assigned}
	}

	if counters[newSubID].assigned >= counters[newSubID].purchased {
		return license.Assignment{}, license.ErrNoSeatsAvailable
	}
	if counters[oldSubID].assigned <= 0 {
		return license.Assignment{}, license.ErrInvariantViolation
	}

	if _, err := tx.ExecContext(ctx, `
		update subscriptions set quantity_assigned = quantity_assigned - 1 where id=$1
	`, oldSubID); err != nil {
		return license.Assignment{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update subscriptions set quantity_assigned = quantity_assigned + 1 where id=$1
	`, newSubID); err != nil {
		return license.Assignment{}, err
	}

	assignment := license.Assignment{
		ID:             assignmentID,
		UserID:         params.UserID,
		TenantID:       params.TenantID,
		ApplicationID:  params.ApplicationID,
		LicenseTypeID:  params.NewLicenseTypeID,
		SubscriptionID: newSubID,
		AssignedAt:     assignedAt,
	}
	res, err := tx.ExecContext(ctx, `
		update license_assignments set license_type_id=$2, subscription_id=$3 where id=$1
	`, assignmentID, params.NewLicenseTypeID, newSubID)
	if err != nil {
		return license.Assignment{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return license.Assignment{}, err
	}
	if affected == 0 {
		// A concurrent revoke deleted the assignment after our unlocked
		// read; the counter moves above must not commit without it.
		return license.Assignment{}, license.ErrNotAssigned
	}

	if err := l.appendAudit(ctx, tx, license.AuditEntry{
		TenantID:              params.TenantID,
		UserID:                params.UserID,
		ApplicationID:         params.ApplicationID,
		LicenseTypeID:         params.NewLicenseTypeID,
		Action:                license.ActionChanged,
		PreviousLicenseTypeID: oldTypeID,
		PerformedBy:           params.PerformedBy,
		Reason:                params.Reason,
	}); err != nil {
		return license.Assignment{}, err
	}

	if err := tx.Commit(); err != nil {
		return license.Assignment{}, err
	}
	return assignment, nil
}

// appendAudit writes the entry inside the caller's transaction so the audit
// trail commits or rolls back with the counters it describes.
func (l *ledger) appendAudit(ctx context.Context, tx *sql.Tx, entry license.AuditEntry) error {
	entry.ID = ids.New()
	entry.PerformedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		insert into license_audit_log(id, tenant_id, user_id, application_id, license_type_id, action, previous_license_type_id, performed_by, performed_at, reason)
		values ($1,$2,$3,$4,$5,$6,nullif($7,''),$8,$9,nullif($10,''))
	`, entry.ID, entry.TenantID, entry.UserID, entry.ApplicationID, entry.LicenseTypeID,
		entry.Action, entry.PreviousLicenseTypeID, entry.PerformedBy, entry.PerformedAt, entry.Reason)
	return err
}

func (l *ledger) emit(event, tenantID, userID, applicationID, licenseTypeID, performedBy string) {
	fields := map[string]any{
		"tenant_id":      tenantID,
		"user_id":        userID,
		"application_id": applicationID,
		"performed_by":   performedBy,
	}
	if licenseTypeID != "" {
		fields["license_type_id"] = licenseTypeID
	}
	l.sink.Emit(event, fields)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, license.ErrNoSeatsAvailable):
		return "no_seats"
	case errors.Is(err, license.ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, license.ErrNotAssigned):
		return "not_assigned"
	case errors.Is(err, license.ErrInvariantViolation):
		return "invariant"
	case errors.Is(err, license.ErrNotFound):
		return "not_found"
	case errors.Is(err, license.ErrRetryable):
		return "retry"
	case errors.Is(err, license.ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}

func sorted(a, b string) []string {
	if a <= b {
		return []string{a, b}
	}
	return []string{b, a}
}
