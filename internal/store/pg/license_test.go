package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/authvital/authvital/internal/license"
)

type sinkFunc func(event string, fields map[string]any)

func (f sinkFunc) Emit(event string, fields map[string]any) { f(event, fields) }

func grantParams() license.GrantParams {
	return license.GrantParams{
		TenantID:      "tenant-1",
		UserID:        "user-1",
		ApplicationID: "app-1",
		LicenseTypeID: "lt-pro",
		PerformedBy:   "admin-1",
	}
}

func TestLedgerGrantCommitsSeatAndAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)select id, quantity_purchased, quantity_assigned.*for update").
		WithArgs("tenant-1", "app-1", "lt-pro").
		WillReturnRows(sqlmock.NewRows([]string{"id", "quantity_purchased", "quantity_assigned"}).AddRow("sub-1", 5, 2))
	mock.ExpectQuery("select 1 from license_assignments").
		WithArgs("user-1", "tenant-1", "app-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`update subscriptions set quantity_assigned = quantity_assigned \+ 1`).
		WithArgs("sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into license_assignments").
		WithArgs(sqlmock.AnyArg(), "user-1", "tenant-1", "app-1", "lt-pro", "sub-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into license_audit_log").
		WithArgs(sqlmock.AnyArg(), "tenant-1", "user-1", "app-1", "lt-pro", license.ActionGranted,
			sqlmock.AnyArg(), "admin-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	var events []string
	ledger := NewStore(db).Ledger(WithSink(sinkFunc(func(event string, _ map[string]any) {
		events = append(events, event)
	})))

	assignment, err := ledger.Grant(context.Background(), grantParams())
	if err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if assignment.SubscriptionID != "sub-1" || assignment.LicenseTypeID != "lt-pro" {
		t.Fatalf("unexpected assignment: %+v", assignment)
	}
	if len(events) != 1 || events[0] != "license.granted" {
		t.Fatalf("expected license.granted event, got %v", events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLedgerGrantPoolExhaustedRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)select id, quantity_purchased, quantity_assigned.*for update").
		WithArgs("tenant-1", "app-1", "lt-pro").
		WillReturnRows(sqlmock.NewRows([]string{"id", "quantity_purchased", "quantity_assigned"}).AddRow("sub-1", 5, 5))
	mock.ExpectQuery("select 1 from license_assignments").
		WithArgs("user-1", "tenant-1", "app-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	fired := false
	ledger := NewStore(db).Ledger(WithSink(sinkFunc(func(string, map[string]any) { fired = true })))

	if _, err := ledger.Grant(context.Background(), grantParams()); !errors.Is(err, license.ErrNoSeatsAvailable) {
		t.Fatalf("expected ErrNoSeatsAvailable, got %v", err)
	}
	if fired {
		t.Fatalf("no event expected for a rejected grant")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLedgerGrantExistingAssignmentRejected(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)select id, quantity_purchased, quantity_assigned.*for update").
		WithArgs("tenant-1", "app-1", "lt-pro").
		WillReturnRows(sqlmock.NewRows([]string{"id", "quantity_purchased", "quantity_assigned"}).AddRow("sub-1", 5, 2))
	mock.ExpectQuery("select 1 from license_assignments").
		WithArgs("user-1", "tenant-1", "app-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	ledger := NewStore(db).Ledger()
	if _, err := ledger.Grant(context.Background(), grantParams()); !errors.Is(err, license.ErrAlreadyAssigned) {
		t.Fatalf("expected ErrAlreadyAssigned, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestLedgerRevokeWithoutAssignment(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)select id, subscription_id, license_type_id.*from license_assignments").
		WithArgs("user-1", "tenant-1", "app-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	ledger := NewStore(db).Ledger()
	err = ledger.Revoke(context.Background(), license.RevokeParams{
		TenantID:      "tenant-1",
		UserID:        "user-1",
		ApplicationID: "app-1",
		PerformedBy:   "admin-1",
	})
	if !errors.Is(err, license.ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// A lock timeout on the pool row surfaces as a retryable failure, not a
// generic error.
func TestLedgerGrantLockTimeoutIsRetryable(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)select id, quantity_purchased, quantity_assigned.*for update").
		WithArgs("tenant-1", "app-1", "lt-pro").
		WillReturnError(&pgconn.PgError{Code: "55P03"})
	mock.ExpectRollback()

	fired := false
	ledger := NewStore(db).Ledger(WithSink(sinkFunc(func(string, map[string]any) { fired = true })))

	if _, err := ledger.Grant(context.Background(), grantParams()); !errors.Is(err, license.ErrRetryable) {
		t.Fatalf("expected ErrRetryable, got %v", err)
	}
	if fired {
		t.Fatalf("no event expected for a timed out grant")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// Both pools are locked in ascending id order regardless of which one the
// member currently occupies.
func TestLedgerChangeTypeLocksPoolsInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)select id, subscription_id, license_type_id, assigned_at.*from license_assignments").
		WithArgs("user-1", "tenant-1", "app-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_id", "license_type_id", "assigned_at"}).
			AddRow("asg-1", "sub-b", "lt-pro", time.Now().UTC().Add(-time.Hour)))
	mock.ExpectQuery("select id from subscriptions").
		WithArgs("tenant-1", "app-1", "lt-basic").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sub-a"))
	// Target pool sub-a sorts before the current pool sub-b.
	mock.ExpectQuery("select quantity_purchased, quantity_assigned from subscriptions where id=.*for update").
		WithArgs("sub-a").
		WillReturnRows(sqlmock.NewRows([]string{"quantity_purchased", "quantity_assigned"}).AddRow(10, 3))
	mock.ExpectQuery("select quantity_purchased, quantity_assigned from subscriptions where id=.*for update").
		WithArgs("sub-b").
		WillReturnRows(sqlmock.NewRows([]string{"quantity_purchased", "quantity_assigned"}).AddRow(5, 4))
	mock.ExpectExec(`update subscriptions set quantity_assigned = quantity_assigned - 1`).
		WithArgs("sub-b").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update subscriptions set quantity_assigned = quantity_assigned \+ 1`).
		WithArgs("sub-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update license_assignments set license_type_id").
		WithArgs("asg-1", "lt-basic", "sub-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into license_audit_log").
		WithArgs(sqlmock.AnyArg(), "tenant-1", "user-1", "app-1", "lt-basic", license.ActionChanged,
			"lt-pro", "admin-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ledger := NewStore(db).Ledger()
	assignment, err := ledger.ChangeType(context.Background(), license.ChangeParams{
		TenantID:         "tenant-1",
		UserID:           "user-1",
		ApplicationID:    "app-1",
		NewLicenseTypeID: "lt-basic",
		PerformedBy:      "admin-1",
	})
	if err != nil {
		t.Fatalf("ChangeType: %v", err)
	}
	if assignment.SubscriptionID != "sub-a" || assignment.LicenseTypeID != "lt-basic" {
		t.Fatalf("unexpected assignment: %+v", assignment)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// A revoke that lands between the unlocked assignment read and the pool
// locks must abort the change; the counter moves roll back with it.
func TestLedgerChangeTypeAbortsWhenAssignmentRevokedMidFlight(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("(?s)select id, subscription_id, license_type_id, assigned_at.*from license_assignments").
		WithArgs("user-1", "tenant-1", "app-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_id", "license_type_id", "assigned_at"}).
			AddRow("asg-1", "sub-b", "lt-pro", time.Now().UTC().Add(-time.Hour)))
	mock.ExpectQuery("select id from subscriptions").
		WithArgs("tenant-1", "app-1", "lt-basic").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("sub-a"))
	mock.ExpectQuery("select quantity_purchased, quantity_assigned from subscriptions where id=.*for update").
		WithArgs("sub-a").
		WillReturnRows(sqlmock.NewRows([]string{"quantity_purchased", "quantity_assigned"}).AddRow(10, 3))
	mock.ExpectQuery("select quantity_purchased, quantity_assigned from subscriptions where id=.*for update").
		WithArgs("sub-b").
		WillReturnRows(sqlmock.NewRows([]string{"quantity_purchased", "quantity_assigned"}).AddRow(5, 4))
	mock.ExpectExec(`update subscriptions set quantity_assigned = quantity_assigned - 1`).
		WithArgs("sub-b").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update subscriptions set quantity_assigned = quantity_assigned \+ 1`).
		WithArgs("sub-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The assignment row is gone; zero rows affected.
	mock.ExpectExec("update license_assignments set license_type_id").
		WithArgs("asg-1", "lt-basic", "sub-a").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	fired := false
	ledger := NewStore(db).Ledger(WithSink(sinkFunc(func(string, map[string]any) { fired = true })))

	_, err = ledger.ChangeType(context.Background(), license.ChangeParams{
		TenantID:         "tenant-1",
		UserID:           "user-1",
		ApplicationID:    "app-1",
		NewLicenseTypeID: "lt-basic",
		PerformedBy:      "admin-1",
	})
	if !errors.Is(err, license.ErrNotAssigned) {
		t.Fatalf("expected ErrNotAssigned, got %v", err)
	}
	if fired {
		t.Fatalf("no event expected for an aborted change")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
