package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/authvital/authvital/internal/apikey"
)

func TestCredentialStoreFindCandidatesByPrefix(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	cols := []string{"id", "owner_id", "name", "secret_hash", "display_prefix",
		"permissions", "active", "expires_at", "last_used_at", "created_at"}
	mock.ExpectQuery("(?s)select.*from api_credentials.*where display_prefix=.*and active").
		WithArgs("a1b2c3d4").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("cred-1", "tenant-1", "ci", "$2a$10$hash-one", "a1b2c3d4",
				[]byte(`["licenses:view"]`), true, nil, nil, now).
			AddRow("cred-2", "tenant-1", "deploy", "$2a$10$hash-two", "a1b2c3d4",
				[]byte(`["licenses:manage","members:view"]`), true, nil, nil, now))

	store := NewStore(db).Credentials()
	candidates, err := store.FindCandidatesByPrefix(context.Background(), "a1b2c3d4")
	if err != nil {
		t.Fatalf("FindCandidatesByPrefix: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(candidates))
	}
	if candidates[1].Permissions[1] != "members:view" {
		t.Fatalf("permissions not decoded: %v", candidates[1].Permissions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialStoreDeleteMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("delete from api_credentials").
		WithArgs("cred-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewStore(db).Credentials()
	if err := store.Delete(context.Background(), "cred-missing"); !errors.Is(err, apikey.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCredentialStoreUpdateAppliesFields(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	name := "renamed"
	active := false
	cols := []string{"id", "owner_id", "name", "secret_hash", "display_prefix",
		"permissions", "active", "expires_at", "last_used_at", "created_at"}

	mock.ExpectBegin()
	mock.ExpectExec("update api_credentials set name=").
		WithArgs("cred-1", "renamed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("update api_credentials set active=").
		WithArgs("cred-1", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select.*from api_credentials where id=").
		WithArgs("cred-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("cred-1", "tenant-1", "renamed", "$2a$10$hash-one", "a1b2c3d4",
				[]byte(`["licenses:view"]`), false, nil, nil, now))
	mock.ExpectCommit()

	store := NewStore(db).Credentials()
	cred, err := store.Update(context.Background(), "cred-1", apikey.Update{Name: &name, Active: &active})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if cred.Name != "renamed" || cred.Active {
		t.Fatalf("unexpected credential: %+v", cred)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRoleStoreDecodesPermissions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("(?s)select r.id, r.slug, r.is_system, r.permissions, r.created_at.*join member_roles").
		WithArgs("tenant-1", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "is_system", "permissions", "created_at"}).
			AddRow("role-1", "admin", true, []byte(`["members:manage"]`), now).
			AddRow("role-2", "auditor", false, []byte(`["licenses:view","billing:view"]`), now))

	store := NewStore(db).Roles()
	roles, err := store.RolesForMember(context.Background(), "tenant-1", "user-1")
	if err != nil {
		t.Fatalf("RolesForMember: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	if !roles[0].System || roles[1].Slug != "auditor" {
		t.Fatalf("unexpected roles: %+v", roles)
	}
	if len(roles[1].Permissions) != 2 {
		t.Fatalf("permissions not decoded: %v", roles[1].Permissions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
