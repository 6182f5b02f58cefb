package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/authvital/authvital/internal/apikey"
	"github.com/authvital/authvital/internal/ids"
)

// Credentials returns the pg-backed credential store.
func (s *Store) Credentials() apikey.Store {
	return &credentialStore{db: s.db}
}

type credentialStore struct{ db *sql.DB }

var _ apikey.Store = (*credentialStore)(nil)

const credentialColumns = `id, owner_id, name, secret_hash, display_prefix, permissions, active, expires_at, last_used_at, created_at`

func (s *credentialStore) FindCandidatesByPrefix(ctx context.Context, prefix string) ([]apikey.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+credentialColumns+`
		from api_credentials
		where display_prefix=$1 and active
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []apikey.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (s *credentialStore) TouchLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update api_credentials set last_used_at=now() where id=$1`, id)
	return err
}

func (s *credentialStore) Insert(ctx context.Context, cred *apikey.Credential) error {
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	perms, err := json.Marshal(cred.Permissions)
	if err != nil {
		return fmt.Errorf("marshal permissions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into api_credentials(id, owner_id, name, secret_hash, display_prefix, permissions, active, expires_at, created_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, cred.ID, cred.OwnerID, cred.Name, cred.SecretHash, cred.DisplayPrefix, perms, cred.Active, cred.ExpiresAt, cred.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: credential already exists", apikey.ErrInvalidInput)
	}
	return err
}

func (s *credentialStore) Find(ctx context.Context, id string) (apikey.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+credentialColumns+` from api_credentials where id=$1`, id)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return apikey.Credential{}, apikey.ErrNotFound
	}
	return cred, err
}

func (s *credentialStore) ListByOwner(ctx context.Context, ownerID string) ([]apikey.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+credentialColumns+`
		from api_credentials
		where owner_id=$1
		order by created_at asc
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []apikey.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (s *credentialStore) Update(ctx context.Context, id string, upd apikey.Update) (apikey.Credential, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apikey.Credential{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if upd.Name != nil {
		if _, err := tx.ExecContext(ctx, `update api_credentials set name=$2 where id=$1`, id, *upd.Name); err != nil {
			return apikey.Credential{}, err
		}
	}
	if upd.Permissions != nil {
		perms, err := json.Marshal(upd.Permissions)
		if err != nil {
			return apikey.Credential{}, fmt.Errorf("marshal permissions: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `update api_credentials set permissions=$2 where id=$1`, id, perms); err != nil {
			return apikey.Credential{}, err
		}
	}
	if upd.Active != nil {
		if _, err := tx.ExecContext(ctx, `update api_credentials set active=$2 where id=$1`, id, *upd.Active); err != nil {
			return apikey.Credential{}, err
		}
	}

	row := tx.QueryRowContext(ctx,
		`select `+credentialColumns+` from api_credentials where id=$1`, id)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return apikey.Credential{}, apikey.ErrNotFound
	}
	if err != nil {
		return apikey.Credential{}, err
	}
	if err := tx.Commit(); err != nil {
		return apikey.Credential{}, err
	}
	return cred, nil
}

func (s *credentialStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from api_credentials where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apikey.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (apikey.Credential, error) {
	var (
		cred  apikey.Credential
		perms []byte
	)
	err := row.Scan(&cred.ID, &cred.OwnerID, &cred.Name, &cred.SecretHash, &cred.DisplayPrefix,
		&perms, &cred.Active, &cred.ExpiresAt, &cred.LastUsedAt, &cred.CreatedAt)
	if err != nil {
		return apikey.Credential{}, err
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &cred.Permissions); err != nil {
			return apikey.Credential{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	return cred, nil
}
