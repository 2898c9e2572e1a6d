package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fleeterp/fms-api/internal/errs"
	"github.com/fleeterp/fms-api/internal/model"
)

// TokenRepo implements TokenStore using each tenant's firm database.
type TokenRepo struct{ conns Connector }

// NewTokenRepo constructs a token store.
func NewTokenRepo(conns Connector) *TokenRepo { return &TokenRepo{conns: conns} }

// FindToken selects a session record by primary token.
func (r *TokenRepo) FindToken(ctx context.Context, t model.Tenant, token string) (*model.TokenRecord, error) {
	q, release, err := r.conns.Conn(ctx, t)
	if err != nil {
		return nil, err
	}
	defer release()

	const sql = `
SELECT token, COALESCE(browser_identity_token, ''), expires_in, COALESCE(user_profiles, ''), COALESCE(settings, '')
FROM jwt_token_details WHERE token=$1`
	var rec model.TokenRecord
	err = q.QueryRow(ctx, sql, token).Scan(&rec.Token, &rec.BrowserIdentityToken, &rec.ExpiresAt, &rec.UserProfiles, &rec.Settings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	return &rec, nil
}

// StorageRoot selects the file-storage root of a company.
func (r *TokenRepo) StorageRoot(ctx context.Context, t model.Tenant, companyID string) (string, error) {
	q, release, err := r.conns.Conn(ctx, t)
	if err != nil {
		return "", err
	}
	defer release()

	const sql = `
SELECT COALESCE(storage_location, '')
FROM company_storage WHERE company_id=$1`
	var root string
	if err := q.QueryRow(ctx, sql, companyID).Scan(&root); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return root, nil
}

// SaveToken inserts a session record.
func (r *TokenRepo) SaveToken(ctx context.Context, t model.Tenant, rec *model.TokenRecord) error {
	q, release, err := r.conns.Conn(ctx, t)
	if err != nil {
		return err
	}
	defer release()

	const sql = `
INSERT INTO jwt_token_details (token, browser_identity_token, expires_in, user_profiles, settings)
VALUES ($1, $2, $3, $4, $5)`
	_, err = q.Exec(ctx, sql, rec.Token, rec.BrowserIdentityToken, rec.ExpiresAt.UTC(), rec.UserProfiles, rec.Settings)
	return err
}
