package repository

import (
	"context"

	"github.com/fleeterp/fms-api/internal/model"
)

// TokenStore provides access to stored login sessions of a tenant.
type TokenStore interface {
	// FindToken loads the record for a primary token. Returns errs.ErrNotFound
	// when no record exists; any other error is an infrastructure failure.
	FindToken(ctx context.Context, t model.Tenant, token string) (*model.TokenRecord, error)
	// StorageRoot returns the file-storage root of a company, or "" if none is configured.
	StorageRoot(ctx context.Context, t model.Tenant, companyID string) (string, error)
	// SaveToken inserts a new record.
	SaveToken(ctx context.Context, t model.Tenant, rec *model.TokenRecord) error
}
