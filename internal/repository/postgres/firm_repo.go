package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fleeterp/fms-api/internal/errs"
	"github.com/fleeterp/fms-api/internal/model"
)

// FirmRepo implements TenantResolver over the master database firm directory.
type FirmRepo struct {
	db        *DB
	masterDSN string
}

// NewFirmRepo constructs a firm directory backed by the master database.
func NewFirmRepo(db *DB, masterDSN string) *FirmRepo {
	return &FirmRepo{db: db, masterDSN: masterDSN}
}

// MasterConnectionString returns the master database DSN.
func (r *FirmRepo) MasterConnectionString() string { return r.masterDSN }

// DefaultTenant selects the default firm. Ties are broken by the lowest firm id.
func (r *FirmRepo) DefaultTenant(ctx context.Context) (model.Tenant, error) {
	const q = `
SELECT firm_id, connection_string, user_connection_string, log_connection_string, database_client
FROM firms
WHERE is_default
ORDER BY firm_id
LIMIT 1`
	var (
		t      model.Tenant
		client int
	)
	err := r.db.Pool.QueryRow(ctx, q).Scan(&t.FirmID, &t.FirmDSN, &t.UserDSN, &t.LogDSN, &client)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tenant{}, fmt.Errorf("default firm: %w", errs.ErrNotFound)
		}
		return model.Tenant{}, err
	}
	t.DataClient = model.DataClient(client)
	return t, nil
}
