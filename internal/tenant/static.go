// Package tenant provides TenantResolver implementations that do not need
// a firm directory lookup on every request.
package tenant

import (
	"context"

	"github.com/fleeterp/fms-api/internal/model"
)

// Static resolves every request to one configured firm.
type Static struct {
	Tenant    model.Tenant
	MasterDSN string
}

// DefaultTenant returns the configured firm.
func (s Static) DefaultTenant(context.Context) (model.Tenant, error) { return s.Tenant, nil }

// MasterConnectionString returns the configured master DSN.
func (s Static) MasterConnectionString() string { return s.MasterDSN }
