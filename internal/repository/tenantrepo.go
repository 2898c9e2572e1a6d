// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/fleeterp/fms-api/internal/model"
)

// TenantResolver locates the connection set of the firm serving a request.
// Implementations must be safe for concurrent use and free of side effects.
type TenantResolver interface {
	// DefaultTenant returns the descriptor of the single default firm.
	DefaultTenant(ctx context.Context) (model.Tenant, error)
	// MasterConnectionString returns the master database DSN.
	MasterConnectionString() string
}
