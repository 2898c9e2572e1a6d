// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service/transport layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates a request failed authentication. Transports
	// map it to 401 / Unauthenticated without further detail.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidSession indicates a stored session payload could not be decoded.
	ErrInvalidSession = errors.New("invalid session payload")

	// ErrTenantUnavailable indicates the tenant directory or its database could not be reached.
	ErrTenantUnavailable = errors.New("tenant unavailable")

	// ErrUnsupportedClient indicates a tenant declares a database client this build cannot talk to.
	ErrUnsupportedClient = errors.New("unsupported database client")
)
