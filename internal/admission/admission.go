// Package admission authenticates callers of the Controller's HTTP API.
// Two modes are supported (spec §6 callerAuthMode): a static api-key map, or
// OIDC bearer tokens from an external identity provider. The Gateway never
// uses this package — it only ever sees capability tokens.
package admission

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when no usable credential was presented.
var ErrUnauthenticated = errors.New("admission: missing or invalid credential")

// Caller is the authenticated identity of an API caller.
type Caller struct {
	// OwnerID is the opaque identifier used as Session.OwnerID.
	OwnerID string
}

// Authenticator verifies a raw Authorization: Bearer value and returns the
// resulting Caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (Caller, error)
}
