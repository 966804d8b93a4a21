// Package store defines the shared, ephemeral-optimized storage interface
// consumed by both the Controller and the Gateway: Session rows and
// single-use TokenId rows, keyed by opaque strings with absolute expiry.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by GetSession when the row is absent or expired.
var ErrNotFound = errors.New("store: not found")

// ErrAlreadyExists is returned by InsertSession/InsertTokenID on a duplicate
// primary key.
var ErrAlreadyExists = errors.New("store: already exists")

// Session is the durable record of one sandbox attach session.
type Session struct {
	SessionID string
	OwnerID   string
	JobName   string
	PodName   string
	PodIP     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the shared-store contract described in spec §4.4. Implementations
// must make ConsumeTokenID linearizable with respect to itself: concurrent
// calls for the same tokenId must yield at most one true return.
type Store interface {
	// InsertSession fails with ErrAlreadyExists on a duplicate sessionId.
	InsertSession(ctx context.Context, s Session) error

	// UpdateSessionPod conditionally updates podIp/podName for sessionId.
	// It fails with ErrNotFound if the session is absent or expired.
	UpdateSessionPod(ctx context.Context, sessionID, podIP, podName string) error

	// GetSession returns ErrNotFound if the row is absent or expired.
	GetSession(ctx context.Context, sessionID string) (Session, error)

	// InsertTokenID fails with ErrAlreadyExists on a duplicate tokenId.
	InsertTokenID(ctx context.Context, tokenID, sessionID string, expiresAt time.Time) error

	// ConsumeTokenID atomically deletes the tokenId row and reports whether
	// a row was actually removed. This is the sole single-use enforcement
	// point in the system.
	ConsumeTokenID(ctx context.Context, tokenID string) (bool, error)
}
