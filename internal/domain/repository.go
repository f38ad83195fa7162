package domain

import (
	"context"
	"time"
)

// UserStore owns the canonical mapping of user identifiers to their records.
// Every implementation serializes its operations: a read that starts after a
// write returns observes that write, and concurrent writes are never lost.
// Mutating calls return an error wrapping ErrPersistence when the write could
// not be made durable; in that case the mutation has not been applied.
type UserStore interface {
	// GetToken returns the stored credential. ok is false when the user is
	// unknown or has not registered one.
	GetToken(ctx context.Context, id int64) (token string, ok bool, err error)
	// SetToken stores the credential, creating the record if needed.
	SetToken(ctx context.Context, id int64, token string) error
	// Touch marks the user as active now, creating the record if needed.
	Touch(ctx context.Context, id int64) error
	// AddAdmin promotes the user, creating the record if needed. Idempotent.
	AddAdmin(ctx context.Context, id int64) error
	// IsAdmin reports the admin flag; unknown users are not admins.
	IsAdmin(ctx context.Context, id int64) (bool, error)
	// ListUsers returns a snapshot of every known identifier.
	ListUsers(ctx context.Context) ([]int64, error)
	// ListInactiveSince returns users whose last activity is older than
	// now-threshold.
	ListInactiveSince(ctx context.Context, threshold time.Duration, now time.Time) ([]int64, error)
	// Stats counts users, admins and users holding a token.
	Stats(ctx context.Context) (Stats, error)
	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
