package storage

import (
	"context"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("presence store is closed")

// PresenceStore records which users are online and which connections
// each of them holds. A user is online iff their session set is non-empty.
type PresenceStore interface {
	// MarkOnline adds connID to the user's sessions and sets the online marker.
	MarkOnline(ctx context.Context, userID, connID string) error
	// MarkOffline removes connID and reports whether it was the user's last session.
	MarkOffline(ctx context.Context, userID, connID string) (bool, error)
	// ForceOffline drops the marker and every session of the user.
	ForceOffline(ctx context.Context, userID string) error
	ListOnline(ctx context.Context) ([]string, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
	Sessions(ctx context.Context, userID string) ([]string, error)
	// WipeAll deletes every presence and session record.
	WipeAll(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
