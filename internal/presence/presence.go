// Package presence is the best-effort view of who is online.
// Store failures are logged and degrade to "unknown"; they never reach callers.
package presence

import (
	"context"
	"time"

	"vaani/internal/models"
	"vaani/internal/storage"

	"go.uber.org/zap"
)

// DefaultTimeout bounds each store call. Presence runs on the connect and
// disconnect path of every socket and must not hold up delivery.
const DefaultTimeout = 500 * time.Millisecond

// WipeAll walks every key once at startup and gets a longer bound.
const wipeTimeout = 10 * time.Second

type Service struct {
	store   storage.PresenceStore
	log     *zap.Logger
	timeout time.Duration
}

func New(store storage.PresenceStore, log *zap.Logger) *Service {
	return &Service{store: store, log: log.Named("presence"), timeout: DefaultTimeout}
}

// WithTimeout replaces the per-call bound. Non-positive values are ignored.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) MarkOnline(ctx context.Context, userID, connID string) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.store.MarkOnline(ctx, userID, connID); err != nil {
		s.log.Error("mark online failed", zap.String("user_id", userID), zap.String("conn_id", connID), zap.Error(err))
	}
}

// MarkOffline reports whether connID was the user's last session.
// On store failure the user is assumed to be still online elsewhere.
func (s *Service) MarkOffline(ctx context.Context, userID, connID string) bool {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	offline, err := s.store.MarkOffline(ctx, userID, connID)
	if err != nil {
		s.log.Error("mark offline failed", zap.String("user_id", userID), zap.String("conn_id", connID), zap.Error(err))
		return false
	}
	return offline
}

func (s *Service) ForceOffline(ctx context.Context, userID string) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if err := s.store.ForceOffline(ctx, userID); err != nil {
		s.log.Error("force offline failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// ListOnlineUserIDs never returns nil so it encodes as an empty JSON array.
func (s *Service) ListOnlineUserIDs(ctx context.Context) []string {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	users, err := s.store.ListOnline(ctx)
	if err != nil {
		s.log.Error("list online users failed", zap.Error(err))
	}
	if users == nil {
		users = []string{}
	}
	return users
}

func (s *Service) Status(ctx context.Context, userID string) models.OnlineStatus {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	status := models.OnlineStatus{UserID: userID, Sessions: []string{}}

	online, err := s.store.IsOnline(ctx, userID)
	if err != nil {
		s.log.Error("presence lookup failed", zap.String("user_id", userID), zap.Error(err))
		return status
	}
	status.Online = online

	sessions, err := s.store.Sessions(ctx, userID)
	if err != nil {
		s.log.Error("session lookup failed", zap.String("user_id", userID), zap.Error(err))
		return status
	}
	if sessions != nil {
		status.Sessions = sessions
	}
	return status
}

// WipeAll clears every record. Called once before the relay accepts connections.
func (s *Service) WipeAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, wipeTimeout)
	defer cancel()
	if err := s.store.WipeAll(ctx); err != nil {
		s.log.Error("wipe presence failed", zap.Error(err))
		return
	}
	s.log.Info("presence wiped")
}

// Ping is used by readiness checks, so unlike the rest it returns the error.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
