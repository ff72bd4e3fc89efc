package presence

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vaani/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var errDown = errors.New("connection refused")

type brokenStore struct{}

func (brokenStore) MarkOnline(context.Context, string, string) error { return errDown }
func (brokenStore) MarkOffline(context.Context, string, string) (bool, error) {
	return true, errDown
}
func (brokenStore) ForceOffline(context.Context, string) error { return errDown }
func (brokenStore) ListOnline(context.Context) ([]string, error) { return nil, errDown }
func (brokenStore) IsOnline(context.Context, string) (bool, error) { return true, errDown }
func (brokenStore) Sessions(context.Context, string) ([]string, error) { return nil, errDown }
func (brokenStore) WipeAll(context.Context) error { return errDown }
func (brokenStore) Ping(context.Context) error { return errDown }
func (brokenStore) Close() error { return nil }

func TestService_Degrades(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	svc := New(brokenStore{}, zap.New(core))
	ctx := context.Background()

	svc.MarkOnline(ctx, "u1", "c1")
	assert.False(t, svc.MarkOffline(ctx, "u1", "c1"), "a failed store must not report the user offline")
	svc.ForceOffline(ctx, "u1")

	users := svc.ListOnlineUserIDs(ctx)
	assert.NotNil(t, users)
	assert.Empty(t, users)

	status := svc.Status(ctx, "u1")
	assert.False(t, status.Online)
	assert.Empty(t, status.Sessions)

	svc.WipeAll(ctx)
	assert.Error(t, svc.Ping(ctx))

	assert.Equal(t, 6, logs.Len())
	assert.Equal(t, "u1", logs.All()[0].ContextMap()["user_id"])
}

func TestService_Bolt(t *testing.T) {
	store, err := storage.NewBoltPresence(filepath.Join(t.TempDir(), "presence.db"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	svc := New(store, zap.NewNop())
	ctx := context.Background()

	svc.MarkOnline(ctx, "u1", "c1")
	svc.MarkOnline(ctx, "u1", "c2")
	assert.Equal(t, []string{"u1"}, svc.ListOnlineUserIDs(ctx))

	status := svc.Status(ctx, "u1")
	assert.True(t, status.Online)
	assert.ElementsMatch(t, []string{"c1", "c2"}, status.Sessions)

	assert.False(t, svc.MarkOffline(ctx, "u1", "c1"))
	assert.True(t, svc.MarkOffline(ctx, "u1", "c2"))
	assert.Empty(t, svc.ListOnlineUserIDs(ctx))
	require.NoError(t, svc.Ping(ctx))
}

// hangingStore never answers; every call waits for its context.
type hangingStore struct{ brokenStore }

func (hangingStore) MarkOnline(ctx context.Context, _, _ string) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingStore) MarkOffline(ctx context.Context, _, _ string) (bool, error) {
	<-ctx.Done()
	return false, ctx.Err()
}

func (hangingStore) ListOnline(ctx context.Context) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestService_BoundsStoreCalls(t *testing.T) {
	svc := New(hangingStore{}, zap.NewNop()).WithTimeout(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	svc.MarkOnline(ctx, "u1", "c1")
	users := svc.ListOnlineUserIDs(ctx)
	offline := svc.MarkOffline(ctx, "u1", "c1")
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second, "three bounded calls took %s", elapsed)
	assert.Empty(t, users)
	assert.False(t, offline)
}

func TestService_UnreachableRedis(t *testing.T) {
	store, err := storage.NewRedisPresence("redis://127.0.0.1:1")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	svc := New(store, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		start := time.Now()
		svc.MarkOnline(ctx, "u1", "c1")
		users := svc.ListOnlineUserIDs(ctx)
		elapsed := time.Since(start)

		assert.Less(t, elapsed, 2*DefaultTimeout+500*time.Millisecond, "connect %d presence work took %s", i, elapsed)
		assert.Empty(t, users)
	}
}
