package dedupe

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-image-forensics/internal/config"
)

func newRedisTracker(t *testing.T) (*RedisTracker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	tracker, err := NewRedisTracker(context.Background(), RedisOptions{Addr: mr.Addr(), Prefix: "test:dedupe"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })
	return tracker, mr
}

func exerciseTracker(t *testing.T, tracker Tracker) {
	t.Helper()
	ctx := context.Background()

	n, err := tracker.SeenCount(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for want := 1; want <= 3; want++ {
		got, err := tracker.Record(ctx, "abc", "image_forensics", 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	n, err = tracker.SeenCount(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := tracker.Record(ctx, "def", "image_forensics", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
}

func TestMemoryTracker(t *testing.T) {
	exerciseTracker(t, NewMemoryTracker())
}

func TestMemoryTracker_Concurrent(t *testing.T) {
	tracker := NewMemoryTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tracker.Record(context.Background(), "h", "p", 1)
		}()
	}
	wg.Wait()

	n, err := tracker.SeenCount(context.Background(), "h")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestMemoryTracker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryTracker().Record(ctx, "h", "p", 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisTracker(t *testing.T) {
	tracker, _ := newRedisTracker(t)
	exerciseTracker(t, tracker)
}

func TestRedisTracker_StoresFields(t *testing.T) {
	tracker, mr := newRedisTracker(t)

	_, err := tracker.Record(context.Background(), "abc", "image_forensics", 2)
	require.NoError(t, err)

	assert.Equal(t, "1", mr.HGet("test:dedupe:abc", "seen_count"))
	assert.Equal(t, "image_forensics", mr.HGet("test:dedupe:abc", "pipeline"))
	assert.Equal(t, "2", mr.HGet("test:dedupe:abc", "pipeline_version"))
	assert.NotEmpty(t, mr.HGet("test:dedupe:abc", "first_seen_at"))
}

func TestRedisTracker_Unreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisTracker(context.Background(), RedisOptions{Addr: addr})
	assert.Error(t, err)
}

func TestNew_SelectsBackend(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	ctx := context.Background()

	mem, err := New(ctx, config.DedupeConfig{Backend: "memory"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryTracker{}, mem)

	rt, err := New(ctx, config.DedupeConfig{Backend: "redis", RedisAddr: mr.Addr(), RedisKey: "k"}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &RedisTracker{}, rt)
	require.NoError(t, rt.Close())

	_, err = New(ctx, config.DedupeConfig{Backend: "etcd"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewPostgresTracker_ClosesDBOnSetupFailure(t *testing.T) {
	db, err := sql.Open("postgres", "postgres://forensics@127.0.0.1:1/forensics?sslmode=disable")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tracker, err := NewPostgresTracker(ctx, db, zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, tracker)

	err = db.PingContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is closed")
}
