package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*RedisFieldmarkCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := NewRedisFieldmarkCache(context.Background(), true, s.Addr())
	require.NoError(t, err)
	return c, s
}

func TestAcquireLock_FreeLockIsGranted(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	res, err := c.AcquireLock(ctx, "photo-1", "user-1", "Homer", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, "user-1", res.HolderId)
	assert.Equal(t, "Homer", res.HolderName)
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.ExpiresAt, 2*time.Second)
}

func TestAcquireLock_HeldLockIsDenied(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, "photo-1", "user-1", "Homer", time.Minute)
	require.NoError(t, err)

	res, err := c.AcquireLock(ctx, "photo-1", "user-2", "Marge", time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Granted)
	assert.Equal(t, "user-1", res.HolderId)
	assert.Equal(t, "Homer", res.HolderName)
}

func TestAcquireLock_SameHolderRefreshesTTL(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, "photo-1", "user-1", "Homer", time.Minute)
	require.NoError(t, err)

	s.FastForward(45 * time.Second)

	res, err := c.AcquireLock(ctx, "photo-1", "user-1", "Homer", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Granted, "the holder's own acquire acts as a heartbeat")

	// A full minute remains after the refresh.
	s.FastForward(45 * time.Second)
	lock, err := c.GetLock(ctx, "photo-1")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "user-1", lock.LockedBy)
}

func TestAcquireLock_ExpiredLockIsGranted(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, "photo-1", "user-1", "Homer", time.Minute)
	require.NoError(t, err)

	s.FastForward(2 * time.Minute)

	res, err := c.AcquireLock(ctx, "photo-1", "user-2", "Marge", time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Granted)
	assert.Equal(t, "user-2", res.HolderId)
}

func TestReleaseLock_HolderReleases(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, "photo-1", "user-1", "Homer", time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseLock(ctx, "photo-1", "user-1"))

	lock, err := c.GetLock(ctx, "photo-1")
	require.NoError(t, err)
	assert.Nil(t, lock)

	// The registry entry is swept with the lock.
	expired, err := c.ExpiredLocks(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestReleaseLock_NonHolderIsIgnored(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, "photo-1", "user-1", "Homer", time.Minute)
	require.NoError(t, err)

	require.NoError(t, c.ReleaseLock(ctx, "photo-1", "user-2"))

	lock, err := c.GetLock(ctx, "photo-1")
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.Equal(t, "user-1", lock.LockedBy)
}

func TestReleaseLock_UnheldIsNotAnError(t *testing.T) {
	c, _ := setupTestCache(t)
	assert.NoError(t, c.ReleaseLock(context.Background(), "photo-1", "user-1"))
}

func TestGetLock_Unlocked(t *testing.T) {
	c, _ := setupTestCache(t)

	lock, err := c.GetLock(context.Background(), "photo-1")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestExpiredLocks_ReportsLapsedEntries(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	_, err := c.AcquireLock(ctx, "photo-1", "user-1", "Homer", time.Minute)
	require.NoError(t, err)
	_, err = c.AcquireLock(ctx, "photo-2", "user-2", "Marge", time.Hour)
	require.NoError(t, err)

	s.FastForward(2 * time.Minute)

	expired, err := c.ExpiredLocks(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"photo-1"}, expired)

	require.NoError(t, c.RemoveLockEntry(ctx, "photo-1"))

	expired, err = c.ExpiredLocks(ctx, time.Now().Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestUserSaveCount(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	// Missing counter reads as -1 so callers can seed from the store.
	count, err := c.GetUserSaveCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, -1, count)

	require.NoError(t, c.SeedUserSaveCount(ctx, "user-1", 10))

	n, err := c.IncrementUserSaveCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	count, err = c.GetUserSaveCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 11, count)

	// Seeding never overwrites an existing counter.
	require.NoError(t, c.SeedUserSaveCount(ctx, "user-1", 0))
	count, err = c.GetUserSaveCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 11, count)
}

func TestPublishSubscribe(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	require.NoError(t, c.Subscribe(ctx, "photo:photo-1", func(message []byte) {
		received <- message
	}))

	require.NoError(t, c.Publish(ctx, "photo:photo-1", []byte(`{"type":"lock_acquired"}`)))

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"lock_acquired"}`, string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("expected the published message to arrive")
	}
}
