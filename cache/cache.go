package cache

import (
	"context"
	"time"

	"github.com/dkrasov/fieldmark/models"
)

// LockResult is the outcome of an acquire attempt. On denial the current
// holder's identity is reported so the caller can surface it.
type LockResult struct {
	Granted    bool
	HolderId   string
	HolderName string
	ExpiresAt  time.Time
}

type FieldmarkCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	// AcquireLock grants the photo lock when it is free, expired, or
	// already held by the same user (refreshing the TTL). The same call
	// therefore serves both initial acquisition and heartbeat.
	AcquireLock(ctx context.Context, photoId, userId, userName string, ttl time.Duration) (LockResult, error)
	// ReleaseLock removes the lock when held by userId. Releasing an
	// unheld or expired lock is not an error.
	ReleaseLock(ctx context.Context, photoId, userId string) error
	GetLock(ctx context.Context, photoId string) (*models.EditLock, error)

	// Lock registry support for the reaper: photos whose registry entry
	// expired before now, and removal once swept.
	ExpiredLocks(ctx context.Context, now time.Time) ([]string, error)
	RemoveLockEntry(ctx context.Context, photoId string) error

	IncrementUserSaveCount(ctx context.Context, userId string) (int64, error)
	SeedUserSaveCount(ctx context.Context, userId string, count int) error
	GetUserSaveCount(ctx context.Context, userId string) (int, error)
}
