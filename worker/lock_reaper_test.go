package worker_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	cachemocks "github.com/dkrasov/fieldmark/cache/mocks"
	"github.com/dkrasov/fieldmark/models"
	"github.com/dkrasov/fieldmark/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// The ticker keeps firing until Run observes cancellation, so the
// signal must tolerate repeat calls.
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	call.Run(func(args mock.Arguments) {
		once.Do(func() { close(done) })
	})
	return done
}

func TestLockReaper_BroadcastsExpiredLocks(t *testing.T) {
	mockCache := new(cachemocks.MockCache)

	// photo-1 truly lapsed, photo-2's registry entry is stale because a
	// heartbeat refreshed the lock after the score was written
	mockCache.On("ExpiredLocks", mock.Anything, mock.Anything).Return([]string{"photo-1", "photo-2"}, nil)
	mockCache.On("GetLock", mock.Anything, "photo-1").Return(nil, nil)
	mockCache.On("GetLock", mock.Anything, "photo-2").Return(&models.EditLock{
		JobMediaId: "photo-2",
		LockedBy:   "user2",
		ExpiresAt:  time.Now().Add(time.Minute),
	}, nil)

	published := make(chan []byte, 1)
	mockCache.On("Publish", mock.Anything, "photo:photo-1", mock.Anything).
		Run(func(args mock.Arguments) {
			select {
			case published <- args.Get(2).([]byte):
			default:
			}
		}).Return(nil)
	removeDone := wrapMockWithSignal(mockCache.On("RemoveLockEntry", mock.Anything, "photo-1").Return(nil))

	reaper := worker.NewLockReaper(mockCache, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Run(ctx)

	select {
	case <-removeDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for registry removal")
	}
	cancel()

	var event models.LockEvent
	assert.NoError(t, json.Unmarshal(<-published, &event))
	assert.Equal(t, models.EventLockReleased, event.Type)
	assert.Equal(t, "photo-1", event.Data.PhotoId)

	mockCache.AssertNotCalled(t, "Publish", mock.Anything, "photo:photo-2", mock.Anything)
	mockCache.AssertNotCalled(t, "RemoveLockEntry", mock.Anything, "photo-2")
}

func TestLockReaper_RegistryErrorSkipsSweep(t *testing.T) {
	mockCache := new(cachemocks.MockCache)

	queried := wrapMockWithSignal(mockCache.On("ExpiredLocks", mock.Anything, mock.Anything).Return(nil, assert.AnError))

	reaper := worker.NewLockReaper(mockCache, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reaper.Run(ctx)

	select {
	case <-queried:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for registry query")
	}
	cancel()

	mockCache.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}
