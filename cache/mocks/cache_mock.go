package mocks

import (
	"context"
	"time"

	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/models"
	"github.com/stretchr/testify/mock"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) AcquireLock(ctx context.Context, photoId, userId, userName string, ttl time.Duration) (cache.LockResult, error) {
	args := m.Called(ctx, photoId, userId, userName, ttl)
	return args.Get(0).(cache.LockResult), args.Error(1)
}

func (m *MockCache) ReleaseLock(ctx context.Context, photoId, userId string) error {
	args := m.Called(ctx, photoId, userId)
	return args.Error(0)
}

func (m *MockCache) GetLock(ctx context.Context, photoId string) (*models.EditLock, error) {
	args := m.Called(ctx, photoId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EditLock), args.Error(1)
}

func (m *MockCache) ExpiredLocks(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCache) RemoveLockEntry(ctx context.Context, photoId string) error {
	args := m.Called(ctx, photoId)
	return args.Error(0)
}

func (m *MockCache) IncrementUserSaveCount(ctx context.Context, userId string) (int64, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCache) SeedUserSaveCount(ctx context.Context, userId string, count int) error {
	args := m.Called(ctx, userId, count)
	return args.Error(0)
}

func (m *MockCache) GetUserSaveCount(ctx context.Context, userId string) (int, error) {
	args := m.Called(ctx, userId)
	return args.Int(0), args.Error(1)
}
