package mocks

import (
	"context"

	"github.com/dkrasov/fieldmark/models"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	args := m.Called(ctx, provider, providerId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) DeleteUser(ctx context.Context, provider string, providerId string) error {
	args := m.Called(ctx, provider, providerId)
	return args.Error(0)
}

func (m *MockStore) IncrementUserSaveCount(ctx context.Context, provider string, providerId string, count int) error {
	args := m.Called(ctx, provider, providerId, count)
	return args.Error(0)
}

func (m *MockStore) GetCurrentAnnotation(ctx context.Context, photoId string) (*models.MediaAnnotation, error) {
	args := m.Called(ctx, photoId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.MediaAnnotation), args.Error(1)
}

func (m *MockStore) GetAnnotationVersion(ctx context.Context, photoId string, version int) (models.MediaAnnotation, error) {
	args := m.Called(ctx, photoId, version)
	return args.Get(0).(models.MediaAnnotation), args.Error(1)
}

func (m *MockStore) GetAnnotationHistory(ctx context.Context, photoId string, limit int) ([]models.MediaAnnotation, error) {
	args := m.Called(ctx, photoId, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.MediaAnnotation), args.Error(1)
}

func (m *MockStore) AppendAnnotation(ctx context.Context, rec models.MediaAnnotation) (models.MediaAnnotation, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(models.MediaAnnotation), args.Error(1)
}

func (m *MockStore) SoftDeletePhotoAnnotations(ctx context.Context, photoId string) (int, error) {
	args := m.Called(ctx, photoId)
	return args.Int(0), args.Error(1)
}
