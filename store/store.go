package store

import (
	"context"
	"errors"

	"github.com/dkrasov/fieldmark/models"
)

type FieldmarkStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, provider string, providerId string) (models.User, error)
	DeleteUser(ctx context.Context, provider string, providerId string) error
	IncrementUserSaveCount(ctx context.Context, provider string, providerId string, count int) error

	// GetCurrentAnnotation returns the latest live version of a photo's
	// annotation, or nil when the photo has none.
	GetCurrentAnnotation(ctx context.Context, photoId string) (*models.MediaAnnotation, error)
	GetAnnotationVersion(ctx context.Context, photoId string, version int) (models.MediaAnnotation, error)
	// GetAnnotationHistory lists versions newest-first, up to limit.
	GetAnnotationHistory(ctx context.Context, photoId string, limit int) ([]models.MediaAnnotation, error)
	// AppendAnnotation writes rec as the next version. The version store is
	// append-only: existing rows are never rewritten, and the current
	// pointer advances atomically with the new row.
	AppendAnnotation(ctx context.Context, rec models.MediaAnnotation) (models.MediaAnnotation, error)
	// SoftDeletePhotoAnnotations hides every version of a deleted photo
	// and returns how many rows were marked.
	SoftDeletePhotoAnnotations(ctx context.Context, photoId string) (int, error)
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
