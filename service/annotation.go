package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/dkrasov/fieldmark/models"
	"github.com/dkrasov/fieldmark/mq"
	"github.com/dkrasov/fieldmark/store"
	"github.com/dkrasov/fieldmark/worker"
)

var ErrPhotoIdRequired = errors.New("photo id is required")

// LoadCurrentAnnotation returns the latest version for a photo, or nil
// when the photo has never been annotated (the session starts from an
// empty document in that case).
func (s *Service) LoadCurrentAnnotation(ctx context.Context, photoId string) (*models.MediaAnnotation, error) {
	if photoId == "" {
		return nil, ErrPhotoIdRequired
	}
	return s.Store.GetCurrentAnnotation(ctx, photoId)
}

// SaveAnnotation appends doc as the next version for the photo. The
// document is sanitized, validated, and summarized (object count and
// feature flags) before the append; counters and the saved broadcast are
// async so the editor gets its version number as soon as the row lands.
func (s *Service) SaveAnnotation(ctx context.Context, photoId string, doc models.AnnotationDocument, user models.User) (models.MediaAnnotation, error) {
	if photoId == "" {
		return models.MediaAnnotation{}, ErrPhotoIdRequired
	}

	doc = SanitizeDocument(doc)
	if err := ValidateDocument(doc); err != nil {
		return models.MediaAnnotation{}, err
	}

	rec := models.MediaAnnotation{
		JobMediaId:  photoId,
		Document:    doc,
		CreatedBy:   user.Id,
		ObjectCount: len(doc.Objects),
	}
	rec.HasArrows, rec.HasText, rec.HasShapes, rec.HasMeasurements = summarizeObjects(doc.Objects)

	rec, err := s.Store.AppendAnnotation(ctx, rec)
	if err != nil {
		return models.MediaAnnotation{}, err
	}

	// Async side-effects - return to caller as soon as the version lands
	go func() {
		s.Cache.IncrementUserSaveCount(context.Background(), user.Id)
		s.CounterBatcher.UpdateCh <- worker.CounterUpdate{
			UserId:         user.Id,
			UserProvider:   user.Provider,
			UserProviderId: user.ProviderId,
			Delta:          1,
		}

		event := models.SavedEvent{
			Type: models.EventAnnotationSaved,
			Data: models.SavedEventData{
				PhotoId: photoId,
				Version: rec.Version,
				SavedBy: user.Id,
			},
		}
		if eventBytes, err := json.Marshal(event); err == nil {
			s.Cache.Publish(context.Background(), models.PhotoChannel(photoId), eventBytes)
		}
	}()

	return rec, nil
}

func (s *Service) GetAnnotationVersion(ctx context.Context, photoId string, version int) (models.MediaAnnotation, error) {
	if photoId == "" {
		return models.MediaAnnotation{}, ErrPhotoIdRequired
	}
	if version <= 0 {
		return models.MediaAnnotation{}, store.ErrItemNotFound
	}
	return s.Store.GetAnnotationVersion(ctx, photoId, version)
}

func (s *Service) GetAnnotationHistory(ctx context.Context, photoId string, limit int) ([]models.MediaAnnotation, error) {
	if photoId == "" {
		return nil, ErrPhotoIdRequired
	}
	return s.Store.GetAnnotationHistory(ctx, photoId, limit)
}

// RequestPhotoDeletion enqueues the soft-delete for the MQ consumer. The
// queue decouples the HTTP request from the (possibly long) batch marking
// of a large version history.
func (s *Service) RequestPhotoDeletion(ctx context.Context, photoId string, user models.User) error {
	if photoId == "" {
		return ErrPhotoIdRequired
	}

	msg := mq.PhotoDeletedMessage{
		Type:      mq.PhotoDeletedType,
		PhotoId:   photoId,
		DeletedBy: user.Id,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.MQ.Send(ctx, string(msgBytes)); err != nil {
		log.Printf("Failed to enqueue photo deletion for %s: %v", photoId, err)
		return err
	}
	return nil
}

// summarizeObjects computes the per-version feature flags used by history
// listings and search without unmarshalling the stored document.
func summarizeObjects(objects []models.AnnotationObject) (hasArrows, hasText, hasShapes, hasMeasurements bool) {
	for _, obj := range objects {
		switch obj.Kind() {
		case models.KindArrow:
			hasArrows = true
		case models.KindText:
			hasText = true
		case models.KindMeasurement:
			hasMeasurements = true
		case models.KindLine, models.KindRect, models.KindCircle, models.KindEllipse, models.KindFreehand:
			hasShapes = true
		}
	}
	return
}
