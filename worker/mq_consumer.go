package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/models"
	"github.com/dkrasov/fieldmark/mq"
	"github.com/dkrasov/fieldmark/store"
)

// MQConsumer drains the photo-deletion queue. The job-media service owns
// photo lifecycle; when it removes a photo we soft-delete every
// annotation version and tell open sessions to shut down.
type MQConsumer struct {
	photoDeletedQueue mq.MessageQueue
	fieldmarkStore    store.FieldmarkStore
	fieldmarkCache    cache.FieldmarkCache
}

func NewMQConsumer(photoDeletedQueue mq.MessageQueue, fieldmarkStore store.FieldmarkStore, fieldmarkCache cache.FieldmarkCache) *MQConsumer {
	return &MQConsumer{
		photoDeletedQueue: photoDeletedQueue,
		fieldmarkStore:    fieldmarkStore,
		fieldmarkCache:    fieldmarkCache,
	}
}

// Marking a large version history takes multiple throttled batches
const visibilityTimeout = 60

func (mqConsumer MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.photoDeletedQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("mqConsumer receive error: %v", err)
			continue
		}

		if msg == nil {
			continue
		}

		var deleteMsg mq.PhotoDeletedMessage
		if err := json.Unmarshal([]byte(msg.Body), &deleteMsg); err != nil {
			continue
		}
		if deleteMsg.Type != mq.PhotoDeletedType || deleteMsg.PhotoId == "" {
			// Unknown message; drop it rather than poison the queue
			if err := mqConsumer.photoDeletedQueue.Delete(context.Background(), msg); err != nil {
				log.Printf("mqConsumer delete error: %v", err)
			}
			continue
		}

		// timeout should be a little less than queue visibility timeout
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)

		marked, err := mqConsumer.fieldmarkStore.SoftDeletePhotoAnnotations(ctx, deleteMsg.PhotoId)
		if err != nil {
			log.Printf("fieldmarkStore soft delete error for photo %s: %v", deleteMsg.PhotoId, err)
			cancel()
			continue
		}
		log.Printf("Soft-deleted %d annotation versions for photo %s", marked, deleteMsg.PhotoId)

		// Tell open sessions and watchers the photo is gone. The lock, if
		// any, dies with its TTL; the reaper sweeps its registry entry.
		event := models.PhotoEvent{
			Type: models.EventPhotoDeleted,
			Data: models.PhotoEventData{PhotoId: deleteMsg.PhotoId},
		}
		if eventBytes, err := json.Marshal(event); err == nil {
			if err := mqConsumer.fieldmarkCache.Publish(ctx, models.PhotoChannel(deleteMsg.PhotoId), eventBytes); err != nil {
				log.Printf("Photo deleted publish error for photo %s: %v", deleteMsg.PhotoId, err)
			}
		}
		cancel()

		err = mqConsumer.photoDeletedQueue.Delete(context.Background(), msg)
		if err != nil {
			log.Printf("mqConsumer delete error: %v", err)
			continue
		}
	}
}
