package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/models"
)

// LockReaper sweeps the lock registry for entries whose lock lapsed
// without a release, which happens when an editor crashes or loses
// connectivity mid-session. Waiting editors only learn a lock died
// through the lock_released broadcast, so someone has to send it.
type LockReaper struct {
	fieldmarkCache     cache.FieldmarkCache
	tickerMilliseconds int
}

func NewLockReaper(fieldmarkCache cache.FieldmarkCache, tickerMilliseconds int) *LockReaper {
	return &LockReaper{
		fieldmarkCache:     fieldmarkCache,
		tickerMilliseconds: tickerMilliseconds,
	}
}

func (r *LockReaper) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(r.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-shutdownCtx.Done():
			return
		}
	}
}

func (r *LockReaper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	photoIds, err := r.fieldmarkCache.ExpiredLocks(ctx, time.Now())
	if err != nil {
		log.Printf("Lock reaper sweep failed: %v", err)
		return
	}

	for _, photoId := range photoIds {
		// The registry entry can be stale: a heartbeat may have refreshed
		// the lock after the entry's score was written. Only locks that
		// are actually gone produce a release broadcast.
		lock, err := r.fieldmarkCache.GetLock(ctx, photoId)
		if err != nil {
			log.Printf("Lock reaper GetLock for photo %s failed: %v", photoId, err)
			continue
		}
		if lock != nil {
			continue
		}

		event := models.LockEvent{
			Type: models.EventLockReleased,
			Data: models.LockEventData{PhotoId: photoId},
		}
		eventBytes, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if err := r.fieldmarkCache.Publish(ctx, models.PhotoChannel(photoId), eventBytes); err != nil {
			log.Printf("Lock reaper publish for photo %s failed: %v", photoId, err)
			continue
		}

		if err := r.fieldmarkCache.RemoveLockEntry(ctx, photoId); err != nil {
			log.Printf("Lock reaper registry removal for photo %s failed: %v", photoId, err)
		}
	}
}
