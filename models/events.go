package models

import "time"

// Push event wire types. Everything that fans out over the photo pub/sub
// channel uses this envelope, whether it originates in the service layer,
// the lock client, or the workers.

type EventType string

const (
	EventLockAcquired    EventType = "lock_acquired"
	EventLockReleased    EventType = "lock_released"
	EventAnnotationSaved EventType = "annotation_saved"
	EventPhotoDeleted    EventType = "photo_deleted"
	EventPhotoHidden     EventType = "photo_hidden"
)

type LockEvent struct {
	Type EventType     `json:"type"`
	Data LockEventData `json:"data"`
}

type LockEventData struct {
	PhotoId    string    `json:"photoId"`
	HolderId   string    `json:"holderId,omitempty"`
	HolderName string    `json:"holderName,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
}

type SavedEvent struct {
	Type EventType      `json:"type"`
	Data SavedEventData `json:"data"`
}

type SavedEventData struct {
	PhotoId string `json:"photoId"`
	Version int    `json:"version"`
	SavedBy string `json:"savedBy"`
}

type PhotoEvent struct {
	Type EventType      `json:"type"`
	Data PhotoEventData `json:"data"`
}

type PhotoEventData struct {
	PhotoId string `json:"photoId"`
}

// PhotoChannel names the pub/sub channel carrying every event for one photo.
func PhotoChannel(photoId string) string {
	return "photo:" + photoId
}
