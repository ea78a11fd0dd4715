package mq

import "context"

type MessageQueue interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, visibilityTimeout int32) (*Message, error)
	Delete(ctx context.Context, msg *Message) error
}

type Message struct {
	Id   string
	Body string
}

// PhotoDeletedMessage is the body the job-media service enqueues when a
// photo is removed. The annotation versions are then soft-deleted and
// open sessions on the photo are torn down.
type PhotoDeletedMessage struct {
	Type      string `json:"type"`
	PhotoId   string `json:"photo_id"`
	DeletedBy string `json:"deleted_by"`
}

const PhotoDeletedType = "photo_deleted"
