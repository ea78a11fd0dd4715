package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/dkrasov/fieldmark/cache"
	"github.com/dkrasov/fieldmark/models"
	"github.com/dkrasov/fieldmark/service"
)

type subscription struct {
	client  *Client
	photoId string
}

type broadcast struct {
	photoId string
	message []byte
}

// Hub maintains the set of active clients and fans photo pub/sub events
// out to the clients watching each photo. One redis subscription exists
// per photo with at least one watcher; it is torn down when the last
// watcher leaves.
type Hub struct {
	fieldmarkCache          cache.FieldmarkCache
	OpenCh                  chan *Client
	CloseCh                 chan *Client
	SubscribeCh             chan subscription
	UnsubscribeCh           chan subscription
	UserDeletedCh           chan string
	BroadcastCh             chan broadcast
	userToClients           map[string]map[*Client]struct{}
	photoToClients          map[string]map[*Client]struct{}
	photoToSubscriberCancel map[string]context.CancelFunc
}

func NewHub(fieldmarkCache cache.FieldmarkCache) *Hub {
	return &Hub{
		fieldmarkCache:          fieldmarkCache,
		OpenCh:                  make(chan *Client, 256),
		CloseCh:                 make(chan *Client, 256),
		SubscribeCh:             make(chan subscription, 1024),
		UnsubscribeCh:           make(chan subscription, 1024),
		UserDeletedCh:           make(chan string, 64),
		BroadcastCh:             make(chan broadcast, 1024),
		userToClients:           make(map[string]map[*Client]struct{}),
		photoToClients:          make(map[string]map[*Client]struct{}),
		photoToSubscriberCancel: make(map[string]context.CancelFunc),
	}
}

const maxConnectionsPerUser = 3

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.OpenCh:
			if _, ok := h.userToClients[client.user.Id]; !ok {
				h.userToClients[client.user.Id] = make(map[*Client]struct{})
			}

			if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
				log.Printf("User %s reached max connections (%d)", client.user.Id, maxConnectionsPerUser)
				close(client.Send)
				continue
			}

			h.userToClients[client.user.Id][client] = struct{}{}

		case client := <-h.CloseCh:
			for photoId := range client.subscribedPhotos {
				h.dropWatcher(photoId, client)
			}
			delete(h.userToClients[client.user.Id], client)
			if len(h.userToClients[client.user.Id]) == 0 {
				delete(h.userToClients, client.user.Id)
			}

		case sub := <-h.SubscribeCh:
			if h.photoToClients[sub.photoId] == nil {
				log.Printf("Subscriber does not exist, creating for photo: %s", sub.photoId)

				ctx, cancel := context.WithCancel(context.Background())
				photoId := sub.photoId
				channel := models.PhotoChannel(photoId)

				// photoToClients belongs to this loop; the pubsub goroutine
				// hands its payload back here instead of touching the map
				err := h.fieldmarkCache.Subscribe(ctx, channel, func(messageBytes []byte) {
					h.BroadcastCh <- broadcast{photoId: photoId, message: messageBytes}
				})
				if err != nil {
					log.Printf("Failed to create redis sub for channel %s: %v", channel, err)
					cancel()
					continue
				}

				h.photoToClients[sub.photoId] = make(map[*Client]struct{})
				h.photoToSubscriberCancel[sub.photoId] = cancel
			}
			h.photoToClients[sub.photoId][sub.client] = struct{}{}
			sub.client.subscribedPhotos[sub.photoId] = struct{}{}

		case unsub := <-h.UnsubscribeCh:
			delete(unsub.client.subscribedPhotos, unsub.photoId)
			h.dropWatcher(unsub.photoId, unsub.client)

		case userId := <-h.UserDeletedCh:
			if clients, ok := h.userToClients[userId]; ok {
				for client := range clients {
					close(client.Send)
					delete(h.userToClients[userId], client)
				}
				delete(h.userToClients, userId)
			}

		case b := <-h.BroadcastCh:
			for client := range h.photoToClients[b.photoId] {
				client.Send <- b.message
			}
			h.routePhotoEvent(b.photoId, b.message)
		}
	}
}

func (h *Hub) dropWatcher(photoId string, client *Client) {
	delete(h.photoToClients[photoId], client)
	if len(h.photoToClients[photoId]) == 0 {
		if cancel, ok := h.photoToSubscriberCancel[photoId]; ok {
			cancel()
			delete(h.photoToSubscriberCancel, photoId)
		}
		delete(h.photoToClients, photoId)
	}
}

// routePhotoEvent inspects a photo channel payload for the events the
// server itself must react to, beyond forwarding bytes: a deleted photo
// force-closes its sessions, a released lock lets waiting sessions try
// to claim it.
func (h *Hub) routePhotoEvent(photoId string, messageBytes []byte) {
	var envelope struct {
		Type models.EventType `json:"type"`
	}
	if err := json.Unmarshal(messageBytes, &envelope); err != nil {
		return
	}

	switch envelope.Type {
	case models.EventPhotoDeleted, models.EventPhotoHidden:
		for client := range h.photoToClients[photoId] {
			client.NotifyPhotoDeleted(photoId)
		}
	case models.EventLockReleased:
		for client := range h.photoToClients[photoId] {
			client.NotifyLockReleased(photoId)
		}
	}
}

func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	err := h.fieldmarkCache.Subscribe(shutdownCtx, "user-deleted", func(message []byte) {
		var userDeletedMsg service.UserDeletedMessage
		if err := json.Unmarshal(message, &userDeletedMsg); err == nil {
			h.UserDeletedCh <- userDeletedMsg.UserId
		}
	})
	if err != nil {
		log.Printf("WS hub failed to subscribe to user-deleted: %v", err)
		return err
	}

	return nil
}
