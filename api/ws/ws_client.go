package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dkrasov/fieldmark/editor"
	"github.com/dkrasov/fieldmark/lock"
	"github.com/dkrasov/fieldmark/models"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Whole documents never ride
	// inbound (the session holds state server-side), but text input and
	// style payloads still need headroom.
	maxMessageSize = 1024 * 256

	// Rate limiting: pointer moves stream while dragging, so the budget
	// is per-frame rather than per-action.
	messagesPerSecond = 120
	burstLimit        = 240
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

func NewClient(hub *Hub, conn *websocket.Conn, user models.User, handler MessageHandler) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:              hub,
		conn:             conn,
		user:             user,
		handler:          handler,
		subscribedPhotos: make(map[string]struct{}),
		Send:             make(chan []byte, 128),
		photoDeleted:     make(chan string, 2),
		lockReleased:     make(chan string, 8),
		ctx:              ctx,
		cancel:           cancel,
		limiter:          rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

// Client is a middleman between the websocket connection and the hub. It
// owns at most one editing session at a time; the session is created by
// an open_session message and torn down on close_session or disconnect.
type Client struct {
	hub              *Hub
	conn             *websocket.Conn
	user             models.User
	handler          MessageHandler
	subscribedPhotos map[string]struct{}
	Send             chan []byte // Buffered channel of outbound messages.
	photoDeleted     chan string
	lockReleased     chan string
	ctx              context.Context
	cancel           context.CancelFunc
	limiter          *rate.Limiter

	sessionMu sync.Mutex
	session   *editor.Session
	photoId   string
}

func (c *Client) NotifyPhotoDeleted(photoId string) {
	select {
	case c.photoDeleted <- photoId:
	default:
	}
}

func (c *Client) NotifyLockReleased(photoId string) {
	select {
	case c.lockReleased <- photoId:
	default:
	}
}

// currentSession returns the session if it is open for the given photo,
// or any open session when photoId is empty.
func (c *Client) currentSession(photoId string) *editor.Session {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session == nil {
		return nil
	}
	if photoId != "" && c.photoId != photoId {
		return nil
	}
	return c.session
}

func (c *Client) setSession(photoId string, session *editor.Session) {
	c.sessionMu.Lock()
	c.session = session
	c.photoId = photoId
	c.sessionMu.Unlock()
}

func (c *Client) clearSession() {
	c.setSession("", nil)
}

// dropSession force-closes whatever session is open. Used on disconnect
// and photo deletion, where there is no one left to confirm a dirty
// close.
func (c *Client) dropSession() {
	c.sessionMu.Lock()
	session := c.session
	c.session = nil
	c.photoId = ""
	c.sessionMu.Unlock()

	if session != nil {
		session.ForceClose()
	}
}

func (c *Client) ReadPump() {
	defer func() {
		c.dropSession()
		c.hub.CloseCh <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS close error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			log.Printf("Closing connection for user %s: message rate limit exceeded", c.user.Id)
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.cancel()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WS send error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Websocket service shutting down"),
			)
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// StatePump reacts to hub notifications that change the session rather
// than just forwarding bytes: a deleted photo ends the session outright,
// a released lock is a chance for a waiting session to become editable.
func (c *Client) StatePump() {
	for {
		select {
		case photoId := <-c.photoDeleted:
			if session := c.currentSession(photoId); session != nil {
				c.dropSession()
				sendEvent(c, "session_closed", map[string]any{
					"photoId": photoId,
					"reason":  "photo_deleted",
				})
			}

		case photoId := <-c.lockReleased:
			session := c.currentSession(photoId)
			if session == nil || session.Editable() {
				continue
			}
			ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			state, err := session.TryAcquireLock(ctx)
			cancel()
			if err != nil {
				log.Printf("Lock reacquire for photo %s failed: %v", photoId, err)
				continue
			}
			if state == lock.HeldBySelf {
				sendEvent(c, "lock_acquired", map[string]any{
					"photoId": photoId,
				})
			}

		case <-c.ctx.Done():
			return
		}
	}
}
