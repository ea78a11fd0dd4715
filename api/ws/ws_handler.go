package ws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dkrasov/fieldmark/editor"
	"github.com/dkrasov/fieldmark/models"
	"github.com/dkrasov/fieldmark/service"
	"github.com/gorilla/websocket"
)

type Handler struct {
	Service  *service.Service
	Hub      *Hub
	Renderer editor.Renderer
}

func NewHandler(svc *service.Service, hub *Hub, renderer editor.Renderer) *Handler {
	return &Handler{
		Service:  svc,
		Hub:      hub,
		Renderer: renderer,
	}
}

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if requiredOrigin == "" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
		Subprotocols: []string{"fieldmark-v1"},
	}
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, h.HandleWsMessage)

	// Seed the save counter in Redis from the durable row
	h.Service.Cache.SeedUserSaveCount(context.Background(), user.Id, user.SaveCount)

	h.Hub.OpenCh <- client

	// Start pumps
	go client.ReadPump()
	go client.WritePump(shutdownCtx)
	go client.StatePump()
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type openSessionMessage struct {
	PhotoId      string  `json:"photoId"`
	ReadOnly     bool    `json:"readOnly"`
	CanvasWidth  float64 `json:"canvasWidth"`
	CanvasHeight float64 `json:"canvasHeight"`
}

type closeSessionMessage struct {
	Confirmed bool `json:"confirmed"`
}

type setToolMessage struct {
	Tool string `json:"tool"`
}

type setStyleMessage struct {
	Color         string  `json:"color"`
	StrokeWidth   float64 `json:"strokeWidth"`
	Fill          string  `json:"fill"`
	FontSize      float64 `json:"fontSize"`
	FontFamily    string  `json:"fontFamily"`
	Unit          string  `json:"unit"`
	PixelsPerUnit float64 `json:"pixelsPerUnit"`
}

type pointerMessage struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Shift bool    `json:"shift"`
	Alt   bool    `json:"alt"`
}

type textInputMessage struct {
	Text string `json:"text"`
}

type revertMessage struct {
	Version int `json:"version"`
}

type responseMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON: %v", err)
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "open_session":
		var openMsg openSessionMessage
		if err := json.Unmarshal(msg.Data, &openMsg); err != nil {
			log.Printf("Invalid open_session data: %v", err)
			return
		}
		resp = h.handleOpenSession(client, openMsg)

	case "close_session":
		var closeMsg closeSessionMessage
		if err := json.Unmarshal(msg.Data, &closeMsg); err != nil && len(msg.Data) > 0 {
			log.Printf("Invalid close_session data: %v", err)
			return
		}
		resp = h.handleCloseSession(client, closeMsg)

	case "set_tool":
		var toolMsg setToolMessage
		if err := json.Unmarshal(msg.Data, &toolMsg); err != nil {
			log.Printf("Invalid set_tool data: %v", err)
			return
		}
		resp = h.handleSetTool(client, toolMsg)

	case "set_style":
		var styleMsg setStyleMessage
		if err := json.Unmarshal(msg.Data, &styleMsg); err != nil {
			log.Printf("Invalid set_style data: %v", err)
			return
		}
		if session := client.currentSession(""); session != nil {
			session.SetStyle(editor.Style{
				Color:         styleMsg.Color,
				StrokeWidth:   styleMsg.StrokeWidth,
				Fill:          styleMsg.Fill,
				FontSize:      styleMsg.FontSize,
				FontFamily:    styleMsg.FontFamily,
				Unit:          styleMsg.Unit,
				PixelsPerUnit: styleMsg.PixelsPerUnit,
			})
		}

	case "pointer_down", "pointer_move", "pointer_up":
		var ptrMsg pointerMessage
		if err := json.Unmarshal(msg.Data, &ptrMsg); err != nil {
			log.Printf("Invalid pointer data: %v", err)
			return
		}
		h.handlePointer(client, msg.Type, ptrMsg)

	case "text_input":
		var textMsg textInputMessage
		if err := json.Unmarshal(msg.Data, &textMsg); err != nil {
			log.Printf("Invalid text_input data: %v", err)
			return
		}
		if session := client.currentSession(""); session != nil {
			session.TextInput(textMsg.Text)
		}

	case "text_commit":
		if session := client.currentSession(""); session != nil {
			session.TextCommit()
		}

	case "text_cancel":
		if session := client.currentSession(""); session != nil {
			session.TextCancel()
		}

	case "undo":
		resp = h.handleHistoryStep(client, "undo_response", (*editor.Session).Undo)

	case "redo":
		resp = h.handleHistoryStep(client, "redo_response", (*editor.Session).Redo)

	case "delete_selected":
		if session := client.currentSession(""); session != nil {
			session.DeleteSelected()
			resp = documentResponse("delete_selected_response", session)
		}

	case "clear_all":
		if session := client.currentSession(""); session != nil {
			session.ClearAll()
			resp = documentResponse("clear_all_response", session)
		}

	case "save":
		resp = h.handleSave(client)

	case "revert":
		var revMsg revertMessage
		if err := json.Unmarshal(msg.Data, &revMsg); err != nil {
			log.Printf("Invalid revert data: %v", err)
			return
		}
		resp = h.handleRevert(client, revMsg)

	case "export":
		resp = h.handleExport(client)

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling response JSON: %v", err)
			return
		}
		client.Send <- respBytes
	}
}

func (h *Handler) handleOpenSession(client *Client, openMsg openSessionMessage) responseMessage {
	resp := responseMessage{
		Type: "open_session_response",
	}

	// A new session replaces whatever was open on this connection
	client.dropSession()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := editor.Open(ctx, editor.Config{
		PhotoId:      openMsg.PhotoId,
		User:         client.user,
		CanvasWidth:  openMsg.CanvasWidth,
		CanvasHeight: openMsg.CanvasHeight,
		ReadOnly:     openMsg.ReadOnly,
		Service:      h.Service,
		Cache:        h.Service.Cache,
		Renderer:     h.Renderer,
		Events:       h.sessionEvents(client, openMsg.PhotoId),
	})
	if err != nil {
		log.Printf("Open session for photo %s failed: %v", openMsg.PhotoId, err)
		resp.Data = map[string]any{"success": false, "photoId": openMsg.PhotoId, "error": err.Error()}
		return resp
	}

	client.setSession(openMsg.PhotoId, session)
	h.Hub.SubscribeCh <- subscription{client: client, photoId: openMsg.PhotoId}

	resp.Data = map[string]any{
		"success":    true,
		"photoId":    openMsg.PhotoId,
		"document":   session.Document(),
		"editable":   session.Editable(),
		"lockState":  session.LockState().String(),
		"lockHolder": session.LockHolderName(),
	}
	return resp
}

// sessionEvents bridges session callbacks onto the outbound socket. The
// callbacks run on timer goroutines; client.Send is buffered so they do
// not block heartbeats.
func (h *Handler) sessionEvents(client *Client, photoId string) editor.SessionEvents {
	return editor.SessionEvents{
		OnLockDenied: func(holderName string) {
			sendEvent(client, "lock_denied", map[string]any{"photoId": photoId, "holderName": holderName})
		},
		OnLockLost: func(holderName string) {
			sendEvent(client, "lock_lost", map[string]any{"photoId": photoId, "holderName": holderName})
		},
		OnLockExpiring: func(expiresAt time.Time) {
			sendEvent(client, "lock_expiring", map[string]any{"photoId": photoId, "expiresAt": expiresAt})
		},
		OnAutosaved: func(version int) {
			sendEvent(client, "autosaved", map[string]any{"photoId": photoId, "version": version})
		},
		OnSaveFailed: func(err error) {
			sendEvent(client, "save_failed", map[string]any{"photoId": photoId, "error": err.Error()})
		},
	}
}

func (h *Handler) handleCloseSession(client *Client, closeMsg closeSessionMessage) responseMessage {
	resp := responseMessage{
		Type: "close_session_response",
	}

	session := client.currentSession("")
	if session == nil {
		resp.Data = map[string]any{"success": true}
		return resp
	}
	photoId := session.PhotoId()

	if err := session.Close(closeMsg.Confirmed); err != nil {
		if errors.Is(err, editor.ErrDirtyClose) {
			resp.Data = map[string]any{"success": false, "needsConfirmation": true}
			return resp
		}
		resp.Data = map[string]any{"success": false, "error": err.Error()}
		return resp
	}

	client.clearSession()
	h.Hub.UnsubscribeCh <- subscription{client: client, photoId: photoId}
	resp.Data = map[string]any{"success": true}
	return resp
}

func (h *Handler) handleSetTool(client *Client, toolMsg setToolMessage) responseMessage {
	resp := responseMessage{
		Type: "set_tool_response",
	}

	session := client.currentSession("")
	if session == nil {
		resp.Data = map[string]any{"success": false, "error": "no open session"}
		return resp
	}

	if err := session.SetTool(editor.ToolId(toolMsg.Tool)); err != nil {
		resp.Data = map[string]any{"success": false, "tool": toolMsg.Tool, "error": err.Error()}
		return resp
	}

	resp.Data = map[string]any{"success": true, "tool": toolMsg.Tool}
	return resp
}

// handlePointer routes pointer events into the active tool. No response:
// these arrive at drag frequency and the session drops them silently when
// it is not editable.
func (h *Handler) handlePointer(client *Client, msgType string, ptrMsg pointerMessage) {
	session := client.currentSession("")
	if session == nil {
		return
	}

	p := editor.Point{X: ptrMsg.X, Y: ptrMsg.Y}
	mods := editor.Modifiers{Shift: ptrMsg.Shift, Alt: ptrMsg.Alt}

	switch msgType {
	case "pointer_down":
		session.PointerDown(p, mods)
	case "pointer_move":
		session.PointerMove(p, mods)
	case "pointer_up":
		session.PointerUp(p, mods)
	}
}

func (h *Handler) handleHistoryStep(client *Client, respType string, step func(*editor.Session) (models.AnnotationDocument, bool)) responseMessage {
	resp := responseMessage{
		Type: respType,
	}

	session := client.currentSession("")
	if session == nil {
		resp.Data = map[string]any{"success": false, "error": "no open session"}
		return resp
	}

	doc, applied := step(session)
	resp.Data = map[string]any{
		"success":  true,
		"applied":  applied,
		"document": doc,
	}
	return resp
}

func (h *Handler) handleSave(client *Client) responseMessage {
	resp := responseMessage{
		Type: "save_response",
	}

	session := client.currentSession("")
	if session == nil {
		resp.Data = map[string]any{"success": false, "error": "no open session"}
		return resp
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := session.Save(ctx)
	if err != nil {
		log.Printf("Save for photo %s failed: %v", session.PhotoId(), err)
		resp.Data = map[string]any{"success": false, "error": err.Error()}
		return resp
	}

	resp.Data = map[string]any{"success": true, "version": rec.Version}
	return resp
}

func (h *Handler) handleRevert(client *Client, revMsg revertMessage) responseMessage {
	resp := responseMessage{
		Type: "revert_response",
	}

	session := client.currentSession("")
	if session == nil {
		resp.Data = map[string]any{"success": false, "error": "no open session"}
		return resp
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rec, err := session.RevertToVersion(ctx, revMsg.Version)
	if err != nil {
		log.Printf("Revert for photo %s to version %d failed: %v", session.PhotoId(), revMsg.Version, err)
		resp.Data = map[string]any{"success": false, "error": err.Error()}
		return resp
	}

	resp.Data = map[string]any{
		"success":  true,
		"version":  rec.Version,
		"document": session.Document(),
	}
	return resp
}

func (h *Handler) handleExport(client *Client) responseMessage {
	resp := responseMessage{
		Type: "export_response",
	}

	session := client.currentSession("")
	if session == nil {
		resp.Data = map[string]any{"success": false, "error": "no open session"}
		return resp
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, contentType, err := session.Export(ctx)
	if err != nil {
		resp.Data = map[string]any{"success": false, "error": err.Error()}
		return resp
	}

	resp.Data = map[string]any{
		"success":     true,
		"contentType": contentType,
		"data":        base64.StdEncoding.EncodeToString(data),
	}
	return resp
}

func documentResponse(respType string, session *editor.Session) responseMessage {
	return responseMessage{
		Type: respType,
		Data: map[string]any{
			"success":  true,
			"document": session.Document(),
		},
	}
}

func sendEvent(client *Client, eventType string, data any) {
	msg := responseMessage{Type: eventType, Data: data}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error marshaling %s event: %v", eventType, err)
		return
	}
	select {
	case client.Send <- msgBytes:
	default:
		log.Printf("Dropping %s event: send buffer full", eventType)
	}
}
