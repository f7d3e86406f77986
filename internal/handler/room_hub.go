package handler

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"coderoom-backend/internal/cache"
	"coderoom-backend/internal/config"
	"coderoom-backend/internal/runner"
	"coderoom-backend/internal/session"
)

// =============================================================================
// Room Hub - per-socket supervision and broadcast fan-out
// =============================================================================

// wsConn is the slice of the websocket connection the hub writes to.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// roomClient is one live socket. The durable identity is UserID; ConnID is
// minted per connection and thrown away on disconnect.
type roomClient struct {
	ConnID      string
	UserID      string
	DisplayName string

	conn         wsConn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	// id of the session this connection has joined, empty before join
	sessionID string
}

// send writes one frame under a deadline. A client that stops draining its
// socket must fail the write, not stall everyone routing through it.
func (cl *roomClient) send(data []byte) error {
	cl.writeMu.Lock()
	defer cl.writeMu.Unlock()

	if cl.writeTimeout > 0 {
		cl.conn.SetWriteDeadline(time.Now().Add(cl.writeTimeout))
	}
	return cl.conn.WriteMessage(websocket.TextMessage, data)
}

// RoomHub owns the socket registry and routes every inbound room event
// through a single authorize-then-apply pipeline.
type RoomHub struct {
	store  *session.Store
	runner *runner.Client
	cache  *cache.RedisClient
	cfg    *config.Config

	mu    sync.RWMutex
	conns map[string]map[string]*roomClient // sessionID -> connID -> client
}

// NewRoomHub creates a RoomHub. cache may be nil (caching disabled).
func NewRoomHub(store *session.Store, runnerClient *runner.Client, redisClient *cache.RedisClient, cfg *config.Config) *RoomHub {
	return &RoomHub{
		store:  store,
		runner: runnerClient,
		cache:  redisClient,
		cfg:    cfg,
		conns:  make(map[string]map[string]*roomClient),
	}
}

// HandleWebSocket runs the read loop for one connection. The identity in
// Locals was validated before the upgrade.
func (h *RoomHub) HandleWebSocket(c *websocket.Conn) {
	userID, ok1 := c.Locals("userID").(string)
	displayName, ok2 := c.Locals("displayName").(string)
	if !ok1 || userID == "" || !ok2 {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"code":"VALIDATION_ERROR","message":"invalid identity"}}`))
		c.Close()
		return
	}

	cl := &roomClient{
		ConnID:       uuid.New().String(),
		UserID:       userID,
		DisplayName:  displayName,
		conn:         c,
		writeTimeout: h.cfg.WebSocket.WriteTimeout,
	}

	log.Printf("[RoomHub] Connected: user=%s conn=%s", cl.UserID, cl.ConnID)

	defer func() {
		h.disconnect(cl)
		c.Close()
		log.Printf("[RoomHub] Disconnected: user=%s conn=%s", cl.UserID, cl.ConnID)
	}()

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			return
		}

		var env Envelope
		if err := json.Unmarshal(msgBytes, &env); err != nil {
			h.sendError(cl, "", CodeValidationError, "malformed event")
			continue
		}

		h.route(cl, &env)
	}
}

// =============================================================================
// Connection registry
// =============================================================================

func (h *RoomHub) register(sessionID string, cl *roomClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[sessionID]; !ok {
		h.conns[sessionID] = make(map[string]*roomClient)
	}
	h.conns[sessionID][cl.ConnID] = cl
	cl.sessionID = sessionID
}

func (h *RoomHub) unregister(cl *roomClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.conns[cl.sessionID]; ok {
		delete(clients, cl.ConnID)
		if len(clients) == 0 {
			delete(h.conns, cl.sessionID)
		}
	}
	cl.sessionID = ""
}

// disconnect handles a transport drop: the roster record is kept so the
// role survives a reload, only liveness flips.
func (h *RoomHub) disconnect(cl *roomClient) {
	if cl.sessionID == "" {
		return
	}
	sessionID := cl.sessionID

	if s, ok := h.store.Get(sessionID); ok {
		if _, seq, changed := s.MarkInactive(cl.ConnID); changed {
			h.unregister(cl)
			h.broadcast(sessionID, cl.ConnID, &outEnvelope{
				Type:      EventUsersUpdated,
				SessionID: sessionID,
				Seq:       seq,
				Payload:   UsersUpdatedPayload{Users: s.Participants()},
			})
			return
		}
	}
	h.unregister(cl)
}

// =============================================================================
// Send helpers
// =============================================================================

// sendTo delivers an envelope to a single connection.
func (h *RoomHub) sendTo(cl *roomClient, env *outEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[RoomHub] Failed to marshal %s event: %v", env.Type, err)
		return
	}
	if err := cl.send(data); err != nil {
		h.dropClient(cl, err)
	}
}

// dropClient closes a connection whose write failed or timed out; the read
// loop sees the close and runs the normal disconnect path.
func (h *RoomHub) dropClient(cl *roomClient, err error) {
	log.Printf("[RoomHub] Dropping %s: write failed: %v", cl.UserID, err)
	cl.conn.Close()
}

// sendError reports a failed event to the sender only; errors are never
// broadcast and never tear down the session for anyone else.
func (h *RoomHub) sendError(cl *roomClient, sessionID, code, message string) {
	h.sendTo(cl, &outEnvelope{
		Type:      EventError,
		SessionID: sessionID,
		Payload:   ErrorPayload{Code: code, Message: message},
	})
}

// broadcast fans an envelope out to every connection in the session except
// exceptConnID (the sender already holds the local result).
func (h *RoomHub) broadcast(sessionID, exceptConnID string, env *outEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[RoomHub] Failed to marshal %s event: %v", env.Type, err)
		return
	}

	h.mu.RLock()
	clients := make([]*roomClient, 0, len(h.conns[sessionID]))
	for _, cl := range h.conns[sessionID] {
		if cl.ConnID != exceptConnID {
			clients = append(clients, cl)
		}
	}
	h.mu.RUnlock()

	for _, cl := range clients {
		if err := cl.send(data); err != nil {
			h.dropClient(cl, err)
		}
	}
}

// broadcastAll includes the sender as well; used for asynchronous results
// no client computed locally.
func (h *RoomHub) broadcastAll(sessionID string, env *outEnvelope) {
	h.broadcast(sessionID, "", env)
}
