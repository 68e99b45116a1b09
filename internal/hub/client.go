package hub

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"guardian/internal/constants"
	"guardian/internal/ids"
	"guardian/internal/message"
	"guardian/internal/models"
	"guardian/internal/wire"
)

// ClientState represents the lifecycle state of a connected client
type ClientState int32

const (
	ClientStateConnected ClientState = iota // Authenticated, awaiting JOIN
	ClientStateJoined                       // Present in the room
	ClientStateClosing                      // Shutdown initiated
	ClientStateClosed                       // Terminal
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 15 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 65536

	// Rate limiting interval: 5 messages per second
	messageRateLimit = 200 * time.Millisecond
)

// Client represents a single websocket connection.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	send          chan *wire.Frame
	connCloseOnce sync.Once

	state atomic.Int32

	user      *models.User
	sessionID string

	// Only accessed from the ReadPump goroutine, no mutex needed.
	lastMessage time.Time
}

// NewClient creates a client for an already-authenticated connection.
func NewClient(hub *Hub, conn *websocket.Conn, user *models.User) *Client {
	c := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan *wire.Frame, constants.WSClientSendBufferSize),
		user:      user,
		sessionID: uuid.NewString(),
	}
	c.state.Store(int32(ClientStateConnected))
	return c
}

// SendReady resolves the handshake to the session identity.
func (c *Client) SendReady() {
	frame, err := wire.Ready(wire.ReadyPayload{
		SessionID: c.sessionID,
		UserID:    c.user.ID,
		Username:  c.user.Username,
	})
	if err != nil {
		log.Printf("Error encoding ready frame: %v", err)
		return
	}
	c.send <- frame
}

// Close performs cleanup for the client, ensuring it only happens once
func (c *Client) Close() {
	if !c.transitionTo(ClientStateClosing) {
		c.connCloseOnce.Do(func() { c.conn.Close() })
		return
	}
	c.connCloseOnce.Do(func() { c.conn.Close() })
	c.transitionTo(ClientStateClosed)
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.unregister <- c
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var frame wire.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("Error parsing frame: %v", err)
			continue
		}

		c.handleFrame(&frame)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if c.IsClosed() {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(frame); err != nil {
				log.Printf("Error writing frame: %v", err)
				return
			}

		case <-ticker.C:
			if c.IsClosed() {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleFrame(frame *wire.Frame) {
	if frame.Op != wire.OpDispatch {
		log.Printf("Unknown op code: %d", frame.Op)
		return
	}

	switch frame.Type {
	case wire.CmdJoin:
		c.handleJoin(frame)
	case wire.CmdMessageSend:
		c.handleMessageSend(frame)
	default:
		log.Printf("Unknown dispatch type: %s", frame.Type)
	}
}

func (c *Client) handleJoin(frame *wire.Frame) {
	if c.State() != ClientStateConnected {
		return
	}

	var payload wire.JoinPayload
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			log.Printf("Error parsing join payload: %v", err)
			return
		}
	}

	if !c.transitionTo(ClientStateJoined) {
		return // Race: already transitioned
	}

	c.hub.register <- c

	log.Printf("Client joined: %s (session: %s)", c.user.ID, c.sessionID)
}

func (c *Client) handleMessageSend(frame *wire.Frame) {
	if !c.IsJoined() {
		return
	}

	var env message.Envelope
	if err := json.Unmarshal(frame.Data, &env); err != nil {
		c.sendError(constants.ErrCodeMalformedEnvelope, "Unreadable message payload", "")
		return
	}

	// Rate limit check
	now := time.Now()
	if now.Sub(c.lastMessage) < messageRateLimit {
		c.sendError(constants.ErrCodeRateLimited, "Sending too fast", env.ID)
		return
	}
	c.lastMessage = now

	// The sender identity and timestamp are server-authoritative; the
	// client id is preserved so the echo reconciles with the
	// optimistic entry.
	env.SenderID = c.user.ID
	env.SenderName = c.user.Username
	env.CreatedAt = now.UTC()
	if env.ID == "" {
		id, err := ids.Generate("msg")
		if err != nil {
			log.Printf("Error generating message id: %v", err)
			return
		}
		env.ID = id
	}

	if _, err := message.Decode(env); err != nil {
		c.sendError(constants.ErrCodeMalformedEnvelope, "Invalid message", env.ID)
		return
	}

	if _, err := c.hub.messageRepo.Store(&env); err != nil {
		log.Printf("Error storing message: %v", err)
		return
	}

	c.hub.BroadcastDispatch(wire.EventMessageCreate, &env)
}

func (c *Client) sendError(code, msg, nonce string) {
	frame, err := wire.Dispatch(wire.EventError, wire.ErrorPayload{
		Code:    code,
		Message: msg,
		Nonce:   nonce,
	})
	if err != nil {
		log.Printf("Error encoding error frame: %v", err)
		return
	}
	c.send <- frame
}

// State returns the current client state
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// IsJoined returns true if the client is present in the room
func (c *Client) IsJoined() bool {
	return c.State() == ClientStateJoined
}

// IsClosed returns true if the client is closing or closed
func (c *Client) IsClosed() bool {
	state := c.State()
	return state == ClientStateClosing || state == ClientStateClosed
}

// isValidClientTransition checks if a state transition is valid
func isValidClientTransition(from, to ClientState) bool {
	switch from {
	case ClientStateConnected:
		return to == ClientStateJoined || to == ClientStateClosing
	case ClientStateJoined:
		return to == ClientStateClosing
	case ClientStateClosing:
		return to == ClientStateClosed
	case ClientStateClosed:
		return false
	}
	return false
}

// transitionTo atomically transitions to a new state if valid
func (c *Client) transitionTo(newState ClientState) bool {
	for {
		current := ClientState(c.state.Load())
		if !isValidClientTransition(current, newState) {
			return false
		}
		if c.state.CompareAndSwap(int32(current), int32(newState)) {
			return true
		}
	}
}

// CloseSend closes the send channel (called by hub during cleanup)
func (c *Client) CloseSend() {
	if c.transitionTo(ClientStateClosing) {
		close(c.send)
		c.connCloseOnce.Do(func() { c.conn.Close() })
		c.transitionTo(ClientStateClosed)
	}
}
