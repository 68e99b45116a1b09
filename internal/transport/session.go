// Package transport owns the persistent websocket link of a chat
// session: the authenticated handshake, liveness, reconnection with
// capped exponential backoff, and the raw send/receive of message
// envelopes. Retry policy for individual messages belongs to the
// caller, which knows whether a duplicate-safe id exists.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"guardian/internal/constants"
	"guardian/internal/message"
	"guardian/internal/wire"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 15 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = 10 * time.Second

	// Time allowed for the server to answer the handshake with READY
	readyWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 65536
)

var (
	// ErrAuthRejected means the server refused the handshake token.
	// Fatal: a rejected token must not be retried automatically.
	ErrAuthRejected = errors.New("handshake rejected")

	// ErrUnreachable means reconnection attempts were exhausted.
	ErrUnreachable = errors.New("server unreachable")

	// ErrNotConnected is returned by Send outside the connected state.
	ErrNotConnected = errors.New("session not connected")

	// ErrSendFailed wraps a write failure for a queued envelope.
	ErrSendFailed = errors.New("send failed")
)

// EventKind categorizes session events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
	EventError
)

// Event is one entry of the session's single inbound event stream.
type Event struct {
	Kind     EventKind
	Envelope *message.Envelope // set for EventMessage
	Err      error             // set for EventDisconnected and EventError
}

// Options configures a session. Token and username are fixed for the
// session's lifetime; a new login builds a new Session.
type Options struct {
	URL                  string
	Token                string
	Username             string
	DialTimeout          time.Duration
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	ReconnectMaxAttempts uint64
}

func (o *Options) setDefaults() {
	if o.DialTimeout == 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.ReconnectBase == 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectCap == 0 {
		o.ReconnectCap = 30 * time.Second
	}
	if o.ReconnectMaxAttempts == 0 {
		o.ReconnectMaxAttempts = 6
	}
}

// Session is one authenticated connection attempt and its lifecycle.
// The UI owns exactly one Session handle at a time; Close tears it
// down and cancels any pending reconnection timers.
type Session struct {
	opts Options

	state  atomic.Int32
	events chan Event

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	conn      *websocket.Conn
	userID    string
	username  string
	sessionID string
	failErr   error

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func NewSession(opts Options) *Session {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:   opts,
		events: make(chan Event, constants.SessionEventBufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	s.state.Store(int32(StateDisconnected))
	return s
}

// Events returns the session's inbound event stream. The channel is
// closed once the session reaches a terminal state or is closed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Err returns the reason the session reached StateFailed, if it did.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failErr
}

// UserID returns the identity resolved by the handshake.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Connect opens the link and performs the handshake. The token is
// presented in an Authorization header, never in the URL. A rejected
// handshake fails fast with ErrAuthRejected and must be surfaced to
// the user; callers must not silently retry it.
func (s *Session) Connect(ctx context.Context) error {
	if !s.transitionTo(StateConnecting) {
		return fmt.Errorf("connect from state %s", s.State())
	}

	conn, err := s.dial(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthRejected) {
			s.fail(err)
			close(s.events)
			return err
		}
		s.transitionTo(StateDisconnected)
		return err
	}

	s.setConn(conn)
	if !s.transitionTo(StateConnected) {
		conn.Close()
		close(s.events)
		return fmt.Errorf("session torn down during connect")
	}
	s.emit(Event{Kind: EventConnected})

	go s.run(conn)
	return nil
}

// Send transmits a message envelope. Valid only while connected; a
// dropped link mid-send is not retried here.
func (s *Session) Send(env *message.Envelope) error {
	if s.State() != StateConnected {
		return ErrNotConnected
	}

	frame, err := wire.Dispatch(wire.CmdMessageSend, env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Close tears the session down. Completions of in-flight operations
// become no-ops; pending reconnection timers are cancelled.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.transitionTo(StateDisconnected)
		s.mu.Lock()
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

func (s *Session) run(conn *websocket.Conn) {
	defer close(s.events)

	for {
		err := s.readPump(conn)
		conn.Close()

		if s.ctx.Err() != nil {
			// Torn down by Close; completions are no-ops.
			return
		}

		if isCleanClose(err) {
			s.transitionTo(StateDisconnected)
			s.emit(Event{Kind: EventDisconnected})
			return
		}

		if !s.transitionTo(StateReconnecting) {
			return
		}
		s.emit(Event{Kind: EventDisconnected, Err: err})

		next, err := s.redial()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.fail(err)
			s.emit(Event{Kind: EventError, Err: err})
			return
		}

		conn = next
		s.setConn(conn)
		if !s.transitionTo(StateConnected) {
			conn.Close()
			return
		}
		s.emit(Event{Kind: EventConnected})
	}
}

// readPump reads frames until the connection dies. It also owns the
// ping cycle keeping liveness bounded: a missed pong trips the read
// deadline and surfaces as an unexpected drop.
func (s *Session) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	for {
		var frame wire.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		s.handleFrame(&frame)
	}
}

func (s *Session) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Session) handleFrame(frame *wire.Frame) {
	if frame.Op != wire.OpDispatch {
		log.Printf("Unknown op code: %d", frame.Op)
		return
	}

	switch frame.Type {
	case wire.EventMessageCreate:
		var env message.Envelope
		if err := json.Unmarshal(frame.Data, &env); err != nil {
			log.Printf("Error parsing message envelope: %v", err)
			return
		}
		s.emit(Event{Kind: EventMessage, Envelope: &env})

	case wire.EventError:
		var payload wire.ErrorPayload
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			log.Printf("Error parsing error payload: %v", err)
			return
		}
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("server error %s: %s", payload.Code, payload.Message)})

	default:
		log.Printf("Unknown dispatch type: %s", frame.Type)
	}
}

// redial reattempts the connection with capped exponential backoff,
// reusing the same token. Auth rejection is permanent; anything else
// retries until the attempt budget is spent.
func (s *Session) redial() (*websocket.Conn, error) {
	var conn *websocket.Conn

	backoff := retry.NewExponential(s.opts.ReconnectBase)
	backoff = retry.WithCappedDuration(s.opts.ReconnectCap, backoff)
	backoff = retry.WithMaxRetries(s.opts.ReconnectMaxAttempts, backoff)

	err := retry.Do(s.ctx, backoff, func(ctx context.Context) error {
		if !s.transitionTo(StateConnecting) {
			return fmt.Errorf("session torn down")
		}

		next, err := s.dial(ctx)
		if err != nil {
			s.transitionTo(StateReconnecting)
			if errors.Is(err, ErrAuthRejected) {
				return err
			}
			return retry.RetryableError(err)
		}

		conn = next
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAuthRejected) || s.ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return conn, nil
}

// dial opens the websocket and completes the application handshake:
// the server answers the bearer token with READY, then the client
// establishes presence with JOIN.
func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.opts.Token)

	dialer := websocket.Dialer{HandshakeTimeout: s.opts.DialTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.opts.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrAuthRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing session: %w", err)
	}

	ready, err := s.awaitReady(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	join, err := wire.Dispatch(wire.CmdJoin, wire.JoinPayload{Username: s.opts.Username})
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending join: %w", err)
	}

	s.mu.Lock()
	s.userID = ready.UserID
	s.username = ready.Username
	s.sessionID = ready.SessionID
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}
	s.mu.Unlock()

	return conn, nil
}

func (s *Session) awaitReady(conn *websocket.Conn) (*wire.ReadyPayload, error) {
	conn.SetReadDeadline(time.Now().Add(readyWait))
	defer conn.SetReadDeadline(time.Time{})

	var frame wire.Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading ready frame: %w", err)
	}
	if frame.Op != wire.OpReady {
		return nil, fmt.Errorf("%w: expected ready, got op %d", ErrAuthRejected, frame.Op)
	}

	var ready wire.ReadyPayload
	if err := json.Unmarshal(frame.Data, &ready); err != nil {
		return nil, fmt.Errorf("parsing ready payload: %w", err)
	}
	return &ready, nil
}

func (s *Session) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) fail(reason error) {
	s.mu.Lock()
	s.failErr = reason
	s.mu.Unlock()
	s.state.Store(int32(StateFailed))
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// transitionTo atomically transitions to a new state if valid
func (s *Session) transitionTo(newState State) bool {
	for {
		current := State(s.state.Load())
		if !isValidTransition(current, newState) {
			return false
		}
		if s.state.CompareAndSwap(int32(current), int32(newState)) {
			return true
		}
	}
}

func isCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
