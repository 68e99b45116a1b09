package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"guardian/internal/message"
	"guardian/internal/wire"
)

var testUpgrader = websocket.Upgrader{}

// echoServer speaks the server side of the handshake and echoes every
// MESSAGE_SEND back as MESSAGE_CREATE.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ready, err := wire.Ready(wire.ReadyPayload{
			SessionID: "ses_test",
			UserID:    "usr_test",
			Username:  "ada",
		})
		if err != nil {
			return
		}
		if err := conn.WriteJSON(ready); err != nil {
			return
		}

		for {
			var frame wire.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Op == wire.OpDispatch && frame.Type == wire.CmdMessageSend {
				echo := &wire.Frame{Op: wire.OpDispatch, Type: wire.EventMessageCreate, Data: frame.Data}
				if err := conn.WriteJSON(echo); err != nil {
					return
				}
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
	}
	return Event{}
}

func TestConnectRejectedTokenFailsFast(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	s := NewSession(Options{URL: wsURL(srv), Token: "bad-token", Username: "ada"})
	defer s.Close()

	err := s.Connect(context.Background())
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("Connect() error = %v, want ErrAuthRejected", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("s.State() = %s, want failed", s.State())
	}
	if _, ok := <-s.Events(); ok {
		t.Fatal("event stream still open after auth rejection")
	}
}

func TestConnectResolvesIdentityFromReady(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	s := NewSession(Options{URL: wsURL(srv), Token: "good-token", Username: "ada"})
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if ev := nextEvent(t, s); ev.Kind != EventConnected {
		t.Fatalf("first event = %v, want EventConnected", ev.Kind)
	}
	if s.State() != StateConnected {
		t.Fatalf("s.State() = %s, want connected", s.State())
	}
	if s.UserID() != "usr_test" || s.Username() != "ada" {
		t.Fatalf("identity = %s/%s, want usr_test/ada", s.UserID(), s.Username())
	}
	if s.SessionID() != "ses_test" {
		t.Fatalf("s.SessionID() = %s, want ses_test", s.SessionID())
	}
}

func TestSendReceivesServerEcho(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	s := NewSession(Options{URL: wsURL(srv), Token: "good-token", Username: "ada"})
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	nextEvent(t, s) // connected

	sent := message.Encode(message.NewText("usr_test", "ada", "hello"))
	if err := s.Send(&sent); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ev := nextEvent(t, s)
	if ev.Kind != EventMessage {
		t.Fatalf("event = %v, want EventMessage", ev.Kind)
	}
	if ev.Envelope == nil || ev.Envelope.ID != sent.ID {
		t.Fatalf("echoed envelope = %+v, want id %s", ev.Envelope, sent.ID)
	}
}

func TestSendWhileDisconnectedIsRejected(t *testing.T) {
	s := NewSession(Options{URL: "ws://127.0.0.1:0/ws", Token: "t", Username: "ada"})
	defer s.Close()

	env := message.Encode(message.NewText("usr_test", "ada", "hello"))
	if err := s.Send(&env); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send() error = %v, want ErrNotConnected", err)
	}
}

func TestReconnectExhaustionFailsSession(t *testing.T) {
	// Hijacked websocket connections outlive the httptest server's
	// Close, so the handler hands its conn out and the test severs the
	// link directly.
	conns := make(chan *websocket.Conn, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ready, err := wire.Ready(wire.ReadyPayload{SessionID: "ses_test", UserID: "usr_test", Username: "ada"})
		if err != nil {
			return
		}
		if err := conn.WriteJSON(ready); err != nil {
			return
		}
		conns <- conn

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewSession(Options{
		URL:                  wsURL(srv),
		Token:                "good-token",
		Username:             "ada",
		ReconnectBase:        time.Millisecond,
		ReconnectCap:         5 * time.Millisecond,
		ReconnectMaxAttempts: 2,
	})
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	nextEvent(t, s) // connected

	var serverConn *websocket.Conn
	select {
	case serverConn = <-conns:
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the connection")
	}

	// Refuse every redial, then drop the live link abruptly.
	srv.Listener.Close()
	serverConn.Close()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				if s.State() != StateFailed {
					t.Fatalf("s.State() = %s, want failed", s.State())
				}
				if !errors.Is(s.Err(), ErrUnreachable) {
					t.Fatalf("s.Err() = %v, want ErrUnreachable", s.Err())
				}
				return
			}
			if ev.Kind == EventError && errors.Is(ev.Err, ErrUnreachable) {
				// Terminal error observed; the stream closes next.
				continue
			}
		case <-deadline:
			t.Fatal("timed out waiting for reconnect exhaustion")
		}
	}
}

func TestCloseStopsSession(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	s := NewSession(Options{URL: wsURL(srv), Token: "good-token", Username: "ada"})

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	nextEvent(t, s) // connected

	s.Close()

	if s.State() != StateDisconnected {
		t.Fatalf("s.State() = %s, want disconnected", s.State())
	}

	select {
	case _, ok := <-s.Events():
		if ok {
			// A disconnect event may race Close; the stream must still end.
			select {
			case _, ok2 := <-s.Events():
				if ok2 {
					t.Fatal("event stream still open after Close")
				}
			case <-time.After(2 * time.Second):
				t.Fatal("event stream not closed after Close")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event stream not closed after Close")
	}
}
