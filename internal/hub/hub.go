package hub

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"guardian/internal/constants"
	"guardian/internal/db"
	"guardian/internal/message"
	"guardian/internal/wire"
)

const historyReplayLimit = 50

// Hub maintains the set of joined clients and fans dispatched events
// out to all of them.
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *wire.Frame

	messageRepo *db.MessageRepository

	shutdown chan struct{}
	done     chan struct{}

	logger *slog.Logger
}

func New(messageRepo *db.MessageRepository, logger *slog.Logger) *Hub {
	return &Hub{
		clients:     make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *wire.Frame, constants.WSBroadcastBufferSize),
		messageRepo: messageRepo,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.With("component", "hub"),
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info("client joined",
				"user_id", client.user.ID,
				"session_id", client.sessionID,
				"clients", len(h.clients))

			h.replayHistory(client)
			h.systemNotice(fmt.Sprintf("%s joined the chat", client.user.Username))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.CloseSend()
				h.logger.Info("client left",
					"user_id", client.user.ID,
					"session_id", client.sessionID,
					"clients", len(h.clients))

				h.systemNotice(fmt.Sprintf("%s left the chat", client.user.Username))
			}

		case frame := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					// Slow consumer, drop it
					delete(h.clients, client)
					client.CloseSend()
				}
			}

		case <-h.shutdown:
			for client := range h.clients {
				delete(h.clients, client)
				client.CloseSend()
			}
			return
		}
	}
}

// Shutdown disconnects every client and stops the run loop.
func (h *Hub) Shutdown() {
	close(h.shutdown)
	<-h.done
}

// BroadcastDispatch queues a DISPATCH frame for every joined client,
// including the sender. The echo back to the sender doubles as the
// delivery confirmation.
func (h *Hub) BroadcastDispatch(eventType string, payload any) {
	frame, err := wire.Dispatch(eventType, payload)
	if err != nil {
		h.logger.Error("encoding broadcast frame", "type", eventType, "error", err)
		return
	}

	select {
	case h.broadcast <- frame:
	default:
		h.logger.Warn("broadcast queue full, dropping frame", "type", eventType)
	}
}

// replayHistory sends the recent timeline to a newly joined client so
// it does not start from a blank screen.
func (h *Hub) replayHistory(client *Client) {
	envelopes, err := h.messageRepo.Recent(historyReplayLimit)
	if err != nil {
		h.logger.Error("loading message history", "error", err)
		return
	}

	for _, env := range envelopes {
		frame, err := wire.Dispatch(wire.EventMessageCreate, env)
		if err != nil {
			h.logger.Error("encoding history frame", "error", err)
			continue
		}
		select {
		case client.send <- frame:
		default:
			return // Buffer full, the client will catch up live
		}
	}
}

// systemNotice broadcasts a presence announcement. These carry the
// reserved system sender id and are not persisted.
func (h *Hub) systemNotice(text string) {
	env := &message.Envelope{
		ID:        uuid.NewString(),
		SenderID:  message.SystemSenderID,
		Kind:      string(message.KindText),
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	h.BroadcastDispatch(wire.EventMessageCreate, env)
}
