// Package timeline is the single source of truth for the ordered
// message list a chat screen renders. It reconciles locally composed
// messages with their server echoes: one entry per id, state updated
// in place, position never changed by confirmation.
package timeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"guardian/internal/message"
)

var (
	ErrUnknownMessage = errors.New("unknown message id")
	ErrNotRetryable   = errors.New("message is not in a failed state")
)

// Sender transmits encoded envelopes. Satisfied by transport.Session.
type Sender interface {
	Send(env *message.Envelope) error
}

// Timeline holds the ordered, deduplicated message sequence.
type Timeline struct {
	sender Sender

	mu      sync.Mutex
	entries []message.Message
	index   map[string]int
	subs    []chan []message.Message
}

func New(sender Sender) *Timeline {
	return &Timeline{
		sender: sender,
		index:  make(map[string]int),
	}
}

// Send inserts a locally authored message optimistically and forwards
// it to the transport. On transport failure the message transitions to
// Failed in place; it is never removed, so the user can retry or
// discard it explicitly.
func (t *Timeline) Send(m message.Message) (message.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Delivery = message.DeliveryPending

	t.mu.Lock()
	if _, exists := t.index[m.ID]; exists {
		t.mu.Unlock()
		return m, fmt.Errorf("duplicate message id %s", m.ID)
	}
	t.insertOrderedLocked(m)
	t.notifyLocked()
	t.mu.Unlock()

	env := message.Encode(m)
	if err := t.sender.Send(&env); err != nil {
		t.mark(m.ID, message.DeliveryFailed)
		m.Delivery = message.DeliveryFailed
		return m, err
	}
	return m, nil
}

// Apply folds one inbound envelope into the timeline:
//
//  1. a known id is this device's own echo - confirm in place and
//     adopt the server-populated fields without moving the entry;
//  2. an unknown id is another party's message - insert by creation
//     time;
//  3. the reserved system identity is bookkeeping only and stays out
//     of the visible sequence.
//
// Malformed envelopes are dropped and logged, never fatal.
func (t *Timeline) Apply(env message.Envelope) error {
	m, err := message.Decode(env)
	if err != nil {
		slog.Warn("dropping malformed envelope", "component", "timeline", "id", env.ID, "error", err)
		return err
	}

	if m.IsSystem() {
		slog.Debug("system notice", "component", "timeline", "text", m.Text)
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if pos, ok := t.index[m.ID]; ok {
		existing := t.entries[pos]
		existing.Delivery = message.DeliveryConfirmed
		existing.CreatedAt = m.CreatedAt
		existing.SenderName = m.SenderName
		t.entries[pos] = existing
		t.notifyLocked()
		return nil
	}

	t.insertOrderedLocked(m)
	t.notifyLocked()
	return nil
}

// Retry re-submits a failed message under its same id. Safe to invoke
// repeatedly: the id is stable, so reconciliation and the server both
// treat repeats as the one message.
func (t *Timeline) Retry(id string) error {
	t.mu.Lock()
	pos, ok := t.index[id]
	if !ok {
		t.mu.Unlock()
		return ErrUnknownMessage
	}
	m := t.entries[pos]
	if m.Delivery != message.DeliveryFailed {
		t.mu.Unlock()
		return ErrNotRetryable
	}
	m.Delivery = message.DeliveryPending
	t.entries[pos] = m
	t.notifyLocked()
	t.mu.Unlock()

	env := message.Encode(m)
	if err := t.sender.Send(&env); err != nil {
		t.mark(id, message.DeliveryFailed)
		return err
	}
	return nil
}

// Snapshot returns a copy of the current ordered sequence.
func (t *Timeline) Snapshot() []message.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]message.Message, len(t.entries))
	copy(out, t.entries)
	return out
}

// Subscribe registers an observer of the ordered sequence. Each change
// delivers a fresh snapshot; a slow observer only ever misses
// intermediate states, never the latest one.
func (t *Timeline) Subscribe() <-chan []message.Message {
	ch := make(chan []message.Message, 1)
	t.mu.Lock()
	t.subs = append(t.subs, ch)
	t.mu.Unlock()
	return ch
}

func (t *Timeline) mark(id string, d message.Delivery) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pos, ok := t.index[id]; ok {
		m := t.entries[pos]
		m.Delivery = d
		t.entries[pos] = m
		t.notifyLocked()
	}
}

// insertOrderedLocked places m after every entry that does not sort
// strictly later, so equal timestamps keep insertion order.
func (t *Timeline) insertOrderedLocked(m message.Message) {
	pos := len(t.entries)
	for pos > 0 && m.Before(t.entries[pos-1]) {
		pos--
	}

	t.entries = append(t.entries, message.Message{})
	copy(t.entries[pos+1:], t.entries[pos:])
	t.entries[pos] = m

	t.index[m.ID] = pos
	for i := pos + 1; i < len(t.entries); i++ {
		t.index[t.entries[i].ID] = i
	}
}

func (t *Timeline) notifyLocked() {
	snapshot := make([]message.Message, len(t.entries))
	copy(snapshot, t.entries)
	for _, ch := range t.subs {
		select {
		case ch <- snapshot:
		default:
			// Replace the stale snapshot so the observer always
			// converges on the latest state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
