// Package chat wires the session transport, the timeline and the
// capture pipeline together and surfaces a connection status value for
// the UI.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"guardian/internal/capture"
	"guardian/internal/constants"
	"guardian/internal/message"
	"guardian/internal/timeline"
	"guardian/internal/transport"
)

// Status is the UI-facing connection indicator.
type Status string

const (
	StatusConnecting   Status = "Connecting"
	StatusConnected    Status = "Connected"
	StatusDisconnected Status = "Disconnected"
)

// ErrComposeDisabled is returned while the session is not connected;
// the composer stays disabled rather than queueing into the void.
var ErrComposeDisabled = errors.New("composing is disabled while disconnected")

type Controller struct {
	session  *transport.Session
	timeline *timeline.Timeline
	capture  *capture.Service

	mu       sync.RWMutex
	status   Status
	statusCh chan Status
}

func NewController(session *transport.Session, tl *timeline.Timeline, cap *capture.Service) *Controller {
	return &Controller{
		session:  session,
		timeline: tl,
		capture:  cap,
		status:   StatusDisconnected,
		statusCh: make(chan Status, 1),
	}
}

// Run folds the session's event stream: lifecycle events drive the
// status indicator, message events feed timeline reconciliation. It
// returns when the stream ends or ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.session.Events():
			if !ok {
				c.setStatus(c.statusForState())
				return
			}
			c.handleEvent(ev)
		}
	}
}

func (c *Controller) handleEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventConnected:
		c.setStatus(StatusConnected)

	case transport.EventDisconnected:
		c.setStatus(c.statusForState())

	case transport.EventError:
		slog.Warn("session error", "component", "chat", "error", ev.Err)
		c.setStatus(c.statusForState())

	case transport.EventMessage:
		if ev.Envelope == nil {
			return
		}
		if err := c.timeline.Apply(*ev.Envelope); err != nil {
			slog.Warn("inbound message dropped", "component", "chat",
				"code", constants.ErrCodeMalformedEnvelope, "error", err)
		}
	}
}

// statusForState maps transport states onto the three UI strings;
// a reconnecting link reads as Connecting.
func (c *Controller) statusForState() Status {
	switch c.session.State() {
	case transport.StateConnected:
		return StatusConnected
	case transport.StateConnecting, transport.StateReconnecting:
		return StatusConnecting
	default:
		return StatusDisconnected
	}
}

// Status returns the current connection indicator.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// StatusChanges delivers the latest status; stale values are replaced,
// not queued.
func (c *Controller) StatusChanges() <-chan Status {
	return c.statusCh
}

// SendText composes and sends a text message.
func (c *Controller) SendText(text string) (message.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > constants.MaxMessageTextLength {
		return message.Message{}, errors.New("message text must be 1-1000 characters")
	}
	if err := c.ensureConnected(); err != nil {
		return message.Message{}, err
	}
	return c.timeline.Send(message.NewText(c.session.UserID(), c.session.Username(), text))
}

// SharePhoto runs the photo capture pipeline and sends the result as
// an image message.
func (c *Controller) SharePhoto(ctx context.Context, source capture.PhotoSource) (message.Message, error) {
	if err := c.ensureConnected(); err != nil {
		return message.Message{}, err
	}

	result, err := c.capture.CapturePhoto(ctx, source)
	if err != nil {
		return message.Message{}, err
	}
	return c.timeline.Send(message.NewImage(c.session.UserID(), c.session.Username(), result.ResourceRef, result.Caption))
}

// ShareLocation captures the current position and sends it. A missing
// address degrades to the default caption, not to an error.
func (c *Controller) ShareLocation(ctx context.Context) (message.Message, error) {
	if err := c.ensureConnected(); err != nil {
		return message.Message{}, err
	}

	result, err := c.capture.CaptureLocation(ctx)
	if err != nil {
		return message.Message{}, err
	}
	return c.timeline.Send(message.NewLocation(c.session.UserID(), c.session.Username(),
		result.Latitude, result.Longitude, result.Caption))
}

// StartVoiceMessage acquires the recorder.
func (c *Controller) StartVoiceMessage(ctx context.Context) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	return c.capture.StartRecording(ctx)
}

// FinishVoiceMessage stops the recorder and sends the recording as an
// audio message.
func (c *Controller) FinishVoiceMessage(ctx context.Context) (message.Message, error) {
	result, err := c.capture.StopRecording(ctx)
	if err != nil {
		return message.Message{}, err
	}
	if err := c.ensureConnected(); err != nil {
		return message.Message{}, err
	}
	return c.timeline.Send(message.NewAudio(c.session.UserID(), c.session.Username(), result.ResourceRef, result.Caption))
}

// Retry re-submits a failed message by id.
func (c *Controller) Retry(id string) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}
	return c.timeline.Retry(id)
}

// Timeline exposes the observable message sequence.
func (c *Controller) Timeline() *timeline.Timeline {
	return c.timeline
}

func (c *Controller) ensureConnected() error {
	if c.session.State() != transport.StateConnected {
		return ErrComposeDisabled
	}
	return nil
}

func (c *Controller) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()

	select {
	case c.statusCh <- s:
	default:
		select {
		case <-c.statusCh:
		default:
		}
		select {
		case c.statusCh <- s:
		default:
		}
	}
}
