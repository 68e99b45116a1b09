package message

import (
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the message variants carried on the wire.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindLocation Kind = "location"
	KindAudio    Kind = "audio"
)

// SystemSenderID is the reserved identity for session bookkeeping
// messages. They never appear in the visible timeline.
const SystemSenderID = "system"

// Default captions keep Text non-empty for every variant so renderers
// need no kind-specific fallback branch.
const (
	DefaultPhotoCaption    = "Shared Photo"
	DefaultLocationCaption = "Shared Location"
	DefaultAudioCaption    = "Voice Message"
	UnsupportedCaption     = "Unsupported message"
)

// Delivery tracks a locally authored message through its lifetime.
type Delivery int

const (
	DeliveryPending Delivery = iota
	DeliveryConfirmed
	DeliveryFailed
)

func (d Delivery) String() string {
	switch d {
	case DeliveryPending:
		return "pending"
	case DeliveryConfirmed:
		return "confirmed"
	case DeliveryFailed:
		return "failed"
	}
	return "unknown"
}

// Message is one chat timeline entry. Immutable by convention once
// inserted; only Delivery and server-populated fields change during
// reconciliation.
type Message struct {
	ID         string
	SenderID   string
	SenderName string
	CreatedAt  time.Time
	Kind       Kind
	Text       string

	// ResourceRef is an opaque handle to binary media, resolvable by
	// the media store. Set for image and audio messages.
	ResourceRef string

	// Coordinates, set for location messages.
	Latitude  float64
	Longitude float64

	Delivery Delivery
}

func NewText(senderID, senderName, text string) Message {
	return newLocal(senderID, senderName, KindText, text)
}

func NewImage(senderID, senderName, resourceRef, caption string) Message {
	m := newLocal(senderID, senderName, KindImage, captionOr(caption, DefaultPhotoCaption))
	m.ResourceRef = resourceRef
	return m
}

func NewLocation(senderID, senderName string, lat, lng float64, display string) Message {
	m := newLocal(senderID, senderName, KindLocation, captionOr(display, DefaultLocationCaption))
	m.Latitude = lat
	m.Longitude = lng
	return m
}

func NewAudio(senderID, senderName, resourceRef, caption string) Message {
	m := newLocal(senderID, senderName, KindAudio, captionOr(caption, DefaultAudioCaption))
	m.ResourceRef = resourceRef
	return m
}

func newLocal(senderID, senderName string, kind Kind, text string) Message {
	return Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		SenderName: senderName,
		CreatedAt:  time.Now().UTC(),
		Kind:       kind,
		Text:       text,
		Delivery:   DeliveryPending,
	}
}

func captionOr(caption, fallback string) string {
	if caption == "" {
		return fallback
	}
	return caption
}

// IsSystem reports whether the message belongs to the reserved
// bookkeeping identity.
func (m Message) IsSystem() bool {
	return m.SenderID == SystemSenderID
}

// Before orders messages by creation time. Equal timestamps compare
// false both ways, which preserves insertion order for ties.
func (m Message) Before(other Message) bool {
	return m.CreatedAt.Before(other.CreatedAt)
}
