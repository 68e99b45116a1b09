package message

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// ErrMalformedEnvelope marks inbound payloads that fail validation.
// Consumers drop and log these; they never crash the pipeline.
var ErrMalformedEnvelope = errors.New("malformed envelope")

var (
	envelopeValidator = validator.New()
	textPolicy        = bluemonday.StrictPolicy()
)

// Envelope is the wire shape of a Message, in both directions.
type Envelope struct {
	ID         string    `json:"id" validate:"required,max=64"`
	SenderID   string    `json:"senderId" validate:"required,max=64"`
	SenderName string    `json:"senderName,omitempty" validate:"max=128"`
	CreatedAt  time.Time `json:"createdAt" validate:"required"`
	Kind       string    `json:"kind" validate:"required,max=32"`
	Text       string    `json:"text,omitempty" validate:"max=1000"`

	ResourceRef string   `json:"resourceRef,omitempty" validate:"max=512"`
	Latitude    *float64 `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude   *float64 `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// Encode serializes a Message for transmission.
func Encode(m Message) Envelope {
	env := Envelope{
		ID:          m.ID,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		CreatedAt:   m.CreatedAt,
		Kind:        string(m.Kind),
		Text:        m.Text,
		ResourceRef: m.ResourceRef,
	}
	if m.Kind == KindLocation {
		lat, lng := m.Latitude, m.Longitude
		env.Latitude = &lat
		env.Longitude = &lng
	}
	return env
}

// Decode validates an inbound envelope and maps it onto a Confirmed
// Message. Unknown kinds degrade to a text rendering rather than
// failing, so newer servers cannot crash an older client.
func Decode(env Envelope) (Message, error) {
	if err := envelopeValidator.Struct(env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	text := strings.TrimSpace(textPolicy.Sanitize(env.Text))

	m := Message{
		ID:         env.ID,
		SenderID:   env.SenderID,
		SenderName: env.SenderName,
		CreatedAt:  env.CreatedAt.UTC(),
		Text:       text,
		Delivery:   DeliveryConfirmed,
	}

	switch Kind(env.Kind) {
	case KindText:
		if m.Text == "" {
			return Message{}, fmt.Errorf("%w: empty text message", ErrMalformedEnvelope)
		}
		m.Kind = KindText

	case KindImage:
		if env.ResourceRef == "" {
			return Message{}, fmt.Errorf("%w: image without resource ref", ErrMalformedEnvelope)
		}
		m.Kind = KindImage
		m.ResourceRef = env.ResourceRef
		m.Text = captionOr(m.Text, DefaultPhotoCaption)

	case KindAudio:
		if env.ResourceRef == "" {
			return Message{}, fmt.Errorf("%w: audio without resource ref", ErrMalformedEnvelope)
		}
		m.Kind = KindAudio
		m.ResourceRef = env.ResourceRef
		m.Text = captionOr(m.Text, DefaultAudioCaption)

	case KindLocation:
		if env.Latitude == nil || env.Longitude == nil {
			return Message{}, fmt.Errorf("%w: location without coordinates", ErrMalformedEnvelope)
		}
		m.Kind = KindLocation
		m.Latitude = *env.Latitude
		m.Longitude = *env.Longitude
		m.Text = captionOr(m.Text, DefaultLocationCaption)

	default:
		// Forward compatibility: render as plain text.
		m.Kind = KindText
		m.Text = captionOr(m.Text, UnsupportedCaption)
	}

	return m, nil
}
