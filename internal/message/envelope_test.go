package message

import (
	"errors"
	"testing"
	"time"
)

func validEnvelope() Envelope {
	return Envelope{
		ID:        "msg_1",
		SenderID:  "usr_1",
		CreatedAt: time.Now().UTC(),
		Kind:      string(KindText),
		Text:      "hello",
	}
}

func TestDecodeRejectsMissingID(t *testing.T) {
	env := validEnvelope()
	env.ID = ""

	_, err := Decode(env)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("Decode() error = %v, want ErrMalformedEnvelope", err)
	}
}

func TestDecodeRejectsEmptyTextMessage(t *testing.T) {
	env := validEnvelope()
	env.Text = "   "

	_, err := Decode(env)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("Decode() error = %v, want ErrMalformedEnvelope", err)
	}
}

func TestDecodeStripsMarkupFromText(t *testing.T) {
	env := validEnvelope()
	env.Text = `<script>alert("x")</script>hello`

	m, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Text != "hello" {
		t.Fatalf("m.Text = %q, want %q", m.Text, "hello")
	}
}

func TestDecodeRejectsImageWithoutResourceRef(t *testing.T) {
	env := validEnvelope()
	env.Kind = string(KindImage)
	env.ResourceRef = ""

	_, err := Decode(env)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("Decode() error = %v, want ErrMalformedEnvelope", err)
	}
}

func TestDecodeImageWithoutCaptionGetsDefault(t *testing.T) {
	env := validEnvelope()
	env.Kind = string(KindImage)
	env.ResourceRef = "image/ab/med_ab12"
	env.Text = ""

	m, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Text != DefaultPhotoCaption {
		t.Fatalf("m.Text = %q, want %q", m.Text, DefaultPhotoCaption)
	}
}

func TestDecodeRejectsLocationWithoutCoordinates(t *testing.T) {
	lat := 59.9139

	env := validEnvelope()
	env.Kind = string(KindLocation)
	env.Latitude = &lat
	env.Longitude = nil

	_, err := Decode(env)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("Decode() error = %v, want ErrMalformedEnvelope", err)
	}
}

func TestDecodeRejectsOutOfRangeCoordinates(t *testing.T) {
	lat, lng := 95.0, 10.0

	env := validEnvelope()
	env.Kind = string(KindLocation)
	env.Latitude = &lat
	env.Longitude = &lng

	_, err := Decode(env)
	if !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("Decode() error = %v, want ErrMalformedEnvelope", err)
	}
}

func TestDecodeUnknownKindFallsBackToText(t *testing.T) {
	env := validEnvelope()
	env.Kind = "sticker"
	env.Text = ""

	m, err := Decode(env)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if m.Kind != KindText {
		t.Fatalf("m.Kind = %q, want %q", m.Kind, KindText)
	}
	if m.Text != UnsupportedCaption {
		t.Fatalf("m.Text = %q, want %q", m.Text, UnsupportedCaption)
	}
}

func TestEncodeLocationCarriesCoordinates(t *testing.T) {
	m := NewLocation("usr_1", "ada", 59.9139, 10.7522, "")

	env := Encode(m)
	if env.Latitude == nil || env.Longitude == nil {
		t.Fatal("Encode() dropped location coordinates")
	}
	if *env.Latitude != 59.9139 || *env.Longitude != 10.7522 {
		t.Fatalf("Encode() coordinates = %v, %v", *env.Latitude, *env.Longitude)
	}
}

func TestEncodeDecodeRoundTripConfirmsDelivery(t *testing.T) {
	m := NewText("usr_1", "ada", "hello there")

	decoded, err := Decode(Encode(m))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.ID != m.ID {
		t.Fatalf("decoded.ID = %q, want %q", decoded.ID, m.ID)
	}
	if decoded.Delivery != DeliveryConfirmed {
		t.Fatalf("decoded.Delivery = %v, want confirmed", decoded.Delivery)
	}
}
