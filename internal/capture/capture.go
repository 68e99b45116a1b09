// Package capture wraps device capabilities (camera, photo library,
// geolocation, microphone) behind a uniform request/result contract.
// It never touches the network.
package capture

import (
	"context"
	"errors"
	"io"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrCaptureCancelled = errors.New("capture cancelled")
	ErrCaptureFailed    = errors.New("capture failed")
	ErrRecordingActive  = errors.New("recording already active")
	ErrNoRecording      = errors.New("no active recording")
)

type Permission string

const (
	PermissionCamera       Permission = "camera"
	PermissionPhotoLibrary Permission = "photo_library"
	PermissionLocation     Permission = "location"
	PermissionMicrophone   Permission = "microphone"
)

// PhotoSource selects where CapturePhoto obtains its image.
type PhotoSource int

const (
	SourceCamera PhotoSource = iota
	SourceLibrary
)

// Position is a geographic fix from the locator.
type Position struct {
	Latitude  float64
	Longitude float64
}

// Permissions gates capability access. Implementations may block on an
// OS permission dialog; a refusal is reported as ErrPermissionDenied.
type Permissions interface {
	Ensure(ctx context.Context, p Permission) error
}

// Camera produces a single photo. A user abort is reported as
// ErrCaptureCancelled.
type Camera interface {
	TakePhoto(ctx context.Context) (io.ReadCloser, string, error)
}

// Library picks an existing photo from the device library.
type Library interface {
	PickPhoto(ctx context.Context) (io.ReadCloser, string, error)
}

// Locator resolves the device's current position.
type Locator interface {
	CurrentPosition(ctx context.Context) (Position, error)
}

// Geocoder resolves coordinates to a human-readable address. It is
// consulted best-effort only; failures never fail a location capture.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// Recorder owns the microphone between Start and Stop. The hardware
// handle is exclusive; exclusivity is enforced by the Service, not the
// Recorder.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (io.ReadCloser, string, error)
}

// PhotoResult is a successful photo capture.
type PhotoResult struct {
	ResourceRef string
	Caption     string
}

// LocationResult is a successful location capture. Address is empty
// when reverse geocoding did not resolve.
type LocationResult struct {
	Latitude  float64
	Longitude float64
	Address   string
	Caption   string
}

// AudioResult is a completed voice recording.
type AudioResult struct {
	ResourceRef string
	Caption     string
}
