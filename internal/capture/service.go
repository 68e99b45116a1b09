package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"guardian/internal/media"
	"guardian/internal/message"
)

const geocodeTimeout = 3 * time.Second

// Service composes the device capabilities with the media store and
// enforces the single-recording invariant.
type Service struct {
	perms    Permissions
	camera   Camera
	library  Library
	locator  Locator
	geocoder Geocoder
	recorder Recorder
	store    *media.Store

	mu        sync.Mutex
	recording bool
}

func NewService(perms Permissions, camera Camera, library Library, locator Locator, geocoder Geocoder, recorder Recorder, store *media.Store) *Service {
	return &Service{
		perms:    perms,
		camera:   camera,
		library:  library,
		locator:  locator,
		geocoder: geocoder,
		recorder: recorder,
		store:    store,
	}
}

// CapturePhoto obtains a photo from the camera or the library and
// persists it, returning the resource handle and a suggested caption.
func (s *Service) CapturePhoto(ctx context.Context, source PhotoSource) (*PhotoResult, error) {
	perm := PermissionCamera
	if source == SourceLibrary {
		perm = PermissionPhotoLibrary
	}
	if err := s.perms.Ensure(ctx, perm); err != nil {
		return nil, permissionError(perm, err)
	}

	var (
		src  io.ReadCloser
		name string
		err  error
	)
	switch source {
	case SourceCamera:
		src, name, err = s.camera.TakePhoto(ctx)
	case SourceLibrary:
		src, name, err = s.library.PickPhoto(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown photo source %d", ErrCaptureFailed, source)
	}
	if err != nil {
		return nil, deviceError("photo", err)
	}
	defer src.Close()

	stored, err := s.store.Save(ctx, media.KindImage, name, src)
	if err != nil {
		return nil, fmt.Errorf("%w: storing photo: %v", ErrCaptureFailed, err)
	}

	return &PhotoResult{
		ResourceRef: stored.Ref,
		Caption:     message.DefaultPhotoCaption,
	}, nil
}

// CaptureLocation resolves the current position and enriches it with a
// reverse-geocoded address when one is available. Coordinates alone are
// a valid result.
func (s *Service) CaptureLocation(ctx context.Context) (*LocationResult, error) {
	if err := s.perms.Ensure(ctx, PermissionLocation); err != nil {
		return nil, permissionError(PermissionLocation, err)
	}

	pos, err := s.locator.CurrentPosition(ctx)
	if err != nil {
		return nil, deviceError("location", err)
	}

	result := &LocationResult{
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		Caption:   message.DefaultLocationCaption,
	}

	geoCtx, cancel := context.WithTimeout(ctx, geocodeTimeout)
	defer cancel()
	addr, err := s.geocoder.ReverseGeocode(geoCtx, pos.Latitude, pos.Longitude)
	if err != nil {
		slog.Debug("reverse geocoding unavailable", "component", "capture", "error", err)
		return result, nil
	}
	if addr != "" {
		result.Address = addr
		result.Caption = addr
	}

	return result, nil
}

// StartRecording acquires the microphone. A second start while a
// recording is active is rejected and leaves the first untouched.
func (s *Service) StartRecording(ctx context.Context) error {
	if err := s.perms.Ensure(ctx, PermissionMicrophone); err != nil {
		return permissionError(PermissionMicrophone, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording {
		return ErrRecordingActive
	}

	if err := s.recorder.Start(ctx); err != nil {
		return deviceError("recording", err)
	}
	s.recording = true
	return nil
}

// StopRecording releases the microphone and persists the recording.
// The recording flag is cleared even when Stop fails, so a failed stop
// never wedges the handle.
func (s *Service) StopRecording(ctx context.Context) (*AudioResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return nil, ErrNoRecording
	}
	s.recording = false

	src, name, err := s.recorder.Stop(ctx)
	if err != nil {
		return nil, deviceError("recording", err)
	}
	defer src.Close()

	stored, err := s.store.Save(ctx, media.KindAudio, name, src)
	if err != nil {
		return nil, fmt.Errorf("%w: storing recording: %v", ErrCaptureFailed, err)
	}

	return &AudioResult{
		ResourceRef: stored.Ref,
		Caption:     message.DefaultAudioCaption,
	}, nil
}

// Recording reports whether the microphone handle is currently held.
func (s *Service) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func permissionError(p Permission, err error) error {
	if errors.Is(err, ErrPermissionDenied) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrPermissionDenied, p, err)
}

func deviceError(what string, err error) error {
	if errors.Is(err, ErrCaptureCancelled) || errors.Is(err, ErrCaptureFailed) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrCaptureCancelled, what, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrCaptureFailed, what, err)
}
