package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Filesystem-backed capability implementations. They stand in for the
// real device bindings in the terminal client and in integration
// setups: a "camera" that reads a fixed file, a "library" that picks
// from a directory, a fixed-position locator and a file recorder.

// StaticPermissions grants or denies each permission from a fixed map.
type StaticPermissions map[Permission]bool

func (p StaticPermissions) Ensure(_ context.Context, perm Permission) error {
	if p[perm] {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
}

// AllowAllPermissions grants everything.
func AllowAllPermissions() StaticPermissions {
	return StaticPermissions{
		PermissionCamera:       true,
		PermissionPhotoLibrary: true,
		PermissionLocation:     true,
		PermissionMicrophone:   true,
	}
}

// FileCamera serves the photo at Path.
type FileCamera struct {
	Path string
}

func (c *FileCamera) TakePhoto(_ context.Context) (io.ReadCloser, string, error) {
	return openDeviceFile(c.Path)
}

// DirLibrary picks the lexically last file in Dir.
type DirLibrary struct {
	Dir string
}

func (l *DirLibrary) PickPhoto(_ context.Context) (io.ReadCloser, string, error) {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading library dir: %v", ErrCaptureFailed, err)
	}

	var last string
	for _, e := range entries {
		if !e.IsDir() {
			last = e.Name()
		}
	}
	if last == "" {
		return nil, "", ErrCaptureCancelled
	}

	return openDeviceFile(filepath.Join(l.Dir, last))
}

// FixedLocator reports a constant position.
type FixedLocator struct {
	Position Position
}

func (l *FixedLocator) CurrentPosition(_ context.Context) (Position, error) {
	return l.Position, nil
}

// StaticGeocoder resolves every position to one address. An empty
// address behaves like an unavailable geocoder.
type StaticGeocoder struct {
	Address string
}

func (g *StaticGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (string, error) {
	if g.Address == "" {
		return "", fmt.Errorf("no address for position")
	}
	return g.Address, nil
}

// FileRecorder replays the audio file at Path when stopped.
type FileRecorder struct {
	Path string
}

func (r *FileRecorder) Start(_ context.Context) error {
	if _, err := os.Stat(r.Path); err != nil {
		return fmt.Errorf("%w: recorder source: %v", ErrCaptureFailed, err)
	}
	return nil
}

func (r *FileRecorder) Stop(_ context.Context) (io.ReadCloser, string, error) {
	return openDeviceFile(r.Path)
}

func openDeviceFile(path string) (io.ReadCloser, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	return f, filepath.Base(path), nil
}
