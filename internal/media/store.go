// Package media persists captured attachment bytes and resolves the
// opaque resource handles carried by image and audio messages.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"guardian/internal/ids"
)

type Kind string

const (
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

var (
	ErrFileTooLarge   = errors.New("media file too large")
	ErrInvalidKind    = errors.New("invalid media kind")
	ErrDisallowedType = errors.New("disallowed media mime type")
	ErrExecutableFile = errors.New("executable files are not allowed")
	ErrInvalidRef     = errors.New("invalid media ref")
)

// Stored describes a persisted attachment. Ref is the opaque handle
// embedded in message envelopes.
type Stored struct {
	ID           string
	Kind         Kind
	Ref          string
	MimeType     string
	SizeBytes    int64
	OriginalName string
	CreatedAt    time.Time
}

type Store struct {
	rootDir  string
	maxBytes int64
}

func NewStore(rootDir string, maxBytes int64) (*Store, error) {
	if strings.TrimSpace(rootDir) == "" {
		return nil, fmt.Errorf("media root directory is required")
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("max media bytes must be > 0")
	}

	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating media root directory: %w", err)
	}

	return &Store{
		rootDir:  rootDir,
		maxBytes: maxBytes,
	}, nil
}

func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

func (s *Store) Save(_ context.Context, kind Kind, originalName string, src io.Reader) (*Stored, error) {
	if !isValidKind(kind) {
		return nil, ErrInvalidKind
	}

	name := sanitizeOriginalName(originalName)
	mediaID, err := ids.Generate("med")
	if err != nil {
		return nil, fmt.Errorf("generating media id: %w", err)
	}

	ref := relativeRef(kind, mediaID)
	absPath, err := s.resolveRef(ref)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating media directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(absPath), mediaID+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary media file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	sniff := make([]byte, 512)
	sniffN, sniffErr := io.ReadFull(src, sniff)
	if sniffErr != nil && sniffErr != io.EOF && sniffErr != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("reading media data: %w", sniffErr)
	}
	sniff = sniff[:sniffN]

	if isExecutableSignature(sniff) {
		return nil, ErrExecutableFile
	}

	mimeType := detectMimeType(sniff)
	if !isAllowedMimeType(kind, mimeType) {
		return nil, ErrDisallowedType
	}

	fullReader := io.MultiReader(bytes.NewReader(sniff), src)
	written, err := io.Copy(tmpFile, io.LimitReader(fullReader, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("writing media file: %w", err)
	}
	if written > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("closing temporary media file: %w", err)
	}

	if err := os.Rename(tmpPath, absPath); err != nil {
		return nil, fmt.Errorf("finalizing media file: %w", err)
	}

	return &Stored{
		ID:           mediaID,
		Kind:         kind,
		Ref:          ref,
		MimeType:     mimeType,
		SizeBytes:    written,
		OriginalName: name,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// Open resolves a resource handle to its bytes. A message is only
// renderable once its ref opens successfully.
func (s *Store) Open(ref string) (*os.File, error) {
	absPath, err := s.resolveRef(ref)
	if err != nil {
		return nil, err
	}
	return os.Open(absPath)
}

func (s *Store) Delete(ref string) error {
	absPath, err := s.resolveRef(ref)
	if err != nil {
		return err
	}

	err = os.Remove(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting media file: %w", err)
	}

	return nil
}

func (s *Store) resolveRef(ref string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", ErrInvalidRef
	}

	return filepath.Join(s.rootDir, clean), nil
}

func relativeRef(kind Kind, mediaID string) string {
	return filepath.ToSlash(filepath.Join(string(kind), refPathPrefix(mediaID), mediaID))
}

func refPathPrefix(mediaID string) string {
	randomPart := strings.TrimPrefix(mediaID, "med_")
	if len(randomPart) < 2 {
		return "xx"
	}
	return randomPart[:2]
}

func sanitizeOriginalName(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "capture.bin"
	}
	if len(name) > 255 {
		return name[:255]
	}
	return name
}

func detectMimeType(sniff []byte) string {
	if len(sniff) == 0 {
		return "application/octet-stream"
	}

	return trimMimeParams(http.DetectContentType(sniff))
}

func isExecutableSignature(sniff []byte) bool {
	if len(sniff) < 2 {
		return false
	}

	if sniff[0] == 'M' && sniff[1] == 'Z' {
		return true // PE/COFF (Windows)
	}
	if len(sniff) >= 4 && bytes.Equal(sniff[:4], []byte{0x7f, 'E', 'L', 'F'}) {
		return true // ELF
	}
	if sniff[0] == '#' && sniff[1] == '!' {
		return true // shebang scripts
	}

	return false
}

func trimMimeParams(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}

func isValidKind(kind Kind) bool {
	switch kind {
	case KindImage, KindAudio:
		return true
	default:
		return false
	}
}

func isAllowedMimeType(kind Kind, mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		return false
	}

	switch kind {
	case KindImage:
		return strings.HasPrefix(mimeType, "image/") && mimeType != "image/svg+xml"
	case KindAudio:
		// Device recorders commonly produce containers that sniff as
		// video/mp4 (m4a) or octet-stream.
		return strings.HasPrefix(mimeType, "audio/") ||
			mimeType == "video/mp4" ||
			mimeType == "application/octet-stream"
	default:
		return false
	}
}
