package photo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	apperrors "github.com/xyz-asif/floodreport/pkg/errors"
)

// AllowedExtensions lists the accepted photo types, lowercase without the dot.
var AllowedExtensions = []string{"jpg", "jpeg", "png", "gif"}

const DefaultMaxBytes = int64(5 * 1024 * 1024) // 5MB

var storedName = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.(jpg|jpeg|png|gif)$`)

// Validate checks the declared extension and the size ceiling, then makes sure
// the bytes decode as an image. It never touches the filesystem.
func Validate(data []byte, declaredName string, maxBytes int64) (string, error) {
	ext := Extension(declaredName)
	if !isAllowedExtension(ext) {
		return "", fmt.Errorf("%w: %q (allowed: %s)", apperrors.ErrPhotoInvalidFormat, ext, strings.Join(AllowedExtensions, ", "))
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d MB", apperrors.ErrPhotoTooLarge, len(data), maxBytes/(1024*1024))
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", apperrors.ErrPhotoInvalidFormat)
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("%w: not a readable image", apperrors.ErrPhotoInvalidFormat)
	}
	return ext, nil
}

// Extension returns the lowercase extension of name without the dot.
func Extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// IsStoredName reports whether name has the shape of a generated photo file name.
func IsStoredName(name string) bool {
	return storedName.MatchString(name)
}

func isAllowedExtension(ext string) bool {
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// LocalStore keeps photos on the local filesystem under a single directory.
type LocalStore struct {
	dir      string
	maxBytes int64
}

func NewLocalStore(dir string, maxBytes int64) (*LocalStore, error) {
	if dir == "" {
		dir = "uploads"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, maxBytes: maxBytes}, nil
}

// Save validates the photo and writes it as <uuid>.<ext>. The returned reference
// is the slash-separated path of the stored file. The caller-supplied name only
// contributes its extension.
func (s *LocalStore) Save(ctx context.Context, data []byte, declaredName string) (string, error) {
	ext, err := Validate(data, declaredName, s.maxBytes)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name := uuid.NewString() + "." + ext
	final := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: create temp photo: %v", apperrors.ErrLocalStorage, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: write photo: %v", apperrors.ErrLocalStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: sync photo: %v", apperrors.ErrLocalStorage, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: close photo: %v", apperrors.ErrLocalStorage, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: move photo: %v", apperrors.ErrLocalStorage, err)
	}
	return filepath.ToSlash(final), nil
}

// Delete removes a previously saved photo. A missing file is not an error.
func (s *LocalStore) Delete(_ context.Context, ref string) error {
	name := filepath.Base(filepath.FromSlash(ref))
	if !IsStoredName(name) {
		return fmt.Errorf("refusing to delete %q: not a stored photo", ref)
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete photo: %w", err)
	}
	return nil
}

// Path resolves a stored file name to its location on disk.
func (s *LocalStore) Path(name string) (string, error) {
	if !IsStoredName(name) {
		return "", apperrors.ErrNotFound
	}
	p := filepath.Join(s.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", apperrors.ErrNotFound
	}
	return p, nil
}

// Check verifies the upload directory is writable.
func (s *LocalStore) Check(_ context.Context) error {
	f, err := os.CreateTemp(s.dir, ".check-*")
	if err != nil {
		return fmt.Errorf("upload dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
