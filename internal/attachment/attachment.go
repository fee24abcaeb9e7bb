// Package attachment stores files referenced by chat messages. A message
// carries only the handle returned by Upload.
package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/weiawesome/site-journal/internal/domain"
	"github.com/weiawesome/site-journal/pkg/log"
	"github.com/weiawesome/site-journal/pkg/storage"
)

const (
	keyPrefix          = "objects/"
	maxNameLength      = 100
	defaultMaxUpload   = 10 << 20
	defaultURLExpiry   = 15 * time.Minute
	defaultContentType = "application/octet-stream"
)

var ErrTooLarge = fmt.Errorf("%w: attachment exceeds the upload limit", domain.ErrValidation)

// Config bounds uploads and presigned URL lifetime.
type Config struct {
	MaxUploadBytes int64
	URLExpiry      time.Duration
}

// Upload is the result of a stored attachment.
type Upload struct {
	Handle string `json:"handle"`
	URL    string `json:"url"`
}

type Service struct {
	storage storage.Storage
	config  Config
}

func NewService(s storage.Storage, cfg Config) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = defaultURLExpiry
	}
	return &Service{storage: s, config: cfg}
}

// MaxUploadBytes returns the configured upload limit.
func (s *Service) MaxUploadBytes() int64 {
	return s.config.MaxUploadBytes
}

// Upload stores r for objectID and returns its handle and a fetchable URL.
// size may be -1 when unknown; the limit is enforced while copying.
func (s *Service) Upload(ctx context.Context, objectID, filename, contentType string, r io.Reader, size int64) (*Upload, error) {
	objectID = strings.TrimSpace(objectID)
	if objectID == "" || strings.ContainsAny(objectID, "/\\") || objectID == "." || objectID == ".." {
		return nil, domain.Validationf("invalid object id %q", objectID)
	}
	if size > s.config.MaxUploadBytes {
		return nil, ErrTooLarge
	}
	if size == 0 {
		return nil, domain.Validationf("attachment is empty")
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	key := keyPrefix + objectID + "/" + uuid.New().String() + "-" + SanitizeName(filename)
	lr := &limitedReader{r: r, remaining: s.config.MaxUploadBytes}

	if err := s.storage.Write(ctx, key, lr, size, contentType); err != nil {
		if lr.exceeded {
			return nil, ErrTooLarge
		}
		return nil, domain.StorageError("write attachment", err)
	}

	url, err := s.storage.GetURL(ctx, key, s.config.URLExpiry)
	if err != nil {
		return nil, domain.StorageError("resolve attachment", err)
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldObjectID, objectID).Str("handle", key).Msg("attachment stored")

	return &Upload{Handle: key, URL: url}, nil
}

// Resolve returns a fetchable URL for a handle produced by Upload.
func (s *Service) Resolve(ctx context.Context, handle string) (string, error) {
	if !ValidHandle(handle) {
		return "", domain.Validationf("invalid attachment handle")
	}

	url, err := s.storage.GetURL(ctx, handle, s.config.URLExpiry)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("attachment %w", domain.ErrNotFound)
		}
		return "", domain.StorageError("resolve attachment", err)
	}
	return url, nil
}

// ValidHandle reports whether handle has the shape Upload produces.
func ValidHandle(handle string) bool {
	if !strings.HasPrefix(handle, keyPrefix) || strings.Contains(handle, "\\") {
		return false
	}
	if path.Clean(handle) != handle {
		return false
	}
	parts := strings.Split(strings.TrimPrefix(handle, keyPrefix), "/")
	return len(parts) == 2 && parts[0] != "" && parts[1] != "" && parts[0] != ".."
}

// SanitizeName reduces a client file name to a safe key segment.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(strings.TrimSpace(name))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxNameLength {
			break
		}
	}

	out := strings.Trim(b.String(), ".")
	if out == "" || strings.Trim(out, "_") == "" {
		return "file"
	}
	return out
}

// limitedReader fails once more than remaining bytes have been read.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return n, ErrTooLarge
	}
	return n, err
}
