// Package storage keeps the content of shared files. Metadata lives in the
// store; a Backend only deals in opaque keys.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/ethpandaops/teamspace/pkg/config"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Open when no object exists under the key.
var ErrNotFound = errors.New("object not found")

// Backend stores file content under keys.
type Backend interface {
	// Put stores body under key, replacing any existing object.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Open returns the object's content. The caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// URL returns a direct download URL for the object, or "" when
	// content must be streamed through Open.
	URL(ctx context.Context, key string) (string, error)
}

// New returns the backend enabled in cfg, or nil when file sharing is
// disabled.
func New(log logrus.FieldLogger, cfg *config.APIStorageConfig) (Backend, error) {
	switch {
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3Backend(log, cfg.S3)
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocalBackend(log, cfg.Local)
	default:
		return nil, nil
	}
}

// ValidKey reports whether key is a clean relative slash-separated path.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}

	if strings.Contains(key, "..") || strings.Contains(key, "\\") {
		return false
	}

	return path.Clean(key) == key
}
