package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ethpandaops/teamspace/pkg/config"
	"github.com/ethpandaops/teamspace/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ Backend = (*localBackend)(nil)

type localBackend struct {
	log   logrus.FieldLogger
	root  string
	owner *fsutil.OwnerConfig
}

// NewLocalBackend creates a Backend that keeps objects below a directory.
func NewLocalBackend(
	log logrus.FieldLogger,
	cfg *config.APILocalStorageConfig,
) (Backend, error) {
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}

	owner, err := fsutil.ParseOwner(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("api.storage.local.owner: %w", err)
	}

	if err := fsutil.MkdirAll(root, 0o750, owner); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}

	return &localBackend{
		log:   log.WithField("component", "local-storage"),
		root:  root,
		owner: owner,
	}, nil
}

func (b *localBackend) path(key string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("invalid object key %q", key)
	}

	return filepath.Join(b.root, filepath.FromSlash(key)), nil
}

// Put writes the object atomically so readers never observe a partial
// object.
func (b *localBackend) Put(
	_ context.Context, key string, body io.Reader, _ int64, _ string,
) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}

	if err := fsutil.MkdirAll(filepath.Dir(p), 0o750, b.owner); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	if _, err := fsutil.WriteAtomic(p, body, b.owner); err != nil {
		return fmt.Errorf("storing object %q: %w", key, err)
	}

	return nil
}

func (b *localBackend) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p) //nolint:gosec // key validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("opening object %q: %w", key, err)
	}

	return f, nil
}

func (b *localBackend) Delete(_ context.Context, key string) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing object %q: %w", key, err)
	}

	return nil
}

func (b *localBackend) URL(context.Context, string) (string, error) {
	return "", nil
}
