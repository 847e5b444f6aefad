package config

import (
	"context"
	"fmt"
	"io"

	"xenvfs/internal/backend"
	"xenvfs/internal/backend/hostfs"
	"xenvfs/internal/backend/leveldbfs"
	"xenvfs/internal/backend/memfs"
	"xenvfs/internal/backend/redisfs"
	"xenvfs/internal/backend/statefs"
	"xenvfs/internal/vfs"
)

// Open constructs the backend b describes.
func (b BackendConfig) Open(ctx context.Context) (backend.Backend, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	switch b.Kind {
	case KindState:
		return statefs.Open(b.Path)
	case KindLevelDB:
		if b.Path == "" {
			return leveldbfs.OpenMemory()
		}
		return leveldbfs.Open(b.Path)
	case KindRedis:
		return redisfs.New(ctx, b.Redis)
	case KindHost:
		return hostfs.NewOS(b.Path)
	default:
		return memfs.New(), nil
	}
}

// Build creates a Manager on the configured root backend and mounts every
// configured backend in order. On failure everything opened so far is
// closed.
func Build(ctx context.Context, cfg Config, opts ...vfs.Option) (*vfs.Manager, error) {
	if cfg.VFS.BusyTracking {
		opts = append(opts, vfs.WithBusyTracking())
	}

	root, err := cfg.Root.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open root backend: %w", err)
	}
	m, err := vfs.NewManager(root, opts...)
	if err != nil {
		if c, ok := root.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}

	for _, mc := range cfg.Mounts {
		b, err := mc.Open(ctx)
		if err != nil {
			_ = m.Close(ctx)
			return nil, fmt.Errorf("failed to open backend for %s: %w", mc.Path, err)
		}
		if err := m.Mount(mc.Path, b); err != nil {
			if c, ok := b.(io.Closer); ok {
				_ = c.Close()
			}
			_ = m.Close(ctx)
			return nil, err
		}
		logger.Info("Mounted %s backend at %s", mc.Kind, mc.Path)
	}
	return m, nil
}
