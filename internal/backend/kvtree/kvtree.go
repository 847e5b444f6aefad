// Package kvtree implements directory tree semantics on top of a flat
// key/value store. Every entry is one key (its clean backend path) whose
// value carries a kind byte, the modification time and, for files, the
// content. The root directory is implicit.
//
// Multi-key operations (recursive Rm, Mkdir of several parents) are
// serialized by a process-local lock; they are not atomic with respect to
// other processes sharing the same store.
package kvtree

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"xenvfs/internal/backend"
	"xenvfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("kvtree")
)

const (
	kindDir  byte = 'd'
	kindFile byte = 'f'

	headerLen = 1 + 8
)

// Store is a flat key/value store. Get reports backend.ErrNotFound for
// missing keys. Keys returns every key with the given prefix in any order.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

type record struct {
	kind    byte
	modTime time.Time
	data    []byte
}

func encode(r record) []byte {
	buf := make([]byte, headerLen+len(r.data))
	buf[0] = r.kind
	binary.BigEndian.PutUint64(buf[1:headerLen], uint64(r.modTime.UnixNano()))
	copy(buf[headerLen:], r.data)
	return buf
}

func decode(key string, raw []byte) (record, error) {
	if len(raw) < headerLen || (raw[0] != kindDir && raw[0] != kindFile) {
		return record{}, fmt.Errorf("corrupt record at %q", key)
	}
	return record{
		kind:    raw[0],
		modTime: time.Unix(0, int64(binary.BigEndian.Uint64(raw[1:headerLen]))),
		data:    raw[headerLen:],
	}, nil
}

// Tree is a backend.Backend over a Store.
type Tree struct {
	name  string
	store Store
	mu    sync.Mutex
	now   func() time.Time
}

// New wraps store. name is reported through backend.Namer.
func New(name string, store Store) *Tree {
	return &Tree{name: name, store: store, now: time.Now}
}

// Name implements backend.Namer.
func (t *Tree) Name() string { return t.name }

// Close closes the underlying store when it supports it.
func (t *Tree) Close() error {
	if c, ok := t.store.(io.Closer); ok {
		logger.Debug("Closing %s store", t.name)
		return c.Close()
	}
	return nil
}

func (t *Tree) get(ctx context.Context, p string) (record, error) {
	if p == "/" {
		return record{kind: kindDir}, nil
	}
	raw, err := t.store.Get(ctx, p)
	if err != nil {
		return record{}, err
	}
	return decode(p, raw)
}

func (t *Tree) requireDir(ctx context.Context, p string) error {
	r, err := t.get(ctx, p)
	if err != nil {
		return err
	}
	if r.kind != kindDir {
		return backend.ErrNotDirectory
	}
	return nil
}

func childPrefix(p string) string {
	if p == "/" {
		return "/"
	}
	return p + "/"
}

// Mkdir implements backend.Backend.
func (t *Tree) Mkdir(ctx context.Context, p string) error {
	p = backend.Clean(p)
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := ""
	for _, seg := range backend.Segments(p) {
		cur += "/" + seg
		r, err := t.get(ctx, cur)
		switch {
		case errors.Is(err, backend.ErrNotFound):
			if err := t.store.Put(ctx, cur, encode(record{kind: kindDir, modTime: t.now()})); err != nil {
				return err
			}
		case err != nil:
			return err
		case r.kind != kindDir:
			return backend.ErrNotDirectory
		}
	}
	return nil
}

// List implements backend.Backend.
func (t *Tree) List(ctx context.Context, p string, recursive bool) ([]backend.FileEntryInfo, error) {
	p = backend.Clean(p)
	if err := t.requireDir(ctx, p); err != nil {
		return nil, err
	}

	prefix := childPrefix(p)
	keys, err := t.store.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}

	rels := make([]string, 0, len(keys))
	for _, key := range keys {
		rel := strings.TrimPrefix(key, prefix)
		if rel == "" || (!recursive && strings.Contains(rel, "/")) {
			continue
		}
		rels = append(rels, rel)
	}
	sortDepthFirst(rels)

	entries := make([]backend.FileEntryInfo, 0, len(rels))
	for _, rel := range rels {
		r, err := t.get(ctx, prefix+rel)
		if errors.Is(err, backend.ErrNotFound) {
			// removed concurrently
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, backend.FileEntryInfo{
			Name:        rel,
			IsFile:      r.kind == kindFile,
			IsDirectory: r.kind == kindDir,
		})
	}
	return entries, nil
}

// sortDepthFirst orders relative paths segment by segment so every directory
// is immediately followed by its own subtree.
func sortDepthFirst(rels []string) {
	sort.Slice(rels, func(i, j int) bool {
		a, b := strings.Split(rels[i], "/"), strings.Split(rels[j], "/")
		for k := 0; k < len(a) && k < len(b); k++ {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return len(a) < len(b)
	})
}

// Rm implements backend.Backend.
func (t *Tree) Rm(ctx context.Context, p string) error {
	p = backend.Clean(p)
	t.mu.Lock()
	defer t.mu.Unlock()

	if p != "/" {
		if _, err := t.get(ctx, p); err != nil {
			return err
		}
	}

	keys, err := t.store.Keys(ctx, childPrefix(p))
	if err != nil {
		return err
	}
	if p != "/" {
		keys = append(keys, p)
	}
	if len(keys) == 0 {
		return nil
	}
	logger.Trace("Removing %d keys under %q from %s", len(keys), p, t.name)
	return t.store.Delete(ctx, keys...)
}

// Write implements backend.Backend.
func (t *Tree) Write(ctx context.Context, p string, data []byte) error {
	p = backend.Clean(p)
	if p == "/" {
		return backend.ErrIsDirectory
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireDir(ctx, backend.Parent(p)); err != nil {
		return err
	}
	existing, err := t.get(ctx, p)
	if err == nil && existing.kind == kindDir {
		return backend.ErrIsDirectory
	}
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return err
	}
	return t.store.Put(ctx, p, encode(record{kind: kindFile, modTime: t.now(), data: data}))
}

// Read implements backend.Backend.
func (t *Tree) Read(ctx context.Context, p string) ([]byte, error) {
	p = backend.Clean(p)
	r, err := t.get(ctx, p)
	if err != nil {
		return nil, err
	}
	if r.kind == kindDir {
		return nil, backend.ErrIsDirectory
	}
	return append([]byte{}, r.data...), nil
}

// Stat implements backend.Backend.
func (t *Tree) Stat(ctx context.Context, p string) (backend.FileStat, error) {
	p = backend.Clean(p)
	r, err := t.get(ctx, p)
	if err != nil {
		return backend.FileStat{}, err
	}
	st := backend.FileStat{
		Name:         backend.Base(p),
		IsFile:       r.kind == kindFile,
		IsDirectory:  r.kind == kindDir,
		LastModified: r.modTime,
	}
	if r.kind == kindFile {
		st.Size = int64(len(r.data))
		st.MIME = backend.DetectMIME(st.Name)
	}
	return st, nil
}
