// Package leveldbfs is a persisted backend storing the tree in a LevelDB
// database, one key per entry.
package leveldbfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"xenvfs/internal/backend"
	"xenvfs/internal/backend/kvtree"
	"xenvfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("leveldbfs")
)

// keyPrefix namespaces tree entries inside the database.
const keyPrefix = "vfs:"

type store struct {
	db *leveldb.DB
}

func (s *store) Get(_ context.Context, key string) ([]byte, error) {
	v, err := s.db.Get([]byte(keyPrefix+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, backend.ErrNotFound
	}
	return v, err
}

func (s *store) Put(_ context.Context, key string, value []byte) error {
	return s.db.Put([]byte(keyPrefix+key), value, nil)
}

func (s *store) Delete(_ context.Context, keys ...string) error {
	batch := new(leveldb.Batch)
	for _, k := range keys {
		batch.Delete([]byte(keyPrefix + k))
	}
	return s.db.Write(batch, nil)
}

func (s *store) Keys(_ context.Context, prefix string) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix([]byte(keyPrefix+prefix)), nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()[len(keyPrefix):]))
	}
	return keys, iter.Error()
}

func (s *store) Close() error {
	return s.db.Close()
}

// Open opens (or creates) the database directory at path.
func Open(path string) (*kvtree.Tree, error) {
	logger.Debug("Opening LevelDB at %s", path)
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb %s: %w", path, err)
	}
	return kvtree.New("leveldb", &store{db: db}), nil
}

// OpenMemory returns a backend on a volatile in-memory LevelDB storage.
func OpenMemory() (*kvtree.Tree, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory leveldb: %w", err)
	}
	return kvtree.New("leveldb", &store{db: db}), nil
}
