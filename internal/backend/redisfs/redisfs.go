// Package redisfs is a network-backed backend keeping the whole tree in one
// Redis hash, one field per entry.
package redisfs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"xenvfs/internal/backend"
	"xenvfs/internal/backend/kvtree"
	"xenvfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("redisfs")
)

// Config selects the Redis server and the hash holding the tree.
type Config struct {
	Addr      string `koanf:"addr"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	Namespace string `koanf:"namespace"`
}

type store struct {
	rdb   redis.UniversalClient
	key   string
	owned bool
}

func (s *store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.rdb.HGet(ctx, s.key, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, backend.ErrNotFound
	}
	return v, err
}

func (s *store) Put(ctx context.Context, key string, value []byte) error {
	return s.rdb.HSet(ctx, s.key, key, value).Err()
}

func (s *store) Delete(ctx context.Context, keys ...string) error {
	return s.rdb.HDel(ctx, s.key, keys...).Err()
}

func (s *store) Keys(ctx context.Context, prefix string) ([]string, error) {
	all, err := s.rdb.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	keys := all[:0]
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *store) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}

func hashKey(namespace string) string {
	if namespace == "" {
		namespace = "xenvfs"
	}
	return namespace + ":tree"
}

// New dials Redis as described by cfg and verifies the connection.
func New(ctx context.Context, cfg Config) (*kvtree.Tree, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	logger.Info("Connected to redis at %s (hash %s)", cfg.Addr, hashKey(cfg.Namespace))
	return kvtree.New("redis", &store{rdb: rdb, key: hashKey(cfg.Namespace), owned: true}), nil
}

// NewWithClient uses an existing client. The client is not closed by the
// backend.
func NewWithClient(rdb redis.UniversalClient, namespace string) *kvtree.Tree {
	return kvtree.New("redis", &store{rdb: rdb, key: hashKey(namespace)})
}
