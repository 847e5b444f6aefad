// Package config loads the xenvfs configuration: embedded defaults, an
// optional YAML or JSON file and XENVFS_ environment overrides, in that
// order.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"xenvfs/internal/backend/redisfs"
	"xenvfs/internal/logging"
	"xenvfs/internal/vfs"
)

//go:embed config.default.yaml
var defaultConfig []byte

var (
	logger = logging.GetLogger().WithPrefix("config")
)

// EnvPrefix marks the environment variables that override loaded values.
// XENVFS_FUSE_MOUNTPOINT sets fuse.mountpoint.
const EnvPrefix = "XENVFS_"

// Backend kinds.
const (
	KindMemory  = "memory"
	KindState   = "state"
	KindLevelDB = "leveldb"
	KindRedis   = "redis"
	KindHost    = "host"
)

var (
	// ErrUnknownKind is returned for a backend kind no builder exists for.
	ErrUnknownKind = errors.New("unknown backend kind")

	// ErrUnsupportedFormat is returned for a config file with an extension
	// other than .yaml, .yml or .json.
	ErrUnsupportedFormat = errors.New("unsupported config format")
)

// Config is the full xenvfs configuration.
type Config struct {
	Log     LogConfig     `koanf:"log"`
	VFS     VFSConfig     `koanf:"vfs"`
	Root    BackendConfig `koanf:"root"`
	Mounts  []MountConfig `koanf:"mounts"`
	Fuse    FuseConfig    `koanf:"fuse"`
	Metrics MetricsConfig `koanf:"metrics"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type VFSConfig struct {
	BusyTracking bool `koanf:"busytracking"`
}

// BackendConfig selects a backend kind. Path is the state file for state,
// the database directory for leveldb (empty keeps it in memory) and the host
// directory for host.
type BackendConfig struct {
	Kind  string         `koanf:"kind"`
	Path  string         `koanf:"path"`
	Redis redisfs.Config `koanf:"redis"`
}

// MountConfig attaches a backend at Path in the namespace.
type MountConfig struct {
	Path          string `koanf:"path"`
	BackendConfig `koanf:",squash"`
}

type FuseConfig struct {
	MountPoint string `koanf:"mountpoint"`
}

type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// Load reads the defaults, then path when it is not empty, then the
// environment.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(defaultConfig), yaml.Parser()); err != nil {
		return Config{}, fmt.Errorf("failed to load default config: %w", err)
	}

	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		logger.Debug("Loading config file %s", path)
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// envKey maps XENVFS_LOG_LEVEL to log.level.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
}

// Validate checks the log level, every backend kind and every mount path.
func (c Config) Validate() error {
	if _, ok := logging.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if err := c.Root.validate(); err != nil {
		return fmt.Errorf("root: %w", err)
	}

	seen := make(map[string]bool, len(c.Mounts))
	for i, m := range c.Mounts {
		p, err := vfs.Normalize(m.Path, "/")
		if err != nil || p != m.Path || p == "/" {
			return fmt.Errorf("mounts[%d]: %w: %q", i, vfs.ErrInvalidMountPath, m.Path)
		}
		if seen[p] {
			return fmt.Errorf("mounts[%d]: %w: %s", i, vfs.ErrDuplicateMount, p)
		}
		seen[p] = true
		if err := m.validate(); err != nil {
			return fmt.Errorf("mounts[%d]: %w", i, err)
		}
	}
	return nil
}

func (b BackendConfig) validate() error {
	switch b.Kind {
	case KindMemory, KindLevelDB:
		return nil
	case KindState, KindHost:
		if b.Path == "" {
			return fmt.Errorf("%s backend needs a path", b.Kind)
		}
		return nil
	case KindRedis:
		if b.Redis.Addr == "" {
			return errors.New("redis backend needs redis.addr")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, b.Kind)
	}
}
