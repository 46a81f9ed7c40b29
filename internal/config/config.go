package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leonardcser/memocache/internal/cache"
)

// EnvConfig names an explicit config file and wins over the default search.
const EnvConfig = "MEMOCACHE_CONFIG"

const fileName = "memocache.yaml"

// Backend kinds understood by the cache daemon.
const (
	BackendLocal = "local"
	BackendBolt  = "bolt"
)

type Config struct {
	// Source is the file the config was read from, empty for defaults.
	Source string `yaml:"-"`

	Cache  CacheConfig  `yaml:"cache"`
	Server ServerConfig `yaml:"server"`
	Web    WebConfig    `yaml:"web"`
}

type CacheConfig struct {
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	KeyPrefix  string        `yaml:"key_prefix"` // namespace of fetch and search results
	Backend    string        `yaml:"backend"`
	Path       string        `yaml:"path"`
}

type ServerConfig struct {
	Socket      string `yaml:"socket"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type WebConfig struct {
	FetchTTL       time.Duration `yaml:"fetch_ttl"`
	SearchTTL      time.Duration `yaml:"search_ttl"`
	SearchEndpoint string        `yaml:"search_endpoint"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	dir := StateDir()
	return Config{
		Cache: CacheConfig{
			MaxSize:    1000,
			DefaultTTL: 15 * time.Minute,
			KeyPrefix:  "web",
			Backend:    BackendLocal,
			Path:       filepath.Join(dir, "cache.bbolt"),
		},
		Server: ServerConfig{
			Socket: filepath.Join(dir, "cache.sock"),
		},
		Web: WebConfig{
			FetchTTL:       15 * time.Minute,
			SearchTTL:      5 * time.Minute,
			SearchEndpoint: "https://html.duckduckgo.com/html/",
		},
	}
}

// StateDir is where the socket and bolt file live by default.
func StateDir() string {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "."
	}
	return filepath.Join(home, ".cache", "memocache")
}

// Path resolves the config file: MEMOCACHE_CONFIG if set, otherwise the first
// existing memocache.yaml under $XDG_CONFIG_HOME or $HOME. It returns "" when
// there is none.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	for _, dir := range []string{os.Getenv("XDG_CONFIG_HOME"), os.Getenv("HOME")} {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, fileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Load reads path over the defaults and validates the result. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Source = path
	cfg.Cache.Path = expandHome(cfg.Cache.Path)
	cfg.Server.Socket = expandHome(cfg.Server.Socket)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values the cache constructors would reject, so a bad
// file fails at startup with its own name in the error.
func (c Config) Validate() error {
	var errs []error
	if c.Cache.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("cache.max_size %d: %w", c.Cache.MaxSize, cache.ErrInvalidCapacity))
	}
	if c.Cache.DefaultTTL < 0 {
		errs = append(errs, fmt.Errorf("cache.default_ttl %s: %w", c.Cache.DefaultTTL, cache.ErrInvalidTTL))
	}
	if strings.Contains(c.Cache.KeyPrefix, cache.KeySeparator) {
		errs = append(errs, fmt.Errorf("cache.key_prefix %q: %w", c.Cache.KeyPrefix, cache.ErrInvalidPrefix))
	}
	switch c.Cache.Backend {
	case BackendLocal:
	case BackendBolt:
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("cache.path is required for the bolt backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q: want %s or %s", c.Cache.Backend, BackendLocal, BackendBolt))
	}
	if c.Web.FetchTTL < 0 || c.Web.SearchTTL < 0 {
		errs = append(errs, fmt.Errorf("web ttls: %w", cache.ErrInvalidTTL))
	}
	return errors.Join(errs...)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
