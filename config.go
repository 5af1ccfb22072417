package acorn

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mattnlane/acorn/internal/pstore"
	"github.com/tailscale/hujson"
)

// DefaultMaxNumOpenSegments bounds the segment descriptor cache absent
// explicit configuration.
const DefaultMaxNumOpenSegments = pstore.DefaultMaxNumOpenSegments

// DefaultMaxWalGenerationSize is the append-size threshold past which the
// WAL opportunistically submits a checkpoint.
const DefaultMaxWalGenerationSize int64 = 64 << 20 // 64 MiB

// DefaultCheckpointPeriod is how often the background checkpoint loop
// fires absent explicit configuration.
const DefaultCheckpointPeriod = 30 * time.Second

// DefaultPageSize is the page size tag written into new generation and
// segment file headers.
const DefaultPageSize uint16 = 4096

// DefaultMaxPageCacheEntries bounds the in-memory page table Engine uses
// in place of the out-of-scope buffer cache.
const DefaultMaxPageCacheEntries = 256

// Config holds every tunable Acorn operator-facing setting. Zero values
// fall back to the Default* constants via Normalize.
type Config struct {
	// PageSize is the page-body size tag recorded in generation and
	// segment file headers; it must match across every Open of an
	// existing database.
	PageSize uint16 `json:"page_size"`
	// BigEndian selects the byte order tag recorded in file headers. Like
	// PageSize, it must match on every Open of an existing database.
	BigEndian bool `json:"big_endian"`
	// MaxNumOpenSegments bounds how many segment file descriptors stay
	// open at once.
	MaxNumOpenSegments int `json:"max_num_open_segments"`
	// MaxWalGenerationSize is the append-size threshold that triggers an
	// opportunistic checkpoint.
	MaxWalGenerationSize int64 `json:"max_wal_generation_size"`
	// CheckpointPeriod is how often the background checkpoint loop fires.
	// Zero falls back to DefaultCheckpointPeriod; a negative value disables
	// the periodic loop (opportunistic checkpoints still run).
	CheckpointPeriod time.Duration `json:"checkpoint_period"`
	// CheckpointPoolSize bounds how many checkpoints may run at once.
	CheckpointPoolSize int `json:"checkpoint_pool_size"`
	// MaxPageCacheEntries bounds the in-memory page table.
	MaxPageCacheEntries int `json:"max_page_cache_entries"`
}

// Normalize returns a copy of cfg with each zero-valued field that has a
// Default* constant replaced by it. BigEndian and CheckpointPoolSize are
// left as they are.
func (cfg Config) Normalize() Config {
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxNumOpenSegments <= 0 {
		cfg.MaxNumOpenSegments = DefaultMaxNumOpenSegments
	}
	if cfg.MaxWalGenerationSize <= 0 {
		cfg.MaxWalGenerationSize = DefaultMaxWalGenerationSize
	}
	if cfg.CheckpointPeriod == 0 {
		cfg.CheckpointPeriod = DefaultCheckpointPeriod
	}
	if cfg.MaxPageCacheEntries <= 0 {
		cfg.MaxPageCacheEntries = DefaultMaxPageCacheEntries
	}
	return cfg
}

// LoadConfig reads a JSON-with-comments config file (trailing commas and
// `//`/`/* */` comments allowed) and decodes it into a Config, leaving
// every key it doesn't mention at its zero value for Normalize to fill in.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, newError("load config", KindFile, err)
	}
	standard, err := hujson.Standardize(raw)
	if err != nil {
		return Config{}, newError("load config", KindFile, fmt.Errorf("parse %s: %w", path, err))
	}
	var cfg Config
	if err := json.Unmarshal(standard, &cfg); err != nil {
		return Config{}, newError("load config", KindFile, fmt.Errorf("decode %s: %w", path, err))
	}
	return cfg, nil
}
