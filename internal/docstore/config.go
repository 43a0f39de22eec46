package docstore

import (
	"fmt"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
)

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Config holds document store configuration.
type Config struct {
	// Path is the directory of the persistent collection.
	Path       string
	Collection string
	Compress   bool
	// Ephemeral skips the persistent store and serves from memory.
	Ephemeral bool

	// ContentCharLimit is the ceiling, in runes, applied to each record
	// before embedding.
	ContentCharLimit int
	// BatchSize is the number of records embedded and written together.
	BatchSize      int
	MaxResults     int
	DefaultResults int

	EmbedTimeout time.Duration
	QueryTimeout time.Duration

	// DedupByContentHash skips records whose exact content is already
	// indexed. Off by default: duplicates are added as new entries.
	DedupByContentHash bool
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "./chroma_db"
	}
	if c.Collection == "" {
		c.Collection = "company_docs"
	}
	if c.ContentCharLimit == 0 {
		c.ContentCharLimit = 2000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 16
	}
	if c.MaxResults == 0 {
		c.MaxResults = 50
	}
	if c.DefaultResults == 0 {
		c.DefaultResults = 20
	}
	if c.DefaultResults > c.MaxResults {
		c.DefaultResults = c.MaxResults
	}
	if c.EmbedTimeout == 0 {
		c.EmbedTimeout = 60 * time.Second
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !collectionNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, c.Collection)
	}
	if c.ContentCharLimit < 1 {
		return fmt.Errorf("%w: content char limit must be positive", ErrInvalidConfig)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.MaxResults < 1 {
		return fmt.Errorf("%w: max results must be positive", ErrInvalidConfig)
	}
	if c.EmbedTimeout < 0 || c.QueryTimeout < 0 {
		return fmt.Errorf("%w: timeouts must not be negative", ErrInvalidConfig)
	}
	return nil
}

// FromSettings maps the user-facing store settings.
func FromSettings(s config.StoreConfig) Config {
	return Config{
		Path:               s.Path,
		Collection:         s.Collection,
		Compress:           s.Compress,
		Ephemeral:          s.Ephemeral,
		ContentCharLimit:   s.ContentCharLimit,
		BatchSize:          s.BatchSize,
		MaxResults:         s.MaxResults,
		DefaultResults:     s.DefaultResults,
		EmbedTimeout:       s.EmbedTimeout.Duration(),
		QueryTimeout:       s.QueryTimeout.Duration(),
		DedupByContentHash: s.DedupByContentHash,
	}
}
