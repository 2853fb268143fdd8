// Package config carries the tuning knobs for the storage engine
// components: table layout, compression, caching, and the pluggable
// comparator and filter policy.
package config

import (
	"errors"
	"fmt"

	"github.com/granitedb/granite/pkg/keys"
	"github.com/granitedb/granite/pkg/sstable/filter"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// CompressionType selects the per-block compression codec. The values
// are persisted in block trailers and must not change.
type CompressionType int

const (
	// NoCompression stores blocks raw.
	NoCompression CompressionType = 0

	// SnappyCompression compresses blocks with snappy, kept only when
	// it actually shrinks the block.
	SnappyCompression CompressionType = 1
)

// Config holds the engine configuration. Zero values are filled in by
// NewDefaultConfig; Validate rejects nonsensical settings.
type Config struct {
	// Comparator orders user keys. Tables written with one comparator
	// must be read with a comparator of the same name.
	Comparator keys.Comparator

	// FilterPolicy, if non-nil, adds a filter block to every table and
	// consults it on reads. Nil disables filters.
	FilterPolicy filter.Policy

	// BlockSize is the uncompressed size threshold at which a data
	// block is cut.
	BlockSize int

	// BlockRestartInterval is the number of keys between restart
	// points in data blocks.
	BlockRestartInterval int

	// Compression selects the codec attempted for data blocks.
	Compression CompressionType

	// BlockCacheCapacity is the charge budget of the shared block
	// cache, in bytes.
	BlockCacheCapacity int

	// WriteBufferSize is the memtable size that triggers rotation.
	WriteBufferSize int64

	// ParanoidChecks makes readers verify checksums on every block
	// read, not only when a read option asks for it.
	ParanoidChecks bool
}

// NewDefaultConfig creates a Config with recommended default values.
func NewDefaultConfig() *Config {
	return &Config{
		Comparator:           keys.BytewiseComparator{},
		FilterPolicy:         nil,
		BlockSize:            4 * 1024,
		BlockRestartInterval: 16,
		Compression:          SnappyCompression,
		BlockCacheCapacity:   8 * 1024 * 1024,
		WriteBufferSize:      4 * 1024 * 1024,
	}
}

// InternalTableConfig derives the configuration the table layer uses
// when storing versioned keys: the comparator is lifted to internal
// keys and the filter policy is wrapped to strip trailers.
func (c *Config) InternalTableConfig() *Config {
	tc := *c
	tc.Comparator = keys.NewInternalKeyComparator(c.Comparator)
	if c.FilterPolicy != nil {
		tc.FilterPolicy = filter.NewInternalPolicy(c.FilterPolicy)
	}
	return &tc
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Comparator == nil {
		return fmt.Errorf("%w: comparator must be set", ErrInvalidConfig)
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("%w: block size must be positive", ErrInvalidConfig)
	}
	if c.BlockRestartInterval < 1 {
		return fmt.Errorf("%w: block restart interval must be at least 1", ErrInvalidConfig)
	}
	if c.Compression != NoCompression && c.Compression != SnappyCompression {
		return fmt.Errorf("%w: unknown compression type %d", ErrInvalidConfig, c.Compression)
	}
	if c.BlockCacheCapacity < 0 {
		return fmt.Errorf("%w: block cache capacity must not be negative", ErrInvalidConfig)
	}
	if c.WriteBufferSize <= 0 {
		return fmt.Errorf("%w: write buffer size must be positive", ErrInvalidConfig)
	}
	return nil
}
