// Package store provides the cache store used to persist built registries.
//
// DESIGN: Storage is partitioned into named bins (analogous to tables). Every
// entry has a cid, data, created time, expire marker and a serialized flag.
//
// Contract shared by all implementations:
//   - Get of a missing, expired or unreachable entry is a miss, never an error
//   - Set silently no-ops when storage fails
//   - Clear only errors when a wildcard truncate targets a bin that is not
//     cache-shaped (ErrInvalidBin), and then mutates nothing
//
// Implementations:
//   - MemoryStore: in-process maps with a cleanup goroutine
//   - SQLStore:    sqlite tables, one per bin
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Expire markers.
const (
	// Permanent entries are only removed by an explicit clear.
	Permanent int64 = 0
	// Temporary entries are removed by the next general clear of their bin.
	Temporary int64 = -1
)

// DefaultBin is the general-purpose bin.
const DefaultBin = "cache"

// Wildcard is the cid that truncates a whole bin when cleared with wildcard set.
const Wildcard = "*"

// CacheColumns lists the columns a bin must have to be truncated.
var CacheColumns = []string{"cid", "data", "expire", "created", "serialized"}

// ErrInvalidBin is returned when a wildcard truncate targets a non-cache bin.
var ErrInvalidBin = errors.New("invalid or missing cache bin")

var binNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Entry is a cached item.
type Entry struct {
	CID        string
	Data       []byte
	Created    time.Time
	Expire     int64
	Serialized bool
}

// Decode unpacks the entry into v. Raw entries can be decoded into *string or *[]byte.
func (e *Entry) Decode(v any) error {
	if e.Serialized {
		return Unmarshal(e.Data, v)
	}
	switch out := v.(type) {
	case *string:
		*out = string(e.Data)
	case *[]byte:
		*out = append([]byte(nil), e.Data...)
	default:
		return fmt.Errorf("cannot decode raw cache entry '%s' into %T", e.CID, v)
	}
	return nil
}

// Expired reports whether the entry has passed its expire timestamp.
func (e *Entry) Expired(now time.Time) bool {
	return e.Expire > 0 && e.Expire < now.Unix()
}

// Store defines the cache store interface.
type Store interface {
	// Get returns the entry for cid in bin. Misses, expired entries and
	// storage failures all return false.
	Get(ctx context.Context, bin, cid string) (*Entry, bool)

	// Set stores value under cid. Failures are logged and swallowed.
	Set(ctx context.Context, bin, cid string, value any, expire int64)

	// Clear removes entries. An empty cid removes temporary and expired
	// entries; wildcard treats cid as a prefix, "*" truncates the bin.
	Clear(ctx context.Context, bin, cid string, wildcard bool) error

	// Close releases resources.
	Close() error
}

// isCacheBinName reports whether the bin is a cache bin by naming convention.
func isCacheBinName(bin string) bool {
	return bin == DefaultBin || strings.HasPrefix(bin, DefaultBin+"_")
}

// hasCacheColumns reports whether columns include every cache column.
func hasCacheColumns(columns []string) bool {
	have := make(map[string]bool, len(columns))
	for _, c := range columns {
		have[strings.ToLower(c)] = true
	}
	for _, c := range CacheColumns {
		if !have[c] {
			return false
		}
	}
	return true
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	bins     map[string]map[string]*Entry
	mu       sync.RWMutex
	interval time.Duration
	stopChan chan struct{}
	stopped  bool
}

// NewMemoryStore creates a memory store whose cleanup goroutine removes expired
// entries every interval. A zero interval uses five minutes.
func NewMemoryStore(interval time.Duration) *MemoryStore {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s := &MemoryStore{
		bins:     make(map[string]map[string]*Entry),
		interval: interval,
		stopChan: make(chan struct{}),
	}

	go s.cleanup()

	return s
}

// Get retrieves an entry if it exists and hasn't expired.
func (s *MemoryStore) Get(_ context.Context, bin, cid string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.bins[bin][cid]
	if !ok || e.Expired(time.Now()) {
		return nil, false
	}
	cp := *e
	cp.Data = append([]byte(nil), e.Data...)
	return &cp, true
}

// Set stores value under cid.
func (s *MemoryStore) Set(_ context.Context, bin, cid string, value any, expire int64) {
	data, serialized, err := encodeValue(value)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if s.bins[bin] == nil {
		s.bins[bin] = make(map[string]*Entry)
	}
	s.bins[bin][cid] = &Entry{
		CID:        cid,
		Data:       data,
		Created:    time.Now(),
		Expire:     expire,
		Serialized: serialized,
	}
}

// Clear removes entries from bin.
func (s *MemoryStore) Clear(_ context.Context, bin, cid string, wildcard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, exists := s.bins[bin]

	if wildcard && cid == Wildcard {
		if !binNamePattern.MatchString(bin) || (!exists && !isCacheBinName(bin)) {
			return fmt.Errorf("%w: %s", ErrInvalidBin, bin)
		}
		delete(s.bins, bin)
		return nil
	}

	switch {
	case cid == "":
		now := time.Now()
		for key, e := range entries {
			if e.Expire == Temporary || e.Expired(now) {
				delete(entries, key)
			}
		}
	case wildcard:
		for key := range entries {
			if strings.HasPrefix(key, cid) {
				delete(entries, key)
			}
		}
	default:
		delete(entries, cid)
	}
	return nil
}

// Close stops the cleanup goroutine and clears data.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
		s.bins = make(map[string]map[string]*Entry)
	}
	return nil
}

// cleanup periodically removes expired entries.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.Lock()
			if !s.stopped {
				now := time.Now()
				for _, entries := range s.bins {
					for key, e := range entries {
						if e.Expired(now) {
							delete(entries, key)
						}
					}
				}
			}
			s.mu.Unlock()
		}
	}
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
