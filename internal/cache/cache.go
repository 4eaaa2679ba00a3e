// Package cache is the durable fingerprint → summary store. It is loaded in
// full at startup (evicting expired entries) and rewritten in full, atomically,
// at the end of a run. The store is the single owner of its entries; lookups
// and puts are its only mutation surface.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one cached summary. ContentHash records the article text the
// summary was generated from; a mismatch on lookup means the entry is stale.
type Entry struct {
	Summary     string    `json:"summary"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeen    time.Time `json:"last_seen"`
}

type fileFormat struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

const formatVersion = 1

// Store holds the in-memory cache between Load and Flush. Safe for concurrent
// use; writes for a fingerprint are serialized by the mutex, last write wins.
type Store struct {
	mu      sync.Mutex
	entries map[string]Entry
	evicted int
}

func New() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Load reads the cache file, dropping entries not referenced within the
// retention window. A missing file yields an empty store with no error. A
// corrupt or unreadable file yields an empty store AND an error: the caller
// logs it and proceeds cold, accepting higher API cost for the run.
func Load(path string, retention time.Duration, now time.Time) (*Store, error) {
	s := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("reading cache %s: %w", path, err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return s, fmt.Errorf("parsing cache %s: %w", path, err)
	}

	cutoff := now.Add(-retention)
	for fp, e := range f.Entries {
		ref := e.LastSeen
		if ref.IsZero() {
			ref = e.CreatedAt
		}
		if retention > 0 && ref.Before(cutoff) {
			s.evicted++
			continue
		}
		s.entries[fp] = e
	}
	return s, nil
}

// Lookup returns the entry for a fingerprint if it exists and its content
// hash still matches. A hit refreshes LastSeen so actively referenced
// entries survive eviction.
func (s *Store) Lookup(fingerprint, contentHash string, now time.Time) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[fingerprint]
	if !ok || e.ContentHash != contentHash {
		return Entry{}, false
	}
	e.LastSeen = now
	s.entries[fingerprint] = e
	return e, true
}

// Put records a freshly generated summary, overwriting any prior entry for
// the fingerprint. Idempotent under repeated stores.
func (s *Store) Put(fingerprint, contentHash, summary string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created := now
	if prev, ok := s.entries[fingerprint]; ok && !prev.CreatedAt.IsZero() {
		created = prev.CreatedAt
	}
	s.entries[fingerprint] = Entry{
		Summary:     summary,
		ContentHash: contentHash,
		CreatedAt:   created,
		LastSeen:    now,
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Evicted reports how many entries Load dropped as expired.
func (s *Store) Evicted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// Flush writes the store to disk via a temp file in the same directory
// followed by a rename, so a crash mid-write never leaves a corrupt cache.
func (s *Store) Flush(path string) error {
	s.mu.Lock()
	f := fileFormat{Version: formatVersion, Entries: make(map[string]Entry, len(s.entries))}
	for fp, e := range s.entries {
		f.Entries[fp] = e
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp cache file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing cache file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing cache %s: %w", path, err)
	}
	return nil
}
