// Package cache implements the in-memory, TTL-refreshed instrument cache
// that sits in front of the instrument metadata store.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"investloader/internal/domain"
	"investloader/internal/store"
)

// Status describes the freshness of one type's cache entry.
type Status string

const (
	StatusEmpty Status = "empty"
	StatusFresh Status = "fresh"
	StatusStale Status = "stale"
)

// EntryStatus is the observable state of a cache entry.
type EntryStatus struct {
	Status    Status    `json:"status"`
	LoadedAt  time.Time `json:"loadedAt"`
	Count     int       `json:"count"`
	LastError string    `json:"lastError,omitempty"`
}

// snapshot is an immutable view of one instrument type. Readers always see a
// whole snapshot: refresh publishes a new one atomically and never mutates a
// published slice.
type snapshot struct {
	instruments []domain.Instrument
	loadedAt    time.Time
	stale       bool
	lastErr     error
}

type entry struct {
	mu   sync.Mutex // serialises refresh, not reads
	snap atomic.Pointer[snapshot]
}

// InstrumentCache serves instrument identity records with at most one
// metadata-store query per TTL window per type. On refresh failure the
// last-known-good snapshot is served and marked stale.
type InstrumentCache struct {
	meta    store.InstrumentStore
	ttl     time.Duration
	entries map[domain.InstrumentType]*entry
	log     *slog.Logger
}

// NewInstrumentCache creates a cache over the given metadata store with the
// given TTL. A non-positive ttl disables expiry (explicit Invalidate only).
func NewInstrumentCache(meta store.InstrumentStore, ttl time.Duration, log *slog.Logger) *InstrumentCache {
	entries := make(map[domain.InstrumentType]*entry, len(domain.AllInstrumentTypes))
	for _, t := range domain.AllInstrumentTypes {
		entries[t] = &entry{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &InstrumentCache{
		meta:    meta,
		ttl:     ttl,
		entries: entries,
		log:     log.With("component", "instrument-cache"),
	}
}

// Resolve returns the instruments of the requested type, optionally filtered.
// The returned slice is owned by the caller. Ordering follows the metadata
// store (FIGI order).
func (c *InstrumentCache) Resolve(ctx context.Context, t domain.InstrumentType, filter func(domain.Instrument) bool) ([]domain.Instrument, error) {
	e, ok := c.entries[t]
	if !ok {
		return nil, fmt.Errorf("unknown instrument type %q", t)
	}

	snap := e.snap.Load()
	if snap == nil || c.expired(snap) {
		snap = c.refresh(ctx, t, e)
	}
	if snap == nil {
		return nil, fmt.Errorf("instrument cache for %s unavailable and no snapshot to fall back on", t)
	}

	out := make([]domain.Instrument, 0, len(snap.instruments))
	for _, in := range snap.instruments {
		if filter == nil || filter(in) {
			out = append(out, in)
		}
	}
	return out, nil
}

// Invalidate drops the cached snapshot for the given type, forcing a
// metadata-store query on the next Resolve. An empty type invalidates all.
func (c *InstrumentCache) Invalidate(t domain.InstrumentType) {
	if t == "" {
		for _, e := range c.entries {
			e.snap.Store(nil)
		}
		return
	}
	if e, ok := c.entries[t]; ok {
		e.snap.Store(nil)
	}
}

// Status returns the freshness of the cache entry for the given type.
func (c *InstrumentCache) Status(t domain.InstrumentType) EntryStatus {
	e, ok := c.entries[t]
	if !ok {
		return EntryStatus{Status: StatusEmpty}
	}
	snap := e.snap.Load()
	if snap == nil {
		return EntryStatus{Status: StatusEmpty}
	}
	st := EntryStatus{
		Status:   StatusFresh,
		LoadedAt: snap.loadedAt,
		Count:    len(snap.instruments),
	}
	if snap.stale {
		st.Status = StatusStale
		if snap.lastErr != nil {
			st.LastError = snap.lastErr.Error()
		}
	}
	return st
}

func (c *InstrumentCache) expired(s *snapshot) bool {
	if c.ttl <= 0 {
		return false
	}
	return time.Since(s.loadedAt) > c.ttl
}

// refresh queries the metadata store for one type and publishes a new
// snapshot. On failure it republishes the previous snapshot flagged stale.
// Only one refresh per type runs at a time; concurrent readers keep serving
// the old snapshot meanwhile.
func (c *InstrumentCache) refresh(ctx context.Context, t domain.InstrumentType, e *entry) *snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have refreshed while we waited on the lock.
	if snap := e.snap.Load(); snap != nil && !c.expired(snap) {
		return snap
	}

	instruments, err := c.meta.ListInstruments(ctx, t)
	if err != nil {
		prev := e.snap.Load()
		c.log.Warn("instrument refresh failed",
			"type", string(t),
			"err", err,
			"fallback", prev != nil,
		)
		if prev == nil {
			return nil
		}
		staled := &snapshot{
			instruments: prev.instruments,
			loadedAt:    prev.loadedAt,
			stale:       true,
			lastErr:     err,
		}
		e.snap.Store(staled)
		return staled
	}

	fresh := &snapshot{instruments: instruments, loadedAt: time.Now()}
	e.snap.Store(fresh)
	c.log.Debug("instrument cache refreshed", "type", string(t), "count", len(instruments))
	return fresh
}
