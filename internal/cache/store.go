package cache

import (
	"sync"
	"time"

	"weather_station/internal/models"
)

// DefaultFreshnessWindow is how long a cached record is served without a
// new network call.
const DefaultFreshnessWindow = 5 * time.Minute

// Entry is one city's cached record plus the instant it was fetched.
// Entries are replaced wholesale on refetch, never partially updated.
type Entry struct {
	City            string
	Record          models.WeatherRecord
	FetchedAtMillis int64
}

// Store is a concurrency-safe per-city cache with a single slot per city.
// Lookups are keyed by the exact city string used in the request; there is
// deliberately no "most recent entry regardless of city" fallback.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]Entry)}
}

// Get returns the live entry for city, if any.
func (s *Store) Get(city string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[city]
	return e, ok
}

// Put replaces any existing entry for city.
func (s *Store) Put(city string, record models.WeatherRecord, fetchedAtMillis int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[city] = Entry{City: city, Record: record, FetchedAtMillis: fetchedAtMillis}
}

// Invalidate drops the entry for a single city. Used by refresh.
func (s *Store) Invalidate(city string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, city)
}

// Clear removes all entries. Used by explicit reset, not per-city refresh.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
}

// Len reports the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IsFresh reports whether the entry is still inside the freshness window at
// the given instant. The boundary is exclusive: an entry fetched at t stops
// being fresh exactly at t + window.
func IsFresh(e Entry, nowMillis int64, window time.Duration) bool {
	return nowMillis-e.FetchedAtMillis < window.Milliseconds()
}
