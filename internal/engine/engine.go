package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"weather_station/internal/cache"
	"weather_station/internal/clock"
	"weather_station/internal/gateway"
	"weather_station/internal/logger"
	"weather_station/internal/metrics"
	"weather_station/internal/models"
	"weather_station/internal/repository"
	"weather_station/internal/units"
)

// ErrInvalidCityName is returned for input that never reaches cache or
// network: city names must be 2-50 characters of letters, spaces, hyphens
// or apostrophes.
var ErrInvalidCityName = errors.New("invalid city name: must be 2-50 letters, spaces, hyphens or apostrophes")

var cityNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z' -]{1,49}$`)

const (
	defaultCity         = "London"
	defaultFetchTimeout = 10 * time.Second
	eventAppendTimeout  = 2 * time.Second
)

// Config tunes a new engine. Zero values fall back to defaults.
type Config struct {
	DefaultCity     string
	DefaultUnit     models.Unit
	FreshnessWindow time.Duration
	FetchTimeout    time.Duration
}

// Engine owns the observable weather state: it coalesces duplicate
// requests, serves fresh cache entries without touching the network,
// dispatches fetches, discards responses whose originating request was
// superseded, and notifies subscribers once per committed transition.
// All state mutation is serialized under a single mutex, so a network
// callback and a user command never interleave a partial update.
type Engine struct {
	gw     gateway.Gateway
	store  *cache.Store
	clock  clock.Clock
	events repository.EventRepo // optional audit trail, may be nil
	log    *logger.Logger

	cfg Config

	mu          sync.Mutex
	phase       models.Phase
	city        string
	record      *models.WeatherRecord
	loading     bool
	lastError   string
	unit        models.Unit
	lastUpdated int64
	seq         uint64 // bumped per dispatched fetch; stale responses fail the seq check
	version     uint64 // bumped per committed transition; orders deliveries

	subs    map[uint64]*subscriber
	nextSub uint64
}

// subscriber serializes deliveries to one callback. Two transitions can
// commit back to back and race to deliver; the version check drops the
// older snapshot so an observer never regresses to state it has already
// moved past.
type subscriber struct {
	mu          sync.Mutex
	fn          func(models.EngineSnapshot)
	lastVersion uint64
}

// New constructs an engine in the Idle phase. The engine is built once and
// injected into the presentation layer; there is no ambient singleton.
func New(gw gateway.Gateway, store *cache.Store, clk clock.Clock, events repository.EventRepo, log *logger.Logger, cfg Config) *Engine {
	if cfg.DefaultCity == "" {
		cfg.DefaultCity = defaultCity
	}
	if cfg.DefaultUnit == "" {
		cfg.DefaultUnit = models.UnitCelsius
	}
	if cfg.FreshnessWindow <= 0 {
		cfg.FreshnessWindow = cache.DefaultFreshnessWindow
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	return &Engine{
		gw:     gw,
		store:  store,
		clock:  clk,
		events: events,
		log:    log,
		cfg:    cfg,
		phase:  models.PhaseIdle,
		city:   cfg.DefaultCity,
		unit:   cfg.DefaultUnit,
		subs:   make(map[uint64]*subscriber),
	}
}

// RequestWeather resolves the city from cache when fresh, otherwise
// dispatches a network fetch. A request for the city already loading is
// coalesced into the in-flight fetch. Only validation failures are
// returned as errors; fetch failures surface as a Failed transition.
func (e *Engine) RequestWeather(city string) error {
	if !cityNamePattern.MatchString(city) {
		return ErrInvalidCityName
	}

	e.mu.Lock()
	if e.loading && city == e.city {
		e.mu.Unlock()
		return nil
	}

	e.city = city
	now := clock.Millis(e.clock.Now())

	if entry, ok := e.store.Get(city); ok && cache.IsFresh(entry, now, e.cfg.FreshnessWindow) {
		rec := entry.Record
		e.record = &rec
		e.phase = models.PhaseLoaded
		e.loading = false
		e.lastError = ""
		e.lastUpdated = entry.FetchedAtMillis
		snap := e.commitLocked()
		e.mu.Unlock()

		metrics.CacheHitTotal.Inc()
		e.appendEvent(city, models.EventCacheHit, "served from cache", nil)
		e.notify(snap)
		return nil
	}

	e.seq++
	seq := e.seq
	e.phase = models.PhaseLoading
	e.loading = true
	e.lastError = ""
	snap := e.commitLocked()
	e.mu.Unlock()

	metrics.CacheMissTotal.Inc()
	e.appendEvent(city, models.EventRequest, "network fetch dispatched", nil)
	e.notify(snap)
	go e.fetch(city, seq)
	return nil
}

// Refresh invalidates the current city's cache entry and re-requests it.
func (e *Engine) Refresh() error {
	e.mu.Lock()
	city := e.city
	e.store.Invalidate(city)
	e.mu.Unlock()
	return e.RequestWeather(city)
}

// ToggleUnit flips the display unit preference. It touches neither network
// nor cache; observers are notified so formatted strings re-render.
func (e *Engine) ToggleUnit() {
	e.mu.Lock()
	e.unit = e.unit.Toggled()
	snap := e.commitLocked()
	e.mu.Unlock()
	e.notify(snap)
}

// Clear resets the engine to Idle: record dropped, all cache entries
// removed, unit preference and city back to defaults, error cleared. Any
// in-flight response is invalidated by bumping the request sequence.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.seq++
	e.phase = models.PhaseIdle
	e.city = e.cfg.DefaultCity
	e.record = nil
	e.loading = false
	e.lastError = ""
	e.unit = e.cfg.DefaultUnit
	e.lastUpdated = 0
	e.store.Clear()
	snap := e.commitLocked()
	e.mu.Unlock()

	e.appendEvent("", models.EventClear, "engine reset", nil)
	e.notify(snap)
}

// Snapshot returns an immutable copy of the engine state.
func (e *Engine) Snapshot() models.EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Subscribe registers a change callback and returns its unsubscribe
// function. Callbacks run synchronously after each committed transition
// and must not block.
func (e *Engine) Subscribe(fn func(models.EngineSnapshot)) func() {
	e.mu.Lock()
	e.nextSub++
	id := e.nextSub
	e.subs[id] = &subscriber{fn: fn}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// fetch runs off the caller's goroutine; the fetch lifetime is independent
// of the inbound command so an HTTP handler returning early cannot cancel
// it. A panicking gateway resolves to a Failed transition instead of
// crashing the engine.
func (e *Engine) fetch(city string, seq uint64) {
	defer func() {
		if r := recover(); r != nil {
			e.apply(city, seq, models.RawWeatherPayload{}, fmt.Errorf("%v", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FetchTimeout)
	defer cancel()

	payload, err := e.gw.Fetch(ctx, city)
	e.apply(city, seq, payload, err)
}

// apply commits a fetch result. A response is discarded when a newer fetch
// was dispatched or the current city changed since it left — a slow
// response for city A must never overwrite city B's display.
func (e *Engine) apply(city string, seq uint64, payload models.RawWeatherPayload, fetchErr error) {
	e.mu.Lock()
	if seq != e.seq || city != e.city {
		e.mu.Unlock()
		metrics.StaleDiscardTotal.Inc()
		e.appendEvent(city, models.EventStaleDiscard, "late response discarded", nil)
		if e.log != nil {
			e.log.Infow("stale_response_discarded", "city", city)
		}
		return
	}

	if fetchErr != nil {
		msg := describeFailure(fetchErr)
		e.phase = models.PhaseFailed
		e.loading = false
		// previous record intentionally kept: stale display with an error
		// banner beats a blank screen
		e.lastError = msg
		snap := e.commitLocked()
		e.mu.Unlock()

		metrics.FetchTotal.WithLabelValues("fail").Inc()
		e.appendEvent(city, models.EventFetchFail, msg, nil)
		e.notify(snap)
		return
	}

	rec := models.WeatherRecord{
		City:            city,
		TemperatureK:    payload.TemperatureK,
		FeelsLikeK:      payload.FeelsLikeK,
		Description:     titleCase(payload.Description),
		HumidityPercent: payload.HumidityPercent,
		WindSpeedMps:    payload.WindSpeedMps,
		PressureHpa:     payload.PressureHpa,
		Icon:            payload.Icon,
	}
	now := clock.Millis(e.clock.Now())
	e.store.Put(city, rec, now)
	e.record = &rec
	e.phase = models.PhaseLoaded
	e.loading = false
	e.lastError = ""
	e.lastUpdated = now
	snap := e.commitLocked()
	e.mu.Unlock()

	metrics.FetchTotal.WithLabelValues("ok").Inc()
	e.appendEvent(city, models.EventFetchOK, "fetch succeeded", map[string]any{
		"temperature_k": rec.TemperatureK,
	})
	e.notify(snap)
}

// commitLocked stamps a new version on the transition being committed and
// returns the snapshot to deliver for it.
func (e *Engine) commitLocked() models.EngineSnapshot {
	e.version++
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() models.EngineSnapshot {
	snap := models.EngineSnapshot{
		Version:           e.version,
		Phase:             e.phase,
		City:              e.city,
		IsLoading:         e.loading,
		LastError:         e.lastError,
		Unit:              e.unit,
		LastUpdatedMillis: e.lastUpdated,
	}
	if e.record != nil {
		rec := *e.record
		snap.Record = &rec
		snap.TemperatureText = units.Format(rec.TemperatureK, e.unit)
		snap.FeelsLikeText = units.Format(rec.FeelsLikeK, e.unit)
	}
	return snap
}

// notify delivers one snapshot per committed transition, in subscription
// order, outside the state lock. Per-subscriber delivery is serialized and
// version-checked: when two commits race here, each observer receives the
// snapshots in commit order, with any inverted one dropped in favor of the
// newer state it already holds.
func (e *Engine) notify(snap models.EngineSnapshot) {
	e.mu.Lock()
	ids := make([]uint64, 0, len(e.subs))
	for id := range e.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]*subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, e.subs[id])
	}
	e.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if snap.Version > sub.lastVersion {
			sub.lastVersion = snap.Version
			sub.fn(snap)
		}
		sub.mu.Unlock()
	}
}

// appendEvent writes a best-effort audit entry; failures are logged, never
// propagated into the command path.
func (e *Engine) appendEvent(city, typ, desc string, meta any) {
	if e.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), eventAppendTimeout)
	defer cancel()

	err := e.events.Append(ctx, models.FetchEvent{
		OccurredAt:  e.clock.Now().UTC(),
		City:        city,
		Type:        typ,
		Description: desc,
		Metadata:    meta,
	})
	if err != nil && e.log != nil {
		e.log.Errorw("event_append_failed", "err", err, "type", typ)
	}
}

// describeFailure maps gateway errors onto user-visible messages; anything
// that is not a typed FetchError becomes an unexpected-failure message.
func describeFailure(err error) string {
	var fe *gateway.FetchError
	if errors.As(err, &fe) {
		return fe.Error()
	}
	return "unexpected failure: " + err.Error()
}

// titleCase normalizes a wire description like "scattered clouds" to
// "Scattered Clouds".
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
