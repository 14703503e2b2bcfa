package engine

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"weather_station/internal/cache"
	"weather_station/internal/clock"
	"weather_station/internal/gateway"
	"weather_station/internal/models"
	"weather_station/internal/repository"
)

// fetchResult is one scripted gateway resolution.
type fetchResult struct {
	payload models.RawWeatherPayload
	err     error
}

// scriptedGateway resolves fetches either immediately or when the test
// releases a per-city gate. Gated fetches let tests overlap in-flight
// requests deterministically.
type scriptedGateway struct {
	mu      sync.Mutex
	calls   []string
	gates   map[string]chan fetchResult
	instant map[string]fetchResult
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{
		gates:   make(map[string]chan fetchResult),
		instant: make(map[string]fetchResult),
	}
}

func (g *scriptedGateway) Fetch(ctx context.Context, city string) (models.RawWeatherPayload, error) {
	g.mu.Lock()
	g.calls = append(g.calls, city)
	gate := g.gates[city]
	res, scripted := g.instant[city]
	g.mu.Unlock()

	if gate != nil {
		select {
		case r := <-gate:
			return r.payload, r.err
		case <-ctx.Done():
			return models.RawWeatherPayload{}, &gateway.FetchError{Kind: gateway.ErrTimeout}
		}
	}
	if scripted {
		return res.payload, res.err
	}
	return payloadFor(city), nil
}

// gate makes fetches for city block until resolve is called.
func (g *scriptedGateway) gate(city string) chan fetchResult {
	ch := make(chan fetchResult, 1)
	g.mu.Lock()
	g.gates[city] = ch
	g.mu.Unlock()
	return ch
}

// failWith makes fetches for city resolve immediately with err.
func (g *scriptedGateway) failWith(city string, err error) {
	g.mu.Lock()
	g.instant[city] = fetchResult{err: err}
	g.mu.Unlock()
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func payloadFor(city string) models.RawWeatherPayload {
	return models.RawWeatherPayload{
		TemperatureK:    290,
		FeelsLikeK:      289,
		Description:     "scattered clouds",
		HumidityPercent: 80,
		WindSpeedMps:    4.1,
		PressureHpa:     1012,
		Icon:            "03d",
	}
}

// recordingEvents captures audit entries so tests can observe transitions
// that leave no snapshot trace, such as stale discards.
type recordingEvents struct {
	mu     sync.Mutex
	events []models.FetchEvent
}

func (r *recordingEvents) Append(ctx context.Context, ev models.FetchEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) List(ctx context.Context, f repository.EventFilter) ([]models.FetchEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.FetchEvent{}, r.events...), nil
}

func (r *recordingEvents) countOf(typ string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

// snapshotCollector is a subscriber that records every delivered snapshot.
type snapshotCollector struct {
	mu    sync.Mutex
	snaps []models.EngineSnapshot
}

func (c *snapshotCollector) add(s models.EngineSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *snapshotCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

func (c *snapshotCollector) at(i int) models.EngineSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snaps[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("timed out waiting for %s", what)
	}
}

func newTestEngine(gw gateway.Gateway, clk clock.Clock) (*Engine, *recordingEvents) {
	events := &recordingEvents{}
	e := New(gw, cache.NewStore(), clk, events, nil, Config{})
	return e, events
}

func waitForPhase(t *testing.T, e *Engine, phase models.Phase) models.EngineSnapshot {
	t.Helper()
	waitFor(t, "phase "+string(phase), func() bool {
		return e.Snapshot().Phase == phase && !e.Snapshot().IsLoading
	})
	return e.Snapshot()
}

func TestEngine_StartsIdle(t *testing.T) {
	e, _ := newTestEngine(newScriptedGateway(), clock.System{})

	snap := e.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Errorf("expected IDLE, got %v", snap.Phase)
	}
	if snap.City != "London" {
		t.Errorf("expected default city London, got %q", snap.City)
	}
	if snap.Unit != models.UnitCelsius {
		t.Errorf("expected default unit CELSIUS, got %v", snap.Unit)
	}
	if snap.Record != nil {
		t.Errorf("expected nil record at start")
	}
}

func TestEngine_FetchAndFormat(t *testing.T) {
	gw := newScriptedGateway()
	e, _ := newTestEngine(gw, clock.System{})

	if err := e.RequestWeather("London"); err != nil {
		t.Fatalf("RequestWeather returned error: %v", err)
	}
	snap := waitForPhase(t, e, models.PhaseLoaded)

	if snap.Record == nil {
		t.Fatalf("expected record after load")
	}
	if snap.Record.TemperatureK != 290 {
		t.Errorf("expected 290 K stored, got %v", snap.Record.TemperatureK)
	}
	if snap.TemperatureText != "17°C" {
		t.Errorf("expected '17°C', got %q", snap.TemperatureText)
	}
	if snap.Record.Description != "Scattered Clouds" {
		t.Errorf("expected title-cased description, got %q", snap.Record.Description)
	}

	// Toggling re-renders the same stored Kelvin value without refetching.
	before := gw.callCount()
	e.ToggleUnit()
	snap = e.Snapshot()
	if snap.TemperatureText != "62°F" {
		t.Errorf("expected '62°F' after toggle, got %q", snap.TemperatureText)
	}
	e.ToggleUnit()
	snap = e.Snapshot()
	if snap.TemperatureText != "17°C" {
		t.Errorf("expected '17°C' after double toggle, got %q", snap.TemperatureText)
	}
	if gw.callCount() != before {
		t.Errorf("toggle must not touch the network: %d -> %d calls", before, gw.callCount())
	}
}

func TestEngine_CacheServesRepeatRequest(t *testing.T) {
	gw := newScriptedGateway()
	e, events := newTestEngine(gw, clock.System{})

	// A, then B, then A again: the third request must come from cache.
	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitForPhase(t, e, models.PhaseLoaded)
	if err := e.RequestWeather("Paris"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "Paris loaded", func() bool {
		s := e.Snapshot()
		return s.Phase == models.PhaseLoaded && s.City == "Paris"
	})
	if gw.callCount() != 2 {
		t.Fatalf("expected 2 fetches so far, got %d", gw.callCount())
	}

	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	snap := e.Snapshot()
	if snap.Phase != models.PhaseLoaded || snap.City != "London" {
		t.Errorf("expected immediate LOADED London from cache, got %+v", snap)
	}
	if snap.IsLoading {
		t.Errorf("cache hit must not enter loading")
	}
	if gw.callCount() != 2 {
		t.Errorf("cache hit must not fetch: got %d calls", gw.callCount())
	}
	if events.countOf(models.EventCacheHit) != 1 {
		t.Errorf("expected 1 cache-hit event, got %d", events.countOf(models.EventCacheHit))
	}
}

func TestEngine_FreshnessBoundary(t *testing.T) {
	gw := newScriptedGateway()
	fake := clock.NewFake(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	e, _ := newTestEngine(gw, fake)

	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitForPhase(t, e, models.PhaseLoaded)
	if gw.callCount() != 1 {
		t.Fatalf("expected 1 fetch, got %d", gw.callCount())
	}

	// One millisecond inside the window: still a cache hit.
	fake.Advance(cache.DefaultFreshnessWindow - time.Millisecond)
	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	if gw.callCount() != 1 {
		t.Errorf("entry inside window must be served from cache, got %d calls", gw.callCount())
	}

	// Exactly at the window boundary the entry is stale.
	fake.Advance(time.Millisecond)
	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "refetch dispatched", func() bool { return gw.callCount() == 2 })
	waitForPhase(t, e, models.PhaseLoaded)
}

func TestEngine_CoalescesDuplicateRequests(t *testing.T) {
	gw := newScriptedGateway()
	gate := gw.gate("London")
	e, _ := newTestEngine(gw, clock.System{})

	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first fetch dispatched", func() bool { return gw.callCount() == 1 })

	// A duplicate request while the same city is loading is a no-op.
	if err := e.RequestWeather("London"); err != nil {
		t.Fatalf("coalesced request must not error: %v", err)
	}
	if gw.callCount() != 1 {
		t.Fatalf("duplicate request dispatched a second fetch: %d calls", gw.callCount())
	}
	snap := e.Snapshot()
	if snap.Phase != models.PhaseLoading || !snap.IsLoading {
		t.Errorf("expected LOADING while gated, got %+v", snap)
	}

	gate <- fetchResult{payload: payloadFor("London")}
	snap = waitForPhase(t, e, models.PhaseLoaded)
	if snap.Record == nil || snap.Record.City != "London" {
		t.Errorf("expected London record after resolve, got %+v", snap.Record)
	}
}

func TestEngine_DiscardsStaleResponseAfterCitySwitch(t *testing.T) {
	gw := newScriptedGateway()
	gate := gw.gate("London")
	e, events := newTestEngine(gw, clock.System{})

	// London hangs; Paris is requested and resolves first.
	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "London fetch dispatched", func() bool { return gw.callCount() == 1 })
	if err := e.RequestWeather("Paris"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "Paris loaded", func() bool {
		s := e.Snapshot()
		return s.Phase == models.PhaseLoaded && s.City == "Paris"
	})

	// The late London response must not overwrite Paris.
	gate <- fetchResult{payload: payloadFor("London")}
	waitFor(t, "stale discard recorded", func() bool {
		return events.countOf(models.EventStaleDiscard) == 1
	})

	snap := e.Snapshot()
	if snap.City != "Paris" || snap.Phase != models.PhaseLoaded {
		t.Errorf("stale response leaked into state: %+v", snap)
	}
	if snap.Record == nil || snap.Record.City != "Paris" {
		t.Errorf("expected Paris record preserved, got %+v", snap.Record)
	}
}

func TestEngine_DiscardsStaleResponseAfterCacheHitSwitch(t *testing.T) {
	gw := newScriptedGateway()
	e, events := newTestEngine(gw, clock.System{})

	// Warm the cache for Paris first.
	if err := e.RequestWeather("Paris"); err != nil {
		t.Fatal(err)
	}
	waitForPhase(t, e, models.PhaseLoaded)

	// London hangs; switching back to Paris is a pure cache hit, so no new
	// fetch sequence exists to invalidate the London response. The city
	// check alone must reject it.
	gate := gw.gate("London")
	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "London fetch dispatched", func() bool { return gw.callCount() == 2 })
	if err := e.RequestWeather("Paris"); err != nil {
		t.Fatal(err)
	}

	gate <- fetchResult{payload: payloadFor("London")}
	waitFor(t, "stale discard recorded", func() bool {
		return events.countOf(models.EventStaleDiscard) == 1
	})

	snap := e.Snapshot()
	if snap.City != "Paris" || snap.Record == nil || snap.Record.City != "Paris" {
		t.Errorf("late response overwrote a cache-hit switch: %+v", snap)
	}
}

func TestEngine_RejectsInvalidCityName(t *testing.T) {
	gw := newScriptedGateway()
	e, events := newTestEngine(gw, clock.System{})

	var notified int
	unsubscribe := e.Subscribe(func(models.EngineSnapshot) { notified++ })
	defer unsubscribe()

	before := e.Snapshot()
	invalid := []string{
		"",
		"x",
		strings.Repeat("x", 51), // one past the 50-character cap
		"123",
		"München",
		"London; DROP TABLE",
		"   ",
	}
	for _, city := range invalid {
		if err := e.RequestWeather(city); !errors.Is(err, ErrInvalidCityName) {
			t.Errorf("city %q: expected ErrInvalidCityName, got %v", city, err)
		}
	}

	if gw.callCount() != 0 {
		t.Errorf("invalid input reached the gateway: %d calls", gw.callCount())
	}
	if notified != 0 {
		t.Errorf("invalid input must not notify observers, got %d", notified)
	}
	if !reflect.DeepEqual(before, e.Snapshot()) {
		t.Errorf("invalid input mutated state:\nbefore %+v\nafter  %+v", before, e.Snapshot())
	}
	if len(events.events) != 0 {
		t.Errorf("invalid input must not be audited, got %d events", len(events.events))
	}
}

func TestEngine_AcceptsValidCityNames(t *testing.T) {
	cities := []string{
		"London",
		"New York",
		"Stoke-on-Trent",
		"N'Djamena",
		strings.Repeat("x", 50), // exactly at the cap
	}
	for _, city := range cities {
		if !cityNamePattern.MatchString(city) {
			t.Errorf("city %q should be accepted", city)
		}
	}
}

func TestEngine_FailureKeepsPreviousRecord(t *testing.T) {
	gw := newScriptedGateway()
	e, _ := newTestEngine(gw, clock.System{})

	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitForPhase(t, e, models.PhaseLoaded)

	gw.failWith("London", &gateway.FetchError{Kind: gateway.ErrUnreachable})
	if err := e.Refresh(); err != nil {
		t.Fatalf("Refresh returned error: %v", err)
	}
	snap := waitForPhase(t, e, models.PhaseFailed)

	if snap.LastError != "fetch failed: service unreachable" {
		t.Errorf("expected typed failure message, got %q", snap.LastError)
	}
	if snap.Record == nil || snap.Record.City != "London" {
		t.Errorf("failure must keep the previous record, got %+v", snap.Record)
	}
}

func TestEngine_RefreshBypassesCache(t *testing.T) {
	gw := newScriptedGateway()
	e, _ := newTestEngine(gw, clock.System{})

	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitForPhase(t, e, models.PhaseLoaded)
	if gw.callCount() != 1 {
		t.Fatalf("expected 1 fetch, got %d", gw.callCount())
	}

	// The entry is fresh, but refresh must still refetch.
	if err := e.Refresh(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "refresh refetched", func() bool { return gw.callCount() == 2 })
	waitForPhase(t, e, models.PhaseLoaded)
}

func TestEngine_PanickingGatewayFails(t *testing.T) {
	e, _ := newTestEngine(panicGateway{}, clock.System{})

	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	snap := waitForPhase(t, e, models.PhaseFailed)
	if snap.LastError == "" {
		t.Errorf("expected an error message after gateway panic")
	}
}

type panicGateway struct{}

func (panicGateway) Fetch(ctx context.Context, city string) (models.RawWeatherPayload, error) {
	panic("gateway exploded")
}

func TestEngine_NonFetchErrorMessage(t *testing.T) {
	gw := newScriptedGateway()
	gw.failWith("London", errors.New("weird io problem"))
	e, _ := newTestEngine(gw, clock.System{})

	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	snap := waitForPhase(t, e, models.PhaseFailed)
	if snap.LastError != "unexpected failure: weird io problem" {
		t.Errorf("expected unexpected-failure message, got %q", snap.LastError)
	}
}

func TestEngine_ClearResetsEverything(t *testing.T) {
	gw := newScriptedGateway()
	e, _ := newTestEngine(gw, clock.System{})

	if err := e.RequestWeather("Paris"); err != nil {
		t.Fatal(err)
	}
	waitForPhase(t, e, models.PhaseLoaded)
	e.ToggleUnit()

	e.Clear()

	snap := e.Snapshot()
	if snap.Phase != models.PhaseIdle {
		t.Errorf("expected IDLE after clear, got %v", snap.Phase)
	}
	if snap.Record != nil {
		t.Errorf("expected nil record after clear")
	}
	if snap.City != "London" || snap.Unit != models.UnitCelsius {
		t.Errorf("expected defaults restored, got city=%q unit=%v", snap.City, snap.Unit)
	}
	if snap.LastError != "" || snap.LastUpdatedMillis != 0 {
		t.Errorf("expected error and timestamp cleared, got %+v", snap)
	}

	// Cache was wiped: the next request for Paris must refetch.
	calls := gw.callCount()
	if err := e.RequestWeather("Paris"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "refetch after clear", func() bool { return gw.callCount() == calls+1 })
}

func TestEngine_ClearInvalidatesInFlightFetch(t *testing.T) {
	gw := newScriptedGateway()
	gate := gw.gate("London")
	e, events := newTestEngine(gw, clock.System{})

	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "fetch dispatched", func() bool { return gw.callCount() == 1 })

	e.Clear()
	gate <- fetchResult{payload: payloadFor("London")}
	waitFor(t, "stale discard recorded", func() bool {
		return events.countOf(models.EventStaleDiscard) == 1
	})

	snap := e.Snapshot()
	if snap.Phase != models.PhaseIdle || snap.Record != nil {
		t.Errorf("cleared engine picked up a late response: %+v", snap)
	}
}

func TestEngine_NotifiesOncePerTransition(t *testing.T) {
	gw := newScriptedGateway()
	e, _ := newTestEngine(gw, clock.System{})

	col := &snapshotCollector{}
	unsubscribe := e.Subscribe(col.add)

	// Miss: one LOADING and one LOADED notification.
	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "two notifications", func() bool { return col.count() == 2 })
	if got := col.at(0).Phase; got != models.PhaseLoading {
		t.Errorf("first notification should be LOADING, got %v", got)
	}
	if got := col.at(1).Phase; got != models.PhaseLoaded {
		t.Errorf("second notification should be LOADED, got %v", got)
	}

	// Cache hit: exactly one notification.
	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "cache-hit notification", func() bool { return col.count() == 3 })

	// Toggle: exactly one notification.
	e.ToggleUnit()
	if col.count() != 4 {
		t.Errorf("expected 4 notifications after toggle, got %d", col.count())
	}

	// Unsubscribed observers stop receiving.
	unsubscribe()
	e.ToggleUnit()
	if col.count() != 4 {
		t.Errorf("unsubscribed observer still notified: %d", col.count())
	}
}

func TestEngine_TransitionsBumpSnapshotVersion(t *testing.T) {
	gw := newScriptedGateway()
	e, _ := newTestEngine(gw, clock.System{})

	v0 := e.Snapshot().Version
	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitForPhase(t, e, models.PhaseLoaded)
	v1 := e.Snapshot().Version
	if v1 != v0+2 {
		t.Errorf("miss should commit twice (loading, loaded): %d -> %d", v0, v1)
	}

	e.ToggleUnit()
	if v := e.Snapshot().Version; v != v1+1 {
		t.Errorf("toggle should commit once: %d -> %d", v1, v)
	}
}

func TestEngine_SubscriberVersionsNeverRegress(t *testing.T) {
	e, _ := newTestEngine(newScriptedGateway(), clock.System{})

	var mu sync.Mutex
	var versions []uint64
	unsubscribe := e.Subscribe(func(s models.EngineSnapshot) {
		mu.Lock()
		versions = append(versions, s.Version)
		mu.Unlock()
	})
	defer unsubscribe()

	// Commits racing to deliver must never hand an observer an older
	// snapshot after a newer one.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				e.ToggleUnit()
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(versions) == 0 {
		t.Fatalf("no notifications delivered")
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("delivery order regressed at index %d: version %d after %d",
				i, versions[i], versions[i-1])
		}
	}
}

func TestEngine_AuditTrail(t *testing.T) {
	gw := newScriptedGateway()
	e, events := newTestEngine(gw, clock.System{})

	if err := e.RequestWeather("London"); err != nil {
		t.Fatal(err)
	}
	waitForPhase(t, e, models.PhaseLoaded)
	e.Clear()

	waitFor(t, "audit entries", func() bool {
		return events.countOf(models.EventRequest) == 1 &&
			events.countOf(models.EventFetchOK) == 1 &&
			events.countOf(models.EventClear) == 1
	})
}
