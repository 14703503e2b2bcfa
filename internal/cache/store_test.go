package cache

import (
	"testing"
	"time"

	"weather_station/internal/models"
)

func record(city string, tempK float64) models.WeatherRecord {
	return models.WeatherRecord{City: city, TemperatureK: tempK, Description: "Clear Sky"}
}

func TestStore_PerCityKeying(t *testing.T) {
	s := NewStore()
	s.Put("London", record("London", 290), 1000)
	s.Put("Paris", record("Paris", 295), 2000)

	london, ok := s.Get("London")
	if !ok || london.Record.TemperatureK != 290 {
		t.Fatalf("expected London entry with 290K, got %+v (ok=%v)", london, ok)
	}
	paris, ok := s.Get("Paris")
	if !ok || paris.Record.TemperatureK != 295 {
		t.Fatalf("expected Paris entry with 295K, got %+v (ok=%v)", paris, ok)
	}
	if _, ok := s.Get("Oslo"); ok {
		t.Errorf("expected no entry for Oslo")
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", s.Len())
	}
}

func TestStore_PutReplacesWholesale(t *testing.T) {
	s := NewStore()
	s.Put("London", record("London", 290), 1000)
	s.Put("London", record("London", 280), 5000)

	e, ok := s.Get("London")
	if !ok {
		t.Fatalf("entry missing after replace")
	}
	if e.Record.TemperatureK != 280 || e.FetchedAtMillis != 5000 {
		t.Errorf("expected replaced entry (280K @5000), got %+v", e)
	}
	if s.Len() != 1 {
		t.Errorf("replace must not add a second entry, got %d", s.Len())
	}
}

func TestStore_Invalidate(t *testing.T) {
	s := NewStore()
	s.Put("London", record("London", 290), 1000)
	s.Put("Paris", record("Paris", 295), 1000)

	s.Invalidate("London")

	if _, ok := s.Get("London"); ok {
		t.Errorf("London should be gone after invalidate")
	}
	if _, ok := s.Get("Paris"); !ok {
		t.Errorf("Paris must survive a London invalidate")
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.Put("London", record("London", 290), 1000)
	s.Put("Paris", record("Paris", 295), 1000)

	s.Clear()

	if s.Len() != 0 {
		t.Errorf("expected empty store after clear, got %d entries", s.Len())
	}
}

func TestIsFresh_ExclusiveBoundary(t *testing.T) {
	window := 5 * time.Minute
	fetchedAt := int64(1_000_000)
	e := Entry{City: "London", FetchedAtMillis: fetchedAt}

	tests := []struct {
		name string
		now  int64
		want bool
	}{
		{"same instant", fetchedAt, true},
		{"one ms before boundary", fetchedAt + window.Milliseconds() - 1, true},
		{"exactly at boundary", fetchedAt + window.Milliseconds(), false},
		{"past boundary", fetchedAt + window.Milliseconds() + 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFresh(e, tt.now, window); got != tt.want {
				t.Errorf("IsFresh(now=%d) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}
