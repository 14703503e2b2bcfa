package models

// Unit is the display unit preference for temperatures.
// Stored values are always Kelvin; conversion happens at display time.
type Unit string

const (
	UnitCelsius    Unit = "CELSIUS"
	UnitFahrenheit Unit = "FAHRENHEIT"
)

// Toggled returns the opposite unit.
func (u Unit) Toggled() Unit {
	if u == UnitCelsius {
		return UnitFahrenheit
	}
	return UnitCelsius
}

// Phase is the engine's lifecycle state.
type Phase string

const (
	PhaseIdle    Phase = "IDLE"
	PhaseLoading Phase = "LOADING"
	PhaseLoaded  Phase = "LOADED"
	PhaseFailed  Phase = "FAILED"
)

// WeatherRecord is one city's resolved weather snapshot. It is constructed
// once per successful fetch and never mutated afterwards; a later fetch for
// the same city supersedes it wholesale.
type WeatherRecord struct {
	City             string  `json:"city"`
	TemperatureK     float64 `json:"temperature_k"`
	FeelsLikeK       float64 `json:"feels_like_k"`
	Description      string  `json:"description"` // title-cased
	HumidityPercent  int     `json:"humidity_percent"`
	WindSpeedMps     float64 `json:"wind_speed_mps"`
	PressureHpa      int     `json:"pressure_hpa"`
	Icon             string  `json:"icon"` // opaque code, mapped by the UI layer
}

// RawWeatherPayload is what the network gateway decodes from the wire.
// Temperatures are Kelvin.
type RawWeatherPayload struct {
	TemperatureK    float64
	FeelsLikeK      float64
	Description     string
	HumidityPercent int
	WindSpeedMps    float64
	PressureHpa     int
	Icon            string
}

// EngineSnapshot is an immutable copy of the engine state handed to
// observers. Record is a copy; callers never receive a mutable reference
// into the engine. Version increases with every committed transition, so
// consumers holding two snapshots can tell which is newer.
type EngineSnapshot struct {
	Version           uint64         `json:"version"`
	Phase             Phase          `json:"phase"`
	City              string         `json:"city"`
	Record            *WeatherRecord `json:"record,omitempty"`
	IsLoading         bool           `json:"is_loading"`
	LastError         string         `json:"last_error,omitempty"`
	Unit              Unit           `json:"unit"`
	LastUpdatedMillis int64          `json:"last_updated_millis,omitempty"`
	TemperatureText   string         `json:"temperature_text,omitempty"`
	FeelsLikeText     string         `json:"feels_like_text,omitempty"`
}
