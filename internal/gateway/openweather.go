package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"weather_station/internal/models"
)

// OpenWeatherGateway fetches current conditions from an OpenWeatherMap-style
// endpoint. Requests omit the units parameter so the API returns Kelvin,
// the engine's canonical unit.
type OpenWeatherGateway struct {
	apiKey  string
	baseURL string
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherGateway(client *http.Client, baseURL, apiKey string) *OpenWeatherGateway {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &OpenWeatherGateway{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  client,
		circuit: cb,
	}
}

var _ Gateway = (*OpenWeatherGateway)(nil)

// owmPayload mirrors the subset of the wire format the engine consumes.
type owmPayload struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

// Fetch resolves exactly once with a payload or a *FetchError.
func (g *OpenWeatherGateway) Fetch(ctx context.Context, city string) (models.RawWeatherPayload, error) {
	values := url.Values{}
	values.Set("q", city)
	values.Set("appid", g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return models.RawWeatherPayload{}, &FetchError{Kind: ErrUnreachable}
	}

	result, err := g.circuit.Execute(func() (interface{}, error) {
		return g.client.Do(req)
	})
	if err != nil {
		return models.RawWeatherPayload{}, classifyTransportError(err)
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.RawWeatherPayload{}, &FetchError{Kind: ErrHTTPStatus, StatusCode: resp.StatusCode}
	}

	var payload owmPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return models.RawWeatherPayload{}, &FetchError{Kind: ErrMalformedPayload, Detail: err.Error()}
	}
	if len(payload.Weather) == 0 {
		return models.RawWeatherPayload{}, &FetchError{Kind: ErrMalformedPayload, Detail: "missing weather block"}
	}

	return models.RawWeatherPayload{
		TemperatureK:    payload.Main.Temp,
		FeelsLikeK:      payload.Main.FeelsLike,
		Description:     payload.Weather[0].Description,
		HumidityPercent: payload.Main.Humidity,
		WindSpeedMps:    payload.Wind.Speed,
		PressureHpa:     payload.Main.Pressure,
		Icon:            payload.Weather[0].Icon,
	}, nil
}

// classifyTransportError maps client/circuit failures onto FetchError kinds.
func classifyTransportError(err error) *FetchError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &FetchError{Kind: ErrUnreachable}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &FetchError{Kind: ErrTimeout}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{Kind: ErrTimeout}
	}
	return &FetchError{Kind: ErrUnreachable}
}
