package gateway

import (
	"context"
	"fmt"

	"weather_station/internal/models"
)

// Gateway is the outbound network capability: given a city name it resolves
// exactly once with either a decoded weather payload or a *FetchError.
// Retry is never automatic; a user-initiated refresh is the only retry path.
type Gateway interface {
	Fetch(ctx context.Context, city string) (models.RawWeatherPayload, error)
}

// ErrorKind classifies a failed fetch.
type ErrorKind string

const (
	ErrTimeout          ErrorKind = "TIMEOUT"
	ErrUnreachable      ErrorKind = "UNREACHABLE"
	ErrHTTPStatus       ErrorKind = "HTTP_STATUS"
	ErrMalformedPayload ErrorKind = "MALFORMED_PAYLOAD"
)

// FetchError is the typed failure a gateway resolves with.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int    // set when Kind == ErrHTTPStatus
	Detail     string // set when Kind == ErrMalformedPayload
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case ErrHTTPStatus:
		return fmt.Sprintf("fetch failed: http status %d", e.StatusCode)
	case ErrMalformedPayload:
		return fmt.Sprintf("fetch failed: malformed payload: %s", e.Detail)
	case ErrTimeout:
		return "fetch failed: timeout"
	default:
		return "fetch failed: service unreachable"
	}
}
