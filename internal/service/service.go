package service

import (
	"context"
	"time"

	"weather_station/internal/models"
	"weather_station/internal/repository"
)

type Authorization interface {
	Register(username, password string) (int, error)
	IssueToken(username, password string) (string, error)
	VerifyToken(accessToken string) (int, error)
}

// Weather exposes the engine's inbound commands and its observer port.
// Fetch failures never surface here as errors; they appear in snapshots.
type Weather interface {
	RequestWeather(city string) error
	Refresh() error
	ToggleUnit()
	Clear()
	Snapshot() models.EngineSnapshot
	Subscribe(fn func(models.EngineSnapshot)) func()
}

// EventLog exposes the append-only fetch audit trail with filtered access.
type EventLog interface {
	List(ctx context.Context, f LogFilter) ([]models.FetchEvent, error)
}

// LogFilter narrows event listings. Zero fields are ignored.
type LogFilter struct {
	From time.Time
	To   time.Time
	City string
	Type string
}

// Service aggregates everything the HTTP layer needs.
type Service struct {
	Weather
	EventLog
	Authorization
}

// AuthConfig carries the token settings loaded from configuration.
type AuthConfig struct {
	SigningKey string
	TokenTTL   time.Duration
}

// NewService wires the engine and repositories into the service root.
func NewService(eng Weather, repos *repository.Repository, auth AuthConfig) *Service {
	return &Service{
		Weather:       eng,
		EventLog:      NewEventLogService(repos.Events),
		Authorization: NewAuthService(repos.Auth, auth),
	}
}
