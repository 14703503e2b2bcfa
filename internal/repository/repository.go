package repository

import (
	"context"
	"database/sql"
	"time"

	"weather_station/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
}

// EventRepo is the append-only fetch-event audit log with filtered access.
type EventRepo interface {
	Append(ctx context.Context, e models.FetchEvent) error
	List(ctx context.Context, f EventFilter) ([]models.FetchEvent, error)
}

// EventFilter narrows List results. Zero fields are ignored.
type EventFilter struct {
	From time.Time
	To   time.Time
	City string
	Type string
}

type Repository struct {
	Events EventRepo
	Auth   Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Events: NewEventSQLite(db),
		Auth:   NewUserRepository(db),
	}
}
