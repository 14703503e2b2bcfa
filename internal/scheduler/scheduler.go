package scheduler

import (
	"time"

	"github.com/go-co-op/gocron"

	"weather_station/internal/logger"
	"weather_station/internal/service"
)

// Scheduler periodically re-requests the current city so its cache entry
// never goes stale unnoticed. Each tick goes through RequestWeather, not
// Refresh: a fresh entry makes the tick a no-op network-wise, and a failed
// fetch is not retried until the user asks. The engine stays the single
// authority on dispatch decisions.
type Scheduler struct {
	scheduler *gocron.Scheduler
	weather   service.Weather
	interval  time.Duration
	log       *logger.Logger
}

// New creates a scheduler; a non-positive interval disables it.
func New(weather service.Weather, interval time.Duration, log *logger.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		weather:   weather,
		interval:  interval,
		log:       log,
	}
}

// Start schedules the refresh job and runs the scheduler asynchronously.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		if s.log != nil {
			s.log.Infow("auto-refresh disabled: no interval configured")
		}
		return nil
	}

	_, err := s.scheduler.Every(s.interval).Do(func() {
		city := s.weather.Snapshot().City
		if err := s.weather.RequestWeather(city); err != nil {
			if s.log != nil {
				s.log.Errorw("auto_refresh_failed", "err", err, "city", city)
			}
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
