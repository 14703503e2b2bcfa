package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"weather_station/internal/cache"
	"weather_station/internal/clock"
	"weather_station/internal/engine"
	"weather_station/internal/gateway"
	"weather_station/internal/handlers"
	"weather_station/internal/logger"
	"weather_station/internal/repository"
	"weather_station/internal/repository/db"
	"weather_station/internal/scheduler"
	"weather_station/internal/server"
	"weather_station/internal/service"
)

func main() {
	log := logger.Get(logger.InfoLevel)

	if err := loadConfig(); err != nil {
		log.Fatalw("error reading config", "err", err)
	}

	sqlDB, err := openDB(log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// wire dependencies
	repos := repository.NewRepository(sqlDB)
	eng := buildEngine(repos, log)
	services := service.NewService(eng, repos, service.AuthConfig{
		SigningKey: viper.GetString("auth.signing_key"),
		TokenTTL:   viper.GetDuration("auth.token_ttl"),
	})
	apiHandler := handlers.NewHandler(services, log)

	// background auto-refresh keeps the current city's cache entry warm
	sched := scheduler.New(services.Weather, viper.GetDuration("weather.auto_refresh_interval"), log)
	if err := sched.Start(); err != nil {
		log.Fatalw("failed to start auto-refresh scheduler", "err", err)
	}

	srv := &server.Server{}
	runHTTPServer(srv, viper.GetString("port"), apiHandler, log)

	waitForShutdown(sched, srv, log)
}

func loadConfig() error {
	viper.AddConfigPath("configs") // configs/config.yml
	viper.SetConfigName("config")
	return viper.ReadInConfig()
}

// openDB initializes the SQLite database using configuration.
func openDB(log *logger.Logger) (*sql.DB, error) {
	dbPath := viper.GetString("db.path")
	if dbPath == "" {
		log.Infow("db.path not set in config; using default file", "default", "weather.db")
		dbPath = "weather.db"
	}
	return db.InitDB(dbPath)
}

// buildEngine wires the gateway, cache and clock into a single engine
// instance injected into the presentation layer.
func buildEngine(repos *repository.Repository, log *logger.Logger) *engine.Engine {
	apiKey := viper.GetString("gateway.api_key")
	if apiKey == "" {
		apiKey = os.Getenv("OPENWEATHER_API_KEY")
	}
	gw := gateway.NewOpenWeatherGateway(
		&http.Client{Timeout: viper.GetDuration("weather.fetch_timeout")},
		viper.GetString("gateway.base_url"),
		apiKey,
	)
	return engine.New(gw, cache.NewStore(), clock.System{}, repos.Events, log, engine.Config{
		DefaultCity:     viper.GetString("weather.default_city"),
		FreshnessWindow: viper.GetDuration("weather.freshness_window"),
		FetchTimeout:    viper.GetDuration("weather.fetch_timeout"),
	})
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if port == "" {
			port = "8080"
		}
		if err := srv.Run(port, handler.InitRoutes()); err != nil && err != http.ErrServerClosed {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(sched *scheduler.Scheduler, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	sched.Stop()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalw("server forced to shutdown", "err", err)
	}
}
