// Package main runs the experiment server: a REST backend that manages
// applications, configuration constraints and experiments, and assigns
// users to experiment groups on first contact.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/sgizm/experiment-server/internal/app"
	"github.com/sgizm/experiment-server/internal/app/httpapi"
	"github.com/sgizm/experiment-server/internal/app/storage/postgres"
	"github.com/sgizm/experiment-server/internal/config"
	"github.com/sgizm/experiment-server/internal/logging"
	"github.com/sgizm/experiment-server/internal/middleware"
	"github.com/sgizm/experiment-server/internal/platform/migrations"
)

func main() {
	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stdout,
	})

	stores := app.Stores{}
	if cfg.Database.DSN != "" {
		db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.WithError(err).Fatal("ping database")
		}
		if err := migrations.Apply(ctx, db); err != nil {
			cancel()
			log.WithError(err).Fatal("apply migrations")
		}
		cancel()

		store := postgres.New(db)
		stores = app.Stores{
			Applications:      store,
			ConfigurationKeys: store,
			Constraints:       store,
			Experiments:       store,
			Users:             store,
		}
		log.Info("using postgres storage")
	} else {
		log.Info("no database dsn configured, using in-memory storage")
	}

	application := app.New(stores, log)
	router := httpapi.NewRouter(application)
	router.Use(middleware.Logging(log.WithComponent("http")))
	router.Use(middleware.Metrics())

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst, log.WithComponent("ratelimit"))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      middleware.CORS(limiter.Handler(router)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("serve")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	log.Info("stopped")
}
