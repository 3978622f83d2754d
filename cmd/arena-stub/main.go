// Package main serves the arena sandbox for local agent runs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/arena-agent/internal/arenastub"
	"github.com/aristath/arena-agent/internal/config"
	"github.com/aristath/arena-agent/pkg/logger"
)

func main() {
	cfg := config.LoadStub()

	log := logger.New(logger.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "arena-stub",
	})

	srv := arenastub.New(arenastub.Config{
		Port:          cfg.Port,
		Token:         cfg.Token,
		RelaxedRoutes: cfg.RelaxedRoutes,
		Log:           log,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Arena sandbox failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Arena sandbox forced to shutdown")
	}
}
