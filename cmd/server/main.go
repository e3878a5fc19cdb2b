package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muzaffar640/vidread-backend/internal/app"
	"github.com/muzaffar640/vidread-backend/internal/config"
	"github.com/muzaffar640/vidread-backend/internal/logger"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	// ──── Step 2: Logging ────
	log, logCloser, err := logger.New(cfg.LogDir, cfg.LogLevel, cfg.IsProduction())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	log.Info("Starting vidread backend")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Step 3: Store, providers, pipeline, dispatch ────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Initialization failed")
	}
	defer a.Close()
	a.Start(ctx)

	// ──── Step 4: Start HTTP Server ────
	// No write timeout: websocket connections are long lived.
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.WithField("port", cfg.Port).Info("vidread backend ready")
	log.Infof("  API: http://localhost:%s/api/v1", cfg.Port)
	log.Infof("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.WithError(err).Error("Server error")
	}
}
