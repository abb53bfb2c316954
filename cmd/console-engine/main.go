package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ticket-sync-engine/internal/apiclient"
	"ticket-sync-engine/internal/engine"
	"ticket-sync-engine/internal/env"
	"ticket-sync-engine/internal/session"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := env.Load(); err != nil {
		logger.Fatal().Err(err).Msg("configuration error")
	}

	if level, err := zerolog.ParseLevel(env.GetOrDefault(env.LogLevel, "info")); err == nil {
		logger = logger.Level(level)
	}

	sess := session.New(env.Get(env.GatewayToken), logger)
	gateway := apiclient.NewHTTPGateway(env.Get(env.GatewayURL), sess.Token, logger)

	eng, err := engine.New(engine.Config{
		Gateway:     gateway,
		Session:     sess,
		RealtimeURL: env.Get(env.RealtimeURL),
		UserID:      env.Get(env.UserID),
		DataDir:     env.GetOrDefault(env.DataDir, "./data"),
		Logger:      logger,
		OnQuickReplyFallback: func() {
			logger.Warn().Msg("canned replies degraded to local storage for this session")
		},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build engine")
	}

	eng.Start()
	defer eng.Close()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/debug/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eng.Snapshot())
	})

	server := &http.Server{
		Addr:    env.GetOrDefault(env.MetricsAddr, ":9301"),
		Handler: router,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("metrics server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info().Msg("shutdown signal received")
	case <-eng.AuthExpired():
		logger.Warn().Msg("session expired, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
