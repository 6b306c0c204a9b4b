package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"roomrelay-server/api"
	"roomrelay-server/config"
	"roomrelay-server/domain"
	"roomrelay-server/history"
	"roomrelay-server/hub"
	"roomrelay-server/registry"
	"roomrelay-server/router"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	messageLog, closeLog, err := openHistory(cfg)
	if err != nil {
		slog.Error("history backend error", "backend", cfg.HistoryBackend, "error", err)
		os.Exit(1)
	}
	defer closeLog()

	conns := registry.New()
	rooms := hub.NewDirectory()
	board := hub.NewSwitchboard()
	relay := router.New(conns, rooms, messageLog, board, router.WithWelcome(cfg.WelcomeText))

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(api.Deps{
			Router:         relay,
			Conns:          conns,
			Rooms:          rooms,
			Board:          board,
			MaxMessageSize: cfg.MaxMessageSize,
			SendBuffer:     cfg.SendBuffer,
		}),
	}

	go func() {
		slog.Info("server starting", "port", cfg.Port, "history", cfg.HistoryBackend)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	board.CloseAll()
}

func setupLogger(cfg config.Config) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

func openHistory(cfg config.Config) (domain.MessageLog, func(), error) {
	if cfg.HistoryBackend != config.HistorySQLite {
		return history.NewMemory(), func() {}, nil
	}

	store, err := history.OpenSQLite(context.Background())
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Warn("history close error", "error", err)
		}
	}, nil
}
