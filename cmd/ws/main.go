package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"go-crash/internal/broadcast"
	"go-crash/internal/config"
	"go-crash/internal/event"
	"go-crash/internal/lib/logger/handler/slogpretty"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/monitor"
	"go-crash/internal/ws/handler"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting ws server...", slog.String("env", cfg.Env))
	log.Debug("debug messages are enabled")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	collector, err := monitor.NewCollector(redisClient, log)
	if err != nil {
		log.Error("Failed to init monitor", sl.Err(err))
		os.Exit(1)
	}

	tracker := broadcast.NewTracker(collector, log)

	hub := handler.NewHub(log, tracker)

	hub.RunServer()

	// Round states arrive from the engine over Redis pub/sub and fan out
	// to the connected sockets.
	go func() {
		pubsub := redisClient.Subscribe(context.Background(), event.RedisChannel)

		for msg := range pubsub.Channel() {
			var message event.Message

			if err := json.Unmarshal([]byte(msg.Payload), &message); err != nil {
				log.Error("failed to decode relayed event", sl.Err(err))

				continue
			}

			hub.Broadcast <- message
		}
	}()

	http.HandleFunc("/ws", hub.HandleConnection)

	log.Info("Server started", slog.String("address", cfg.WSAddr))

	srv := &http.Server{
		Addr:         cfg.WSAddr,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	if err := srv.ListenAndServe(); err != nil {
		log.Error("Server error", sl.Err(err))
	}

	log.Error("WS server stopped")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlogLogger()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	return log
}

func setupPrettySlogLogger() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}
