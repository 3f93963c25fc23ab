package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/pusher/pusher-http-go/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"go-crash/internal/balance"
	"go-crash/internal/broadcast"
	"go-crash/internal/clock"
	"go-crash/internal/config"
	"go-crash/internal/crash"
	"go-crash/internal/engine"
	"go-crash/internal/event"
	"go-crash/internal/history"
	"go-crash/internal/http-server/handlers/game/cashout"
	"go-crash/internal/http-server/handlers/game/join"
	"go-crash/internal/http-server/handlers/game/last"
	"go-crash/internal/http-server/handlers/game/state"
	"go-crash/internal/http-server/handlers/game/status"
	mwlogger "go-crash/internal/http-server/middleware/logger"
	"go-crash/internal/job"
	"go-crash/internal/lib/logger/handler/slogpretty"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/monitor"
	"go-crash/internal/round"
	"go-crash/internal/storage/mysql"
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

	log.Info("Starting crash engine...", slog.String("env", cfg.Env))
	log.Debug("debug messages are enabled")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to redis", sl.Err(err))
		os.Exit(1)
	}

	queue := job.NewQueue(256)
	job.NewWorkerPool(4, queue).Start()

	collector, err := monitor.NewCollector(redisClient, log)
	if err != nil {
		log.Error("Failed to init monitor", sl.Err(err))
		os.Exit(1)
	}

	store, err := round.NewStore(&round.StoreConfig{
		RedisClient: redisClient,
		Monitor:     collector,
	}, log)
	if err != nil {
		log.Error("Failed to init round store", sl.Err(err))
		os.Exit(1)
	}

	secureClock := clock.NewSecure()
	provider := config.NewGameConfigProvider(redisClient, log)

	generator, err := crash.NewGenerator(&crash.Config{HouseEdge: provider}, log)
	if err != nil {
		log.Error("Failed to init crash generator", sl.Err(err))
		os.Exit(1)
	}

	ledger, err := round.NewLedger(&round.LedgerConfig{
		RedisClient: redisClient,
		Store:       store,
		Clock:       secureClock,
		Monitor:     collector,
	}, log)
	if err != nil {
		log.Error("Failed to init ledger", sl.Err(err))
		os.Exit(1)
	}

	pusherClient := &pusher.Client{
		AppID:   cfg.PusherID,
		Key:     cfg.PusherKey,
		Secret:  cfg.PusherSecret,
		Cluster: cfg.PusherCluster,
	}

	notifier := event.NewMultiNotifier(
		event.NewPusherNotifier(log, pusherClient),
		event.NewRedisNotifier(log, redisClient),
	)

	balances, err := balance.NewService(redisClient, notifier, log)
	if err != nil {
		log.Error("Failed to init balance service", sl.Err(err))
		os.Exit(1)
	}

	var recorder round.HistorySink

	if cfg.MySQLDSN != "" {
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Error("Failed to open mysql", sl.Err(err))
			os.Exit(1)
		}

		if err = db.Ping(); err != nil {
			log.Error("Failed to connect to mysql", sl.Err(err))
			os.Exit(1)
		}

		repo := history.NewRepository(mysql.New(db))

		recorder, err = history.NewRecorder(repo, queue, log)
		if err != nil {
			log.Error("Failed to init history recorder", sl.Err(err))
			os.Exit(1)
		}
	} else {
		log.Warn("MYSQL_DSN is empty, round history is disabled")
	}

	gate, err := broadcast.NewGate(&broadcast.GateConfig{
		Notifier:       notifier,
		Queue:          queue,
		ConfigProvider: provider,
	}, log)
	if err != nil {
		log.Error("Failed to init broadcast gate", sl.Err(err))
		os.Exit(1)
	}

	scheduler, err := round.NewScheduler(&round.SchedulerConfig{
		RedisClient:    redisClient,
		Store:          store,
		Ledger:         ledger,
		Generator:      generator,
		Clock:          secureClock,
		ConfigProvider: provider,
		Broadcaster:    gate,
		History:        recorder,
		Monitor:        collector,
		Detector:       secureClock,
	}, log)
	if err != nil {
		log.Error("Failed to init scheduler", sl.Err(err))
		os.Exit(1)
	}

	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("Scheduler stopped", sl.Err(err))
		}
	}()

	eng, err := engine.New(&engine.Config{
		RedisClient: redisClient,
		Store:       store,
		Ledger:      ledger,
		Balance:     balances,
		History:     recorder,
		Clock:       secureClock,
	}, log)
	if err != nil {
		log.Error("Failed to init engine", sl.Err(err))
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(mwlogger.New(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	router.Get("/api/crash/status", status.New(log, eng).New())
	router.Post("/api/crash/join", join.New(log, eng).New())
	router.Post("/api/crash/cashout", cashout.New(log, eng).New())
	router.Get("/api/crash/state/{user_id}", state.New(log, eng).New())
	router.Get("/api/crash/last", last.New(log, eng).New())

	log.Info("Server started", slog.String("address", cfg.Address))

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		<-ctx.Done()

		_ = srv.Shutdown(context.Background())
	}()

	if err = srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server failed", sl.Err(err))
	}

	log.Info("Server stopped")
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
