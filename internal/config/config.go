package config

import (
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env           string `validate:"required,oneof=local dev prod"`
	RedisAddr     string `validate:"required"`
	MySQLDSN      string
	WSAddr        string
	PusherID      string
	PusherKey     string
	PusherSecret  string
	PusherCluster string
	HTTPServer
}

type HTTPServer struct {
	Address     string        `validate:"required"`
	Timeout     time.Duration `validate:"required"`
	IdleTimeout time.Duration `validate:"required"`
}

// MustLoad reads the service configuration from the environment and exits
// on any invalid value. godotenv is expected to have populated the
// environment in main before this is called.
func MustLoad() *Config {
	cfg := &Config{
		Env:           getEnv("APP_ENV", "local"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		MySQLDSN:      os.Getenv("MYSQL_DSN"),
		WSAddr:        getEnv("WS_ADDR", "localhost:8081"),
		PusherID:      os.Getenv("PUSHER_APP_ID"),
		PusherKey:     os.Getenv("PUSHER_KEY"),
		PusherSecret:  os.Getenv("PUSHER_SECRET"),
		PusherCluster: getEnv("PUSHER_CLUSTER", "eu"),
		HTTPServer: HTTPServer{
			Address:     getEnv("HTTP_ADDRESS", "localhost:8080"),
			Timeout:     getDuration("HTTP_TIMEOUT", 4*time.Second),
			IdleTimeout: getDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		log.Fatalf("invalid config: %s", err)
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration for %s: %s", key, err)
	}

	return d
}
