package config

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"go-crash/internal/lib/logger/sl"
	"go-crash/internal/lib/money"
	"golang.org/x/exp/slog"
)

// GameConfig holds the tunables of one round. A snapshot is taken when a
// round starts and stays fixed until the round ends, even if the stored
// config changes mid-round.
type GameConfig struct {
	TickMS         int64         `json:"tick_ms"`
	GrowthRate     float64       `json:"growth_rate"`
	MaxCoefficient money.Coef    `json:"max_coefficient"`
	WaitingTime    time.Duration `json:"waiting_time"`
	HouseEdge      float64       `json:"house_edge"`
	MinBet         money.Amount  `json:"min_bet"`
	MaxBet         money.Amount  `json:"max_bet"`
	MaxPlayers     int           `json:"max_players"`
}

// MinCashoutDelay is the shortest interval between round start and a legal
// cashout. The broadcast gate uses the same value as its protective delay.
func (c GameConfig) MinCashoutDelay() time.Duration {
	return 2 * time.Duration(c.TickMS) * time.Millisecond
}

func (c GameConfig) TickInterval() time.Duration {
	return time.Duration(c.TickMS) * time.Millisecond
}

func DefaultGameConfig() GameConfig {
	return GameConfig{
		TickMS:         150,
		GrowthRate:     1.01,
		MaxCoefficient: 10000, // 100.00x
		WaitingTime:    10 * time.Second,
		HouseEdge:      0.10,
		MinBet:         1,       // 0.01
		MaxBet:         1000000, // 10000.00
		MaxPlayers:     1000,
	}
}

const (
	gameConfigKey      = "crash:config"
	gameConfigCacheTTL = 5 * time.Second
)

// GameConfigProvider reads the game config from Redis so it can be changed
// at runtime without a restart. Reads go through a short TTL cache; on any
// failure the hardcoded defaults apply.
type GameConfigProvider struct {
	client   *redis.Client
	cache    *cache.Cache
	log      *slog.Logger
	fallback GameConfig
}

func NewGameConfigProvider(client *redis.Client, log *slog.Logger) *GameConfigProvider {
	return &GameConfigProvider{
		client:   client,
		cache:    cache.New(gameConfigCacheTTL, 2*gameConfigCacheTTL),
		log:      log,
		fallback: DefaultGameConfig(),
	}
}

// Current returns the active game config. Never fails: a missing or
// malformed stored config falls back to the defaults.
func (p *GameConfigProvider) Current(ctx context.Context) GameConfig {
	const op = "config.GameConfigProvider.Current"

	if cached, found := p.cache.Get(gameConfigKey); found {
		return cached.(GameConfig)
	}

	raw, err := p.client.Get(ctx, gameConfigKey).Result()
	if err != nil {
		if err != redis.Nil {
			p.log.Warn("failed to load game config, using defaults",
				sl.String("op", op), sl.Err(err))
		}

		p.cache.Set(gameConfigKey, p.fallback, cache.DefaultExpiration)

		return p.fallback
	}

	cfg := p.fallback

	if err = json.Unmarshal([]byte(raw), &cfg); err != nil {
		p.log.Warn("malformed game config, using defaults",
			sl.String("op", op), sl.Err(err))

		p.cache.Set(gameConfigKey, p.fallback, cache.DefaultExpiration)

		return p.fallback
	}

	p.cache.Set(gameConfigKey, cfg, cache.DefaultExpiration)

	return cfg
}

// HouseEdge returns the configured house edge, read fresh for every crash
// point draw. Values outside [0.05, 0.20] are logged but still used; the
// draw itself must never fail.
func (p *GameConfigProvider) HouseEdge(ctx context.Context) float64 {
	const op = "config.GameConfigProvider.HouseEdge"

	edge := p.Current(ctx).HouseEdge

	if edge < 0.05 {
		p.log.Warn("house edge below 5%, minimal profit margin",
			sl.String("op", op), sl.Any("house_edge", edge))
	}

	if edge > 0.20 {
		p.log.Warn("house edge above 20%, may be unfair to players",
			sl.String("op", op), sl.Any("house_edge", edge))
	}

	return edge
}

// Store persists a new game config. It takes effect for rounds started
// after the provider cache expires.
func (p *GameConfigProvider) Store(ctx context.Context, cfg GameConfig) error {
	const op = "config.GameConfigProvider.Store"

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err = p.client.Set(ctx, gameConfigKey, raw, 0).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.cache.Delete(gameConfigKey)

	return nil
}
