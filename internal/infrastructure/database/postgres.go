package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolSettings tunes the message store pool. Zero fields keep the defaults below.
type PoolSettings struct {
	MaxConns        int32
	MaxConnIdleTime time.Duration
	MaxConnLifetime time.Duration
}

const (
	defaultMaxConns        = 16
	defaultMaxConnIdleTime = 5 * time.Minute
	defaultMaxConnLifetime = time.Hour
)

// Connect opens a pgx pool for dsn and pings it before returning.
// Driver-suffixed schemes such as "postgresql+pgx://" are accepted.
func Connect(ctx context.Context, dsn string, settings PoolSettings) (*pgxpool.Pool, error) {
	normalized := normalizeDSN(dsn)
	if normalized == "" {
		return nil, errors.New("postgres: DB_URL is not set")
	}

	cfg, err := pgxpool.ParseConfig(normalized)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	applySettings(cfg, settings)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// applySettings sizes the pool for one in-flight store call per busy websocket.
func applySettings(cfg *pgxpool.Config, s PoolSettings) {
	cfg.MaxConns = defaultMaxConns
	if s.MaxConns > 0 {
		cfg.MaxConns = s.MaxConns
	}
	cfg.MaxConnIdleTime = defaultMaxConnIdleTime
	if s.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = s.MaxConnIdleTime
	}
	cfg.MaxConnLifetime = defaultMaxConnLifetime
	if s.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = s.MaxConnLifetime
	}
	cfg.HealthCheckPeriod = time.Minute
}

var driverSuffixes = map[string]string{
	"postgresql+asyncpg://": "postgresql://",
	"postgres+asyncpg://":   "postgres://",
	"postgresql+pgx://":     "postgresql://",
	"postgres+pgx://":       "postgres://",
}

func normalizeDSN(dsn string) string {
	s := strings.TrimSpace(dsn)
	for from, to := range driverSuffixes {
		if strings.HasPrefix(s, from) {
			return to + strings.TrimPrefix(s, from)
		}
	}
	return s
}
