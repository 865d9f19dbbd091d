// Package counter records how many downloads the service has handed out.
package counter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iconidentify/vidfetch/internal/config"
	"github.com/iconidentify/vidfetch/internal/domain"
)

// Store persists the daily download counter.
type Store interface {
	// Increment bumps the counter for day by one.
	Increment(ctx context.Context, day string) error

	// Stats returns the counter for day and the running total.
	Stats(ctx context.Context, day string) (*domain.DailyStats, error)

	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.CounterConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", config.CounterNone:
		return Noop{}, nil
	case config.CounterSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, logger)
	case config.CounterPostgres:
		return OpenPostgres(ctx, cfg.DSN, logger)
	case config.CounterRedis:
		return OpenRedis(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCounterDriver, cfg.Driver)
	}
}

// Noop is used when counting is disabled.
type Noop struct{}

func (Noop) Increment(context.Context, string) error { return nil }

func (Noop) Stats(_ context.Context, day string) (*domain.DailyStats, error) {
	return &domain.DailyStats{Day: day}, nil
}

func (Noop) Ping(context.Context) error { return nil }
func (Noop) Close() error               { return nil }
