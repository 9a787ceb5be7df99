package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gyaneshwarpardhi/donationledger/internal/config"
)

// Open builds the Store selected by cfg. dsn is only used for postgres.
func Open(ctx context.Context, cfg config.StoreConf, dsn string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reclaim := config.Ms(cfg.EnvelopeReclaimAfterMs)
	switch cfg.Driver {
	case config.DriverMemory:
		m := NewMemory(WithReclaimAfter(reclaim))
		if cfg.SeedFixture {
			if err := SeedFixture(ctx, m); err != nil {
				return nil, err
			}
			logger.Info("memory store seeded with fixture", "members", len(fixtureMembers))
		} else {
			logger.Warn("memory store in use: donations are lost on restart")
		}
		return m, nil
	case config.DriverPostgres, "":
		if dsn == "" {
			return nil, fmt.Errorf("postgres store: DATABASE_URL is empty")
		}
		p, err := OpenPostgres(ctx, dsn, PoolOptions{
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeMs) * time.Millisecond,
			ReclaimAfter:    reclaim,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("postgres store connected", "max_open_conns", cfg.MaxOpenConns)
		return p, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
