package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lexbook/lexipipe/internal/store"
)

// initStore opens the backend named by store.driver. Callers own the
// returned store and must Close it.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		st, err := store.NewSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, eris.Wrap(err, "open sqlite store")
		}
		zap.L().Debug("store opened", zap.String("driver", "sqlite"), zap.String("path", cfg.Store.SQLitePath))
		return st, nil
	case "postgres":
		if cfg.Store.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for the postgres driver (LEXIPIPE_STORE_DATABASE_URL)")
		}
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "open postgres store")
		}
		zap.L().Debug("store opened", zap.String("driver", "postgres"))
		return st, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
