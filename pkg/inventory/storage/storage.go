package storage

import (
	"fmt"
	"log/slog"

	"mercator-hq/interpose/pkg/config"
	"mercator-hq/interpose/pkg/inventory"
)

// New opens the backend selected by cfg.
func New(cfg config.InventoryConfig, logger *slog.Logger) (inventory.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStorage(), nil
	case "sqlite", "":
		return NewSQLiteStorage(&SQLiteConfig{
			Path:         cfg.SQLite.Path,
			Driver:       cfg.SQLite.Driver,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			WALMode:      cfg.SQLite.WALMode,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		}, logger)
	default:
		return nil, inventory.NewStorageError(cfg.Backend, "open", fmt.Errorf("unknown backend %q", cfg.Backend))
	}
}
