package storage

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/hondana/internal/config"
)

// Open returns the backend selected by cfg.Backend.
func Open(cfg config.StorageConfig, logger *zap.Logger) (Storage, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return OpenSQLite(cfg.DatabasePath, logger)
	case BackendBadger:
		return OpenBadger(cfg.BadgerPath, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: sqlite, badger)", cfg.Backend)
	}
}
