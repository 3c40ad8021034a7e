package core

import (
	"fmt"

	"rua/internal/infra/persistence/memory"
	"rua/internal/infra/persistence/postgres"
	"rua/internal/infra/persistence/sqlite"
	"rua/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and parameterises the registry store.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the configured backend, defaulting to sqlite.
// The returned function releases the backend's resources.
func OpenPersistentStore(cfg StorageConfig, engine *domain.RulesEngine) (domain.PersistentStore, func() error, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	switch cfg.Driver {
	case StorageMemory:
		return memory.NewStore(engine), func() error { return nil }, nil
	case "", StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case StoragePostgres:
		store, err := postgres.NewStore(cfg.PostgresDSN, engine)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}
