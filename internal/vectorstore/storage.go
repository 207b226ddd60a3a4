// Package vectorstore builds the configured domain.VectorStore.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"synthia/internal/config"
	"synthia/internal/domain"
	"synthia/internal/vectorstore/memory"
	"synthia/internal/vectorstore/postgres"
	"synthia/internal/vectorstore/qdrant"
	"synthia/internal/vectorstore/sqlite"
)

// New selects the store named by cfg.Type and initializes it for dimension.
func New(ctx context.Context, cfg config.VectorStoreConfig, dimension int) (domain.VectorStore, error) {
	var st domain.VectorStore
	switch cfg.Type {
	case "memory", "":
		st = memory.NewStorage()
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant config missing")
		}
		key := cfg.Qdrant.APIKey
		if key == "" && cfg.Qdrant.APIKeyEnv != "" {
			key = os.Getenv(cfg.Qdrant.APIKeyEnv)
		}
		st = qdrant.NewStorage(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     key,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Qdrant.TimeoutSecs) * time.Second,
		})
	case "postgres":
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres config missing")
		}
		dsn := cfg.Postgres.DSN
		if dsn == "" {
			dsn = os.Getenv(cfg.Postgres.DSNEnv)
		}
		if dsn == "" {
			return nil, fmt.Errorf("missing postgres dsn (set dsn or env %s)", cfg.Postgres.DSNEnv)
		}
		pg, err := postgres.Open(ctx, dsn, cfg.Postgres.Table)
		if err != nil {
			return nil, err
		}
		st = pg
	case "sqlite":
		if cfg.SQLite == nil {
			return nil, fmt.Errorf("sqlite config missing")
		}
		sq, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		st = sq
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
	if err := st.Init(ctx, dimension); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init %s store: %w", cfg.Type, err)
	}
	return st, nil
}
