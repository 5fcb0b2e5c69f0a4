package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/llm"
	"github.com/ohvee/pursecat/internal/service"
	"github.com/ohvee/pursecat/internal/storage"
	"github.com/ohvee/pursecat/internal/vecstore"
)

func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/pursecat/pursecat.db"
	}
	dbPath = expandPath(dbPath)

	db, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// buildVectorStore returns the configured store and a close function.
func buildVectorStore(ctx context.Context) (service.VectorStore, func(), error) {
	backend := viper.GetString("vector.backend")
	switch backend {
	case "", "pgvector":
		dsn := viper.GetString("vector.dsn")
		if dsn == "" {
			return nil, nil, fmt.Errorf("%w: vector.dsn", common.ErrMissingConfig)
		}
		table := viper.GetString("vector.table")
		if table == "" {
			table = "purchase_facts"
		}
		store, err := vecstore.OpenPgVector(ctx, dsn, table)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case "memory":
		// Useful for smoke tests only; the index dies with the process.
		return vecstore.NewMemory(), func() {}, nil
	default:
		return nil, nil, common.ConfigError("vector.backend", fmt.Errorf("unknown backend %q", backend))
	}
}

func buildProviders() (*llm.Providers, error) {
	cfg := llm.Config{
		Provider:           viper.GetString("llm.provider"),
		APIKey:             viper.GetString("llm.api_key"),
		BaseURL:            viper.GetString("llm.base_url"),
		ChatModel:          viper.GetString("llm.chat_model"),
		EmbeddingModel:     viper.GetString("llm.embedding_model"),
		Scope:              viper.GetString("llm.scope"),
		InsecureSkipVerify: viper.GetBool("llm.insecure_skip_verify"),
		Timeout:            viper.GetDuration("llm.timeout"),
		RateLimit:          viper.GetInt("llm.rate_limit"),
		CacheTTL:           viper.GetDuration("llm.cache_ttl"),
	}
	if cfg.Provider == "" {
		cfg.Provider = "gigachat"
	}
	return llm.NewProviders(cfg)
}

// buildWatermarkStore picks where indexing progress lives. The default is the
// ledger database itself; Redis serves deployments that index elsewhere.
func buildWatermarkStore(db *storage.SQLiteStorage) (service.WatermarkStore, func(), error) {
	backend := viper.GetString("watermark.backend")
	switch backend {
	case "", "sqlite":
		return db, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		store := storage.NewRedisWatermarkStore(client, viper.GetString("redis.prefix"))
		return store, func() { _ = client.Close() }, nil
	default:
		return nil, nil, common.ConfigError("watermark.backend", fmt.Errorf("unknown backend %q", backend))
	}
}

func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}
