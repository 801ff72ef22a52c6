package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/mmk-jobcoord/config"
	"github.com/target/mmk-jobcoord/internal/migrate"
)

const (
	connectTimeout      = 5 * time.Second
	defaultMaxOpenConns = 20
)

// Infrastructure holds the shared connections of one process. Redis is nil
// when disabled; cancellation then relies on the database flag alone.
type Infrastructure struct {
	DB    *sql.DB
	Redis redis.UniversalClient
}

// OpenInfrastructure connects Postgres and, when enabled, Redis, then applies
// migrations if the config asks for it. Anything opened is closed on failure.
func OpenInfrastructure(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (*Infrastructure, error) {
	db, err := ConnectDB(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, err
	}
	infra := &Infrastructure{DB: db}

	infra.Redis, err = ConnectRedis(ctx, cfg.Redis, logger)
	if err != nil {
		return nil, errors.Join(err, infra.Close())
	}

	if !cfg.Postgres.RunMigrationsOnStart {
		logger.InfoContext(ctx, "startup migrations disabled")
		return infra, nil
	}
	if err := RunMigrations(ctx, db, logger); err != nil {
		return nil, errors.Join(err, infra.Close())
	}
	return infra, nil
}

// Close closes every open connection and joins their errors.
func (i *Infrastructure) Close() error {
	var errs []error
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if i.DB != nil {
		if err := i.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ConnectDB opens a pgx-backed pool and verifies it with a ping.
func ConnectDB(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(max(maxOpen/4, 2))
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, errors.Join(fmt.Errorf("ping database: %w", err), db.Close())
	}

	logger.InfoContext(ctx, "database connected", "host", cfg.Host, "port", cfg.Port, "database", cfg.Name)
	return db, nil
}

// ConnectRedis returns (nil, nil) when Redis is disabled.
//
//nolint:ireturn // UniversalClient covers single, sentinel and cluster deployments.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MasterName: cfg.MasterName,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("ping redis: %w", err), client.Close())
	}

	logger.InfoContext(ctx, "redis connected", "mode", redisMode(cfg), "addrs", strings.Join(cfg.Addrs, ","))
	return client, nil
}

func redisMode(cfg config.RedisConfig) string {
	switch {
	case cfg.MasterName != "":
		return "sentinel"
	case len(cfg.Addrs) > 1:
		return "cluster"
	default:
		return "direct"
	}
}

// RunMigrations applies all pending embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.InfoContext(ctx, "database migrations applied")
	return nil
}
