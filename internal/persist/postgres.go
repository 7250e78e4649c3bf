package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koopa0/system-design/14-shared-list/internal/migrations"
	apperrors "github.com/koopa0/system-design/14-shared-list/pkg/errors"
)

// PostgresBackend PostgreSQL 後端
//
// 每份快照是 snapshots 表的一列，以 name 區分：
//
//	CREATE TABLE snapshots (
//	  name       VARCHAR(255) PRIMARY KEY,
//	  body       JSONB NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	);
//
// Save 用 UPSERT 覆寫同一列；jsonb 會重排物件鍵但保留陣列順序。
type PostgresBackend struct {
	pool *pgxpool.Pool
	name string
	owns bool
}

// NewPostgresBackend 以既有連接池創建後端（連接池由調用方管理）
func NewPostgresBackend(pool *pgxpool.Pool, name string) *PostgresBackend {
	return &PostgresBackend{pool: pool, name: name}
}

// OpenPostgres 執行遷移並建立連接池
func OpenPostgres(ctx context.Context, dsn, name string, logger *slog.Logger) (*PostgresBackend, error) {
	migrator, err := migrations.New(dsn, logger)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "prepare migrations")
	}
	upErr := migrator.Up()
	if err := migrator.Close(); err != nil {
		logger.Warn("close migrator", "error", err)
	}
	if upErr != nil {
		return nil, apperrors.Wrap(upErr, apperrors.ErrCodeUnavailable, "migrate snapshots schema")
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	config.MaxConns = 4
	config.MinConns = 1
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "create postgres pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "ping postgres")
	}

	return &PostgresBackend{pool: pool, name: name, owns: true}, nil
}

func (b *PostgresBackend) Load(ctx context.Context) ([]byte, error) {
	var body []byte
	err := b.pool.QueryRow(ctx,
		`SELECT body FROM snapshots WHERE name = $1`, b.name,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "select snapshot")
	}
	return body, nil
}

func (b *PostgresBackend) Save(ctx context.Context, data []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO snapshots (name, body, updated_at)
		VALUES ($1, $2, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE
		SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
		b.name, data,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "upsert snapshot")
	}
	return nil
}

func (b *PostgresBackend) Name() string { return "postgres" }

// Close 只關閉自己建立的連接池
func (b *PostgresBackend) Close() error {
	if b.owns {
		b.pool.Close()
	}
	return nil
}
