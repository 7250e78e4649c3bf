package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/koopa0/system-design/14-shared-list/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend 單檔 SQLite 後端
//
// 適合單機部署：不需要外部服務，寫入有交易保證。
type SQLiteBackend struct {
	db   *sql.DB
	name string
}

// OpenSQLite 開啟資料庫並建立 snapshots 表
func OpenSQLite(ctx context.Context, path, name string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite 單寫者
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			name       TEXT PRIMARY KEY,
			body       TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "create snapshots table")
	}

	return &SQLiteBackend{db: db, name: name}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx,
		`SELECT body FROM snapshots WHERE name = ?`, b.name,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "select snapshot")
	}
	return []byte(body), nil
}

func (b *SQLiteBackend) Save(ctx context.Context, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO snapshots (name, body, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE
		SET body = excluded.body, updated_at = excluded.updated_at`,
		b.name, string(data),
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "upsert snapshot")
	}
	return nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
