package persist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	apperrors "github.com/koopa0/system-design/14-shared-list/pkg/errors"
)

// FileBackend 本地檔案後端
//
// 寫入流程：同目錄建立暫存檔 → 寫入 → fsync → rename
// rename 在同一檔案系統上是原子的，讀者只會看到舊檔或新檔。
type FileBackend struct {
	path string
}

// NewFileBackend 創建檔案後端
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "read snapshot file")
	}
	return data, nil
}

func (b *FileBackend) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(b.path)

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "create temp snapshot")
	}
	tmpName := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmpName)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "write temp snapshot")
	}

	if err := os.Rename(tmpName, b.path); err != nil {
		_ = os.Remove(tmpName)
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "replace snapshot file")
	}
	return nil
}

func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

func (b *FileBackend) Name() string { return "file" }

func (b *FileBackend) Close() error { return nil }
