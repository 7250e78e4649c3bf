// Package persist 負責清單快照的載入與定期寫入
//
// 系統設計問題：記憶體中的清單如何在重啟後保留？
//
// 設計方案 ✅：
//   - 啟動時載入一次快照；不存在視為空清單
//   - 背景 goroutine 定期寫入（Write-Behind，不阻塞客戶端）
//   - 內容未變更時跳過寫入
//   - 關閉時最後寫入一次，縮小資料遺失窗口
//
// 快照格式是帶版本標籤的 JSON 信封，存放位置可替換：
//   - file：本地檔案（temp + rename 原子寫入）
//   - postgres：snapshots 表（jsonb）
//   - redis：單一 key
//   - sqlite：單檔資料庫
//   - memory：不持久化（測試、臨時部署）
package persist

import (
	"context"
	"errors"
	"sync"
)

// ErrNoSnapshot 尚未寫入過快照
var ErrNoSnapshot = errors.New("no snapshot stored")

// Backend 快照存放位置
//
// 實作只搬運位元組；格式由 Encode/Decode 負責。
type Backend interface {
	// Load 讀取最後一次寫入的快照，不存在時回傳 ErrNoSnapshot
	Load(ctx context.Context) ([]byte, error)
	// Save 覆寫快照
	Save(ctx context.Context, data []byte) error
	// Name 後端名稱（日誌用）
	Name() string
	Close() error
}

// MemoryBackend 記憶體後端
type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryBackend 創建記憶體後端
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.data == nil {
		return nil, ErrNoSnapshot
	}
	return append([]byte(nil), b.data...), nil
}

func (b *MemoryBackend) Save(_ context.Context, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append([]byte(nil), data...)
	return nil
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Close() error { return nil }
