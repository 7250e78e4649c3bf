package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/14-shared-list/internal/store"
)

// Load 從後端載入快照並重建存儲
//
// 後端沒有快照時回傳空存儲。版本不支援或內容損毀會回傳錯誤，
// 呼叫方應該拒絕啟動。
func Load(ctx context.Context, backend Backend, logger *slog.Logger) (*store.Store, error) {
	data, err := backend.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		logger.Info("no snapshot found, starting empty", "backend", backend.Name())
		return store.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot from %s: %w", backend.Name(), err)
	}

	items, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load snapshot from %s: %w", backend.Name(), err)
	}

	st, skipped := store.Restore(items)
	if skipped > 0 {
		logger.Warn("snapshot contained duplicate ids", "skipped", skipped)
	}
	logger.Info("snapshot loaded", "backend", backend.Name(), "items", st.Len())
	return st, nil
}

// Stats 持久化統計
type Stats struct {
	Backend   string    `json:"backend"`
	LastSaved time.Time `json:"last_saved"`
	Saves     uint64    `json:"saves"`
	Skipped   uint64    `json:"skipped"`
	Failures  uint64    `json:"failures"`
}

// Manager 定期將存儲快照寫入後端
//
// 快照在鎖外編碼與寫入；寫入失敗只記錄，下一次 tick 自然重試。
type Manager struct {
	store    *store.Store
	backend  Backend
	interval time.Duration
	logger   *slog.Logger

	// mu 串行化 Flush（定時寫入與關閉前寫入可能重疊）
	mu   sync.Mutex
	last []byte

	// statsMu 不跨越 backend.Save，慢速後端不會卡住 Stats
	statsMu sync.Mutex
	stats   Stats
}

// NewManager 創建持久化管理器
func NewManager(st *store.Store, backend Backend, interval time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		store:    st,
		backend:  backend,
		interval: interval,
		logger:   logger,
		stats:    Stats{Backend: backend.Name()},
	}
}

// Run 每個 interval 寫入一次，直到 ctx 取消
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("persistence started", "backend", m.backend.Name(), "interval", m.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveCtx, cancel := context.WithTimeout(ctx, m.interval)
			if _, err := m.Flush(saveCtx); err != nil {
				m.logger.Error("snapshot write failed", "backend", m.backend.Name(), "error", err)
			}
			cancel()
		}
	}
}

// Flush 立即寫入一次快照，回傳是否真的寫入（內容未變更時跳過）
func (m *Manager) Flush(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := Encode(m.store.Snapshot())
	if err != nil {
		m.record(func(s *Stats) { s.Failures++ })
		return false, fmt.Errorf("encode snapshot: %w", err)
	}

	if m.last != nil && bytes.Equal(m.last, data) {
		m.record(func(s *Stats) { s.Skipped++ })
		return false, nil
	}

	if err := m.backend.Save(ctx, data); err != nil {
		m.record(func(s *Stats) { s.Failures++ })
		return false, err
	}

	m.last = data
	m.record(func(s *Stats) {
		s.Saves++
		s.LastSaved = time.Now()
	})
	m.logger.Debug("snapshot written", "backend", m.backend.Name(), "bytes", len(data))
	return true, nil
}

func (m *Manager) record(update func(*Stats)) {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	update(&m.stats)
}

// Stats 獲取統計資訊
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}
