// Package hub 管理所有在線連線的事件出口並負責廣播
//
// 系統設計考量：
//
//  1. 註冊表：map[*Client]struct{}，以每個 session 的 handle 為鍵
//     - 連線建立時註冊，session 結束時註銷，且只註銷一次
//
//  2. 並發安全：RWMutex
//     - 廣播只需讀鎖（多個 session 可同時廣播）
//     - 註冊/註銷、關閉 channel 需要寫鎖
//     - channel 只在寫鎖下關閉，且關閉前先移出註冊表，因此讀鎖下的發送不會碰到已關閉的 channel
//
//  3. 背壓：每個客戶端的佇列有上限
//     - 發送不阻塞（select default）
//     - 佇列滿的客戶端會被斷線（disconnect-on-overflow），重連後以 GetItems 重新同步
package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/koopa0/system-design/14-shared-list/internal/protocol"
)

// DefaultQueueSize 每個客戶端的預設佇列長度
const DefaultQueueSize = 256

// Client 單一 session 在 Hub 中的註冊項
type Client struct {
	id         string
	send       chan protocol.Response
	closeOnce  sync.Once
	overflowed atomic.Bool
}

// ID session 識別碼
func (c *Client) ID() string { return c.id }

// Events 其他 session 廣播給此連線的事件；被註銷後關閉
func (c *Client) Events() <-chan protocol.Response { return c.send }

// Overflowed 是否因佇列滿而被斷線
func (c *Client) Overflowed() bool { return c.overflowed.Load() }

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Tap 接收每一則廣播事件（例如轉發到外部事件流）
type Tap func(protocol.Response)

// Option Hub 選項
type Option func(*Hub)

// WithTap 設定廣播旁路
func WithTap(tap Tap) Option {
	return func(h *Hub) { h.tap = tap }
}

// Stats Hub 統計資訊
type Stats struct {
	Clients     int   `json:"clients"`
	Registered  int64 `json:"registered_total"`
	Broadcasts  int64 `json:"broadcasts_total"`
	Overflowed  int64 `json:"overflow_disconnects_total"`
	QueueLength int   `json:"queue_size"`
}

// Hub 連線中心
type Hub struct {
	mu        sync.RWMutex
	clients   map[*Client]struct{}
	closed    bool
	queueSize int
	logger    *slog.Logger
	tap       Tap

	registered atomic.Int64
	broadcasts atomic.Int64
	overflowed atomic.Int64
}

// New 創建 Hub
func New(queueSize int, logger *slog.Logger, opts ...Option) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	h := &Hub{
		clients:   make(map[*Client]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 註冊一個新的事件出口
//
// Hub 已關閉時回傳的 Client 佇列已關閉，session 會立即結束。
func (h *Hub) Register() *Client {
	c := &Client{
		id:   uuid.NewString(),
		send: make(chan protocol.Response, h.queueSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		c.close()
		return c
	}

	h.clients[c] = struct{}{}
	h.registered.Add(1)
	return c
}

// Unregister 註銷並關閉佇列，回傳是否真的移除（重複呼叫回傳 false）
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return false
	}

	delete(h.clients, c)
	c.close()
	return true
}

// Broadcast 將事件送給除 exclude 以外的所有客戶端，回傳成功投遞數
//
// 投遞不阻塞；佇列已滿的客戶端會被註銷。
func (h *Hub) Broadcast(exclude *Client, resp protocol.Response) int {
	var (
		delivered int
		overflow  []*Client
	)

	h.mu.RLock()
	for c := range h.clients {
		if c == exclude {
			continue
		}
		select {
		case c.send <- resp:
			delivered++
		default:
			overflow = append(overflow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range overflow {
		c.overflowed.Store(true)
		if h.Unregister(c) {
			h.overflowed.Add(1)
			h.logger.Warn("client queue full, disconnecting",
				"session_id", c.id,
				"queue_size", h.queueSize,
				"event", resp.Kind)
		}
	}

	h.broadcasts.Add(1)
	if h.tap != nil {
		h.tap(resp)
	}

	return delivered
}

// Count 目前在線客戶端數
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats 獲取統計資訊
func (h *Hub) Stats() Stats {
	return Stats{
		Clients:     h.Count(),
		Registered:  h.registered.Load(),
		Broadcasts:  h.broadcasts.Load(),
		Overflowed:  h.overflowed.Load(),
		QueueLength: h.queueSize,
	}
}

// Close 關閉所有佇列並拒絕後續註冊
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.clients {
		c.close()
		delete(h.clients, c)
	}

	h.logger.Info("hub closed")
}
