// Package events 將清單變更發布到 NATS
//
// 系統設計問題：其他服務（搜尋索引、稽核、通知）如何得知清單變更？
//
// 設計方案 ✅：
//   - 每個廣播事件同時發布到 NATS subject：<prefix>.<EventKind>
//     例：shared-list.ItemCreated
//   - 訂閱者用萬用字元 shared-list.* 接收全部
//   - 發布失敗只記錄，不影響客戶端（變更通知是盡力而為）
//
// 為什麼不用 JetStream：
//   - 清單本身由快照持久化，事件流只是通知
//   - Core NATS 發布不等待 ACK，不會拖慢 session
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/koopa0/system-design/14-shared-list/internal/hub"
	"github.com/koopa0/system-design/14-shared-list/internal/protocol"
	"github.com/nats-io/nats.go"
)

// Event 發布到 NATS 的訊息
//
// Data 與 WebSocket 上的回應格式相同，訂閱者可以直接用 protocol 解碼。
type Event struct {
	Kind      protocol.ResponseKind `json:"kind"`
	Data      protocol.Response     `json:"data"`
	Timestamp time.Time             `json:"timestamp"`
}

// Conn 發布所需的 NATS 連線能力（*nats.Conn 滿足此介面）
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher 變更事件發布者
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher 以既有連線創建發布者
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		prefix: prefix,
		logger: logger,
	}
}

// Connect 連接 NATS 並創建發布者
//
// 斷線後無限重連；重連期間的發布由 nats.go 緩衝。
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("shared-list"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	logger.Info("change feed connected", "url", conn.ConnectedUrl(), "prefix", prefix)
	return NewPublisher(conn, prefix, logger), nil
}

// Subject 事件對應的 subject
func (p *Publisher) Subject(kind protocol.ResponseKind) string {
	return p.prefix + "." + string(kind)
}

// Publish 發布單一事件
func (p *Publisher) Publish(resp protocol.Response) error {
	data, err := json.Marshal(Event{
		Kind:      resp.Kind,
		Data:      resp,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.conn.Publish(p.Subject(resp.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", resp.Kind, err)
	}
	return nil
}

// Tap 返回掛在 Hub 上的回呼；失敗只記錄
func (p *Publisher) Tap() hub.Tap {
	return func(resp protocol.Response) {
		if err := p.Publish(resp); err != nil {
			p.failed.Add(1)
			p.logger.Warn("change feed publish failed", "event", resp.Kind, "error", err)
			return
		}
		p.published.Add(1)
	}
}

// Published 成功發布數
func (p *Publisher) Published() uint64 { return p.published.Load() }

// Failed 發布失敗數
func (p *Publisher) Failed() uint64 { return p.failed.Load() }

// Close 送出緩衝中的訊息後關閉連線
func (p *Publisher) Close() error {
	return p.conn.Drain()
}
