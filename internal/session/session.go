// Package session 處理單一客戶端連線的完整生命週期
//
// 狀態：Connected → Serving → Closed
//
// 系統設計考量：
//
//  1. 單一寫入者：gorilla/websocket 不允許並發寫入
//     - 讀取在 readPump goroutine，解碼後交給主迴圈
//     - 主迴圈是唯一寫入者：直接回覆、轉發廣播、Ping 都在這裡
//
//  2. 兩條投遞路徑：
//     - 請求者：主迴圈直接寫回（不經 Hub）
//     - 其他連線：Hub.Broadcast 排除請求者
//     → 每個連線對每則事件恰好收到一次；兩條路徑之間不保證全域順序
//
//  3. 心跳：54s Ping / 60s 讀取超時（與房間服務相同配置）
//
//  4. 結束：傳輸中斷、解碼失敗、佇列溢出、伺服器關閉 → 註銷並關閉連線
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-shared-list/internal/hub"
	"github.com/koopa0/system-design/14-shared-list/internal/protocol"
	"github.com/koopa0/system-design/14-shared-list/internal/store"
	apperrors "github.com/koopa0/system-design/14-shared-list/pkg/errors"
	"github.com/koopa0/system-design/14-shared-list/pkg/logger"
)

// Config 連線參數
type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	// AllowedOrigins 為空時接受任何來源
	AllowedOrigins []string
}

// DefaultConfig 返回預設配置
func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 64 << 10,
	}
}

var errBinaryMessage = errors.New("binary frames are not supported")

// Handler 接受 WebSocket 連線並為每個連線執行一個 session
type Handler struct {
	store    *store.Store
	hub      *hub.Hub
	config   Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHandler 創建 session 處理器
func NewHandler(st *store.Store, h *hub.Hub, config Config, logger *slog.Logger) *Handler {
	ctx, cancel := context.WithCancel(context.Background())

	handler := &Handler{
		store:  st,
		hub:    h,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     handler.checkOrigin,
	}
	return handler
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(h.config.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP 升級連線並阻塞到 session 結束
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	ctx := logger.WithRemoteAddr(h.ctx, r.RemoteAddr)
	h.serve(ctx, conn)
}

// Shutdown 結束所有 session 並等待退出
func (h *Handler) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// session 單一連線狀態
type session struct {
	conn   *websocket.Conn
	client *hub.Client
	store  *store.Store
	hub    *hub.Hub
	config Config
	logger *slog.Logger
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn) {
	// Connected：註冊事件出口
	client := h.hub.Register()
	ctx = logger.WithSessionID(ctx, client.ID())

	s := &session{
		conn:   conn,
		client: client,
		store:  h.store,
		hub:    h.hub,
		config: h.config,
		logger: h.logger,
	}

	h.logger.InfoContext(ctx, "session connected", "clients", h.hub.Count())

	reason := s.run(ctx)

	// Closed：註銷只發生一次（佇列溢出時 Hub 已註銷，這裡回傳 false）
	h.hub.Unregister(client)
	h.logger.InfoContext(ctx, "session closed", "reason", reason, "clients", h.hub.Count())
}

// run 執行 Serving 迴圈，回傳結束原因
func (s *session) run(ctx context.Context) string {
	requests := make(chan protocol.Request)
	readErr := make(chan error, 1)
	done := make(chan struct{})

	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		s.readPump(requests, readErr, done)
	}()

	defer func() {
		close(done)
		s.conn.Close()
		readers.Wait()
	}()

	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.writeClose(websocket.CloseGoingAway, "server shutting down")
			return "shutdown"

		case resp, ok := <-s.client.Events():
			if !ok {
				if s.client.Overflowed() {
					s.writeClose(websocket.CloseTryAgainLater, "event queue overflow")
					return "overflow"
				}
				s.writeClose(websocket.CloseGoingAway, "server shutting down")
				return "hub closed"
			}
			if err := s.write(resp); err != nil {
				s.logger.WarnContext(ctx, "write event failed", "error", err)
				return "write error"
			}

		case req := <-requests:
			if err := s.handle(ctx, req); err != nil {
				s.logger.WarnContext(ctx, "write reply failed", "error", err)
				return "write error"
			}

		case err := <-readErr:
			if apperrors.IsInvalidMessage(err) {
				s.logger.WarnContext(ctx, "closing session on undecodable message", "error", err)
				s.writeClose(websocket.CloseUnsupportedData, "invalid message")
				return "invalid message"
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.WarnContext(ctx, "websocket read error", "error", err)
			}
			return "end of stream"

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.WriteWait)); err != nil {
				return "ping failed"
			}
		}
	}
}

// handle 套用請求；先廣播（不阻塞）再直接回覆請求者
func (s *session) handle(ctx context.Context, req protocol.Request) error {
	resp, scope := Apply(s.store, req)

	s.logger.DebugContext(ctx, "request handled", "request", req.Kind, "response", resp.Kind, "scope", scope)

	switch scope {
	case ScopeBroadcast:
		s.hub.Broadcast(s.client, resp)
		return s.write(resp)
	case ScopeReply:
		return s.write(resp)
	default:
		return nil
	}
}

// readPump 讀取並解碼客戶端訊息
func (s *session) readPump(requests chan<- protocol.Request, readErr chan<- error, done <-chan struct{}) {
	s.conn.SetReadLimit(s.config.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.PongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}

		if messageType != websocket.TextMessage {
			readErr <- apperrors.Wrap(errBinaryMessage, apperrors.ErrCodeInvalidMessage, "decode request")
			return
		}

		req, err := protocol.DecodeRequest(data)
		if err != nil {
			readErr <- err
			return
		}

		select {
		case requests <- req:
		case <-done:
			return
		}
	}
}

func (s *session) write(resp protocol.Response) error {
	data, err := protocol.EncodeResponse(resp)
	if err != nil {
		return err
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) writeClose(code int, text string) {
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}
