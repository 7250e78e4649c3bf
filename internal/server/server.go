// Package server 組裝 HTTP 路由
//
//	GET /api/v1/ws     WebSocket 同步連線（/ws 為別名）
//	GET /api/v1/items  目前清單（唯讀）
//	GET /health        健康檢查
//	GET /stats         連線、清單與持久化統計
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/koopa0/system-design/14-shared-list/internal/hub"
	"github.com/koopa0/system-design/14-shared-list/internal/persist"
	"github.com/koopa0/system-design/14-shared-list/internal/protocol"
	"github.com/koopa0/system-design/14-shared-list/internal/store"
)

// PersistenceStats 提供持久化統計（*persist.Manager 滿足此介面）
type PersistenceStats interface {
	Stats() persist.Stats
}

// Handler HTTP 請求處理器
type Handler struct {
	store       *store.Store
	hub         *hub.Hub
	sessions    http.Handler
	persistence PersistenceStats
	logger      *slog.Logger
	started     time.Time
}

// NewHandler 創建 HTTP 處理器；persistence 可為 nil
func NewHandler(st *store.Store, h *hub.Hub, sessions http.Handler, persistence PersistenceStats, logger *slog.Logger) *Handler {
	return &Handler{
		store:       st,
		hub:         h,
		sessions:    sessions,
		persistence: persistence,
		logger:      logger,
		started:     time.Now(),
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("GET /api/v1/ws", wrap(h.sessions.ServeHTTP))
	mux.HandleFunc("GET /ws", wrap(h.sessions.ServeHTTP))
	mux.HandleFunc("GET /api/v1/items", wrap(h.listItems))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

type itemsResponse struct {
	Items []protocol.Item `json:"items"`
	Count int             `json:"count"`
}

// listItems 回傳與 GetItems 相同的快照
func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items := h.store.Snapshot()
	if items == nil {
		items = []protocol.Item{}
	}
	h.jsonResponse(w, itemsResponse{Items: items, Count: len(items)}, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

type statsResponse struct {
	Sessions    int            `json:"sessions"`
	Items       int            `json:"items"`
	Uptime      string         `json:"uptime"`
	Hub         hub.Stats      `json:"hub"`
	Persistence *persist.Stats `json:"persistence,omitempty"`
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		Sessions: h.hub.Count(),
		Items:    h.store.Len(),
		Uptime:   time.Since(h.started).Round(time.Second).String(),
		Hub:      h.hub.Stats(),
	}
	if h.persistence != nil {
		ps := h.persistence.Stats()
		resp.Persistence = &ps
	}
	h.jsonResponse(w, resp, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("encode json response", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
//
// httpsnoop 保留 http.Hijacker，WebSocket 升級才能通過包裝後的 ResponseWriter。
// /ws 的紀錄在連線結束時輸出，duration 即連線時間。
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", m.Code,
			"bytes", m.Written,
			"duration", m.Duration)
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic while handling request",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}
