// Package app 組裝共享清單服務並管理其生命週期
//
// 啟動：開啟快照後端 → 載入快照 → 變更事件（可選）→ Hub → session → HTTP
//
// 關閉順序：
//  1. HTTP 停止接受新連接
//  2. 結束所有 session（WebSocket 連線不在 http.Server 追蹤範圍內）
//  3. 關閉 Hub
//  4. 停止定時寫入，做最後一次寫入
//
// 第 4 步在所有 session 結束之後，關閉前的最後一個變更也會寫入。
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/koopa0/system-design/14-shared-list/internal/config"
	"github.com/koopa0/system-design/14-shared-list/internal/events"
	"github.com/koopa0/system-design/14-shared-list/internal/hub"
	"github.com/koopa0/system-design/14-shared-list/internal/persist"
	"github.com/koopa0/system-design/14-shared-list/internal/server"
	"github.com/koopa0/system-design/14-shared-list/internal/session"
	"github.com/koopa0/system-design/14-shared-list/internal/store"
	"github.com/redis/go-redis/v9"
)

// App 共享清單服務
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	backend   persist.Backend
	publisher *events.Publisher
	store     *store.Store
	hub       *hub.Hub
	sessions  *session.Handler
	manager   *persist.Manager
	srv       *http.Server
}

// New 開啟後端並載入快照
//
// 快照版本不支援或損毀時回傳錯誤，呼叫方應拒絕啟動。
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	st, err := persist.Load(ctx, backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		store:   st,
	}

	// 變更事件（盡力而為，連不上就不發布）
	var hubOpts []hub.Option
	if cfg.Events.Enabled {
		publisher, err := events.Connect(cfg.Events.NATSURL, cfg.Events.Prefix, logger)
		if err != nil {
			logger.Warn("change feed disabled", "error", err)
		} else {
			a.publisher = publisher
			hubOpts = append(hubOpts, hub.WithTap(publisher.Tap()))
		}
	}

	a.hub = hub.New(cfg.Session.QueueSize, logger, hubOpts...)
	a.sessions = session.NewHandler(st, a.hub, session.Config{
		WriteWait:      cfg.Session.WriteWait,
		PongWait:       cfg.Session.PongWait,
		PingInterval:   cfg.Session.PingInterval,
		MaxMessageSize: cfg.Session.MaxMessageSize,
		AllowedOrigins: cfg.Session.AllowedOrigins,
	}, logger)
	a.manager = persist.NewManager(st, backend, cfg.Persistence.Interval, logger)

	a.srv = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.NewHandler(st, a.hub, a.sessions, a.manager, logger).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return a, nil
}

// Store 權威清單存儲
func (a *App) Store() *store.Store { return a.store }

// Run 監聽配置中的位址並服務到 ctx 取消
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve 在 ln 上服務到 ctx 取消或監聽失敗，然後依序關閉並寫入最後一次快照
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	runCtx, stopRun := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.manager.Run(runCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("shared list server starting",
			"addr", ln.Addr().String(),
			"backend", a.backend.Name(),
			"items", a.store.Len(),
			"events", a.publisher != nil)

		if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case listenErr = <-serveErr:
		a.logger.Error("listen failed", "error", listenErr)
	}

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown", "error", err)
	}
	if err := a.sessions.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("session shutdown", "error", err)
	}
	a.hub.Close()

	stopRun()
	wg.Wait()
	if written, err := a.manager.Flush(shutdownCtx); err != nil {
		a.logger.Error("final snapshot failed", "error", err)
	} else {
		a.logger.Info("final snapshot", "written", written, "items", a.store.Len())
	}

	a.logger.Info("server stopped")
	return listenErr
}

// Close 釋放變更事件連線與快照後端
func (a *App) Close() error {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("close change feed", "error", err)
		}
	}
	return a.backend.Close()
}

// openBackend 依配置建立快照後端
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (persist.Backend, error) {
	p := cfg.Persistence

	switch p.Backend {
	case config.BackendFile:
		return persist.NewFileBackend(p.File.Path), nil
	case config.BackendSQLite:
		return persist.OpenSQLite(ctx, p.SQLite.Path, p.Name)
	case config.BackendPostgres:
		return persist.OpenPostgres(ctx, cfg.PostgresDSN(), p.Name, logger)
	case config.BackendRedis:
		return persist.OpenRedis(ctx, &redis.Options{
			Addr:     p.Redis.Addr,
			Password: p.Redis.Password,
			DB:       p.Redis.DB,
		}, p.Name)
	case config.BackendMemory:
		logger.Warn("memory backend selected, list will not survive restart")
		return persist.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", p.Backend)
	}
}
