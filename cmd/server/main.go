package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/koopa0/system-design/14-shared-list/internal/app"
	"github.com/koopa0/system-design/14-shared-list/internal/config"
	"github.com/koopa0/system-design/14-shared-list/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "config.yaml", "配置檔路徑")
		logLevel   = flag.String("log-level", "", "覆蓋配置中的日誌級別 (debug, info, warn, error)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	// 設置日誌
	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 載入快照；版本不支援或損毀時拒絕啟動
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("shutdown signal received", "signal", sig)
		cancel()
	}()

	runErr := a.Run(ctx)
	if err := a.Close(); err != nil {
		log.Warn("close snapshot backend", "error", err)
	}
	if runErr != nil {
		log.Error("server exited with error", "error", runErr)
		os.Exit(1)
	}
}
