package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"snakearena/server"
)

// snakearena 入口：TCP 游戏端口 + HTTP（WebSocket、管理与监控）
func main() {
	var (
		cfgPath  string
		addr     string
		httpAddr string
	)
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to YAML config (optional)")
	flag.StringVar(&addr, "addr", "", "tcp listen address, overrides config, e.g. :8888")
	flag.StringVar(&httpAddr, "http", "", "http listen address for /ws and admin, overrides config")
	flag.Parse()

	// .env 不存在时忽略
	_ = godotenv.Load()

	cfg, err := server.LoadConfig(cfgPath)
	if err != nil {
		panic(err)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}

	if err := server.InitLogger(cfg.Log); err != nil {
		panic(err)
	}
	defer server.SyncLogger()

	srv, err := server.NewServer(cfg)
	if err != nil {
		server.Log.Fatalf("init server: %v", err)
	}

	go func() {
		if err := srv.ListenAndServe(cfg.Addr); err != nil {
			server.Log.Fatalf("tcp listen: %v", err)
		}
	}()

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Routes()}
	go func() {
		server.Log.Infof("snakearena http on %s (ws at /ws, metrics at /metrics)", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Fatalf("http listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	server.Log.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		server.Log.Warnw("http shutdown", "err", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		server.Log.Warnw("server shutdown", "err", err)
	}
}
