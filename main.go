package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tictacrelay/config"
	"tictacrelay/server"
)

// 入口：HTTP + WebSocket 服务，每个房间配对两名玩家
func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	if err := server.InitLogger(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "initialising logger: %v\n", err)
		os.Exit(1)
	}
	defer server.SyncLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := server.NewRelay(cfg)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		relay.Gateway.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           relay.Routes(ctx, cfg.Server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		server.Log.Infof("relay listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Errorf("listen: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	server.Log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		server.Log.Warnf("http shutdown: %v", err)
	}
	<-loopDone
}
