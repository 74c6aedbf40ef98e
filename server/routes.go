package server

import (
	"context"
	"net/http"

	"tictacrelay/config"
)

// Relay 一个服务进程内装配好的组件
type Relay struct {
	Store   *RoomStore
	Manager *Manager
	Gateway *Gateway
	Metrics *Metrics
}

// NewRelay 按配置创建 store、manager 与 gateway
func NewRelay(cfg config.Config) *Relay {
	metrics := &Metrics{}
	store := NewRoomStore(RandomCodes(cfg.Rooms.CodeLength), cfg.Rooms.MaxCodeAttempts)
	manager := NewManager(store, metrics)
	gateway := NewGateway(manager, metrics, Limits{
		MaxNameLength: cfg.Rooms.MaxNameLength,
		MaxChatLength: cfg.Rooms.MaxChatLength,
	}, cfg.Server.InboxSize)
	return &Relay{Store: store, Manager: manager, Gateway: gateway, Metrics: metrics}
}

// Routes WebSocket 入口、运维接口，以及（配置时）客户端静态资源
func (rl *Relay) Routes(ctx context.Context, cfg config.ServerConfig) *http.ServeMux {
	admin := NewAdmin(rl.Manager, rl.Metrics)

	mux := http.NewServeMux()
	mux.Handle("/ws", NewWSHandler(ctx, rl.Gateway, cfg))
	mux.HandleFunc("/metrics", admin.HandleMetrics)
	mux.HandleFunc("/admin/rooms", admin.HandleRooms)
	mux.HandleFunc("/healthz", admin.HandleHealth)
	if cfg.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(cfg.StaticDir)))
	}
	return mux
}
