package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"tictacrelay/config"
)

// Client 一个 WebSocket 连接：写经由发送队列与写协程，读转交给 Gateway
type Client struct {
	id   ConnID
	ws   *websocket.Conn
	cfg  config.ServerConfig
	mu   sync.Mutex
	send chan []byte
	// Close 之后禁止再写入 send
	closed bool
}

// NewClient 包装 ws 并分配新的连接 ID
func NewClient(ws *websocket.Conn, cfg config.ServerConfig) *Client {
	return &Client{
		id:   ConnID(uuid.NewString()),
		ws:   ws,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
	}
}

func (c *Client) ID() ConnID { return c.id }

// Enqueue 将要发送的消息压入队列（非阻塞，满则丢弃）
func (c *Client) Enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// Close 关闭发送队列以结束写协程，可重复调用
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				Log.Debugw("websocket write failed", "conn", c.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump 读取客户端帧交给 Gateway；退出时提交断线事件
func (c *Client) readPump(ctx context.Context, g *Gateway) {
	defer func() {
		g.Leave(c)
		c.Close()
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		typ, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				Log.Infow("websocket read error", "conn", c.id, "error", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		// 任何入站帧都算存活
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		if err := g.Submit(ctx, c, payload); err != nil {
			return
		}
	}
}

// WSHandler WebSocket 接入：升级后注册到 Gateway
type WSHandler struct {
	ctx      context.Context
	gateway  *Gateway
	cfg      config.ServerConfig
	upgrader websocket.Upgrader
}

// NewWSHandler 创建 /ws 处理器；ctx 约束所有已接入连接的生命周期
func NewWSHandler(ctx context.Context, g *Gateway, cfg config.ServerConfig) *WSHandler {
	h := &WSHandler{ctx: ctx, gateway: g, cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("upgrade error", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(ws, h.cfg)
	h.gateway.Register(client)
	Log.Infow("new connection", "conn", client.id, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump(h.ctx, h.gateway)
}
