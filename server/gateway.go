package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"tictacrelay/game"
)

const defaultPlayerName = "Player"

var errStopped = errors.New("gateway stopped")

// Peer 客户端连接的发送端
type Peer interface {
	ID() ConnID
	// 非阻塞入队，被丢弃时返回 false
	Enqueue(b []byte) bool
}

// Limits 客户端文本的长度限制
type Limits struct {
	MaxNameLength int
	MaxChatLength int
}

type event struct {
	peer  Peer
	frame []byte
	leave bool
}

// Gateway 解码入站帧，交给 Manager 执行，再把结果事件发给相应连接
// Run 在单个协程中串行处理所有事件，保证每个房间内事件有序
type Gateway struct {
	manager *Manager
	metrics *Metrics
	limits  Limits

	mu    sync.RWMutex
	peers map[ConnID]Peer

	inbox chan event
	done  chan struct{}
	once  sync.Once
}

// NewGateway metrics 可为 nil
func NewGateway(manager *Manager, metrics *Metrics, limits Limits, inboxSize int) *Gateway {
	if metrics == nil {
		metrics = &Metrics{}
	}
	if inboxSize < 1 {
		inboxSize = 1
	}
	return &Gateway{
		manager: manager,
		metrics: metrics,
		limits:  limits,
		peers:   make(map[ConnID]Peer),
		inbox:   make(chan event, inboxSize),
		done:    make(chan struct{}),
	}
}

// Register 注册 p，之后可接收出站事件
func (g *Gateway) Register(p Peer) {
	g.mu.Lock()
	g.peers[p.ID()] = p
	g.mu.Unlock()
	g.metrics.AddConnections(1)
}

func (g *Gateway) unregister(id ConnID) {
	g.mu.Lock()
	_, ok := g.peers[id]
	delete(g.peers, id)
	g.mu.Unlock()
	if ok {
		g.metrics.AddConnections(-1)
	}
}

func (g *Gateway) peer(id ConnID) (Peer, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.peers[id]
	return p, ok
}

// Run 处理队列中的事件，直到 ctx 取消
func (g *Gateway) Run(ctx context.Context) {
	defer g.once.Do(func() { close(g.done) })
	Log.Info("gateway loop started")
	for {
		select {
		case <-ctx.Done():
			Log.Info("gateway loop stopped")
			return
		case ev := <-g.inbox:
			if ev.leave {
				g.Disconnect(ev.peer)
			} else {
				g.Handle(ev.peer, ev.frame)
			}
		}
	}
}

// Submit 提交 p 的入站帧；队列满时阻塞
func (g *Gateway) Submit(ctx context.Context, p Peer, frame []byte) error {
	select {
	case <-g.done:
		return errStopped
	default:
	}
	select {
	case g.inbox <- event{peer: p, frame: frame}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return errStopped
	}
}

// Leave 提交 p 的断线事件；事件循环已停止时直接执行
func (g *Gateway) Leave(p Peer) {
	select {
	case <-g.done:
		g.Disconnect(p)
		return
	default:
	}
	select {
	case g.inbox <- event{peer: p, leave: true}:
	case <-g.done:
		g.Disconnect(p)
	}
}

// Disconnect 处理传输层断线：注销 p 并离开其房间
func (g *Gateway) Disconnect(p Peer) {
	g.unregister(p.ID())
	g.leave(p.ID())
}

// Handle 解码并执行 p 的一个入站帧；格式错误与非法请求静默丢弃
func (g *Gateway) Handle(p Peer, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		Log.Debugw("undecodable frame dropped", "conn", p.ID(), "error", err)
		return
	}

	var err error
	switch env.Type {
	case MsgCreateRoom:
		var req createRoomRequest
		if err = decodeData(env.Data, &req); err == nil {
			g.createRoom(p, req)
		}
	case MsgJoinRoom:
		var req joinRoomRequest
		if err = decodeData(env.Data, &req); err == nil {
			g.joinRoom(p, req)
		}
	case MsgMakeMove:
		var req makeMoveRequest
		if err = decodeData(env.Data, &req); err == nil {
			g.makeMove(p, req)
		}
	case MsgRequestNewGame:
		var req roomRequest
		if err = decodeData(env.Data, &req); err == nil {
			g.requestNewGame(p, req)
		}
	case MsgSendMessage:
		var req sendMessageRequest
		if err = decodeData(env.Data, &req); err == nil {
			g.sendMessage(p, req)
		}
	case MsgCancelRoom:
		var req roomRequest
		if err = decodeData(env.Data, &req); err == nil {
			g.cancelRoom(p, req)
		}
	case MsgLeaveGame:
		g.leave(p.ID())
	default:
		Log.Debugw("unknown message type dropped", "conn", p.ID(), "type", env.Type)
	}
	if err != nil {
		Log.Debugw("malformed payload dropped", "conn", p.ID(), "type", env.Type, "error", err)
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// createRoom 已在房间内的连接先离开旧房间
// 创建只在房间码耗尽时失败，此时旧房间已不可恢复
func (g *Gateway) createRoom(p Peer, req createRoomRequest) {
	g.leave(p.ID())
	room, err := g.manager.CreateRoom(p.ID(), g.cleanName(req.PlayerName))
	if err != nil {
		Log.Warnw("create room failed", "conn", p.ID(), "error", err)
		g.send(p.ID(), MsgError, errorEvent{Message: "Could not create room", Redirect: true})
		return
	}
	g.send(p.ID(), MsgRoomCreated, roomCreatedEvent{RoomID: room.ID, Symbol: game.X})
}

// joinRoom 已在其他房间的连接，只有目标房间可加入时才离开旧房间
func (g *Gateway) joinRoom(p Peer, req joinRoomRequest) {
	roomID := normalizeRoomID(req.RoomID)
	if cur, _, ok := g.manager.Binding(p.ID()); ok {
		if cur == roomID {
			Log.Debugw("join of own room ignored", "conn", p.ID(), "room", roomID)
			return
		}
		if err := g.joinable(roomID); err != nil {
			g.metrics.IncJoinRejected()
			g.joinFailed(p, roomID, err)
			return
		}
	}
	g.leave(p.ID())

	room, err := g.manager.JoinRoom(p.ID(), g.cleanName(req.PlayerName), roomID)
	if err != nil {
		g.joinFailed(p, roomID, err)
		return
	}

	g.send(p.ID(), MsgJoinedRoom, joinedRoomEvent{
		RoomID:      room.ID,
		Symbol:      game.O,
		Players:     room.Players,
		CurrentTurn: room.Turn,
	})
	g.sendExcept(room.Members, p.ID(), MsgOpponentJoined, opponentJoinedEvent{
		Players:     room.Players,
		CurrentTurn: room.Turn,
	})
}

// joinable 预检目标房间：不存在或已满时返回对应错误
func (g *Gateway) joinable(roomID string) error {
	room, ok := g.manager.Room(roomID)
	switch {
	case !ok:
		return ErrRoomNotFound
	case room.Players.O != nil:
		return ErrRoomFull
	}
	return nil
}

func (g *Gateway) joinFailed(p Peer, roomID string, err error) {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		g.send(p.ID(), MsgError, errorEvent{Message: "Room not found", Redirect: true})
	case errors.Is(err, ErrRoomFull):
		g.send(p.ID(), MsgError, errorEvent{Message: "Room is full", Redirect: true})
	default:
		Log.Warnw("join room failed", "conn", p.ID(), "room", roomID, "error", err)
		g.send(p.ID(), MsgError, errorEvent{Message: "Could not join room", Redirect: true})
	}
}

// bound 规范化 roomID 并返回 p 在该房间的座位
// 请求的房间不是发送者所在房间时视为非法
func (g *Gateway) bound(p Peer, roomID string) (string, game.Symbol, bool) {
	roomID = normalizeRoomID(roomID)
	id, sym, ok := g.manager.Binding(p.ID())
	if !ok || id != roomID {
		return "", game.None, false
	}
	return id, sym, true
}

func (g *Gateway) makeMove(p Peer, req makeMoveRequest) {
	roomID, sym, ok := g.bound(p, req.RoomID)
	if !ok || req.CellIndex == nil || string(sym) != req.PlayerSymbol {
		g.metrics.IncMovesDropped()
		Log.Debugw("move rejected", "conn", p.ID(), "room", req.RoomID, "claimed", req.PlayerSymbol)
		return
	}
	out, ok := g.manager.ApplyMove(roomID, *req.CellIndex, sym)
	if !ok {
		return
	}
	g.broadcast(out.Room.Members, MsgMoveResult, newMoveResult(out))
}

func (g *Gateway) requestNewGame(p Peer, req roomRequest) {
	roomID, _, ok := g.bound(p, req.RoomID)
	if !ok {
		return
	}
	cur, ok := g.manager.Room(roomID)
	if !ok || len(cur.Members) < 2 {
		Log.Debugw("restart ignored, opponent missing", "conn", p.ID(), "room", roomID)
		return
	}
	room, ok := g.manager.RestartRoom(roomID)
	if !ok {
		return
	}
	g.broadcast(room.Members, MsgGameRestarted, gameRestartedEvent{
		Board:       room.Board,
		CurrentTurn: room.Turn,
		Players:     room.Players,
	})
}

func (g *Gateway) sendMessage(p Peer, req sendMessageRequest) {
	roomID, sym, ok := g.bound(p, req.RoomID)
	if !ok {
		return
	}
	text := clip(strings.TrimSpace(req.Message), g.limits.MaxChatLength)
	if text == "" {
		return
	}
	room, ok := g.manager.Room(roomID)
	if !ok {
		return
	}
	sender := req.Sender
	if name := room.Players.name(sym); name != "" {
		sender = name
	}
	g.sendExcept(room.Members, p.ID(), MsgChatMessage, chatMessageEvent{Message: text, Sender: sender})
	g.metrics.IncChatsRelayed()
}

func (g *Gateway) cancelRoom(p Peer, req roomRequest) {
	roomID, _, ok := g.bound(p, req.RoomID)
	if !ok {
		return
	}
	out, ok := g.manager.CancelRoom(roomID, p.ID())
	if ok && out.Notify != "" {
		g.send(out.Notify, MsgOpponentLeft, struct{}{})
	}
}

// leave 执行 conn 的离开房间流程并通知对手
func (g *Gateway) leave(conn ConnID) {
	out, ok := g.manager.Disconnect(conn)
	if ok && out.Notify != "" {
		g.send(out.Notify, MsgOpponentLeft, struct{}{})
	}
}

func (g *Gateway) send(to ConnID, typ string, data any) {
	b, err := encode(typ, data)
	if err != nil {
		Log.Errorw("encoding outbound message", "type", typ, "error", err)
		return
	}
	g.deliver(to, typ, b)
}

func (g *Gateway) deliver(to ConnID, typ string, b []byte) {
	p, ok := g.peer(to)
	if !ok {
		return
	}
	if !p.Enqueue(b) {
		g.metrics.IncSendDropped()
		Log.Warnw("send queue full, message dropped", "conn", to, "type", typ)
	}
}

func (g *Gateway) broadcast(members []ConnID, typ string, data any) {
	g.sendExcept(members, "", typ, data)
}

func (g *Gateway) sendExcept(members []ConnID, except ConnID, typ string, data any) {
	b, err := encode(typ, data)
	if err != nil {
		Log.Errorw("encoding outbound message", "type", typ, "error", err)
		return
	}
	for _, c := range members {
		if c != except {
			g.deliver(c, typ, b)
		}
	}
}

func (g *Gateway) cleanName(name string) string {
	name = clip(strings.TrimSpace(name), g.limits.MaxNameLength)
	if name == "" {
		return defaultPlayerName
	}
	return name
}

// clip 截断到最多 n 个 rune；n <= 0 表示不限制
func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
