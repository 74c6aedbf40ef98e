package server

import (
	"errors"

	"tictacrelay/game"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	// 已在房间内的连接再次创建或加入
	ErrAlreadyBound = errors.New("connection already in a room")
)

// Manager 管理房间生命周期：创建、加入、落子、重开、离开、取消
// 并发安全；加锁顺序为先房间后 store
type Manager struct {
	store   *RoomStore
	metrics *Metrics
}

// NewManager metrics 可为 nil
func NewManager(store *RoomStore, metrics *Metrics) *Manager {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Manager{store: store, metrics: metrics}
}

func (m *Manager) Store() *RoomStore { return m.store }

// MoveOutcome 一次被接受的落子
type MoveOutcome struct {
	Room   RoomSnapshot
	Result game.Result
}

// LeaveOutcome 连接离开房间或房间被取消的结果
type LeaveOutcome struct {
	RoomID string
	// 离开者的座位；取消时为发起者的座位
	Symbol game.Symbol
	// 需要通知的留下一方（从不是离开者本人）；为空则无需通知
	Notify ConnID
	// 房间是否已销毁
	Destroyed bool
}

// CreateRoom 创建房间，conn 坐 X
func (m *Manager) CreateRoom(conn ConnID, name string) (RoomSnapshot, error) {
	if _, bound := m.store.RoomFor(conn); bound {
		return RoomSnapshot{}, ErrAlreadyBound
	}
	r, err := m.store.Create(func(id string) *Room {
		return NewRoom(id, Slot{Name: name, Conn: conn})
	})
	if err != nil {
		return RoomSnapshot{}, err
	}
	m.store.Bind(conn, r.ID)
	m.metrics.IncRoomsCreated()
	Log.Infow("room created", "room", r.ID, "conn", conn, "player", name)
	return r.Snapshot(), nil
}

// JoinRoom conn 坐入 roomID 的 O 位并开始对局，棋盘与回合不变
func (m *Manager) JoinRoom(conn ConnID, name, roomID string) (RoomSnapshot, error) {
	if _, bound := m.store.RoomFor(conn); bound {
		return RoomSnapshot{}, ErrAlreadyBound
	}
	r, ok := m.store.Get(roomID)
	if !ok {
		m.metrics.IncJoinRejected()
		return RoomSnapshot{}, ErrRoomNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		m.metrics.IncJoinRejected()
		return RoomSnapshot{}, ErrRoomNotFound
	}
	if r.o.Occupied() {
		m.metrics.IncJoinRejected()
		return RoomSnapshot{}, ErrRoomFull
	}
	r.o = Slot{Name: name, Conn: conn}
	r.active = true
	m.store.Bind(conn, r.ID)
	m.metrics.IncJoins()
	Log.Infow("player joined", "room", r.ID, "conn", conn, "player", name)
	return r.snapshot(), nil
}

// ApplyMove 在 cell 落 sym
// 非法落子（房间不存在或未激活、不是该方回合、越界、格子已占）不改变任何状态，返回 false
func (m *Manager) ApplyMove(roomID string, cell int, sym game.Symbol) (MoveOutcome, bool) {
	r, ok := m.store.Get(roomID)
	if !ok {
		m.metrics.IncMovesDropped()
		return MoveOutcome{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed || !r.active || sym != r.turn || !game.InRange(cell) || r.board[cell] != game.None {
		m.metrics.IncMovesDropped()
		Log.Debugw("move dropped", "room", roomID, "cell", cell, "symbol", sym, "turn", r.turn, "active", r.active)
		return MoveOutcome{}, false
	}

	r.board[cell] = sym
	res := game.Evaluate(r.board)
	m.metrics.IncMovesAccepted()
	if res.GameOver() {
		r.active = false
		if res.Status == game.Won {
			r.scores.add(res.Winner)
			m.metrics.IncGamesWon()
		} else {
			m.metrics.IncGamesDrawn()
		}
		Log.Infow("game over", "room", roomID, "status", res.Status.String(), "winner", res.Winner, "scores", r.scores)
	} else {
		r.turn = r.turn.Opponent()
	}
	return MoveOutcome{Room: r.snapshot(), Result: res}, true
}

// RestartRoom 清空棋盘、X 先手，比分保留
// 只有两个座位都有人时才激活
func (m *Manager) RestartRoom(roomID string) (RoomSnapshot, bool) {
	r, ok := m.store.Get(roomID)
	if !ok {
		return RoomSnapshot{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return RoomSnapshot{}, false
	}
	r.resetBoard()
	r.active = r.full()
	m.metrics.IncRestarts()
	Log.Infow("new game started", "room", roomID, "active", r.active)
	return r.snapshot(), true
}

// Disconnect 将 conn 移出房间
// O 离开：房间回到等待状态，比分保留；X 离开：房间销毁
// conn 不在任何房间时返回 false
func (m *Manager) Disconnect(conn ConnID) (LeaveOutcome, bool) {
	roomID, ok := m.store.RoomFor(conn)
	if !ok {
		return LeaveOutcome{}, false
	}
	r, ok := m.store.Get(roomID)
	if !ok {
		m.store.Unbind(conn)
		return LeaveOutcome{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	sym := r.symbolOf(conn)
	if r.destroyed || sym == game.None {
		m.store.Unbind(conn)
		return LeaveOutcome{}, false
	}

	out := LeaveOutcome{RoomID: roomID, Symbol: sym}
	if other := r.slot(sym.Opponent()); r.active && other.Occupied() {
		out.Notify = other.Conn
	}
	m.metrics.IncDisconnects()

	switch sym {
	case game.O:
		r.o = Slot{}
		r.active = false
		r.resetBoard()
		m.store.Unbind(conn)
		Log.Infow("player O left, waiting for new player", "room", roomID, "conn", conn)
	case game.X:
		m.destroy(r)
		out.Destroyed = true
		Log.Infow("player X left, room deleted", "room", roomID, "conn", conn)
	}
	return out, true
}

// CancelRoom 无条件销毁 roomID；by 为发起取消的连接
// 另一个座位若有人则写入 Notify，发起者本人从不被通知
func (m *Manager) CancelRoom(roomID string, by ConnID) (LeaveOutcome, bool) {
	r, ok := m.store.Get(roomID)
	if !ok {
		return LeaveOutcome{}, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return LeaveOutcome{}, false
	}
	sym := r.symbolOf(by)
	out := LeaveOutcome{RoomID: roomID, Symbol: sym, Destroyed: true}
	for _, c := range r.members() {
		if c != by {
			out.Notify = c
		}
	}
	m.destroy(r)
	Log.Infow("room cancelled", "room", roomID, "conn", by, "symbol", sym)
	return out, true
}

// destroy 从 store 移除 r 并解除两个座位的绑定，调用方须持有 r.mu
func (m *Manager) destroy(r *Room) {
	conns := r.members()
	r.destroyed = true
	r.active = false
	r.x, r.o = Slot{}, Slot{}
	m.store.Delete(r.ID, conns...)
	m.metrics.IncRoomsDestroyed()
}

// Binding conn 当前所在的房间与座位
func (m *Manager) Binding(conn ConnID) (string, game.Symbol, bool) {
	roomID, ok := m.store.RoomFor(conn)
	if !ok {
		return "", game.None, false
	}
	r, ok := m.store.Get(roomID)
	if !ok {
		return "", game.None, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sym := r.symbolOf(conn)
	if r.destroyed || sym == game.None {
		return "", game.None, false
	}
	return roomID, sym, true
}

// Room 存活房间的快照
func (m *Manager) Room(roomID string) (RoomSnapshot, bool) {
	r, ok := m.store.Get(roomID)
	if !ok {
		return RoomSnapshot{}, false
	}
	return r.Snapshot(), true
}

// Rooms 全部存活房间的快照
func (m *Manager) Rooms() []RoomSnapshot {
	rooms := m.store.All()
	out := make([]RoomSnapshot, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Snapshot())
	}
	return out
}
