package server

import (
	"sync"

	"tictacrelay/game"
)

// Room 两个连接之间的一场对局：状态由 mu 保护，只有 Manager 写入
type Room struct {
	ID string

	mu     sync.Mutex
	x, o   Slot
	board  game.Board
	turn   game.Symbol
	active bool
	scores Scores
	// 房间已从 store 移除；移除前拿到指针的调用方须视为不存在
	destroyed bool
}

// NewRoom 创建等待中的房间，创建者坐 X
func NewRoom(id string, creator Slot) *Room {
	return &Room{
		ID:   id,
		x:    creator,
		turn: game.X,
	}
}

func (r *Room) slot(sym game.Symbol) *Slot {
	switch sym {
	case game.X:
		return &r.x
	case game.O:
		return &r.o
	default:
		return nil
	}
}

// symbolOf conn 所在座位，不在房间返回 None
func (r *Room) symbolOf(conn ConnID) game.Symbol {
	switch {
	case conn == "":
		return game.None
	case r.x.Conn == conn:
		return game.X
	case r.o.Conn == conn:
		return game.O
	default:
		return game.None
	}
}

func (r *Room) full() bool { return r.x.Occupied() && r.o.Occupied() }

// resetBoard 清空棋盘，X 先手
func (r *Room) resetBoard() {
	r.board = game.Board{}
	r.turn = game.X
}

func (r *Room) members() []ConnID {
	out := make([]ConnID, 0, 2)
	if r.x.Occupied() {
		out = append(out, r.x.Conn)
	}
	if r.o.Occupied() {
		out = append(out, r.o.Conn)
	}
	return out
}

func (r *Room) players() Players {
	var p Players
	if r.x.Occupied() {
		name := r.x.Name
		p.X = &name
	}
	if r.o.Occupied() {
		name := r.o.Name
		p.O = &name
	}
	return p
}

// RoomSnapshot 房间状态的一致性副本（用于广播与 admin 输出）
type RoomSnapshot struct {
	ID      string      `json:"roomId"`
	Players Players     `json:"players"`
	Board   []string    `json:"board"`
	Turn    game.Symbol `json:"currentTurn"`
	Active  bool        `json:"active"`
	Scores  Scores      `json:"scores"`

	// 绑定的连接，X 在前
	Members []ConnID `json:"-"`
}

func (r *Room) snapshot() RoomSnapshot {
	return RoomSnapshot{
		ID:      r.ID,
		Players: r.players(),
		Board:   r.board.Strings(),
		Turn:    r.turn,
		Active:  r.active,
		Scores:  r.scores,
		Members: r.members(),
	}
}

// Snapshot 加锁复制房间状态
func (r *Room) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}
