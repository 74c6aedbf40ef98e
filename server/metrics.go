package server

import (
	"sync/atomic"
)

// Metrics 中继运行期计数（供 /metrics 输出），并发安全
type Metrics struct {
	ConnectionsOpen int64 // 当前注册的连接数
	RoomsCreated    int64
	RoomsDestroyed  int64 // X 离开或取消
	Joins           int64
	JoinRejected    int64 // 房间不存在或已满
	MovesAccepted   int64
	MovesDropped    int64 // 非法或越权的落子
	GamesWon        int64
	GamesDrawn      int64
	Restarts        int64
	ChatsRelayed    int64
	Disconnects     int64 // 离开时确实在房间内
	SendDropped     int64 // 发送队列满而丢弃的帧
}

func (m *Metrics) IncRoomsCreated()   { atomic.AddInt64(&m.RoomsCreated, 1) }
func (m *Metrics) IncRoomsDestroyed() { atomic.AddInt64(&m.RoomsDestroyed, 1) }
func (m *Metrics) IncJoins()          { atomic.AddInt64(&m.Joins, 1) }
func (m *Metrics) IncJoinRejected()   { atomic.AddInt64(&m.JoinRejected, 1) }
func (m *Metrics) IncMovesAccepted()  { atomic.AddInt64(&m.MovesAccepted, 1) }
func (m *Metrics) IncMovesDropped()   { atomic.AddInt64(&m.MovesDropped, 1) }
func (m *Metrics) IncGamesWon()       { atomic.AddInt64(&m.GamesWon, 1) }
func (m *Metrics) IncGamesDrawn()     { atomic.AddInt64(&m.GamesDrawn, 1) }
func (m *Metrics) IncRestarts()       { atomic.AddInt64(&m.Restarts, 1) }
func (m *Metrics) IncChatsRelayed()   { atomic.AddInt64(&m.ChatsRelayed, 1) }
func (m *Metrics) IncDisconnects()    { atomic.AddInt64(&m.Disconnects, 1) }
func (m *Metrics) IncSendDropped()    { atomic.AddInt64(&m.SendDropped, 1) }
func (m *Metrics) AddConnections(d int64) {
	atomic.AddInt64(&m.ConnectionsOpen, d)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"connections_open": atomic.LoadInt64(&m.ConnectionsOpen),
		"rooms_created":    atomic.LoadInt64(&m.RoomsCreated),
		"rooms_destroyed":  atomic.LoadInt64(&m.RoomsDestroyed),
		"joins":            atomic.LoadInt64(&m.Joins),
		"join_rejected":    atomic.LoadInt64(&m.JoinRejected),
		"moves_accepted":   atomic.LoadInt64(&m.MovesAccepted),
		"moves_dropped":    atomic.LoadInt64(&m.MovesDropped),
		"games_won":        atomic.LoadInt64(&m.GamesWon),
		"games_drawn":      atomic.LoadInt64(&m.GamesDrawn),
		"restarts":         atomic.LoadInt64(&m.Restarts),
		"chats_relayed":    atomic.LoadInt64(&m.ChatsRelayed),
		"disconnects":      atomic.LoadInt64(&m.Disconnects),
		"send_dropped":     atomic.LoadInt64(&m.SendDropped),
	}
}
