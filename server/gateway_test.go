package server

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	id     ConnID
	mu     sync.Mutex
	frames []Envelope
	full   bool
}

func newFakePeer(id string) *fakePeer { return &fakePeer{id: ConnID(id)} }

func (f *fakePeer) ID() ConnID { return f.id }

func (f *fakePeer) Enqueue(b []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		panic(err)
	}
	f.frames = append(f.frames, env)
	return true
}

func (f *fakePeer) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, e := range f.frames {
		out = append(out, e.Type)
	}
	return out
}

// last 将最近一个 typ 类型的帧解码到 v
func (f *fakePeer) last(t *testing.T, typ string, v any) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames) - 1; i >= 0; i-- {
		if f.frames[i].Type == typ {
			require.NoError(t, json.Unmarshal(f.frames[i].Data, v))
			return
		}
	}
	t.Fatalf("no %q frame for %s; got %v", typ, f.id, f.frames)
}

func (f *fakePeer) reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

func frame(typ string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	b, err := json.Marshal(Envelope{Type: typ, Data: raw})
	if err != nil {
		panic(err)
	}
	return b
}

func newTestGateway() (*Gateway, *Manager) {
	metrics := &Metrics{}
	m := NewManager(NewRoomStore(RandomCodes(6), 16), metrics)
	g := NewGateway(m, metrics, Limits{MaxNameLength: 16, MaxChatLength: 20}, 16)
	return g, m
}

// setupPair 注册两个 peer 并让它们进入同一房间
func setupPair(t *testing.T, g *Gateway) (x, o *fakePeer, roomID string) {
	t.Helper()
	x, o = newFakePeer("x"), newFakePeer("o")
	g.Register(x)
	g.Register(o)

	g.Handle(x, frame(MsgCreateRoom, map[string]any{"playerName": "Alice"}))
	var created struct {
		RoomID string `json:"roomId"`
		Symbol string `json:"symbol"`
	}
	x.last(t, MsgRoomCreated, &created)
	require.Equal(t, "X", created.Symbol)

	g.Handle(o, frame(MsgJoinRoom, map[string]any{"playerName": "Bob", "roomId": created.RoomID}))
	x.reset()
	o.reset()
	return x, o, created.RoomID
}

func move(roomID string, cell int, sym string) []byte {
	return frame(MsgMakeMove, map[string]any{"roomId": roomID, "cellIndex": cell, "playerSymbol": sym})
}

func TestGateway_CreateAndJoin(t *testing.T) {
	g, _ := newTestGateway()
	x, o := newFakePeer("x"), newFakePeer("o")
	g.Register(x)
	g.Register(o)

	g.Handle(x, frame(MsgCreateRoom, map[string]any{"playerName": "  Alice  "}))
	var created roomCreatedEvent
	x.last(t, MsgRoomCreated, &created)
	assert.Len(t, created.RoomID, 6)

	// 房间码不区分大小写
	g.Handle(o, frame(MsgJoinRoom, map[string]any{"playerName": "Bob", "roomId": strings.ToLower(created.RoomID)}))

	var joined joinedRoomEvent
	o.last(t, MsgJoinedRoom, &joined)
	assert.Equal(t, created.RoomID, joined.RoomID)
	assert.Equal(t, "O", string(joined.Symbol))
	assert.Equal(t, "X", string(joined.CurrentTurn))
	require.NotNil(t, joined.Players.X)
	assert.Equal(t, "Alice", *joined.Players.X)
	assert.Equal(t, "Bob", *joined.Players.O)

	var opp opponentJoinedEvent
	x.last(t, MsgOpponentJoined, &opp)
	assert.Equal(t, "Bob", *opp.Players.O)
	assert.NotContains(t, o.types(), MsgOpponentJoined)
}

func TestGateway_JoinErrors(t *testing.T) {
	g, _ := newTestGateway()
	_, _, roomID := setupPair(t, g)

	late := newFakePeer("late")
	g.Register(late)

	g.Handle(late, frame(MsgJoinRoom, map[string]any{"playerName": "Carol", "roomId": "ZZZZZZ"}))
	var e errorEvent
	late.last(t, MsgError, &e)
	assert.Equal(t, "Room not found", e.Message)
	assert.True(t, e.Redirect)

	g.Handle(late, frame(MsgJoinRoom, map[string]any{"playerName": "Carol", "roomId": roomID}))
	late.last(t, MsgError, &e)
	assert.Equal(t, "Room is full", e.Message)
	assert.True(t, e.Redirect)
}

func TestGateway_XWinsScenario(t *testing.T) {
	g, m := newTestGateway()
	x, o, roomID := setupPair(t, g)

	g.Handle(x, move(roomID, 0, "X"))
	g.Handle(o, move(roomID, 4, "O"))
	g.Handle(x, move(roomID, 1, "X"))
	g.Handle(o, move(roomID, 5, "O"))
	g.Handle(x, move(roomID, 2, "X"))

	for _, p := range []*fakePeer{x, o} {
		assert.Equal(t, []string{MsgMoveResult, MsgMoveResult, MsgMoveResult, MsgMoveResult, MsgMoveResult}, p.types())
		var res moveResultEvent
		p.last(t, MsgMoveResult, &res)
		assert.True(t, res.GameOver)
		require.NotNil(t, res.Result)
		assert.Equal(t, "X", res.Result.Winner)
		assert.Equal(t, []int{0, 1, 2}, res.Result.WinningCells)
		require.NotNil(t, res.Scores)
		assert.Equal(t, 1, res.Scores.X)
		assert.Equal(t, []string{"X", "X", "X", "", "O", "O", "", "", ""}, res.Board)
	}

	room, ok := m.Room(roomID)
	require.True(t, ok)
	assert.Equal(t, 1, room.Scores.X)
}

func TestGateway_MoveResultMidGame(t *testing.T) {
	g, _ := newTestGateway()
	x, o, roomID := setupPair(t, g)

	g.Handle(x, move(roomID, 4, "X"))
	var res moveResultEvent
	o.last(t, MsgMoveResult, &res)
	assert.False(t, res.GameOver)
	assert.Equal(t, "O", string(res.CurrentTurn))
	assert.Nil(t, res.Scores)
	assert.Nil(t, res.Result)
}

func TestGateway_DrawResult(t *testing.T) {
	g, _ := newTestGateway()
	x, o, roomID := setupPair(t, g)

	for i, cell := range []int{0, 1, 2, 4, 3, 5, 7, 6, 8} {
		if i%2 == 0 {
			g.Handle(x, move(roomID, cell, "X"))
		} else {
			g.Handle(o, move(roomID, cell, "O"))
		}
	}
	var res moveResultEvent
	x.last(t, MsgMoveResult, &res)
	assert.True(t, res.GameOver)
	require.NotNil(t, res.Result)
	assert.Equal(t, "draw", res.Result.Winner)
	assert.Empty(t, res.Result.WinningCells)
	assert.Equal(t, Scores{}, *res.Scores)
}

func TestGateway_IllegalMovesAreSilent(t *testing.T) {
	g, m := newTestGateway()
	x, o, roomID := setupPair(t, g)
	outsider := newFakePeer("outsider")
	g.Register(outsider)

	cases := []struct {
		name  string
		peer  *fakePeer
		frame []byte
	}{
		{"out of turn", o, move(roomID, 0, "O")},
		{"claims the other slot", o, move(roomID, 0, "X")},
		{"out of range", x, move(roomID, 9, "X")},
		{"negative cell", x, move(roomID, -1, "X")},
		{"not its room", x, move("ZZZZZZ", 0, "X")},
		{"not bound", outsider, move(roomID, 0, "X")},
		{"no cell", x, frame(MsgMakeMove, map[string]any{"roomId": roomID, "playerSymbol": "X"})},
		{"not json", x, []byte("not json")},
		{"unknown type", x, frame("teleport", map[string]any{})},
		{"wrong payload shape", x, frame(MsgMakeMove, []int{1, 2, 3})},
	}
	for _, tc := range cases {
		g.Handle(tc.peer, tc.frame)
	}

	assert.Empty(t, x.types())
	assert.Empty(t, o.types())
	assert.Empty(t, outsider.types())

	room, _ := m.Room(roomID)
	assert.Equal(t, make([]string, 9), room.Board)
	assert.True(t, room.Active)
}

func TestGateway_OccupiedCellIsIdempotent(t *testing.T) {
	g, m := newTestGateway()
	x, o, roomID := setupPair(t, g)

	g.Handle(x, move(roomID, 4, "X"))
	before, _ := m.Room(roomID)
	o.reset()
	g.Handle(o, move(roomID, 4, "O"))
	after, _ := m.Room(roomID)

	assert.Equal(t, before, after)
	assert.Empty(t, o.types())
}

func TestGateway_RequestNewGame(t *testing.T) {
	g, _ := newTestGateway()
	x, o, roomID := setupPair(t, g)
	for i, cell := range []int{0, 3, 1, 4, 2} {
		if i%2 == 0 {
			g.Handle(x, move(roomID, cell, "X"))
		} else {
			g.Handle(o, move(roomID, cell, "O"))
		}
	}

	g.Handle(o, frame(MsgRequestNewGame, map[string]any{"roomId": roomID}))
	for _, p := range []*fakePeer{x, o} {
		var ev gameRestartedEvent
		p.last(t, MsgGameRestarted, &ev)
		assert.Equal(t, make([]string, 9), ev.Board)
		assert.Equal(t, "X", string(ev.CurrentTurn))
	}

	// 重开后可以再次落子
	x.reset()
	g.Handle(x, move(roomID, 8, "X"))
	assert.Equal(t, []string{MsgMoveResult}, x.types())
}

func TestGateway_RequestNewGameWithoutOpponent(t *testing.T) {
	g, _ := newTestGateway()
	x := newFakePeer("x")
	g.Register(x)
	g.Handle(x, frame(MsgCreateRoom, map[string]any{"playerName": "Alice"}))
	var created roomCreatedEvent
	x.last(t, MsgRoomCreated, &created)
	x.reset()

	g.Handle(x, frame(MsgRequestNewGame, map[string]any{"roomId": created.RoomID}))
	assert.Empty(t, x.types())
}

func TestGateway_Chat(t *testing.T) {
	g, _ := newTestGateway()
	x, o, roomID := setupPair(t, g)

	g.Handle(x, frame(MsgSendMessage, map[string]any{"roomId": roomID, "message": " hello there ", "sender": "Mallory"}))
	var msg chatMessageEvent
	o.last(t, MsgChatMessage, &msg)
	assert.Equal(t, "hello there", msg.Message)
	assert.Equal(t, "Alice", msg.Sender, "sender comes from the room, not the client")
	assert.Empty(t, x.types(), "chat is not echoed to the sender")

	// 过长消息被截断，空白消息被丢弃
	o.reset()
	g.Handle(x, frame(MsgSendMessage, map[string]any{"roomId": roomID, "message": strings.Repeat("a", 50)}))
	o.last(t, MsgChatMessage, &msg)
	assert.Len(t, msg.Message, 20)

	o.reset()
	g.Handle(x, frame(MsgSendMessage, map[string]any{"roomId": roomID, "message": "   "}))
	g.Handle(x, frame(MsgSendMessage, map[string]any{"roomId": "ZZZZZZ", "message": "hi"}))
	assert.Empty(t, o.types())
}

func TestGateway_ODisconnectNotifiesX(t *testing.T) {
	g, m := newTestGateway()
	x, o, roomID := setupPair(t, g)
	g.Handle(x, move(roomID, 0, "X"))
	x.reset()

	g.Disconnect(o)
	assert.Equal(t, []string{MsgOpponentLeft}, x.types())

	room, ok := m.Room(roomID)
	require.True(t, ok)
	assert.False(t, room.Active)
	assert.Nil(t, room.Players.O)
	assert.Equal(t, make([]string, 9), room.Board)
}

func TestGateway_XLeaveGameDestroysRoom(t *testing.T) {
	g, m := newTestGateway()
	x, o, roomID := setupPair(t, g)

	g.Handle(x, frame(MsgLeaveGame, map[string]any{"roomId": roomID}))
	assert.Equal(t, []string{MsgOpponentLeft}, o.types())
	_, ok := m.Room(roomID)
	assert.False(t, ok)
	_, bound := m.Store().RoomFor(o.ID())
	assert.False(t, bound)

	// 过期的房间码无效
	g.Handle(o, move(roomID, 0, "O"))
	assert.Equal(t, []string{MsgOpponentLeft}, o.types())
}

func TestGateway_CancelRoom(t *testing.T) {
	g, m := newTestGateway()
	x := newFakePeer("x")
	other := newFakePeer("other")
	g.Register(x)
	g.Register(other)
	g.Handle(x, frame(MsgCreateRoom, map[string]any{"playerName": "Alice"}))
	var created roomCreatedEvent
	x.last(t, MsgRoomCreated, &created)

	// 只有房间内的连接可以取消
	g.Handle(other, frame(MsgCancelRoom, map[string]any{"roomId": created.RoomID}))
	_, ok := m.Room(created.RoomID)
	require.True(t, ok)

	g.Handle(x, frame(MsgCancelRoom, map[string]any{"roomId": created.RoomID}))
	_, ok = m.Room(created.RoomID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Store().Bound())
}

func TestGateway_OCancelsActiveRoom(t *testing.T) {
	g, m := newTestGateway()
	x, o, roomID := setupPair(t, g)

	g.Handle(o, frame(MsgCancelRoom, map[string]any{"roomId": roomID}))

	_, ok := m.Room(roomID)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Store().Bound())
	assert.Equal(t, []string{MsgOpponentLeft}, x.types(), "X 收到对手离开")
	assert.Empty(t, o.types(), "取消者本人不收到通知")
}

func TestGateway_XCancelsActiveRoom(t *testing.T) {
	g, _ := newTestGateway()
	x, o, roomID := setupPair(t, g)

	g.Handle(x, frame(MsgCancelRoom, map[string]any{"roomId": roomID}))
	assert.Equal(t, []string{MsgOpponentLeft}, o.types())
	assert.Empty(t, x.types())
}

func TestGateway_RoomIDCaseInsensitiveEverywhere(t *testing.T) {
	g, m := newTestGateway()
	x, o, roomID := setupPair(t, g)
	lower := "  " + strings.ToLower(roomID) + " "

	g.Handle(x, move(lower, 0, "X"))
	assert.Equal(t, []string{MsgMoveResult}, o.types())

	g.Handle(o, frame(MsgSendMessage, map[string]any{"roomId": lower, "message": "hi"}))
	assert.Equal(t, []string{MsgChatMessage}, x.types()[1:])

	x.reset()
	o.reset()
	g.Handle(x, frame(MsgRequestNewGame, map[string]any{"roomId": lower}))
	assert.Equal(t, []string{MsgGameRestarted}, x.types())
	assert.Equal(t, []string{MsgGameRestarted}, o.types())

	g.Handle(x, frame(MsgCancelRoom, map[string]any{"roomId": lower}))
	assert.Equal(t, 0, m.Store().Len())
}

func TestGateway_FailedJoinKeepsCurrentRoom(t *testing.T) {
	g, m := newTestGateway()
	_, _, fullID := setupPair(t, g)

	host := newFakePeer("host")
	g.Register(host)
	g.Handle(host, frame(MsgCreateRoom, map[string]any{"playerName": "Carol"}))
	var created roomCreatedEvent
	host.last(t, MsgRoomCreated, &created)

	var e errorEvent
	g.Handle(host, frame(MsgJoinRoom, map[string]any{"playerName": "Carol", "roomId": "ZZZZZZ"}))
	host.last(t, MsgError, &e)
	assert.Equal(t, "Room not found", e.Message)

	g.Handle(host, frame(MsgJoinRoom, map[string]any{"playerName": "Carol", "roomId": fullID}))
	host.last(t, MsgError, &e)
	assert.Equal(t, "Room is full", e.Message)

	rid, sym, ok := m.Binding("host")
	require.True(t, ok, "加入失败不影响原房间")
	assert.Equal(t, created.RoomID, rid)
	assert.Equal(t, "X", string(sym))
	assert.Equal(t, int64(2), g.metrics.Snapshot()["join_rejected"])

	// 加入自己所在的房间不产生任何变化
	host.reset()
	g.Handle(host, frame(MsgJoinRoom, map[string]any{"playerName": "Carol", "roomId": created.RoomID}))
	assert.Empty(t, host.types())
	room, ok := m.Room(created.RoomID)
	require.True(t, ok)
	assert.Nil(t, room.Players.O)
}

func TestGateway_JoinOtherRoomLeavesOldOne(t *testing.T) {
	g, m := newTestGateway()
	x, o, oldID := setupPair(t, g)

	host := newFakePeer("host")
	g.Register(host)
	g.Handle(host, frame(MsgCreateRoom, map[string]any{"playerName": "Carol"}))
	var created roomCreatedEvent
	host.last(t, MsgRoomCreated, &created)

	g.Handle(o, frame(MsgJoinRoom, map[string]any{"playerName": "Bob", "roomId": created.RoomID}))
	assert.Equal(t, []string{MsgOpponentLeft}, x.types())
	o.last(t, MsgJoinedRoom, &joinedRoomEvent{})

	old, ok := m.Room(oldID)
	require.True(t, ok)
	assert.Nil(t, old.Players.O)
	rid, _, ok := m.Binding("o")
	require.True(t, ok)
	assert.Equal(t, created.RoomID, rid)
}

func TestGateway_CreateWhileBoundLeavesOldRoom(t *testing.T) {
	g, m := newTestGateway()
	x, o, roomID := setupPair(t, g)

	g.Handle(o, frame(MsgCreateRoom, map[string]any{"playerName": "Bob"}))
	assert.Equal(t, []string{MsgOpponentLeft}, x.types())

	var created roomCreatedEvent
	o.last(t, MsgRoomCreated, &created)
	assert.NotEqual(t, roomID, created.RoomID)

	old, ok := m.Room(roomID)
	require.True(t, ok)
	assert.Nil(t, old.Players.O)
	assert.Equal(t, 2, m.Store().Len())
}

func TestGateway_NameShaping(t *testing.T) {
	g, m := newTestGateway()
	x := newFakePeer("x")
	g.Register(x)
	g.Handle(x, frame(MsgCreateRoom, map[string]any{"playerName": "   "}))
	var created roomCreatedEvent
	x.last(t, MsgRoomCreated, &created)
	room, _ := m.Room(created.RoomID)
	assert.Equal(t, defaultPlayerName, *room.Players.X)

	y := newFakePeer("y")
	g.Register(y)
	g.Handle(y, frame(MsgJoinRoom, map[string]any{"playerName": strings.Repeat("é", 40), "roomId": created.RoomID}))
	room, _ = m.Room(created.RoomID)
	assert.Equal(t, strings.Repeat("é", 16), *room.Players.O)
}

func TestGateway_SendDroppedCounted(t *testing.T) {
	g, _ := newTestGateway()
	x, o, roomID := setupPair(t, g)
	o.full = true

	g.Handle(x, move(roomID, 0, "X"))
	assert.Equal(t, int64(1), g.metrics.Snapshot()["send_dropped"])
	assert.Equal(t, []string{MsgMoveResult}, x.types())
}

func TestGateway_RunLoop(t *testing.T) {
	g, m := newTestGateway()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Run(ctx)
	}()

	x, o := newFakePeer("x"), newFakePeer("o")
	g.Register(x)
	g.Register(o)
	require.NoError(t, g.Submit(ctx, x, frame(MsgCreateRoom, map[string]any{"playerName": "Alice"})))

	var created roomCreatedEvent
	require.Eventually(t, func() bool { return len(x.types()) == 1 }, time.Second, 5*time.Millisecond)
	x.last(t, MsgRoomCreated, &created)

	require.NoError(t, g.Submit(ctx, o, frame(MsgJoinRoom, map[string]any{"playerName": "Bob", "roomId": created.RoomID})))
	g.Leave(o)
	require.Eventually(t, func() bool {
		types := x.types()
		return len(types) == 3 && types[2] == MsgOpponentLeft
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	// 事件循环停止后，Submit 失败，Leave 直接执行
	assert.Error(t, g.Submit(context.Background(), x, frame(MsgLeaveGame, nil)))
	g.Leave(x)
	assert.Equal(t, 0, m.Store().Len())
}

func TestGateway_ManyRoomsConcurrently(t *testing.T) {
	g, m := newTestGateway()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Run(ctx)

	const n = 20
	peers := make([]*fakePeer, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		peers[i] = newFakePeer(fmt.Sprintf("p%d", i))
		g.Register(peers[i])
		go func(p *fakePeer) {
			defer wg.Done()
			assert.NoError(t, g.Submit(ctx, p, frame(MsgCreateRoom, map[string]any{"playerName": string(p.id)})))
		}(peers[i])
	}
	wg.Wait()
	require.Eventually(t, func() bool { return m.Store().Len() == n }, time.Second, 5*time.Millisecond)
	assert.Equal(t, n, m.Store().Bound())
}
