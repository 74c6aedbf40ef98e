package server

import (
	"encoding/json"

	"tictacrelay/game"
)

// 出站消息类型（服务端 → 客户端）
const (
	MsgRoomCreated    = "roomCreated"
	MsgError          = "error"
	MsgJoinedRoom     = "joinedRoom"
	MsgOpponentJoined = "opponentJoined"
	MsgMoveResult     = "moveResult"
	MsgGameRestarted  = "gameRestarted"
	MsgOpponentLeft   = "opponentLeft"
	MsgChatMessage    = "chatMessage"
)

type roomCreatedEvent struct {
	RoomID string      `json:"roomId"`
	Symbol game.Symbol `json:"symbol"`
}

type errorEvent struct {
	Message  string `json:"message"`
	Redirect bool   `json:"redirect"`
}

type joinedRoomEvent struct {
	RoomID      string      `json:"roomId"`
	Symbol      game.Symbol `json:"symbol"`
	Players     Players     `json:"players"`
	CurrentTurn game.Symbol `json:"currentTurn"`
}

type opponentJoinedEvent struct {
	Players     Players     `json:"players"`
	CurrentTurn game.Symbol `json:"currentTurn"`
}

// gameResult 对局结束详情；Winner 为 "X"、"O" 或 "draw"
type gameResult struct {
	GameOver     bool   `json:"gameOver"`
	Winner       string `json:"winner"`
	WinningCells []int  `json:"winningCells"`
}

type moveResultEvent struct {
	Board       []string    `json:"board"`
	CurrentTurn game.Symbol `json:"currentTurn"`
	Players     Players     `json:"players"`
	GameOver    bool        `json:"gameOver"`
	Scores      *Scores     `json:"scores,omitempty"`
	Result      *gameResult `json:"result,omitempty"`
}

type gameRestartedEvent struct {
	Board       []string    `json:"board"`
	CurrentTurn game.Symbol `json:"currentTurn"`
	Players     Players     `json:"players"`
}

type chatMessageEvent struct {
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

func newMoveResult(out MoveOutcome) moveResultEvent {
	ev := moveResultEvent{
		Board:       out.Room.Board,
		CurrentTurn: out.Room.Turn,
		Players:     out.Room.Players,
		GameOver:    out.Result.GameOver(),
	}
	if ev.GameOver {
		scores := out.Room.Scores
		winner := "draw"
		if out.Result.Status == game.Won {
			winner = string(out.Result.Winner)
		}
		ev.Scores = &scores
		ev.Result = &gameResult{GameOver: true, Winner: winner, WinningCells: out.Result.Line}
	}
	return ev
}

// encode 将 data 包装为指定类型的 Envelope
func encode(typ string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: raw})
}
