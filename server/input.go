package server

import (
	"encoding/json"
	"strings"
)

// 入站消息类型（客户端 → 服务端）
const (
	MsgCreateRoom     = "createRoom"
	MsgJoinRoom       = "joinRoom"
	MsgMakeMove       = "makeMove"
	MsgRequestNewGame = "requestNewGame"
	MsgSendMessage    = "sendMessage"
	MsgCancelRoom     = "cancelRoom"
	MsgLeaveGame      = "leaveGame"
)

// Envelope 双向通用的 WebSocket 文本帧
// 示例：{"type":"makeMove","data":{"roomId":"AB12CD","cellIndex":4,"playerSymbol":"X"}}
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type createRoomRequest struct {
	PlayerName string `json:"playerName"`
}

type joinRoomRequest struct {
	PlayerName string `json:"playerName"`
	RoomID     string `json:"roomId"`
}

type makeMoveRequest struct {
	RoomID       string `json:"roomId"`
	CellIndex    *int   `json:"cellIndex"` // 缺省时为 nil
	PlayerSymbol string `json:"playerSymbol"`
}

// roomRequest requestNewGame 与 cancelRoom 的载荷
type roomRequest struct {
	RoomID string `json:"roomId"`
}

type sendMessageRequest struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// normalizeRoomID 房间码统一去空白并转大写，所有带 roomId 的消息都经过这里
func normalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
