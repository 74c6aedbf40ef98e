package server

import "tictacrelay/game"

// ConnID 传输连接的唯一标识
type ConnID string

// Slot 房间内的一个座位；零值表示空位
type Slot struct {
	Name string
	Conn ConnID
}

// Occupied 座位是否有人
func (s Slot) Occupied() bool { return s.Conn != "" }

// Players 广播给客户端的两个座位：昵称或 null
type Players struct {
	X *string `json:"X"`
	O *string `json:"O"`
}

func (p Players) name(sym game.Symbol) string {
	var n *string
	switch sym {
	case game.X:
		n = p.X
	case game.O:
		n = p.O
	}
	if n == nil {
		return ""
	}
	return *n
}

// Scores 房间内双方的胜场，跨局保留
type Scores struct {
	X int `json:"X"`
	O int `json:"O"`
}

func (s *Scores) add(sym game.Symbol) {
	switch sym {
	case game.X:
		s.X++
	case game.O:
		s.O++
	}
}
