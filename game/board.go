// Package game 棋盘规则：符号、3x3 棋盘与胜负判定
// 纯函数，不感知房间与连接
package game

// Symbol 座位标识，也是落在棋盘上的标记
type Symbol string

const (
	None Symbol = ""
	X    Symbol = "X"
	O    Symbol = "O"
)

// Valid 是否为 X 或 O
func (s Symbol) Valid() bool { return s == X || s == O }

// Opponent 对手符号；None 仍返回 None
func (s Symbol) Opponent() Symbol {
	switch s {
	case X:
		return O
	case O:
		return X
	default:
		return None
	}
}

const Cells = 9

// Board 9 格棋盘，按行优先排列
type Board [Cells]Symbol

// Line 一条获胜连线（三个格子下标）
type Line [3]int

// WinningLines 8 条连线，扫描顺序固定：行、列、对角线
var WinningLines = [8]Line{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Status 判定后的棋局状态
type Status int

const (
	Continuing Status = iota
	Won
	Drawn
)

func (s Status) String() string {
	switch s {
	case Won:
		return "won"
	case Drawn:
		return "drawn"
	default:
		return "continuing"
	}
}

// Result 判定结果；仅 Won 时 Winner 与 Line 有值
type Result struct {
	Status Status
	Winner Symbol
	Line   []int
}

// GameOver 本局是否结束
func (r Result) GameOver() bool { return r.Status != Continuing }

// Evaluate 先查连线再查满盘
// 按 WinningLines 顺序，第一条成立的连线胜出
func Evaluate(b Board) Result {
	for _, l := range WinningLines {
		a := b[l[0]]
		if a != None && a == b[l[1]] && a == b[l[2]] {
			return Result{Status: Won, Winner: a, Line: []int{l[0], l[1], l[2]}}
		}
	}
	if b.Full() {
		return Result{Status: Drawn, Line: []int{}}
	}
	return Result{Status: Continuing, Line: []int{}}
}

// Full 棋盘是否已满
func (b Board) Full() bool {
	for _, c := range b {
		if c == None {
			return false
		}
	}
	return true
}

// InRange 下标是否在 [0,8]
func InRange(i int) bool { return i >= 0 && i < Cells }

// Strings 线上格式：9 个 ""、"X" 或 "O"
func (b Board) Strings() []string {
	out := make([]string, Cells)
	for i, c := range b {
		out[i] = string(c)
	}
	return out
}
