package models

import (
	"time"
)

// WinScore 先到此分数者赢得整场比赛
const WinScore = 5

// Role 玩家在一局中的身份
type Role string

const (
	RoleNone   Role = ""
	RoleFirst  Role = "first"  // 庄家
	RoleSecond Role = "second" // 挑战者
)

// Valid 是否为可轮到的身份
func (r Role) Valid() bool {
	return r == RoleFirst || r == RoleSecond
}

// Other 返回对手身份
func (r Role) Other() Role {
	switch r {
	case RoleFirst:
		return RoleSecond
	case RoleSecond:
		return RoleFirst
	}
	return RoleNone
}

// PendingTarget 庄家掷出可比较点数后，挑战者需要超过的目标
type PendingTarget struct {
	Strength int    `json:"strength"`
	Label    string `json:"label"`
}

// GameState 嵌在聊天消息里的整局状态，每次掷骰整体替换
type GameState struct {
	FirstPlayerID  string         `json:"firstPlayerId"`
	SecondPlayerID string         `json:"secondPlayerId,omitempty"`
	ScoreA         int            `json:"scoreA"` // 庄家得分
	ScoreB         int            `json:"scoreB"` // 挑战者得分
	Turn           Role           `json:"turn"`
	PendingTarget  *PendingTarget `json:"pendingTarget,omitempty"`
	LastDice       []int          `json:"lastDice,omitempty"`
	StatusMessage  string         `json:"statusMessage,omitempty"`
}

// NewGameState 返回未初始化消息对应的默认状态
func NewGameState() GameState {
	return GameState{Turn: RoleFirst}
}

// Terminal 任一方达到胜利分数即结束
func (s GameState) Terminal() bool {
	return s.ScoreA >= WinScore || s.ScoreB >= WinScore
}

// Clone 深拷贝，避免共享切片和指针
func (s GameState) Clone() GameState {
	out := s
	if s.PendingTarget != nil {
		pt := *s.PendingTarget
		out.PendingTarget = &pt
	}
	if s.LastDice != nil {
		out.LastDice = append([]int(nil), s.LastDice...)
	}
	return out
}

// MessageKind 消息类型
type MessageKind string

const (
	MessageKindText MessageKind = "text"
	MessageKindGame MessageKind = "game"
)

// Message 共享文档存储中的一条消息
type Message struct {
	ID        string      `json:"id" db:"id"`
	ChatID    string      `json:"chatId" db:"chat_id"`
	SenderID  string      `json:"senderId" db:"sender_id"`
	Kind      MessageKind `json:"kind" db:"kind"`
	Text      string      `json:"text" db:"text"`
	Version   int64       `json:"version" db:"version"`
	CreatedAt time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time   `json:"updatedAt" db:"updated_at"`
}

// MatchResult 已结束比赛的结果记录
type MatchResult struct {
	MessageID  string    `json:"messageId" db:"message_id"`
	BankerID   string    `json:"bankerId" db:"banker_id"`
	OpponentID string    `json:"opponentId" db:"opponent_id"`
	Winner     Role      `json:"winner" db:"winner"`
	ScoreA     int       `json:"scoreA" db:"score_a"`
	ScoreB     int       `json:"scoreB" db:"score_b"`
	FinishedAt time.Time `json:"finishedAt" db:"finished_at"`
}
