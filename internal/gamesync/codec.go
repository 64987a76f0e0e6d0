package gamesync

import (
	"encoding/json"
	"fmt"
	"strings"

	"street-dice/internal/models"
)

// Marker 宿主用来区分游戏消息和普通文本的前缀，之后紧跟 JSON
const Marker = "#streetdice:"

// Encode 序列化为带标记的文本
func Encode(s models.GameState) string {
	if s.Turn == models.RoleNone {
		s.Turn = models.RoleFirst
	}
	// GameState 只包含基本类型，不会失败
	data, _ := json.Marshal(s)
	return Marker + string(data)
}

// IsGame 文本中是否带有游戏标记
func IsGame(text string) bool {
	return strings.Contains(text, Marker)
}

// Decode 解析文本中的游戏状态。缺失、损坏或不满足约束时返回默认状态和 false，不会报错。
// 标记前可以有任意展示文字，取最后一个标记之后的内容。
func Decode(text string) (models.GameState, bool) {
	payload := text
	if i := strings.LastIndex(text, Marker); i >= 0 {
		payload = text[i+len(Marker):]
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return models.NewGameState(), false
	}

	var s models.GameState
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return models.NewGameState(), false
	}
	if s.Turn == models.RoleNone {
		s.Turn = models.RoleFirst
	}
	if err := Validate(s); err != nil {
		return models.NewGameState(), false
	}
	return s, true
}

// Validate 检查读入状态是否满足不变量
func Validate(s models.GameState) error {
	if s.ScoreA < 0 || s.ScoreB < 0 || s.ScoreA > models.WinScore || s.ScoreB > models.WinScore {
		return fmt.Errorf("score out of range: %d-%d", s.ScoreA, s.ScoreB)
	}
	if s.ScoreA >= models.WinScore && s.ScoreB >= models.WinScore {
		return fmt.Errorf("both players at win score")
	}
	if !s.Turn.Valid() {
		return fmt.Errorf("invalid turn %q", s.Turn)
	}
	if (s.Turn == models.RoleSecond) != (s.PendingTarget != nil) {
		return fmt.Errorf("turn %s inconsistent with pending target", s.Turn)
	}
	if pt := s.PendingTarget; pt != nil {
		if !(pt.Strength >= 1 && pt.Strength <= 6) && !(pt.Strength >= 21 && pt.Strength <= 26) {
			return fmt.Errorf("invalid target strength %d", pt.Strength)
		}
	}
	if n := len(s.LastDice); n != 0 && n != 3 {
		return fmt.Errorf("lastDice must have 3 faces, got %d", n)
	}
	for _, v := range s.LastDice {
		if v < 1 || v > 6 {
			return fmt.Errorf("die face %d out of range", v)
		}
	}
	if s.SecondPlayerID != "" && s.SecondPlayerID == s.FirstPlayerID {
		return fmt.Errorf("player cannot hold both seats")
	}
	return nil
}
