package bot

import (
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"street-dice/internal/game"
	"street-dice/internal/gamesync"
	"street-dice/internal/models"
)

const (
	actionPress   = "sd:press"
	actionRelease = "sd:release"
	actionRematch = "sd:rematch"
)

var faceGlyphs = [...]string{"⚀", "⚁", "⚂", "⚃", "⚄", "⚅"}

// NameFunc 把玩家ID转换为显示名
type NameFunc func(playerID string) string

func diceGlyphs(faces []int) string {
	parts := make([]string, 0, len(faces))
	for _, f := range faces {
		if f >= 1 && f <= 6 {
			parts = append(parts, faceGlyphs[f-1])
		}
	}
	return strings.Join(parts, " ")
}

// RenderState 消息中给人看的部分
func RenderState(s models.GameState, name NameFunc) string {
	var sb strings.Builder
	sb.WriteString("🎲 STREET DICE\n\n")

	banker := "waiting for banker"
	if s.FirstPlayerID != "" {
		banker = name(s.FirstPlayerID)
	}
	challenger := "open seat"
	if s.SecondPlayerID != "" {
		challenger = name(s.SecondPlayerID)
	}
	fmt.Fprintf(&sb, "🏦 Banker: %s  %d\n", banker, s.ScoreA)
	fmt.Fprintf(&sb, "⚔️ Challenger: %s  %d\n", challenger, s.ScoreB)

	if len(s.LastDice) == 3 {
		fmt.Fprintf(&sb, "\nLast roll: %s\n", diceGlyphs(s.LastDice))
	}
	if s.PendingTarget != nil {
		fmt.Fprintf(&sb, "🎯 To beat: %s\n", s.PendingTarget.Label)
	}
	if s.StatusMessage != "" {
		fmt.Fprintf(&sb, "\n%s\n", s.StatusMessage)
	}

	switch {
	case s.Terminal():
		winner := banker
		if game.Winner(s) == models.RoleSecond {
			winner = challenger
		}
		fmt.Fprintf(&sb, "\n🏆 %s wins. First to %d.", winner, models.WinScore)
	case s.Turn == models.RoleSecond:
		fmt.Fprintf(&sb, "\n👉 Challenger (%s) to roll", challenger)
	default:
		fmt.Fprintf(&sb, "\n👉 Banker (%s) to roll", banker)
	}
	return sb.String()
}

// ComposeText 完整的消息文本：展示部分在前，状态 blob 在最后一行
func ComposeText(s models.GameState, name NameFunc) string {
	return RenderState(s, name) + "\n\n" + gamesync.Encode(s)
}

// Keyboard 空闲时的按钮
func Keyboard(s models.GameState) tgbotapi.InlineKeyboardMarkup {
	if s.Terminal() {
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔁 New match", actionRematch),
			),
		)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✊ Shake", actionPress),
		),
	)
}

// ChargingKeyboard 蓄力中，只剩一个出手按钮
func ChargingKeyboard(who string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎲 Throw! ("+who+" shaking)", actionRelease),
		),
	)
}

// rejectText 被拒绝的按键给用户的提示
func rejectText(err error) string {
	switch {
	case errors.Is(err, game.ErrNotYourTurn):
		return "Not your turn"
	case errors.Is(err, game.ErrMatchOver):
		return "Match is over"
	case errors.Is(err, game.ErrBusy):
		return "Already rolling"
	case errors.Is(err, game.ErrNotClaimed):
		return "Game is not ready yet"
	case errors.Is(err, game.ErrNotCharging):
		return "Tap Shake first"
	}
	return "Try again"
}
