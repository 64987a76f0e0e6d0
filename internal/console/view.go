package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"street-dice/internal/game"
	"street-dice/internal/models"
)

var (
	colorFelt  = lipgloss.Color("#1D9EA3")
	colorGold  = lipgloss.Color("#F4D03F")
	colorRed   = lipgloss.Color("#E74C3C")
	colorMuted = lipgloss.Color("#2C4A54")
)

var styles = struct {
	Title  lipgloss.Style
	Score  lipgloss.Style
	Dice   lipgloss.Style
	Status lipgloss.Style
	Hint   lipgloss.Style
	Alert  lipgloss.Style
	Box    lipgloss.Style
}{
	Title:  lipgloss.NewStyle().Bold(true).Foreground(colorFelt),
	Score:  lipgloss.NewStyle().Bold(true),
	Dice:   lipgloss.NewStyle().Bold(true).Foreground(colorGold),
	Status: lipgloss.NewStyle().Foreground(colorFelt),
	Hint:   lipgloss.NewStyle().Foreground(colorMuted),
	Alert:  lipgloss.NewStyle().Foreground(colorRed),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorFelt).
		Padding(0, 1),
}

var faces = [...]string{"⚀", "⚁", "⚂", "⚃", "⚄", "⚅"}

func renderDice(d []int) string {
	parts := make([]string, 0, 3)
	for _, v := range d {
		if v >= 1 && v <= 6 {
			parts = append(parts, fmt.Sprintf("%s %d", faces[v-1], v))
		}
	}
	return strings.Join(parts, "   ")
}

func seat(id, you, name string) string {
	switch {
	case id == "":
		return "(open)"
	case id == you && name != "":
		return name + " (you)"
	case id == you:
		return id + " (you)"
	}
	return id
}

// RenderFrame 终端里的一帧。name 是本地玩家的显示名，为空时显示 id
func RenderFrame(f game.Frame, you, name string) string {
	s := f.State
	var lines []string

	lines = append(lines, styles.Title.Render("STREET DICE"))
	lines = append(lines, styles.Score.Render(fmt.Sprintf("Banker     %-18s %d", seat(s.FirstPlayerID, you, name), s.ScoreA)))
	lines = append(lines, styles.Score.Render(fmt.Sprintf("Challenger %-18s %d", seat(s.SecondPlayerID, you, name), s.ScoreB)))
	lines = append(lines, "")

	if f.Phase == game.PhaseRolling || len(s.LastDice) == 3 {
		lines = append(lines, styles.Dice.Render(renderDice(f.Dice.Slice())))
	}
	if s.PendingTarget != nil {
		lines = append(lines, "To beat: "+s.PendingTarget.Label)
	}
	if s.StatusMessage != "" {
		lines = append(lines, styles.Status.Render(s.StatusMessage))
	}
	lines = append(lines, "")

	switch {
	case s.Terminal():
		lines = append(lines, styles.Alert.Render("Match over. Type n for a new match."))
	case f.Phase == game.PhaseCharging:
		lines = append(lines, styles.Hint.Render("Shaking... press Enter to throw"))
	case f.Phase == game.PhaseRolling:
		lines = append(lines, styles.Hint.Render("Rolling..."))
	case f.CanRoll:
		lines = append(lines, styles.Hint.Render("Your roll. Press Enter to pick up the dice"))
	case f.Role == models.RoleNone && s.SecondPlayerID != "":
		lines = append(lines, styles.Hint.Render("Spectating"))
	default:
		lines = append(lines, styles.Hint.Render("Waiting for the other player"))
	}

	return styles.Box.Render(strings.Join(lines, "\n"))
}
