package game

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"street-dice/internal/dice"
	"street-dice/internal/models"
)

func started() models.GameState {
	s := models.NewGameState()
	s.FirstPlayerID = "banker"
	return s
}

func roll(a, b, c int) dice.Outcome {
	return dice.Evaluate(dice.Faces{a, b, c})
}

func TestBankerSetsPoint(t *testing.T) {
	next := Resolve(started(), roll(4, 1, 1), models.RoleFirst)

	assert.Equal(t, models.RoleSecond, next.Turn)
	assert.Equal(t, &models.PendingTarget{Strength: 4, Label: "POINT 4"}, next.PendingTarget)
	assert.Equal(t, 0, next.ScoreA)
	assert.Equal(t, 0, next.ScoreB)
	assert.Equal(t, []int{4, 1, 1}, next.LastDice)
}

func TestChallengerAgainstPoint(t *testing.T) {
	pending := Resolve(started(), roll(4, 1, 1), models.RoleFirst)

	tests := []struct {
		name   string
		roll   dice.Outcome
		scoreA int
		scoreB int
		status string
	}{
		{"高于目标", roll(6, 2, 2), 0, 1, "POINT 6 BEATS POINT 4! CHALLENGER TAKES THE ROUND"},
		{"低于目标", roll(3, 5, 5), 1, 0, "POINT 3 LOSES TO POINT 4. BANKER TAKES THE ROUND"},
		{"平局", roll(4, 3, 3), 0, 0, "WASH! RE-ROLL ROUND"},
		{"三同", roll(2, 2, 2), 0, 1, "TRIPLE 2 BEATS POINT 4! CHALLENGER TAKES THE ROUND"},
		{"456", roll(5, 6, 4), 0, 1, "CHALLENGER ROLLED 4-5-6! CHALLENGER TAKES THE ROUND"},
		{"123", roll(3, 2, 1), 1, 0, "CHALLENGER ROLLED 1-2-3! BANKER TAKES THE ROUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := Resolve(pending, tt.roll, models.RoleSecond)

			assert.Equal(t, tt.scoreA, next.ScoreA)
			assert.Equal(t, tt.scoreB, next.ScoreB)
			assert.Nil(t, next.PendingTarget)
			assert.Equal(t, models.RoleFirst, next.Turn)
			assert.Equal(t, tt.status, next.StatusMessage)
		})
	}

	// 输入不应被修改
	assert.NotNil(t, pending.PendingTarget)
	assert.Equal(t, models.RoleSecond, pending.Turn)
}

func TestBankerAutomaticRolls(t *testing.T) {
	s := started()

	won := Resolve(s, roll(6, 4, 5), models.RoleFirst)
	assert.Equal(t, 1, won.ScoreA)
	assert.Equal(t, models.RoleFirst, won.Turn)
	assert.Nil(t, won.PendingTarget)

	lost := Resolve(s, roll(2, 1, 3), models.RoleFirst)
	assert.Equal(t, 1, lost.ScoreB)
	assert.Equal(t, models.RoleFirst, lost.Turn)
	assert.Nil(t, lost.PendingTarget)
}

func TestJunkOnlyUpdatesDice(t *testing.T) {
	s := started()
	next := Resolve(s, roll(1, 4, 6), models.RoleFirst)
	assert.Equal(t, []int{1, 4, 6}, next.LastDice)
	assert.Equal(t, models.RoleFirst, next.Turn)
	assert.Equal(t, 0, next.ScoreA+next.ScoreB)

	pending := Resolve(s, roll(5, 5, 3), models.RoleFirst)
	again := Resolve(pending, roll(1, 4, 6), models.RoleSecond)
	assert.Equal(t, models.RoleSecond, again.Turn)
	assert.Equal(t, pending.PendingTarget, again.PendingTarget)
	assert.Equal(t, []int{1, 4, 6}, again.LastDice)
}

func TestTerminalStateIsUnchanged(t *testing.T) {
	for _, s := range []models.GameState{
		{FirstPlayerID: "banker", ScoreA: 5, ScoreB: 2, Turn: models.RoleFirst},
		{FirstPlayerID: "banker", ScoreA: 1, ScoreB: 5, Turn: models.RoleFirst},
	} {
		for _, o := range []dice.Outcome{roll(4, 5, 6), roll(1, 2, 3), roll(3, 3, 3), roll(2, 2, 6), roll(1, 4, 6)} {
			assert.Equal(t, s, Resolve(s, o, models.RoleFirst))
		}
	}
}

func TestWrongRollerIsIgnored(t *testing.T) {
	s := started()
	assert.Equal(t, s, Resolve(s, roll(4, 5, 6), models.RoleSecond))

	// 挑战者回合却没有目标：不一致的状态不做转换
	broken := started()
	broken.Turn = models.RoleSecond
	assert.Equal(t, broken, Resolve(broken, roll(4, 5, 6), models.RoleSecond))
}

func TestReachingWinScoreEndsMatch(t *testing.T) {
	s := started()
	s.ScoreA = 4
	next := Resolve(s, roll(4, 5, 6), models.RoleFirst)

	assert.True(t, next.Terminal())
	assert.Equal(t, models.RoleFirst, Winner(next))
	assert.Contains(t, next.StatusMessage, "BANKER WINS THE MATCH 5-0")
}

func TestRoleOfAndClaims(t *testing.T) {
	s := models.NewGameState()
	assert.Equal(t, models.RoleNone, RoleOf(s, "alice"))

	s, ok := ClaimBanker(s, "alice")
	assert.True(t, ok)
	_, ok = ClaimBanker(s, "bob")
	assert.False(t, ok)

	assert.Equal(t, models.RoleFirst, RoleOf(s, "alice"))
	assert.Equal(t, models.RoleSecond, RoleOf(s, "bob"))
	assert.Equal(t, models.RoleSecond, RoleOf(s, "carol"))

	_, ok = ClaimChallenger(s, "alice")
	assert.False(t, ok)
	s, ok = ClaimChallenger(s, "bob")
	assert.True(t, ok)
	_, ok = ClaimChallenger(s, "carol")
	assert.False(t, ok)

	assert.Equal(t, models.RoleSecond, RoleOf(s, "bob"))
	assert.Equal(t, models.RoleNone, RoleOf(s, "carol"))
	assert.Equal(t, models.RoleNone, RoleOf(s, ""))
}
