package game

import (
	"fmt"

	"street-dice/internal/dice"
	"street-dice/internal/models"
)

// Resolve 根据当前状态和刚掷出的结果计算下一个状态。
//
// 调用方保证 roller 等于 state.Turn；不相等、比赛已结束或状态不一致时原样返回输入。
// 返回值总是新的副本，不与输入共享指针或切片。
func Resolve(state models.GameState, outcome dice.Outcome, roller models.Role) models.GameState {
	if state.Terminal() || roller != state.Turn {
		return state
	}
	if roller == models.RoleSecond && state.PendingTarget == nil {
		return state
	}

	next := state.Clone()
	next.LastDice = outcome.Dice.Slice()

	switch roller {
	case models.RoleFirst:
		resolveBanker(&next, outcome)
	case models.RoleSecond:
		resolveChallenger(&next, outcome)
	default:
		return state
	}

	if next.Terminal() {
		next.StatusMessage += " " + matchOverText(next)
	}
	return next
}

func resolveBanker(s *models.GameState, o dice.Outcome) {
	switch o.Kind {
	case dice.KindAutoWin:
		s.ScoreA++
		s.PendingTarget = nil
		s.StatusMessage = fmt.Sprintf("BANKER ROLLED %s! BANKER TAKES THE ROUND", o.Label())
	case dice.KindAutoLoss:
		s.ScoreB++
		s.PendingTarget = nil
		s.StatusMessage = fmt.Sprintf("BANKER ROLLED %s! CHALLENGER TAKES THE ROUND", o.Label())
	case dice.KindTriple, dice.KindPoint:
		strength, _ := o.Strength()
		s.PendingTarget = &models.PendingTarget{Strength: strength, Label: o.Label()}
		s.Turn = models.RoleSecond
		s.StatusMessage = fmt.Sprintf("BANKER SET %s. CHALLENGER TO BEAT IT", o.Label())
	default:
		s.StatusMessage = "BANKER ROLLED NOTHING. ROLL AGAIN"
	}
}

func resolveChallenger(s *models.GameState, o dice.Outcome) {
	target := *s.PendingTarget

	switch o.Kind {
	case dice.KindAutoWin:
		s.ScoreB++
		s.StatusMessage = fmt.Sprintf("CHALLENGER ROLLED %s! CHALLENGER TAKES THE ROUND", o.Label())
	case dice.KindAutoLoss:
		s.ScoreA++
		s.StatusMessage = fmt.Sprintf("CHALLENGER ROLLED %s! BANKER TAKES THE ROUND", o.Label())
	case dice.KindTriple, dice.KindPoint:
		strength, _ := o.Strength()
		switch {
		case strength > target.Strength:
			s.ScoreB++
			s.StatusMessage = fmt.Sprintf("%s BEATS %s! CHALLENGER TAKES THE ROUND", o.Label(), target.Label)
		case strength < target.Strength:
			s.ScoreA++
			s.StatusMessage = fmt.Sprintf("%s LOSES TO %s. BANKER TAKES THE ROUND", o.Label(), target.Label)
		default:
			s.StatusMessage = "WASH! RE-ROLL ROUND"
		}
	default:
		s.StatusMessage = "CHALLENGER ROLLED NOTHING. ROLL AGAIN"
		return
	}

	s.PendingTarget = nil
	s.Turn = models.RoleFirst
}

func matchOverText(s models.GameState) string {
	if Winner(s) == models.RoleFirst {
		return fmt.Sprintf("BANKER WINS THE MATCH %d-%d", s.ScoreA, s.ScoreB)
	}
	return fmt.Sprintf("CHALLENGER WINS THE MATCH %d-%d", s.ScoreB, s.ScoreA)
}

// Winner 返回已结束比赛的胜者，未结束时返回 RoleNone
func Winner(s models.GameState) models.Role {
	switch {
	case s.ScoreA >= models.WinScore:
		return models.RoleFirst
	case s.ScoreB >= models.WinScore:
		return models.RoleSecond
	}
	return models.RoleNone
}

// RoleOf 根据身份判断某个用户在这局中的角色。
// 挑战者尚未认领时，除庄家外的任何人都被视为潜在的挑战者。
func RoleOf(s models.GameState, playerID string) models.Role {
	if playerID == "" || s.FirstPlayerID == "" {
		return models.RoleNone
	}
	if playerID == s.FirstPlayerID {
		return models.RoleFirst
	}
	if s.SecondPlayerID == "" || s.SecondPlayerID == playerID {
		return models.RoleSecond
	}
	return models.RoleNone
}

// ClaimBanker 庄家未设置时由当前查看者认领
func ClaimBanker(s models.GameState, playerID string) (models.GameState, bool) {
	if s.FirstPlayerID != "" || playerID == "" {
		return s, false
	}
	next := s.Clone()
	next.FirstPlayerID = playerID
	return next, true
}

// ClaimChallenger 第一个以挑战者身份行动的人写入 SecondPlayerID
func ClaimChallenger(s models.GameState, playerID string) (models.GameState, bool) {
	if s.SecondPlayerID != "" || s.FirstPlayerID == "" || playerID == "" || playerID == s.FirstPlayerID {
		return s, false
	}
	next := s.Clone()
	next.SecondPlayerID = playerID
	return next, true
}
