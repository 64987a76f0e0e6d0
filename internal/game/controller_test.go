package game

import (
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"street-dice/internal/dice"
	"street-dice/internal/models"
)

// manualClock 手动推进的调度器
type manualClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *manualClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now + d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*manualTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && t.at <= target {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.SliceStable(due, func(i, j int) bool { return due[i].at < due[j].at })
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.fn()
	}
}

type fixedRoller struct {
	faces []dice.Faces
	err   error
}

func (r *fixedRoller) Roll() (dice.Faces, error) {
	if r.err != nil {
		return dice.Faces{}, r.err
	}
	f := r.faces[0]
	if len(r.faces) > 1 {
		r.faces = r.faces[1:]
	}
	return f, nil
}

type harness struct {
	clock   *manualClock
	ctrl    *Controller
	commits []models.GameState
	frames  []Frame
	fail    error
}

func newHarness(playerID string, faces ...dice.Faces) *harness {
	h := &harness{clock: &manualClock{}}
	h.ctrl = NewController(playerID, "msg-1", Options{
		Timing:    DefaultTiming(),
		Roller:    &fixedRoller{faces: faces},
		Scheduler: h.clock,
		Commit: func(s models.GameState) error {
			if h.fail != nil {
				return h.fail
			}
			h.commits = append(h.commits, s)
			return nil
		},
		OnFrame: func(f Frame) { h.frames = append(h.frames, f) },
		Shake:   func() dice.Faces { return dice.Faces{6, 6, 6} },
	})
	return h
}

func (h *harness) lastFrame() Frame {
	return h.frames[len(h.frames)-1]
}

func TestControllerFullRoll(t *testing.T) {
	h := newHarness("alice", dice.Faces{1, 1, 4})
	h.ctrl.Observe(started2("alice"))
	require.True(t, h.ctrl.CanRoll())

	require.NoError(t, h.ctrl.Press())
	assert.Equal(t, PhaseCharging, h.ctrl.Phase())
	assert.False(t, h.lastFrame().CanRoll)

	require.NoError(t, h.ctrl.Release())
	assert.Equal(t, PhaseRolling, h.ctrl.Phase())
	assert.Equal(t, dice.Faces{6, 6, 6}, h.lastFrame().Dice)

	h.clock.Advance(200 * time.Millisecond)
	assert.Empty(t, h.commits, "滚动动画结束前不应写入")

	h.clock.Advance(500 * time.Millisecond)
	require.Len(t, h.commits, 1)
	committed := h.commits[0]
	assert.Equal(t, models.RoleSecond, committed.Turn)
	assert.Equal(t, &models.PendingTarget{Strength: 4, Label: "POINT 4"}, committed.PendingTarget)
	assert.Equal(t, PhaseIdle, h.ctrl.Phase())

	var rolled *Frame
	for i := range h.frames {
		if h.frames[i].Outcome != nil {
			rolled = &h.frames[i]
		}
	}
	require.NotNil(t, rolled)
	assert.Equal(t, dice.KindPoint, rolled.Outcome.Kind)

	// 回合已交给对手
	assert.ErrorIs(t, h.ctrl.Press(), ErrNotYourTurn)
}

func TestControllerChargeTimeoutRolls(t *testing.T) {
	h := newHarness("alice", dice.Faces{4, 5, 6})
	h.ctrl.Observe(started2("alice"))

	require.NoError(t, h.ctrl.Press())
	h.clock.Advance(2500 * time.Millisecond)
	assert.Equal(t, PhaseRolling, h.ctrl.Phase())

	h.clock.Advance(650 * time.Millisecond)
	require.Len(t, h.commits, 1)
	assert.Equal(t, 1, h.commits[0].ScoreA)
	assert.ErrorIs(t, h.ctrl.Release(), ErrNotCharging)
}

func TestControllerRejectsInput(t *testing.T) {
	t.Run("对手的回合", func(t *testing.T) {
		h := newHarness("bob", dice.Faces{4, 5, 6})
		h.ctrl.Observe(started2("alice"))
		assert.False(t, h.ctrl.CanRoll())
		assert.ErrorIs(t, h.ctrl.Press(), ErrNotYourTurn)
	})

	t.Run("旁观者", func(t *testing.T) {
		h := newHarness("carol", dice.Faces{4, 5, 6})
		s := started2("alice")
		s.SecondPlayerID = "bob"
		s.Turn = models.RoleSecond
		s.PendingTarget = &models.PendingTarget{Strength: 3, Label: "POINT 3"}
		h.ctrl.Observe(s)
		assert.ErrorIs(t, h.ctrl.Press(), ErrNotYourTurn)
	})

	t.Run("比赛结束", func(t *testing.T) {
		h := newHarness("alice", dice.Faces{4, 5, 6})
		s := started2("alice")
		s.ScoreB = 5
		h.ctrl.Observe(s)
		assert.ErrorIs(t, h.ctrl.Press(), ErrMatchOver)
	})

	t.Run("庄家未认领", func(t *testing.T) {
		h := newHarness("alice", dice.Faces{4, 5, 6})
		assert.ErrorIs(t, h.ctrl.Press(), ErrNotClaimed)
	})

	t.Run("重复按下", func(t *testing.T) {
		h := newHarness("alice", dice.Faces{4, 5, 6})
		h.ctrl.Observe(started2("alice"))
		require.NoError(t, h.ctrl.Press())
		assert.ErrorIs(t, h.ctrl.Press(), ErrBusy)
	})

	t.Run("未按下就松手", func(t *testing.T) {
		h := newHarness("alice", dice.Faces{4, 5, 6})
		h.ctrl.Observe(started2("alice"))
		assert.ErrorIs(t, h.ctrl.Release(), ErrNotCharging)
	})
}

func TestControllerChallengerClaimsSeat(t *testing.T) {
	h := newHarness("bob", dice.Faces{6, 6, 1})
	s := started2("alice")
	s.Turn = models.RoleSecond
	s.PendingTarget = &models.PendingTarget{Strength: 4, Label: "POINT 4"}
	h.ctrl.Observe(s)

	require.NoError(t, h.ctrl.Press())
	require.NoError(t, h.ctrl.Release())
	h.clock.Advance(time.Second)

	require.Len(t, h.commits, 1)
	assert.Equal(t, "bob", h.commits[0].SecondPlayerID)
	assert.Equal(t, 0, h.commits[0].ScoreB)
	assert.Equal(t, 1, h.commits[0].ScoreA)
	assert.Equal(t, models.RoleFirst, h.commits[0].Turn)
}

func TestControllerWriteFailureRevertsState(t *testing.T) {
	h := newHarness("alice", dice.Faces{4, 5, 6})
	before := started2("alice")
	h.ctrl.Observe(before)
	h.fail = errors.New("store unavailable")

	require.NoError(t, h.ctrl.Press())
	require.NoError(t, h.ctrl.Release())
	h.clock.Advance(time.Second)

	assert.Empty(t, h.commits)
	assert.Equal(t, before, h.ctrl.State())
	assert.True(t, h.ctrl.CanRoll())
}

func TestControllerDropsRollWhenTurnMovedAway(t *testing.T) {
	h := newHarness("alice", dice.Faces{4, 5, 6})
	h.ctrl.Observe(started2("alice"))

	require.NoError(t, h.ctrl.Press())
	require.NoError(t, h.ctrl.Release())

	remote := started2("alice")
	remote.Turn = models.RoleSecond
	remote.PendingTarget = &models.PendingTarget{Strength: 2, Label: "POINT 2"}
	h.ctrl.Observe(remote)

	h.clock.Advance(time.Second)
	assert.Empty(t, h.commits)
	assert.Equal(t, remote, h.ctrl.State())
}

func TestControllerCloseCancelsTimers(t *testing.T) {
	h := newHarness("alice", dice.Faces{4, 5, 6})
	h.ctrl.Observe(started2("alice"))

	require.NoError(t, h.ctrl.Press())
	h.ctrl.Close()
	h.clock.Advance(10 * time.Second)

	assert.Empty(t, h.commits)
	assert.ErrorIs(t, h.ctrl.Press(), ErrClosed)
}

func TestControllerRollerErrorReturnsToIdle(t *testing.T) {
	h := newHarness("alice")
	h.ctrl = NewController("alice", "msg-1", Options{
		Roller:    &fixedRoller{err: errors.New("entropy")},
		Scheduler: h.clock,
		Commit: func(s models.GameState) error {
			h.commits = append(h.commits, s)
			return nil
		},
	})
	h.ctrl.Observe(started2("alice"))

	require.NoError(t, h.ctrl.Press())
	require.NoError(t, h.ctrl.Release())
	h.clock.Advance(time.Second)

	assert.Empty(t, h.commits)
	assert.Equal(t, PhaseIdle, h.ctrl.Phase())
	assert.True(t, h.ctrl.CanRoll())
}

func started2(banker string) models.GameState {
	s := models.NewGameState()
	s.FirstPlayerID = banker
	return s
}
