package game

import (
	"errors"
	"sync"
	"time"

	"street-dice/internal/dice"
	"street-dice/internal/logger"
	"street-dice/internal/models"
	"street-dice/internal/monitor"
)

// Phase 本地交互阶段
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCharging
	PhaseRolling
)

func (p Phase) String() string {
	switch p {
	case PhaseCharging:
		return "charging"
	case PhaseRolling:
		return "rolling"
	}
	return "idle"
}

// Timing 按住和滚动动画的时长
type Timing struct {
	MaxCharge     time.Duration
	RollDuration  time.Duration
	ShakeInterval time.Duration
}

// DefaultTiming 默认时长：最多按住2.5秒，滚动0.65秒
func DefaultTiming() Timing {
	return Timing{
		MaxCharge:     2500 * time.Millisecond,
		RollDuration:  650 * time.Millisecond,
		ShakeInterval: 80 * time.Millisecond,
	}
}

// Timer 可取消的定时器
type Timer interface {
	Stop() bool
}

// Scheduler 定时器工厂，测试中替换为手动时钟
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Frame 交给界面层渲染的一帧
type Frame struct {
	Phase   Phase
	State   models.GameState
	Role    models.Role
	CanRoll bool
	Dice    dice.Faces
	Outcome *dice.Outcome // 仅在完成一次掷骰的那一帧上设置
}

// CommitFunc 把新状态写回共享存储
type CommitFunc func(models.GameState) error

// Options 控制器依赖
type Options struct {
	Timing    Timing
	Roller    dice.Roller
	Scheduler Scheduler
	Logger    *logger.Logger
	Commit    CommitFunc
	OnFrame   func(Frame)
	Shake     func() dice.Faces
}

// Controller 单个客户端上的交互状态机：Idle -> Charging -> Rolling -> Idle。
// 只有轮到的玩家可以进入 Charging；其他输入在这里被拒绝。
type Controller struct {
	mu       sync.Mutex
	playerID string
	label    string
	timing   Timing
	roller   dice.Roller
	sched    Scheduler
	log      *logger.Logger
	commit   CommitFunc
	onFrame  func(Frame)
	shake    func() dice.Faces

	phase  Phase
	state  models.GameState
	rev    uint64 // 每次替换 state 递增
	gen    uint64 // 阶段代数，过期的定时器回调据此丢弃
	faces  dice.Faces
	timers map[string]Timer
	closed bool
}

// NewController 为 playerID 创建控制器，label 用于日志（一般是消息ID）
func NewController(playerID, label string, opts Options) *Controller {
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}
	if opts.Roller == nil {
		opts.Roller = dice.NewRoller()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.Shake == nil {
		opts.Shake = dice.Shake
	}
	if opts.Commit == nil {
		opts.Commit = func(models.GameState) error { return nil }
	}

	return &Controller{
		playerID: playerID,
		label:    label,
		timing:   opts.Timing,
		roller:   opts.Roller,
		sched:    opts.Scheduler,
		log:      opts.Logger,
		commit:   opts.Commit,
		onFrame:  opts.OnFrame,
		shake:    opts.Shake,
		state:    models.NewGameState(),
		timers:   make(map[string]Timer),
	}
}

// Observe 收到远端（或自己回环）的最新状态
func (c *Controller) Observe(s models.GameState) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = s.Clone()
	c.rev++
	f := c.frameLocked(nil)
	c.mu.Unlock()

	c.emit(f)
}

// State 当前已知状态的副本
func (c *Controller) State() models.GameState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// CanRoll 本地玩家此刻能否开始按住
func (c *Controller) CanRoll() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkLocked() == nil
}

func (c *Controller) checkLocked() error {
	switch {
	case c.closed:
		return ErrClosed
	case c.phase != PhaseIdle:
		return ErrBusy
	case c.state.Terminal():
		return ErrMatchOver
	case c.state.FirstPlayerID == "":
		return ErrNotClaimed
	case RoleOf(c.state, c.playerID) != c.state.Turn:
		return ErrNotYourTurn
	}
	return nil
}

// Press 开始按住。最长按住 MaxCharge，超时等同松手。
func (c *Controller) Press() error {
	c.mu.Lock()
	if err := c.checkLocked(); err != nil {
		c.mu.Unlock()
		monitor.RecordRejectedPress(rejectReason(err))
		c.log.DebugWithContext("GAME", "拒绝按下: 消息=%s 玩家=%s 原因=%v", c.label, c.playerID, err)
		return err
	}

	c.phase = PhaseCharging
	c.gen++
	gen := c.gen
	c.setTimerLocked("charge", c.timing.MaxCharge, func() { c.chargeTimeout(gen) })
	f := c.frameLocked(nil)
	c.mu.Unlock()

	c.emit(f)
	return nil
}

// Release 松手，进入滚动阶段。按住时长不影响结果。
func (c *Controller) Release() error {
	c.mu.Lock()
	if c.phase != PhaseCharging {
		c.mu.Unlock()
		return ErrNotCharging
	}
	c.startRollingLocked()
	f := c.frameLocked(nil)
	c.mu.Unlock()

	c.emit(f)
	return nil
}

// Close 取消所有定时器，之后的输入全部被拒绝
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name := range c.timers {
		c.cancelTimerLocked(name)
	}
	c.closed = true
	c.phase = PhaseIdle
	c.gen++
}

func (c *Controller) chargeTimeout(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.phase != PhaseCharging {
		c.mu.Unlock()
		return
	}
	delete(c.timers, "charge")
	c.startRollingLocked()
	f := c.frameLocked(nil)
	c.mu.Unlock()

	c.emit(f)
}

func (c *Controller) startRollingLocked() {
	c.cancelTimerLocked("charge")
	c.phase = PhaseRolling
	c.gen++
	gen := c.gen
	c.faces = c.shake()
	c.setTimerLocked("shake", c.timing.ShakeInterval, func() { c.shakeTick(gen) })
	c.setTimerLocked("roll", c.timing.RollDuration, func() { c.finishRoll(gen) })
}

func (c *Controller) shakeTick(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.phase != PhaseRolling {
		c.mu.Unlock()
		return
	}
	c.faces = c.shake()
	c.setTimerLocked("shake", c.timing.ShakeInterval, func() { c.shakeTick(gen) })
	f := c.frameLocked(nil)
	c.mu.Unlock()

	c.emit(f)
}

func (c *Controller) finishRoll(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.phase != PhaseRolling {
		c.mu.Unlock()
		return
	}
	c.cancelTimerLocked("shake")
	delete(c.timers, "roll")
	c.phase = PhaseIdle
	c.gen++

	prev := c.state
	role := RoleOf(prev, c.playerID)

	faces, err := c.roller.Roll()
	if err != nil {
		c.log.ErrorWithContext("GAME", "掷骰失败: 消息=%s 玩家=%s 错误=%v", c.label, c.playerID, err)
		f := c.frameLocked(nil)
		c.mu.Unlock()
		c.emit(f)
		return
	}
	outcome := dice.Evaluate(faces)

	// 滚动期间收到了对方的写入，已经不是自己的回合
	if prev.Terminal() || role != prev.Turn {
		c.log.InfoWithContext("GAME", "回合已变化，丢弃掷骰: 消息=%s 玩家=%s 结果=%s", c.label, c.playerID, outcome)
		f := c.frameLocked(nil)
		c.mu.Unlock()
		c.emit(f)
		return
	}

	base := prev
	if role == models.RoleSecond {
		base, _ = ClaimChallenger(prev, c.playerID)
	}
	next := Resolve(base, outcome, role)
	monitor.RecordRoll(outcome.Kind.String())

	c.state = next
	c.rev++
	rev := c.rev
	f := c.frameLocked(&outcome)
	c.mu.Unlock()

	c.log.LogGameAction(c.label, c.playerID, "roll", outcome.String())
	c.emit(f)

	err = c.commit(next.Clone())
	monitor.RecordWrite(err)
	if err == nil {
		return
	}

	// 写入失败：放弃乐观状态，回到最后一次确认的值
	c.log.ErrorWithContext("GAME", "写入状态失败，放弃本地结果: 消息=%s 错误=%v", c.label, err)
	c.mu.Lock()
	if c.closed || c.rev != rev {
		c.mu.Unlock()
		return
	}
	c.state = prev
	c.rev++
	f = c.frameLocked(nil)
	c.mu.Unlock()
	c.emit(f)
}

func (c *Controller) setTimerLocked(name string, d time.Duration, fn func()) {
	c.cancelTimerLocked(name)
	c.timers[name] = c.sched.AfterFunc(d, fn)
}

func (c *Controller) cancelTimerLocked(name string) {
	if t, ok := c.timers[name]; ok {
		t.Stop()
		delete(c.timers, name)
	}
}

func (c *Controller) frameLocked(outcome *dice.Outcome) Frame {
	f := Frame{
		Phase:   c.phase,
		State:   c.state.Clone(),
		Role:    RoleOf(c.state, c.playerID),
		CanRoll: c.checkLocked() == nil,
		Outcome: outcome,
	}
	if c.phase == PhaseRolling {
		f.Dice = c.faces
	} else if len(c.state.LastDice) == 3 {
		copy(f.Dice[:], c.state.LastDice)
	}
	return f
}

func (c *Controller) emit(f Frame) {
	if c.onFrame != nil {
		c.onFrame(f)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, ErrMatchOver):
		return "match_over"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNotClaimed):
		return "not_claimed"
	case errors.Is(err, ErrClosed):
		return "closed"
	}
	return "other"
}
