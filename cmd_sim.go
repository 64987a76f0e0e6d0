package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"street-dice/internal/game"
	"street-dice/internal/gamesync"
	"street-dice/internal/logger"
	"street-dice/internal/models"
)

var (
	simMaxRolls int
	simFast     bool

	simCmd = &cobra.Command{
		Use:   "sim",
		Short: "Play a full match between two in-process clients over the in-memory store",
		RunE: func(cmd *cobra.Command, args []string) error {
			timing := cfg.Timing()
			if simFast {
				timing = game.Timing{MaxCharge: 50 * time.Millisecond, RollDuration: 2 * time.Millisecond, ShakeInterval: time.Millisecond}
			}
			final, err := simulate(cmd.Context(), timing, simMaxRolls, appLog, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "最终比分 %d-%d, 胜者 %s\n", final.ScoreA, final.ScoreB, game.Winner(final))
			return nil
		},
	}
)

func init() {
	simCmd.Flags().IntVar(&simMaxRolls, "max-rolls", 1000, "give up after this many rolls")
	simCmd.Flags().BoolVar(&simFast, "fast", true, "use short animation timings")
}

var errSimStalled = errors.New("simulation stalled")

// simulate 两个客户端通过同一个内存存储轮流掷骰直到比赛结束
func simulate(ctx context.Context, timing game.Timing, maxRolls int, log *logger.Logger, out io.Writer) (models.GameState, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := gamesync.NewMemoryStore()
	id := store.Create("")

	type client struct {
		name    string
		adapter *gamesync.Adapter
		ctrl    *game.Controller
	}
	var clients []*client
	for _, name := range []string{"alice", "bob"} {
		adapter := gamesync.NewAdapter(store, name, log)
		c := &client{
			name:    name,
			adapter: adapter,
			ctrl: game.NewController(name, id, game.Options{
				Timing: timing,
				Logger: log,
				Commit: adapter.CommitFunc(ctx, id),
			}),
		}
		defer c.ctrl.Close()
		clients = append(clients, c)

		go c.adapter.Attach(ctx, id, c.ctrl)

		// 先打开的人成为庄家，等他认领完成再让下一个人打开
		if err := waitUntil(ctx, time.Second, func() bool {
			return c.ctrl.State().FirstPlayerID != ""
		}); err != nil {
			return models.GameState{}, err
		}
	}

	current := func() models.GameState {
		text, _ := store.ReadGameBlob(ctx, id)
		s, _ := gamesync.Decode(text)
		return s
	}

	for rolls := 0; rolls < maxRolls; rolls++ {
		before := current()
		if before.Terminal() {
			return before, nil
		}

		var roller *client
		for _, c := range clients {
			if c.ctrl.CanRoll() {
				roller = c
				break
			}
		}
		if roller == nil {
			// 等推送到达
			if err := waitUntil(ctx, time.Second, func() bool {
				return clients[0].ctrl.CanRoll() || clients[1].ctrl.CanRoll()
			}); err != nil {
				return before, err
			}
			rolls--
			continue
		}

		if err := roller.ctrl.Press(); err != nil {
			return before, fmt.Errorf("%s 按下失败: %w", roller.name, err)
		}
		if err := roller.ctrl.Release(); err != nil {
			return before, fmt.Errorf("%s 松手失败: %w", roller.name, err)
		}

		// 写入完成并且两端都看到了新状态
		if err := waitUntil(ctx, time.Second+timing.RollDuration, func() bool {
			after := current()
			return roller.ctrl.Phase() == game.PhaseIdle &&
				after.LastDice != nil &&
				clients[0].ctrl.State().StatusMessage == after.StatusMessage &&
				clients[1].ctrl.State().ScoreA == after.ScoreA &&
				clients[1].ctrl.State().ScoreB == after.ScoreB &&
				clients[0].ctrl.State().Turn == after.Turn &&
				clients[1].ctrl.State().Turn == after.Turn
		}); err != nil {
			return before, err
		}

		after := current()
		fmt.Fprintf(out, "%-5s %v  %s\n", roller.name, after.LastDice, after.StatusMessage)
	}

	return current(), fmt.Errorf("%w: %d 次掷骰后仍未结束", errSimStalled, maxRolls)
}

func waitUntil(ctx context.Context, timeout time.Duration, cond func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(time.Millisecond)
	defer tick.Stop()

	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return errSimStalled
		case <-tick.C:
		}
	}
}
