package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"street-dice/internal/game"
	"street-dice/internal/logger"
	"street-dice/internal/models"
)

func TestSimulatePlaysToTheEnd(t *testing.T) {
	timing := game.Timing{MaxCharge: 50 * time.Millisecond, RollDuration: 2 * time.Millisecond, ShakeInterval: time.Millisecond}

	var out bytes.Buffer
	final, err := simulate(context.Background(), timing, 2000, logger.Discard(), &out)
	require.NoError(t, err)

	assert.True(t, final.Terminal())
	assert.Equal(t, "alice", final.FirstPlayerID)
	// 比赛可能在挑战者出手前就由庄家的自动结果决定
	assert.Contains(t, []string{"", "bob"}, final.SecondPlayerID)
	assert.NotEqual(t, models.RoleNone, game.Winner(final))
	assert.NotEmpty(t, out.String())
}

func TestCommandsAreRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"bot", "hub", "play", "sim"} {
		assert.True(t, names[want], want)
	}
}
