package gamesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"street-dice/internal/dice"
	"street-dice/internal/game"
	"street-dice/internal/models"
)

func TestLoadClaimsBankerOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := store.Create("")

	alice := NewAdapter(store, "alice", nil)
	bob := NewAdapter(store, "bob", nil)

	s, err := alice.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.FirstPlayerID)

	s, err = bob.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", s.FirstPlayerID)
	assert.Equal(t, models.RoleSecond, game.RoleOf(s, "bob"))
}

func TestConcurrentClaimLastWriteWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := store.Create("")

	// 两端都在对方写入前读到了未认领的状态
	alice := NewAdapter(store, "alice", nil)
	bob := NewAdapter(store, "bob", nil)
	a := alice.Present(ctx, id, "")
	b := bob.Present(ctx, id, "")
	assert.Equal(t, "alice", a.FirstPlayerID)
	assert.Equal(t, "bob", b.FirstPlayerID)

	text, err := store.ReadGameBlob(ctx, id)
	require.NoError(t, err)
	final, ok := Decode(text)
	require.True(t, ok)
	assert.Equal(t, "bob", final.FirstPlayerID)
}

func TestLoadUnknownMessage(t *testing.T) {
	_, err := NewAdapter(NewMemoryStore(), "alice", nil).Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimWriteFailureKeepsStoreValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := store.Create("")
	store.SetWriteError(errors.New("offline"))

	s, err := NewAdapter(store, "alice", nil).Load(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, s.FirstPlayerID)
}

func TestCommitOverwritesWithoutReading(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	id := store.Create(Encode(models.GameState{FirstPlayerID: "alice", ScoreA: 3, Turn: models.RoleFirst}))

	stale := models.GameState{FirstPlayerID: "alice", ScoreA: 1, Turn: models.RoleFirst}
	require.NoError(t, NewAdapter(store, "bob", nil).Commit(ctx, id, stale))

	text, _ := store.ReadGameBlob(ctx, id)
	got, _ := Decode(text)
	assert.Equal(t, 1, got.ScoreA)
}

func TestWatchDeliversUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	id := store.Create(Encode(models.GameState{FirstPlayerID: "alice", Turn: models.RoleFirst}))
	bob := NewAdapter(store, "bob", nil)

	updates := make(chan models.GameState, 8)
	done := make(chan error, 1)
	go func() { done <- bob.Watch(ctx, id, func(s models.GameState) { updates <- s }) }()

	first := <-updates
	assert.Equal(t, 0, first.ScoreA)

	require.NoError(t, NewAdapter(store, "alice", nil).Commit(ctx, id, models.GameState{FirstPlayerID: "alice", ScoreA: 1, Turn: models.RoleFirst}))

	select {
	case s := <-updates:
		assert.Equal(t, 1, s.ScoreA)
	case <-time.After(2 * time.Second):
		t.Fatal("没有收到推送")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Watch 没有退出")
	}
}

func TestWatchRequiresSubscriber(t *testing.T) {
	err := NewAdapter(readOnlyStore{}, "alice", nil).Watch(context.Background(), "x", func(models.GameState) {})
	assert.ErrorIs(t, err, ErrNoSubscribe)
}

type readOnlyStore struct{}

func (readOnlyStore) ReadGameBlob(context.Context, string) (string, error) { return "", nil }
func (readOnlyStore) WriteGameBlob(context.Context, string, string) error  { return nil }

// 两个客户端通过同一个存储完整地走完一轮
func TestTwoClientsPlayARound(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := NewMemoryStore()
	id := store.Create("")

	type client struct {
		ctrl  *game.Controller
		clock *stepClock
	}
	newClient := func(player string, faces dice.Faces) client {
		a := NewAdapter(store, player, nil)
		clock := &stepClock{}
		ctrl := game.NewController(player, id, game.Options{
			Roller:    constRoller(faces),
			Scheduler: clock,
			Commit:    a.CommitFunc(ctx, id),
		})
		go a.Attach(ctx, id, ctrl)
		return client{ctrl: ctrl, clock: clock}
	}

	alice := newClient("alice", dice.Faces{2, 2, 4})
	require.Eventually(t, func() bool { return alice.ctrl.CanRoll() }, 2*time.Second, 5*time.Millisecond)
	bob := newClient("bob", dice.Faces{5, 5, 6})
	require.Eventually(t, func() bool { return bob.ctrl.State().FirstPlayerID == "alice" }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, alice.ctrl.Press())
	require.NoError(t, alice.ctrl.Release())
	alice.clock.fireAll()

	require.Eventually(t, func() bool { return bob.ctrl.CanRoll() }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, bob.ctrl.Press())
	require.NoError(t, bob.ctrl.Release())
	bob.clock.fireAll()

	require.Eventually(t, func() bool {
		s := alice.ctrl.State()
		return s.ScoreB == 1 && s.Turn == models.RoleFirst
	}, 2*time.Second, 5*time.Millisecond)

	text, _ := store.ReadGameBlob(ctx, id)
	final, ok := Decode(text)
	require.True(t, ok)
	assert.Equal(t, "bob", final.SecondPlayerID)
	assert.Nil(t, final.PendingTarget)
}

type constRoller dice.Faces

func (r constRoller) Roll() (dice.Faces, error) { return dice.Faces(r), nil }

// stepClock 记录定时器，fireAll 按注册顺序触发直到没有新的定时器
type stepClock struct {
	pending []func()
}

type stepTimer struct{ stopped *bool }

func (t stepTimer) Stop() bool { *t.stopped = true; return true }

func (c *stepClock) AfterFunc(d time.Duration, fn func()) game.Timer {
	stopped := false
	c.pending = append(c.pending, func() {
		if !stopped {
			fn()
		}
	})
	return stepTimer{stopped: &stopped}
}

func (c *stepClock) fireAll() {
	for len(c.pending) > 0 {
		fn := c.pending[0]
		c.pending = c.pending[1:]
		fn()
	}
}
