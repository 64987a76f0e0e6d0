package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"street-dice/internal/logger"
	"street-dice/internal/models"
)

type fakeDB struct {
	mu   sync.Mutex
	msgs map[string]*models.Message
}

func newFakeDB(msgs ...*models.Message) *fakeDB {
	db := &fakeDB{msgs: make(map[string]*models.Message)}
	for _, m := range msgs {
		db.msgs[m.ID] = m
	}
	return db
}

func (f *fakeDB) GetMessage(id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil, nil
	}
	out := *m
	return &out, nil
}

func (f *fakeDB) UpdateMessageText(id, text string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return 0, false, nil
	}
	m.Text = text
	m.Version++
	// 模拟时钟回拨：更新时间不单调
	m.UpdatedAt = time.Unix(0, 0)
	return m.Version, true, nil
}

func TestGetAndUpdate(t *testing.T) {
	db := newFakeDB(&models.Message{ID: "m1", Kind: models.MessageKindGame, Text: "v1"})
	bc := NewBlobCache(db, logger.Discard(), 0)
	defer bc.Close()

	blob, err := bc.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, "v1", blob.Text)
	assert.Equal(t, models.MessageKindGame, blob.Kind)

	updated, err := bc.Update("m1", "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Text)
	assert.Equal(t, models.MessageKindGame, updated.Kind)

	blob, err = bc.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, "v2", blob.Text)

	missing, err := bc.Update("nope", "x")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSubscribersReceiveLatest(t *testing.T) {
	db := newFakeDB(&models.Message{ID: "m1", Text: "v0"})
	bc := NewBlobCache(db, logger.Discard(), 0)
	defer bc.Close()

	ch, cancel := bc.Subscribe("m1")
	for _, v := range []string{"v1", "v2", "v3"} {
		_, err := bc.Update("m1", v)
		require.NoError(t, err)
	}

	select {
	case u := <-ch:
		assert.Equal(t, "v3", u.Text)
	case <-time.After(time.Second):
		t.Fatal("没有收到更新")
	}

	assert.Equal(t, 1, bc.Stats()["subscriber_count"])
	cancel()
	cancel()
	assert.Equal(t, 0, bc.Stats()["subscriber_count"])
}

func TestConsistencyCheckPrefersDatabase(t *testing.T) {
	db := newFakeDB(&models.Message{ID: "m1", Text: "v1"})
	bc := NewBlobCache(db, logger.Discard(), 0)
	defer bc.Close()

	_, err := bc.Get("m1")
	require.NoError(t, err)

	// 绕过缓存直接修改数据库
	_, _, _ = db.UpdateMessageText("m1", "external")
	bc.performConsistencyCheck()

	blob, err := bc.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, "external", blob.Text)
}

func TestVersionsFollowDatabaseNotClock(t *testing.T) {
	db := newFakeDB(&models.Message{ID: "m1", Text: "v0", Version: 7})
	bc := NewBlobCache(db, logger.Discard(), 0)
	defer bc.Close()

	blob, err := bc.Get("m1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), blob.Version)

	ch, cancel := bc.Subscribe("m1")
	defer cancel()

	last := blob.Version
	for _, v := range []string{"v1", "v2", "v3"} {
		updated, err := bc.Update("m1", v)
		require.NoError(t, err)
		assert.Greater(t, updated.Version, last, v)
		last = updated.Version
	}

	select {
	case u := <-ch:
		assert.Equal(t, "v3", u.Text)
		assert.Equal(t, int64(10), u.Version)
	case <-time.After(time.Second):
		t.Fatal("没有收到更新")
	}
}
