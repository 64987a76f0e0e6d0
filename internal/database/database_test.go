package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"street-dice/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Init(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMessageLifecycle(t *testing.T) {
	db := newTestDB(t)

	msg := &models.Message{ID: "m1", ChatID: "c1", SenderID: "alice", Kind: models.MessageKindGame, Text: ""}
	require.NoError(t, db.CreateMessage(msg))

	got, err := db.GetMessage("m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.MessageKindGame, got.Kind)
	assert.Equal(t, "alice", got.SenderID)

	assert.Equal(t, int64(0), got.Version)

	version, found, err := db.UpdateMessageText("m1", "new text")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), version)

	version, _, err = db.UpdateMessageText("m1", "newer text")
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)

	got, err = db.GetMessage("m1")
	require.NoError(t, err)
	assert.Equal(t, "newer text", got.Text)
	assert.Equal(t, int64(2), got.Version)

	_, found, err = db.UpdateMessageText("missing", "x")
	require.NoError(t, err)
	assert.False(t, found)

	missing, err := db.GetMessage("missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDuplicateMessageID(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateMessage(&models.Message{ID: "m1"}))
	assert.Error(t, db.CreateMessage(&models.Message{ID: "m1"}))
}

func TestListChatMessages(t *testing.T) {
	db := newTestDB(t)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateMessage(&models.Message{ID: id, ChatID: "room"}))
		time.Sleep(2 * time.Millisecond)
	}
	require.NoError(t, db.CreateMessage(&models.Message{ID: "other", ChatID: "elsewhere"}))

	msgs, err := db.ListChatMessages("room", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", msgs[0].ID)
	assert.Equal(t, models.MessageKindText, msgs[0].Kind)

	// 只取最近的，仍按时间正序
	msgs, err = db.ListChatMessages("room", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].ID)
	assert.Equal(t, "c", msgs[1].ID)
}

func TestMatchResultRecordedOnce(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.CreateMessage(&models.Message{ID: "g1", Kind: models.MessageKindGame}))

	result := &models.MatchResult{MessageID: "g1", BankerID: "alice", OpponentID: "bob", Winner: models.RoleSecond, ScoreA: 3, ScoreB: 5}
	inserted, err := db.RecordMatchResultWithTransaction(result)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = db.RecordMatchResultWithTransaction(result)
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = db.RecordMatchResultWithTransaction(&models.MatchResult{MessageID: "nope", BankerID: "x", Winner: models.RoleFirst})
	assert.Error(t, err)

	results, err := db.ListMatchResults(10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.RoleSecond, results[0].Winner)
	assert.Equal(t, 5, results[0].ScoreB)
}

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "street_dice.db")

	db, err := Init(path)
	require.NoError(t, err)
	require.NoError(t, db.CreateMessage(&models.Message{ID: "m1", Text: "hello"}))
	require.NoError(t, db.Close())

	db, err = Init(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetMessage("m1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "hello", got.Text)
}

func TestInitUpgradesSchemaWithoutVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")

	conn, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE TABLE messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL DEFAULT '',
		sender_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'text',
		text TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO messages (id, text) VALUES ('old', 'x')`)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	db, err := Init(path)
	require.NoError(t, err)
	defer db.Close()

	version, found, err := db.UpdateMessageText("old", "y")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), version)
}
