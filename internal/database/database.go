package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"street-dice/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn *sql.DB
}

func Init(databaseURL string) (*DB, error) {
	dsn := databaseURL + "?cache=shared&mode=rwc&_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	if databaseURL == ":memory:" {
		// 每个连接都是独立的内存库，只能用一个连接
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(25)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	db := &DB{conn: conn}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := db.createIndexes(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL DEFAULT '',
			sender_id TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT 'text',
			text TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS match_results (
			message_id TEXT PRIMARY KEY,
			banker_id TEXT NOT NULL,
			opponent_id TEXT NOT NULL DEFAULT '',
			winner TEXT NOT NULL,
			score_a INTEGER NOT NULL,
			score_b INTEGER NOT NULL,
			finished_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (message_id) REFERENCES messages(id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("创建数据表失败: %w", err)
		}
	}

	// 旧库的 messages 没有 version 列
	_, err := db.conn.Exec(`ALTER TABLE messages ADD COLUMN version INTEGER NOT NULL DEFAULT 0`)
	if err != nil && !strings.Contains(err.Error(), "duplicate column name") {
		return fmt.Errorf("升级数据表失败: %w", err)
	}

	return nil
}

// 创建索引以提升查询性能
func (db *DB) createIndexes() error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_kind ON messages(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_match_results_finished ON match_results(finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_match_results_banker ON match_results(banker_id)`,
	}

	for _, index := range indexes {
		if _, err := db.conn.Exec(index); err != nil {
			return fmt.Errorf("创建索引失败: %w", err)
		}
	}

	return nil
}

// Message operations

func (db *DB) CreateMessage(msg *models.Message) error {
	query := `INSERT INTO messages (id, chat_id, sender_id, kind, text, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Kind == "" {
		msg.Kind = models.MessageKindText
	}

	_, err := db.conn.Exec(query, msg.ID, msg.ChatID, msg.SenderID, string(msg.Kind), msg.Text, msg.CreatedAt, msg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("创建消息失败: %w", err)
	}
	return nil
}

// GetMessage 不存在时返回 nil, nil
func (db *DB) GetMessage(id string) (*models.Message, error) {
	msg := &models.Message{}
	var kind string
	query := `SELECT id, chat_id, sender_id, kind, text, version, created_at, updated_at
			  FROM messages WHERE id = ?`

	err := db.conn.QueryRow(query, id).Scan(
		&msg.ID, &msg.ChatID, &msg.SenderID, &kind, &msg.Text, &msg.Version, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询消息失败: %w", err)
	}
	msg.Kind = models.MessageKind(kind)
	return msg, nil
}

// UpdateMessageText 整体替换消息文本，版本号加一。消息不存在时 found 为 false
func (db *DB) UpdateMessageText(id, text string) (version int64, found bool, err error) {
	query := `UPDATE messages SET text = ?, updated_at = ?, version = version + 1
			  WHERE id = ? RETURNING version`

	err = db.conn.QueryRow(query, text, time.Now(), id).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("更新消息失败: %w", err)
	}
	return version, true, nil
}

// ListChatMessages 某个会话最近的 limit 条消息，按时间正序
func (db *DB) ListChatMessages(chatID string, limit int) ([]*models.Message, error) {
	query := `SELECT id, chat_id, sender_id, kind, text, version, created_at, updated_at FROM (
				SELECT id, chat_id, sender_id, kind, text, version, created_at, updated_at, rowid AS seq
				FROM messages WHERE chat_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
			  ) ORDER BY created_at ASC, seq ASC`

	rows, err := db.conn.Query(query, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询会话消息失败: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var kind string
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.SenderID, &kind, &msg.Text, &msg.Version, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("读取会话消息失败: %w", err)
		}
		msg.Kind = models.MessageKind(kind)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Match result operations

// RecordMatchResultWithTransaction 在事务中确认消息存在并写入结果，同一条消息只记录一次
func (db *DB) RecordMatchResultWithTransaction(result *models.MatchResult) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(1) FROM messages WHERE id = ?`, result.MessageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("查询消息失败: %w", err)
	}
	if exists == 0 {
		return false, fmt.Errorf("消息不存在: %s", result.MessageID)
	}

	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}

	res, err := tx.Exec(`INSERT OR IGNORE INTO match_results
			(message_id, banker_id, opponent_id, winner, score_a, score_b, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		result.MessageID, result.BankerID, result.OpponentID, string(result.Winner),
		result.ScoreA, result.ScoreB, result.FinishedAt)
	if err != nil {
		return false, fmt.Errorf("写入比赛结果失败: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("提交事务失败: %w", err)
	}
	return n > 0, nil
}

// ListMatchResults 最近结束的比赛，新的在前
func (db *DB) ListMatchResults(limit int) ([]*models.MatchResult, error) {
	query := `SELECT message_id, banker_id, opponent_id, winner, score_a, score_b, finished_at
			  FROM match_results ORDER BY finished_at DESC LIMIT ?`

	rows, err := db.conn.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("查询比赛结果失败: %w", err)
	}
	defer rows.Close()

	var results []*models.MatchResult
	for rows.Next() {
		r := &models.MatchResult{}
		var winner string
		if err := rows.Scan(&r.MessageID, &r.BankerID, &r.OpponentID, &winner, &r.ScoreA, &r.ScoreB, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("读取比赛结果失败: %w", err)
		}
		r.Winner = models.Role(winner)
		results = append(results, r)
	}
	return results, rows.Err()
}
