package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"street-dice/internal/gamesync"
	"street-dice/internal/pool"
)

// Telegram 只允许编辑 48 小时内的消息
const messageTTL = 48 * time.Hour

// ErrUnknownMessage 没见过这条消息（机器人重启后，等下一次回调带回文本）
var ErrUnknownMessage = errors.New("unknown telegram message")

// API 机器人用到的 Telegram 接口，*tgbotapi.BotAPI 满足它
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// messageKey 群聊ID和消息ID组成的键
func messageKey(chatID int64, messageID int) string {
	return fmt.Sprintf("%d:%d", chatID, messageID)
}

func parseKey(key string) (int64, int, error) {
	chat, msg, ok := strings.Cut(key, ":")
	if !ok {
		return 0, 0, fmt.Errorf("无效的消息键: %s", key)
	}
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("无效的消息键: %s", key)
	}
	messageID, err := strconv.Atoi(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("无效的消息键: %s", key)
	}
	return chatID, messageID, nil
}

// isNotModified 编辑内容与原内容相同，Telegram 视为错误，这里当成功处理
func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// Store 把 Telegram 消息当作共享文档：读取来自回调里带回的消息文本，写入就是编辑消息。
type Store struct {
	api     API
	limiter *rate.Limiter
	texts   *pool.Cache[string]
	names   NameFunc
	onWrite func(key, text string)
}

// NewStore editsPerSecond 控制对 Telegram 的编辑频率
func NewStore(api API, editsPerSecond float64, names NameFunc) *Store {
	return &Store{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(editsPerSecond), 1),
		texts:   pool.NewCache[string](time.Hour),
		names:   names,
	}
}

// Observe 记录 Telegram 上这条消息的当前文本
func (s *Store) Observe(key, text string) {
	s.texts.Set(key, text, messageTTL)
}

func (s *Store) ReadGameBlob(ctx context.Context, key string) (string, error) {
	text, ok := s.texts.Get(key)
	if !ok {
		return "", ErrUnknownMessage
	}
	return text, nil
}

// WriteGameBlob 用新状态重新渲染整条消息，没有比较并交换
func (s *Store) WriteGameBlob(ctx context.Context, key, blob string) error {
	chatID, messageID, err := parseKey(key)
	if err != nil {
		return err
	}

	state, ok := gamesync.Decode(blob)
	if !ok {
		return fmt.Errorf("拒绝写入无效的游戏状态: %s", key)
	}
	text := ComposeText(state, s.names)

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, Keyboard(state))
	if _, err := s.api.Request(edit); err != nil && !isNotModified(err) {
		return fmt.Errorf("编辑消息失败: %w", err)
	}

	s.Observe(key, text)
	if s.onWrite != nil {
		s.onWrite(key, text)
	}
	return nil
}

// EditKeyboard 只替换按钮，不动消息文本
func (s *Store) EditKeyboard(ctx context.Context, key string, markup tgbotapi.InlineKeyboardMarkup) error {
	chatID, messageID, err := parseKey(key)
	if err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, markup)
	if _, err := s.api.Request(edit); err != nil && !isNotModified(err) {
		return fmt.Errorf("编辑按钮失败: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	s.texts.Close()
}
