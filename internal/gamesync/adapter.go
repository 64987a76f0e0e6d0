package gamesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"street-dice/internal/game"
	"street-dice/internal/logger"
	"street-dice/internal/models"
	"street-dice/internal/monitor"
)

// BlobStore 宿主提供的读写能力。写入是整体替换，没有比较并交换。
type BlobStore interface {
	ReadGameBlob(ctx context.Context, messageID string) (string, error)
	WriteGameBlob(ctx context.Context, messageID, text string) error
}

// Subscriber 宿主的实时推送。通道先给出当前值，之后每次替换推送一次，ctx 结束时关闭。
type Subscriber interface {
	SubscribeGameBlob(ctx context.Context, messageID string) (<-chan string, error)
}

// ErrNoSubscribe 存储不支持实时推送
var ErrNoSubscribe = errors.New("store does not support subscriptions")

// Adapter 唯一接触共享存储的组件：反序列化、认领庄家、写回
type Adapter struct {
	store        BlobStore
	playerID     string
	log          *logger.Logger
	writeTimeout time.Duration
}

// NewAdapter 为本地玩家创建适配器
func NewAdapter(store BlobStore, playerID string, log *logger.Logger) *Adapter {
	if log == nil {
		log = logger.Discard()
	}
	return &Adapter{
		store:        store,
		playerID:     playerID,
		log:          log,
		writeTimeout: 10 * time.Second,
	}
}

// PlayerID 本地玩家身份
func (a *Adapter) PlayerID() string {
	return a.playerID
}

// Load 读取当前值并呈现；读取失败时返回错误
func (a *Adapter) Load(ctx context.Context, messageID string) (models.GameState, error) {
	text, err := a.store.ReadGameBlob(ctx, messageID)
	if err != nil {
		return models.NewGameState(), fmt.Errorf("读取游戏消息 %s 失败: %w", messageID, err)
	}
	return a.Present(ctx, messageID, text), nil
}

// Present 解析一份推送来的文本；庄家未设置时立即把自己写为庄家。
// 两端同时认领时以最后到达存储的写入为准。
func (a *Adapter) Present(ctx context.Context, messageID, text string) models.GameState {
	s, ok := Decode(text)
	if !ok && text != "" {
		monitor.RecordDecodeFallback()
		a.log.InfoWithContext("SYNC", "游戏消息 %s 内容无效，使用默认状态", messageID)
	}

	claimed, changed := game.ClaimBanker(s, a.playerID)
	if !changed {
		return s
	}

	if err := a.Commit(ctx, messageID, claimed); err != nil {
		a.log.ErrorWithContext("SYNC", "认领庄家失败: 消息=%s 玩家=%s 错误=%v", messageID, a.playerID, err)
		return s
	}
	a.log.LogGameAction(messageID, a.playerID, "claim_banker", "")
	return claimed
}

// Commit 写回一次完整状态。不重试，不先读后写。
func (a *Adapter) Commit(ctx context.Context, messageID string, s models.GameState) error {
	ctx, cancel := context.WithTimeout(ctx, a.writeTimeout)
	defer cancel()

	text := Encode(s)
	if err := a.store.WriteGameBlob(ctx, messageID, text); err != nil {
		return fmt.Errorf("写入游戏消息 %s 失败: %w", messageID, err)
	}
	a.log.LogStoreAction("write", fmt.Sprintf("%s %s", messageID, text))
	return nil
}

// CommitFunc 绑定到某条消息的写回函数，交给控制器使用
func (a *Adapter) CommitFunc(ctx context.Context, messageID string) game.CommitFunc {
	return func(s models.GameState) error {
		return a.Commit(ctx, messageID, s)
	}
}

// Watch 订阅消息并把每次更新交给 fn，直到 ctx 结束或推送通道关闭
func (a *Adapter) Watch(ctx context.Context, messageID string, fn func(models.GameState)) error {
	sub, ok := a.store.(Subscriber)
	if !ok {
		return ErrNoSubscribe
	}

	ch, err := sub.SubscribeGameBlob(ctx, messageID)
	if err != nil {
		return fmt.Errorf("订阅游戏消息 %s 失败: %w", messageID, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case text, ok := <-ch:
			if !ok {
				return nil
			}
			fn(a.Present(ctx, messageID, text))
		}
	}
}

// Attach 把控制器接到消息上：先加载当前值，然后持续推送更新。阻塞直到 Watch 返回。
func (a *Adapter) Attach(ctx context.Context, messageID string, ctrl *game.Controller) error {
	s, err := a.Load(ctx, messageID)
	if err != nil {
		return err
	}
	ctrl.Observe(s)
	return a.Watch(ctx, messageID, ctrl.Observe)
}
