package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"street-dice/internal/config"
	"street-dice/internal/database"
	"street-dice/internal/dice"
	"street-dice/internal/game"
	"street-dice/internal/gamesync"
	"street-dice/internal/logger"
	"street-dice/internal/models"
	"street-dice/internal/monitor"
	"street-dice/internal/network"
	"street-dice/internal/pool"
)

const (
	inactiveThreshold = 2 * time.Hour // 2小时无活动的控制器被回收
	cleanupInterval   = 30 * time.Minute
	nameTTL           = 7 * 24 * time.Hour
)

// Bot 在 Telegram 群聊里托管游戏消息
type Bot struct {
	api     API
	botAPI  *tgbotapi.BotAPI // 测试中为 nil
	cfg     *config.Config
	db      *database.DB // 可选，用于镜像消息和记录比赛结果
	log     *logger.Logger
	store   *Store
	workers *pool.WorkerPool
	names   *pool.Cache[string]

	// 测试可替换
	roller dice.Roller
	sched  game.Scheduler

	ctx      context.Context
	mu       sync.Mutex
	sessions map[string]map[string]*session // 消息键 -> 玩家ID -> 会话
}

// session 某个用户在某条消息上的控制器
type session struct {
	ctrl       *game.Controller
	key        string
	playerID   string
	dirty      atomic.Bool // 按钮处于蓄力状态，还没被最终写入覆盖
	lastActive atomic.Int64
}

func (s *session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// NewBot 创建新的机器人实例
func NewBot(cfg *config.Config, db *database.DB, log *logger.Logger) (*Bot, error) {
	// 长轮询 60 秒，客户端超时要更长
	api, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, network.NewHTTPClient(75*time.Second))
	if err != nil {
		return nil, fmt.Errorf("创建机器人API失败: %w", err)
	}

	b := newBot(api, cfg, db, log)
	b.botAPI = api
	return b, nil
}

func newBot(api API, cfg *config.Config, db *database.DB, log *logger.Logger) *Bot {
	if log == nil {
		log = logger.Discard()
	}

	b := &Bot{
		api:      api,
		cfg:      cfg,
		db:       db,
		log:      log,
		workers:  pool.NewWorkerPool(cfg.BotWorkers, 256, log),
		names:    pool.NewCache[string](time.Hour),
		ctx:      context.Background(),
		sessions: make(map[string]map[string]*session),
	}
	b.store = NewStore(api, cfg.BotEditRate, b.displayName)
	b.store.onWrite = b.afterWrite
	return b
}

// Start 拉取更新直到 ctx 结束
func (b *Bot) Start(ctx context.Context) error {
	if b.botAPI == nil {
		return errors.New("机器人未连接 Telegram")
	}

	b.ctx = ctx
	b.workers.Start(ctx)
	go b.startCleanupRoutine(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.botAPI.GetUpdatesChan(u)

	b.log.InfoWithContext("BOT", "机器人已启动，用户名: %s", b.botAPI.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.botAPI.StopReceivingUpdates()
			b.Stop()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.Stop()
				return nil
			}
			b.dispatch(update)
		}
	}
}

// Stop 关闭所有控制器和工作池
func (b *Bot) Stop() {
	b.mu.Lock()
	for _, bySession := range b.sessions {
		for _, s := range bySession {
			s.ctrl.Close()
		}
	}
	b.sessions = make(map[string]map[string]*session)
	b.mu.Unlock()

	b.workers.Stop()
	b.store.Close()
	b.names.Close()
	b.log.InfoWithContext("BOT", "机器人已停止")
}

// dispatch 同一条消息（或同一个会话）的更新交给同一个工作者，保证按下和松手的顺序
func (b *Bot) dispatch(update tgbotapi.Update) {
	key := updateKey(update)
	err := b.workers.Go(key, func(ctx context.Context) error {
		return b.handleUpdate(ctx, update)
	})
	if err != nil {
		b.log.ErrorWithContext("BOT", "提交更新失败: key=%s err=%v", key, err)
		if update.CallbackQuery != nil {
			b.answer(update.CallbackQuery, "Busy, try again")
		}
	}
}

func updateKey(update tgbotapi.Update) string {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		m := update.CallbackQuery.Message
		return messageKey(m.Chat.ID, m.MessageID)
	case update.Message != nil:
		return strconv.FormatInt(update.Message.Chat.ID, 10)
	}
	return strconv.Itoa(update.UpdateID)
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) error {
	switch {
	case update.CallbackQuery != nil:
		return b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		return b.handleCommand(ctx, update.Message)
	}
	return nil
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) error {
	if message.From != nil {
		b.rememberName(message.From)
	}

	switch message.Command() {
	case "start", "help":
		return b.send(message.Chat.ID, helpText)
	case "streetdice", "dice":
		if message.From == nil {
			return nil
		}
		_, err := b.newGame(ctx, message.Chat.ID, message.From)
		return err
	case "matches":
		return b.handleMatches(message.Chat.ID)
	}
	return nil
}

const helpText = `🎲 Street Dice

/streetdice posts a new game. The first player to open it is the banker.
Tap ✊ Shake to pick up the dice, then 🎲 Throw. Holding too long throws for you.

4-5-6 wins, 1-2-3 loses, a triple beats any point.
The banker sets a point, the challenger must beat it. First to 5 wins.`

// newGame 发布一条未初始化的游戏消息，并由发起人认领庄家
func (b *Bot) newGame(ctx context.Context, chatID int64, from *tgbotapi.User) (string, error) {
	state := models.NewGameState()
	text := ComposeText(state, b.displayName)

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = Keyboard(state)
	sent, err := b.api.Send(msg)
	if err != nil {
		return "", fmt.Errorf("发送游戏消息失败: %w", err)
	}

	key := messageKey(chatID, sent.MessageID)
	if sent.Text != "" {
		text = sent.Text
	}
	b.store.Observe(key, text)
	b.mirrorCreate(key, chatID, playerIDOf(from), text)

	adapter := gamesync.NewAdapter(b.store, playerIDOf(from), b.log)
	adapter.Present(ctx, key, text)

	b.log.LogGameAction(key, playerIDOf(from), "new_game", b.getUsernameDisplay(from))
	return key, nil
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) error {
	if query.Message == nil || query.From == nil {
		b.answer(query, "")
		return nil
	}
	b.rememberName(query.From)

	key := messageKey(query.Message.Chat.ID, query.Message.MessageID)
	playerID := playerIDOf(query.From)

	if !gamesync.IsGame(query.Message.Text) {
		b.answer(query, "This is not a Street Dice game")
		return nil
	}
	// 机器人是这条消息唯一的编辑者，缓存比回调带回的文本更新；只在重启后用回调文本补上
	if _, err := b.store.ReadGameBlob(ctx, key); err != nil {
		b.store.Observe(key, query.Message.Text)
	}

	adapter := gamesync.NewAdapter(b.store, playerID, b.log)
	sess, err := b.session(ctx, key, playerID, adapter)
	if err != nil {
		b.answer(query, "Game is not available")
		return err
	}
	sess.touch()

	switch query.Data {
	case actionPress:
		if err := sess.ctrl.Press(); err != nil {
			b.answer(query, rejectText(err))
			return nil
		}
		b.answer(query, "✊ Shaking... tap Throw!")
	case actionRelease:
		if err := sess.ctrl.Release(); err != nil {
			b.answer(query, rejectText(err))
			return nil
		}
		b.answer(query, "🎲 Rolling...")
	case actionRematch:
		if !sess.ctrl.State().Terminal() {
			b.answer(query, "Match is still running")
			return nil
		}
		if _, err := b.newGame(ctx, query.Message.Chat.ID, query.From); err != nil {
			b.answer(query, "Could not start a new match")
			return err
		}
		b.answer(query, "New match posted")
	default:
		b.answer(query, "")
	}
	return nil
}

// session 取出或创建控制器。新建时先读取（并在需要时认领庄家）当前状态。
func (b *Bot) session(ctx context.Context, key, playerID string, adapter *gamesync.Adapter) (*session, error) {
	b.mu.Lock()
	if s, ok := b.sessions[key][playerID]; ok {
		b.mu.Unlock()
		return s, nil
	}
	b.mu.Unlock()

	state, err := adapter.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	s := &session{key: key, playerID: playerID}
	s.ctrl = game.NewController(playerID, key, game.Options{
		Timing:    b.cfg.Timing(),
		Roller:    b.roller,
		Scheduler: b.sched,
		Logger:    b.log,
		Commit: func(next models.GameState) error {
			if err := adapter.Commit(b.ctx, key, next); err != nil {
				return err
			}
			s.dirty.Store(false)
			return nil
		},
		OnFrame: func(f game.Frame) { b.onFrame(s, f) },
	})
	s.ctrl.Observe(state)
	s.touch()

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.sessions[key][playerID]; ok {
		s.ctrl.Close()
		return existing, nil
	}
	if b.sessions[key] == nil {
		b.sessions[key] = make(map[string]*session)
	}
	b.sessions[key][playerID] = s
	return s, nil
}

// onFrame 蓄力时只改按钮；消息文本只在最终写入时改变
func (b *Bot) onFrame(s *session, f game.Frame) {
	switch f.Phase {
	case game.PhaseCharging:
		s.dirty.Store(true)
		if err := b.store.EditKeyboard(b.ctx, s.key, ChargingKeyboard(b.displayName(s.playerID))); err != nil {
			b.log.ErrorWithContext("BOT", "更新按钮失败: %v", err)
		}
	case game.PhaseIdle:
		// 掷骰被丢弃或写入失败：恢复按钮
		if f.Outcome == nil && s.dirty.CompareAndSwap(true, false) {
			if err := b.store.EditKeyboard(b.ctx, s.key, Keyboard(f.State)); err != nil {
				b.log.ErrorWithContext("BOT", "恢复按钮失败: %v", err)
			}
		}
	}
}

// afterWrite 消息被编辑后：通知同一条消息上的所有控制器，镜像到数据库
func (b *Bot) afterWrite(key, text string) {
	state, ok := gamesync.Decode(text)
	if !ok {
		return
	}

	b.mu.Lock()
	var sessions []*session
	for _, s := range b.sessions[key] {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		// 这次编辑已经换上了新按钮，不需要再恢复
		s.dirty.Store(false)
		s.ctrl.Observe(state)
	}

	b.mirrorUpdate(key, text)
	if state.Terminal() {
		b.recordResult(key, state)
	}
}

func (b *Bot) mirrorCreate(key string, chatID int64, senderID, text string) {
	if b.db == nil {
		return
	}
	err := b.db.CreateMessage(&models.Message{
		ID:       key,
		ChatID:   strconv.FormatInt(chatID, 10),
		SenderID: senderID,
		Kind:     models.MessageKindGame,
		Text:     text,
	})
	if err != nil {
		b.log.ErrorWithContext("BOT", "保存消息失败: %s %v", key, err)
	}
}

func (b *Bot) mirrorUpdate(key, text string) {
	if b.db == nil {
		return
	}
	_, found, err := b.db.UpdateMessageText(key, text)
	if err != nil {
		b.log.ErrorWithContext("BOT", "更新消息失败: %s %v", key, err)
		return
	}
	if !found {
		// 重启前发布的消息
		chatID, _, _ := parseKey(key)
		b.mirrorCreate(key, chatID, "", text)
	}
}

func (b *Bot) recordResult(key string, state models.GameState) {
	if b.db == nil {
		return
	}
	winner := game.Winner(state)
	inserted, err := b.db.RecordMatchResultWithTransaction(&models.MatchResult{
		MessageID:  key,
		BankerID:   state.FirstPlayerID,
		OpponentID: state.SecondPlayerID,
		Winner:     winner,
		ScoreA:     state.ScoreA,
		ScoreB:     state.ScoreB,
	})
	if err != nil {
		b.log.ErrorWithContext("BOT", "记录比赛结果失败: %s %v", key, err)
		return
	}
	if inserted {
		monitor.RecordMatchFinished(string(winner))
		b.log.LogGameAction(key, state.FirstPlayerID, "match_finished", fmt.Sprintf("%s %d-%d", winner, state.ScoreA, state.ScoreB))
	}
}

func (b *Bot) handleMatches(chatID int64) error {
	if b.db == nil {
		return b.send(chatID, "Match history is disabled")
	}

	results, err := b.db.ListMatchResults(10)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return b.send(chatID, "No finished matches yet")
	}

	var sb strings.Builder
	sb.WriteString("🏆 Recent matches\n")
	for _, r := range results {
		winner := b.displayName(r.BankerID)
		if r.Winner == models.RoleSecond {
			winner = b.displayName(r.OpponentID)
		}
		fmt.Fprintf(&sb, "\n%s vs %s: %d-%d, %s wins",
			b.displayName(r.BankerID), b.displayName(r.OpponentID), r.ScoreA, r.ScoreB, winner)
	}
	return b.send(chatID, sb.String())
}

func (b *Bot) send(chatID int64, text string) error {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("发送消息失败: %w", err)
	}
	return nil
}

func (b *Bot) answer(query *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, text)); err != nil {
		b.log.DebugWithContext("BOT", "回复回调失败: %v", err)
	}
}

func playerIDOf(user *tgbotapi.User) string {
	return strconv.FormatInt(user.ID, 10)
}

// getUsernameDisplay 获取用户显示名称
func (b *Bot) getUsernameDisplay(user *tgbotapi.User) string {
	// 优先显示用户的真实姓名（昵称）
	if user.FirstName != "" {
		displayName := user.FirstName
		if user.LastName != "" {
			displayName += " " + user.LastName
		}
		return displayName
	}
	if user.UserName != "" {
		return user.UserName
	}
	return fmt.Sprintf("Player %d", user.ID)
}

func (b *Bot) rememberName(user *tgbotapi.User) {
	b.names.Set(playerIDOf(user), b.getUsernameDisplay(user), nameTTL)
}

func (b *Bot) displayName(playerID string) string {
	if playerID == "" {
		return "?"
	}
	if name, ok := b.names.Get(playerID); ok {
		return name
	}
	return "Player " + playerID
}

// startCleanupRoutine 定期回收不活跃的控制器
func (b *Bot) startCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.performCleanup(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bot) performCleanup(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, bySession := range b.sessions {
		for playerID, s := range bySession {
			idle := now.Sub(time.Unix(0, s.lastActive.Load()))
			if idle > inactiveThreshold && s.ctrl.Phase() == game.PhaseIdle {
				s.ctrl.Close()
				delete(bySession, playerID)
				removed++
			}
		}
		if len(bySession) == 0 {
			delete(b.sessions, key)
		}
	}

	if removed > 0 {
		b.log.InfoWithContext("BOT", "清理不活跃控制器: %d", removed)
	}
}
