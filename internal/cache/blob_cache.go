package cache

import (
	"fmt"
	"sync"
	"time"

	"street-dice/internal/logger"
	"street-dice/internal/models"
)

// BlobCache 消息文本的实时缓存：写入落库后立即推送给订阅者
type BlobCache struct {
	cache       sync.Map // messageID -> *CachedBlob
	db          DatabaseInterface
	log         *logger.Logger
	mutex       sync.Mutex
	subscribers map[string]map[chan BlobUpdate]struct{}
	stop        chan struct{}
}

// CachedBlob 缓存的消息内容。Version 是数据库里的递增版本号，与时钟无关
type CachedBlob struct {
	MessageID string
	Kind      models.MessageKind
	Text      string
	UpdatedAt time.Time
	Version   int64
}

// BlobUpdate 消息替换通知
type BlobUpdate struct {
	MessageID string
	Text      string
	Version   int64
	Timestamp time.Time
}

// DatabaseInterface 数据库接口
type DatabaseInterface interface {
	GetMessage(id string) (*models.Message, error)
	UpdateMessageText(id, text string) (int64, bool, error)
}

// NewBlobCache 创建缓存，checkInterval 为 0 时不做定期一致性检查
func NewBlobCache(db DatabaseInterface, log *logger.Logger, checkInterval time.Duration) *BlobCache {
	bc := &BlobCache{
		db:          db,
		log:         log,
		subscribers: make(map[string]map[chan BlobUpdate]struct{}),
		stop:        make(chan struct{}),
	}

	if checkInterval > 0 {
		go bc.startConsistencyCheck(checkInterval)
	}

	return bc
}

// Get 获取消息（优先从缓存）。不存在时返回 nil, nil
func (bc *BlobCache) Get(messageID string) (*CachedBlob, error) {
	if cached, ok := bc.cache.Load(messageID); ok {
		blob := *cached.(*CachedBlob)
		return &blob, nil
	}
	return bc.refresh(messageID)
}

// Update 整体替换消息文本并通知订阅者；消息不存在时返回 nil, nil
func (bc *BlobCache) Update(messageID, text string) (*CachedBlob, error) {
	bc.mutex.Lock()
	defer bc.mutex.Unlock()

	version, found, err := bc.db.UpdateMessageText(messageID, text)
	if err != nil {
		return nil, fmt.Errorf("数据库更新失败: %w", err)
	}
	if !found {
		return nil, nil
	}

	kind := models.MessageKindText
	if cached, ok := bc.cache.Load(messageID); ok {
		kind = cached.(*CachedBlob).Kind
	} else if msg, err := bc.db.GetMessage(messageID); err == nil && msg != nil {
		kind = msg.Kind
	}

	now := time.Now()
	blob := &CachedBlob{
		MessageID: messageID,
		Kind:      kind,
		Text:      text,
		UpdatedAt: now,
		Version:   version,
	}
	bc.cache.Store(messageID, blob)

	bc.notifyLocked(BlobUpdate{
		MessageID: messageID,
		Text:      text,
		Version:   blob.Version,
		Timestamp: now,
	})

	out := *blob
	return &out, nil
}

// Subscribe 订阅某条消息的替换。通道只保留最新一次更新。
func (bc *BlobCache) Subscribe(messageID string) (<-chan BlobUpdate, func()) {
	ch := make(chan BlobUpdate, 1)

	bc.mutex.Lock()
	if bc.subscribers[messageID] == nil {
		bc.subscribers[messageID] = make(map[chan BlobUpdate]struct{})
	}
	bc.subscribers[messageID][ch] = struct{}{}
	bc.mutex.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			bc.mutex.Lock()
			delete(bc.subscribers[messageID], ch)
			if len(bc.subscribers[messageID]) == 0 {
				delete(bc.subscribers, messageID)
			}
			bc.mutex.Unlock()
		})
	}
	return ch, cancel
}

// notifyLocked 通知订阅者，慢的订阅者只会丢掉旧值
func (bc *BlobCache) notifyLocked(update BlobUpdate) {
	for ch := range bc.subscribers[update.MessageID] {
		select {
		case ch <- update:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- update:
		default:
		}
	}
}

// refresh 从数据库刷新到缓存
func (bc *BlobCache) refresh(messageID string) (*CachedBlob, error) {
	msg, err := bc.db.GetMessage(messageID)
	if err != nil {
		return nil, fmt.Errorf("获取消息失败: %w", err)
	}
	if msg == nil {
		bc.cache.Delete(messageID)
		return nil, nil
	}

	blob := &CachedBlob{
		MessageID: msg.ID,
		Kind:      msg.Kind,
		Text:      msg.Text,
		UpdatedAt: msg.UpdatedAt,
		Version:   msg.Version,
	}
	bc.cache.Store(messageID, blob)

	out := *blob
	return &out, nil
}

func (bc *BlobCache) startConsistencyCheck(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bc.performConsistencyCheck()
		case <-bc.stop:
			return
		}
	}
}

// performConsistencyCheck 缓存与数据库不一致时以数据库为准
func (bc *BlobCache) performConsistencyCheck() {
	checkCount := 0
	inconsistentCount := 0

	bc.cache.Range(func(key, value interface{}) bool {
		messageID := key.(string)
		cached := value.(*CachedBlob)

		msg, err := bc.db.GetMessage(messageID)
		if err != nil {
			bc.log.ErrorWithContext("CACHE", "一致性检查失败: 消息%s, 错误: %v", messageID, err)
			return true
		}
		if msg == nil {
			bc.cache.Delete(messageID)
			return true
		}

		checkCount++
		if cached.Version != msg.Version || cached.Text != msg.Text {
			inconsistentCount++
			bc.refresh(messageID)
		}
		return true
	})

	if checkCount > 0 {
		bc.log.DebugWithContext("CACHE", "一致性检查完成: 检查%d条消息, 发现%d条不一致", checkCount, inconsistentCount)
	}
}

// Stats 缓存统计信息
func (bc *BlobCache) Stats() map[string]interface{} {
	cacheSize := 0
	bc.cache.Range(func(key, value interface{}) bool {
		cacheSize++
		return true
	})

	bc.mutex.Lock()
	subscriberCount := 0
	for _, subs := range bc.subscribers {
		subscriberCount += len(subs)
	}
	bc.mutex.Unlock()

	return map[string]interface{}{
		"cache_size":       cacheSize,
		"subscriber_count": subscriberCount,
	}
}

// Close 停止后台检查
func (bc *BlobCache) Close() {
	select {
	case <-bc.stop:
	default:
		close(bc.stop)
	}
}
