package gamesync

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound 消息不存在
var ErrNotFound = errors.New("message not found")

// MemoryStore 进程内的共享文档存储，供模拟和测试使用。
// 每个订阅者只保留最新值：整体替换的语义下旧值没有意义。
type MemoryStore struct {
	mu       sync.Mutex
	blobs    map[string]string
	subs     map[string]map[chan string]struct{}
	writeErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string]string),
		subs:  make(map[string]map[chan string]struct{}),
	}
}

// Create 新建一条消息并返回ID
func (m *MemoryStore) Create(text string) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.blobs[id] = text
	m.mu.Unlock()
	return id
}

// SetWriteError 之后的写入都返回 err，传 nil 恢复
func (m *MemoryStore) SetWriteError(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

func (m *MemoryStore) ReadGameBlob(ctx context.Context, messageID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.blobs[messageID]
	if !ok {
		return "", ErrNotFound
	}
	return text, nil
}

func (m *MemoryStore) WriteGameBlob(ctx context.Context, messageID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.blobs[messageID]; !ok {
		return ErrNotFound
	}
	m.blobs[messageID] = text
	for ch := range m.subs[messageID] {
		pushLatest(ch, text)
	}
	return nil
}

func (m *MemoryStore) SubscribeGameBlob(ctx context.Context, messageID string) (<-chan string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	text, ok := m.blobs[messageID]
	if !ok {
		return nil, ErrNotFound
	}

	ch := make(chan string, 1)
	ch <- text
	if m.subs[messageID] == nil {
		m.subs[messageID] = make(map[chan string]struct{})
	}
	m.subs[messageID][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs[messageID], ch)
		close(ch)
		m.mu.Unlock()
	}()

	return ch, nil
}

// pushLatest 通道满时丢弃旧值，只保留最新值
func pushLatest(ch chan string, text string) {
	select {
	case ch <- text:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- text
}
