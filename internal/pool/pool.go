package pool

import (
	"context"
	"errors"
	"hash/fnv"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"street-dice/internal/logger"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrStopped   = errors.New("worker pool stopped")
)

// Job 工作任务。同一个 Key 的任务总是由同一个工作者按提交顺序执行。
type Job interface {
	Key() string
	Execute(ctx context.Context) error
}

// FuncJob 用函数构造任务
type FuncJob struct {
	JobKey  string
	Handler func(ctx context.Context) error
}

func (j *FuncJob) Key() string {
	return j.JobKey
}

func (j *FuncJob) Execute(ctx context.Context) error {
	return j.Handler(ctx)
}

// WorkerPool 按 key 分片的工作池
type WorkerPool struct {
	workers []*worker
	log     *logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

type worker struct {
	jobs chan Job
}

// NewWorkerPool 创建新的工作池
func NewWorkerPool(workers int, queueSize int, log *logger.Logger) *WorkerPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if log == nil {
		log = logger.Discard()
	}

	p := &WorkerPool{log: log}
	for i := 0; i < workers; i++ {
		p.workers = append(p.workers, &worker{jobs: make(chan Job, queueSize)})
	}
	return p
}

// Start 启动工作者，ctx 结束或 Stop 后停止
func (p *WorkerPool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i, w := range p.workers {
		p.wg.Add(1)
		go p.run(i, w)
	}
}

// Stop 停止接收任务，执行完已排队的任务后返回
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, w := range p.workers {
		close(w.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

// Submit 提交任务。队列满时返回 ErrQueueFull，不会另开协程执行，以免打乱顺序。
func (p *WorkerPool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrStopped
	}

	w := p.workers[p.shard(job.Key())]
	select {
	case w.jobs <- job:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// Go 提交一个函数任务
func (p *WorkerPool) Go(key string, fn func(ctx context.Context) error) error {
	return p.Submit(&FuncJob{JobKey: key, Handler: fn})
}

func (p *WorkerPool) shard(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.workers)))
}

func (p *WorkerPool) run(id int, w *worker) {
	defer p.wg.Done()

	for job := range w.jobs {
		p.execute(id, job)
	}
}

func (p *WorkerPool) execute(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.log.ErrorWithContext("POOL", "工作者%d执行任务 %s 时崩溃: %v", id, job.Key(), r)
		}
	}()

	if err := job.Execute(p.ctx); err != nil {
		p.failed.Add(1)
		p.log.ErrorWithContext("POOL", "工作者%d执行任务 %s 失败: %v", id, job.Key(), err)
		return
	}
	p.processed.Add(1)
}

// Stats 工作池统计
func (p *WorkerPool) Stats() map[string]int64 {
	return map[string]int64{
		"workers":   int64(len(p.workers)),
		"processed": p.processed.Load(),
		"failed":    p.failed.Load(),
		"dropped":   p.dropped.Load(),
	}
}

// Cache 带过期时间的内存缓存
type Cache[V any] struct {
	data map[string]cacheItem[V]
	mu   sync.RWMutex
	stop chan struct{}
	once sync.Once
}

type cacheItem[V any] struct {
	value      V
	expiration time.Time
}

// NewCache 创建新缓存，每隔 cleanupInterval 清理一次过期项
func NewCache[V any](cleanupInterval time.Duration) *Cache[V] {
	c := &Cache[V]{
		data: make(map[string]cacheItem[V]),
		stop: make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go c.cleanup(cleanupInterval)
	}
	return c
}

// Set 设置缓存
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheItem[V]{
		value:      value,
		expiration: time.Now().Add(ttl),
	}
}

// Get 获取缓存
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, exists := c.data[key]
	if !exists || time.Now().After(item.expiration) {
		var zero V
		return zero, false
	}
	return item.value, true
}

// Delete 删除缓存
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}

// Len 当前条目数（含未清理的过期项）
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Close 停止清理协程
func (c *Cache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *Cache[V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.purge()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[V]) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, item := range c.data {
		if now.After(item.expiration) {
			delete(c.data, key)
		}
	}
}
