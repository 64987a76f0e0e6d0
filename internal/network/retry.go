package network

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"
)

// RetryConfig 重试配置。只用于重新建立订阅，游戏状态的写入从不重试。
type RetryConfig struct {
	MaxRetries    int           // 最大重试次数，0 表示不限
	BaseDelay     time.Duration // 基础延迟
	MaxDelay      time.Duration // 最大延迟
	BackoffFactor float64       // 退避因子
	JitterFactor  float64       // 抖动因子
}

// DefaultRetryConfig 默认重试配置
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:    0,
		BaseDelay:     200 * time.Millisecond,
		MaxDelay:      15 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// ErrPermanent 包装后表示不可重试
var ErrPermanent = errors.New("permanent error")

// Permanent 标记错误不可重试
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// StatusError 对端返回的非预期 HTTP 状态
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// IsRetryableError 判断错误是否可重试
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, ErrPermanent) || errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return IsRetryableStatusCode(statusErr.Code)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// IsRetryableStatusCode 判断HTTP状态码是否可重试
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// CalculateDelay 计算重试延迟（指数退避 + 抖动），结果总在 (0, MaxDelay] 内
func (c *RetryConfig) CalculateDelay(attempt int) time.Duration {
	maxDelay := float64(c.MaxDelay)

	// 先封顶再加抖动，否则次数很大时 Pow 溢出为 Inf，加上负抖动得到 NaN
	delay := float64(c.BaseDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if math.IsNaN(delay) || delay > maxDelay {
		delay = maxDelay
	}

	delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)

	if delay > maxDelay || !(delay > 0) {
		delay = maxDelay
	}

	return time.Duration(delay)
}

// Do 执行 fn 直到成功、遇到不可重试的错误、超过次数或 ctx 结束
func Do(ctx context.Context, config *RetryConfig, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; config.MaxRetries == 0 || attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(config.CalculateDelay(attempt - 1)):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil || !IsRetryableError(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("已重试%d次: %w", config.MaxRetries, lastErr)
}
