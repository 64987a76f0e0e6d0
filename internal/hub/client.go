package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"street-dice/internal/logger"
	"street-dice/internal/models"
	"street-dice/internal/network"
)

// ErrNotFound 宿主上没有这条消息
var ErrNotFound = errors.New("message not found")

// Client 连接 hub 的客户端，实现 gamesync.BlobStore 与 gamesync.Subscriber
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	retry   *network.RetryConfig
	log     *logger.Logger
}

// NewClient 创建客户端，baseURL 形如 http://localhost:8080
func NewClient(baseURL string, log *logger.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("无效的 hub 地址 %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("无效的 hub 地址 %q: 只支持 http/https", baseURL)
	}
	if log == nil {
		log = logger.Discard()
	}

	return &Client{
		baseURL: u,
		http:    network.NewHTTPClient(15 * time.Second),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		retry: network.DefaultRetryConfig(),
		log:   log,
	}, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) wsEndpoint(path string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String() + path
}

// statusError 404 映射为 ErrNotFound，其余交给 network 判断是否可重试
func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("hub 返回错误: %w", &network.StatusError{
		Code: resp.StatusCode,
		Body: strings.TrimSpace(string(body)),
	})
}

// CreateMessage 发布一条新消息，返回消息 id
func (c *Client) CreateMessage(ctx context.Context, req CreateRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/messages"), bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("创建消息失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", statusError(resp)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("解析响应失败: %w", err)
	}
	return out.ID, nil
}

// GetMessage 读取消息当前值
func (c *Client) GetMessage(ctx context.Context, id string) (*MessageResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/messages/"+url.PathEscape(id)), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("读取消息失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return &out, nil
}

// ReadGameBlob 读取游戏消息的文本
func (c *Client) ReadGameBlob(ctx context.Context, id string) (string, error) {
	msg, err := c.GetMessage(ctx, id)
	if err != nil {
		return "", err
	}
	return msg.Text, nil
}

// WriteGameBlob 整体替换消息文本。失败直接返回，不重试。
func (c *Client) WriteGameBlob(ctx context.Context, id, text string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint("/api/messages/"+url.PathEscape(id)), strings.NewReader(text))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(resp)
	}
	return nil
}

// ListMatches 最近结束的比赛
func (c *Client) ListMatches(ctx context.Context, limit int) ([]*models.MatchResult, error) {
	path := "/api/matches?limit=" + strconv.Itoa(limit)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("查询比赛结果失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out []*models.MatchResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return out, nil
}

// ListChatMessages 会话最近的消息，按时间正序
func (c *Client) ListChatMessages(ctx context.Context, chatID string, limit int) ([]MessageResponse, error) {
	path := "/api/chats/" + url.PathEscape(chatID) + "/messages?limit=" + strconv.Itoa(limit)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("查询会话消息失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out []MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return out, nil
}

// SubscribeGameBlob 订阅消息替换。首次连接失败直接返回错误；
// 之后断线按退避策略重连，每次重连先推送当前值。通道只保留最新值，ctx 结束时关闭。
func (c *Client) SubscribeGameBlob(ctx context.Context, id string) (<-chan string, error) {
	conn, err := c.dial(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make(chan string, 1)
	go func() {
		defer close(out)
		for {
			c.readLoop(ctx, conn, out)
			if ctx.Err() != nil {
				return
			}

			c.log.InfoWithContext("HUB", "订阅断开，准备重连: id=%s", id)
			err := network.Do(ctx, c.retry, func(ctx context.Context) error {
				var dialErr error
				conn, dialErr = c.dial(ctx, id)
				return dialErr
			})
			if err != nil {
				if ctx.Err() == nil {
					c.log.ErrorWithContext("HUB", "重连失败，停止订阅: id=%s err=%v", id, err)
				}
				return
			}
		}
	}()

	return out, nil
}

func (c *Client) dial(ctx context.Context, id string) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsEndpoint("/ws/messages/"+url.PathEscape(id)), nil)
	if err != nil {
		if resp != nil {
			// 握手被拒时按状态码决定是否重试
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return nil, network.Permanent(ErrNotFound)
			}
			return nil, fmt.Errorf("订阅消息 %s 失败: %w", id, statusError(resp))
		}
		return nil, fmt.Errorf("订阅消息 %s 失败: %w", id, err)
	}
	return conn, nil
}

// readLoop 读取推送直到连接断开或 ctx 结束
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan string) {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		var frame PushFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				c.log.DebugWithContext("HUB", "读取推送失败: %v", err)
			}
			return
		}
		pushLatest(out, frame.Text)
	}
}

func pushLatest(ch chan string, v string) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
