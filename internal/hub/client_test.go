package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyHub 第一次连接推送后立即断开，之后的握手按 status 回应，
// status 为 0 时正常升级并推送 "second"
func flakyHub(t *testing.T, status func(dial int32) int) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		if code := status(n); code != 0 {
			http.Error(w, http.StatusText(code), code)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		if n == 1 {
			_ = ws.WriteJSON(PushFrame{ID: "m1", Text: "first", Version: 1})
			return
		}
		_ = ws.WriteJSON(PushFrame{ID: "m1", Text: "second", Version: int64(n)})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &dials
}

func newFastClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(url, nil)
	require.NoError(t, err)
	client.retry.BaseDelay = 5 * time.Millisecond
	client.retry.MaxDelay = 20 * time.Millisecond
	return client
}

func TestSubscribeReconnectsAfterUnavailable(t *testing.T) {
	srv, dials := flakyHub(t, func(n int32) int {
		if n == 2 {
			return http.StatusServiceUnavailable
		}
		return 0
	})
	client := newFastClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := client.SubscribeGameBlob(ctx, "m1")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case text, ok := <-updates:
			require.True(t, ok, "503 握手后订阅不应关闭")
			if text == "second" {
				assert.Equal(t, int32(3), dials.Load())
				return
			}
		case <-deadline:
			t.Fatalf("没有重连成功, dials=%d", dials.Load())
		}
	}
}

func TestSubscribeStopsOnForbidden(t *testing.T) {
	srv, dials := flakyHub(t, func(n int32) int {
		if n >= 2 {
			return http.StatusForbidden
		}
		return 0
	})
	client := newFastClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := client.SubscribeGameBlob(ctx, "m1")
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				assert.Equal(t, int32(2), dials.Load())
				return
			}
		case <-deadline:
			t.Fatalf("订阅没有停止, dials=%d", dials.Load())
		}
	}
}
