package session_test

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-shared-list/internal/hub"
	"github.com/koopa0/system-design/14-shared-list/internal/protocol"
	"github.com/koopa0/system-design/14-shared-list/internal/session"
	"github.com/koopa0/system-design/14-shared-list/internal/store"
	"github.com/koopa0/system-design/14-shared-list/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const readTimeout = 2 * time.Second

type testEnv struct {
	store   *store.Store
	hub     *hub.Hub
	handler *session.Handler
	server  *httptest.Server
}

func newTestEnv(t *testing.T, items ...protocol.Item) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, session.DefaultConfig(), items...)
}

func newTestEnvWithConfig(t *testing.T, cfg session.Config, items ...protocol.Item) *testEnv {
	t.Helper()
	return newTestEnvWithQueue(t, cfg, hub.DefaultQueueSize, items...)
}

func newTestEnvWithQueue(t *testing.T, cfg session.Config, queueSize int, items ...protocol.Item) *testEnv {
	t.Helper()

	st, skipped := store.Restore(items)
	require.Zero(t, skipped)

	h := hub.New(queueSize, logger.Discard())
	handler := session.NewHandler(st, h, cfg, logger.Discard())
	server := httptest.NewServer(handler)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = handler.Shutdown(ctx)
		server.Close()
		h.Close()
	})

	return &testEnv{store: st, hub: h, handler: handler, server: server}
}

// dial 連線並等待 Hub 註冊完成
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	before := e.hub.Stats().Registered
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return e.hub.Stats().Registered > before
	}, readTimeout, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, req protocol.Request) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(req))
}

func receive(t *testing.T, conn *websocket.Conn) protocol.Response {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

// snapshot 以 GetItems 取得清單，同時確認之前沒有其他待讀事件
func snapshot(t *testing.T, conn *websocket.Conn) []protocol.Item {
	t.Helper()

	send(t, conn, protocol.GetItems())
	resp := receive(t, conn)
	require.Equal(t, protocol.KindItems, resp.Kind, "unexpected event before Items: %+v", resp)
	return resp.Items
}

// TestSession_CreateAndRemove 測試兩個客戶端看到相同的變更
func TestSession_CreateAndRemove(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.dial(t), env.dial(t)

	milk := protocol.Item{ID: uuid.New(), Name: "milk"}
	send(t, a, protocol.CreateItem(milk))

	for _, conn := range []*websocket.Conn{a, b} {
		resp := receive(t, conn)
		assert.Equal(t, protocol.KindItemCreated, resp.Kind)
		assert.Equal(t, milk, resp.Item)
		assert.Equal(t, 0, resp.Index)
	}

	send(t, b, protocol.RemoveItem(milk.ID))

	for _, conn := range []*websocket.Conn{a, b} {
		resp := receive(t, conn)
		assert.Equal(t, protocol.KindItemRemoved, resp.Kind)
		assert.Equal(t, milk.ID, resp.ID)
		assert.Equal(t, 0, resp.Index)
	}

	assert.Zero(t, env.store.Len())
}

// TestSession_GetItemsRepliesOnlyToRequester 測試查詢不廣播
func TestSession_GetItemsRepliesOnlyToRequester(t *testing.T) {
	milk := protocol.Item{ID: uuid.New(), Name: "milk"}
	env := newTestEnv(t, milk)
	a, b := env.dial(t), env.dial(t)

	assert.Equal(t, []protocol.Item{milk}, snapshot(t, a))
	assert.Equal(t, []protocol.Item{milk}, snapshot(t, b))
}

// TestSession_RemoveUnknownIsSilent 測試刪除不存在的項目不產生任何訊息
func TestSession_RemoveUnknownIsSilent(t *testing.T) {
	milk := protocol.Item{ID: uuid.New(), Name: "milk"}
	env := newTestEnv(t, milk)
	a, b := env.dial(t), env.dial(t)

	send(t, a, protocol.RemoveItem(uuid.New()))

	// 下一則訊息必須是 Items，代表沒有 ItemRemoved
	assert.Equal(t, []protocol.Item{milk}, snapshot(t, a))
	assert.Equal(t, []protocol.Item{milk}, snapshot(t, b))
	assert.Zero(t, env.hub.Stats().Broadcasts)
}

// TestSession_RenameUnknownStillDelivered 測試改名不存在的項目仍然通知所有人
func TestSession_RenameUnknownStillDelivered(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.dial(t), env.dial(t)

	ghost := uuid.New()
	send(t, a, protocol.RenameItem(ghost, "ghost"))

	for _, conn := range []*websocket.Conn{a, b} {
		resp := receive(t, conn)
		assert.Equal(t, protocol.KindItemRenamed, resp.Kind)
		assert.Equal(t, ghost, resp.ID)
		assert.Equal(t, "ghost", resp.Name)
	}
	assert.Zero(t, env.store.Len())
}

func TestSession_Complete(t *testing.T) {
	milk := protocol.Item{ID: uuid.New(), Name: "milk"}
	env := newTestEnv(t, milk)
	a, b := env.dial(t), env.dial(t)

	send(t, b, protocol.CompleteItem(milk.ID, true))

	for _, conn := range []*websocket.Conn{a, b} {
		resp := receive(t, conn)
		assert.Equal(t, protocol.KindItemCompleted, resp.Kind)
		assert.True(t, resp.Completed)
	}

	item, ok := env.store.Get(milk.ID)
	require.True(t, ok)
	assert.True(t, item.Completed)
}

// TestSession_InvalidMessageClosesOnlySender 測試解碼失敗只關閉該連線
func TestSession_InvalidMessageClosesOnlySender(t *testing.T) {
	tests := []struct {
		name  string
		write func(conn *websocket.Conn) error
	}{
		{
			name: "malformed json",
			write: func(conn *websocket.Conn) error {
				return conn.WriteMessage(websocket.TextMessage, []byte(`{"CreateItem":`))
			},
		},
		{
			name: "unknown variant",
			write: func(conn *websocket.Conn) error {
				return conn.WriteMessage(websocket.TextMessage, []byte(`{"DeleteEverything":{}}`))
			},
		},
		{
			name: "binary frame",
			write: func(conn *websocket.Conn) error {
				return conn.WriteMessage(websocket.BinaryMessage, []byte{0x01})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			bad, good := env.dial(t), env.dial(t)

			require.NoError(t, tt.write(bad))

			require.NoError(t, bad.SetReadDeadline(time.Now().Add(readTimeout)))
			_, _, err := bad.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, websocket.CloseUnsupportedData), "got %v", err)

			require.Eventually(t, func() bool {
				return env.hub.Count() == 1
			}, readTimeout, 5*time.Millisecond)

			assert.Empty(t, snapshot(t, good))
		})
	}
}

// TestSession_DisconnectDeregisters 測試斷線後不再收到廣播
func TestSession_DisconnectDeregisters(t *testing.T) {
	env := newTestEnv(t)
	a, b := env.dial(t), env.dial(t)
	require.Equal(t, 2, env.hub.Count())

	require.NoError(t, a.Close())

	require.Eventually(t, func() bool {
		return env.hub.Count() == 1
	}, readTimeout, 5*time.Millisecond)

	send(t, b, protocol.CreateItem(protocol.Item{ID: uuid.New(), Name: "milk"}))
	assert.Equal(t, protocol.KindItemCreated, receive(t, b).Kind)
	assert.Equal(t, int64(1), env.hub.Stats().Broadcasts)
}

// readUntilClose 讀掉剩餘事件直到收到關閉幀
func readUntilClose(t *testing.T, conn *websocket.Conn) error {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// TestSession_OverflowClosesSession 測試佇列溢出時 session 以 1013 結束
func TestSession_OverflowClosesSession(t *testing.T) {
	env := newTestEnvWithQueue(t, session.DefaultConfig(), 1)
	conn := env.dial(t)
	other := env.dial(t)

	// 不讀取 conn；送出速度快於 session 寫出，TCP 緩衝滿後必定溢出
	event := protocol.ItemRenamed(uuid.New(), strings.Repeat("x", 1024))
	for i := 0; i < 100_000 && env.hub.Stats().Overflowed == 0; i++ {
		env.hub.Broadcast(other, event)
	}
	require.Equal(t, int64(1), env.hub.Stats().Overflowed)

	err := readUntilClose(t, conn)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)

	require.Eventually(t, func() bool {
		return env.hub.Count() == 1
	}, readTimeout, 5*time.Millisecond)

	// 被排除的連線不受影響
	assert.Empty(t, snapshot(t, other))
}

// TestSession_HubClosed 測試 Hub 關閉時 session 結束
func TestSession_HubClosed(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	env.hub.Close()

	err := readUntilClose(t, conn)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "server shutting down", closeErr.Text)
	assert.Zero(t, env.hub.Count())
}

// TestSession_Shutdown 測試伺服器關閉時通知客戶端
func TestSession_Shutdown(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
	defer cancel()
	require.NoError(t, env.handler.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, env.hub.Count())

	// 關閉後拒絕新連線
	url := "ws" + strings.TrimPrefix(env.server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSession_CheckOrigin(t *testing.T) {
	cfg := session.DefaultConfig()
	cfg.AllowedOrigins = []string{"https://list.example.com"}
	env := newTestEnvWithConfig(t, cfg)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http")

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://list.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

// TestSession_ConcurrentCreatesConverge 測試並發新增後所有客戶端看到相同順序
func TestSession_ConcurrentCreatesConverge(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const (
		clients   = 4
		perClient = 25
		total     = clients * perClient
	)

	env := newTestEnv(t)
	conns := make([]*websocket.Conn, clients)
	for i := range conns {
		conns[i] = env.dial(t)
	}

	// 每個客戶端記錄收到的 ItemCreated（含 index）
	replicas := make([][]protocol.Response, clients)
	var readers sync.WaitGroup
	for i, conn := range conns {
		readers.Add(1)
		go func() {
			defer readers.Done()
			var local []protocol.Response
			for len(local) < total {
				if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
					return
				}
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var resp protocol.Response
				if json.Unmarshal(data, &resp) != nil || resp.Kind != protocol.KindItemCreated {
					return
				}
				local = append(local, resp)
			}
			replicas[i] = local
		}()
	}

	var writers sync.WaitGroup
	for i, conn := range conns {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for j := 0; j < perClient; j++ {
				item := protocol.Item{ID: uuid.New(), Name: fmt.Sprintf("c%d-%d", i, j)}
				if conn.WriteJSON(protocol.CreateItem(item)) != nil {
					return
				}
			}
		}()
	}
	writers.Wait()
	readers.Wait()

	final := env.store.Snapshot()
	require.Len(t, final, total)
	for i := range conns {
		require.Len(t, replicas[i], total, "client %d missed events", i)

		// 回覆與廣播到達順序不保證，但只有新增時 index 等於提交順序
		events := slices.Clone(replicas[i])
		slices.SortFunc(events, func(a, b protocol.Response) int {
			return cmp.Compare(a.Index, b.Index)
		})
		rebuilt := make([]protocol.Item, len(events))
		for j, event := range events {
			assert.Equal(t, j, event.Index, "client %d: indexes must be 0..n-1", i)
			rebuilt[j] = event.Item
		}

		assert.Equal(t, final, rebuilt, "client %d rebuilt a different order", i)
		assert.Equal(t, final, snapshot(t, conns[i]), "client %d sees different order", i)
	}
}
