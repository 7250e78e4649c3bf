package app_test

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/14-shared-list/internal/app"
	"github.com/koopa0/system-design/14-shared-list/internal/config"
	"github.com/koopa0/system-design/14-shared-list/internal/persist"
	"github.com/koopa0/system-design/14-shared-list/internal/protocol"
	"github.com/koopa0/system-design/14-shared-list/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Persistence.Backend = config.BackendFile
	cfg.Persistence.File.Path = filepath.Join(t.TempDir(), "shared-list.json")
	// 測試期間不會觸發定時寫入
	cfg.Persistence.Interval = time.Hour
	return cfg
}

func TestApp_ShutdownFlushesAndClosesSessions(t *testing.T) {
	cfg := testConfig(t)

	a, err := app.New(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/api/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	item := protocol.Item{ID: uuid.New(), Name: "milk"}
	require.NoError(t, conn.WriteJSON(protocol.CreateItem(item)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp protocol.Response
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, protocol.KindItemCreated, resp.Kind)

	// 尚未寫入任何快照
	_, err = os.Stat(cfg.Persistence.File.Path)
	require.True(t, os.IsNotExist(err))

	cancel()

	// 客戶端收到 1001
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var readErr error
	for readErr == nil {
		_, _, readErr = conn.ReadMessage()
	}
	var closeErr *websocket.CloseError
	require.True(t, errors.As(readErr, &closeErr), "unexpected error: %v", readErr)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	// 最後一次寫入已落地
	st, err := persist.Load(context.Background(), persist.NewFileBackend(cfg.Persistence.File.Path), logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, []protocol.Item{item}, st.Snapshot())
}

func TestApp_RestartRestoresList(t *testing.T) {
	cfg := testConfig(t)
	items := []protocol.Item{
		{ID: uuid.New(), Name: "eggs"},
		{ID: uuid.New(), Name: "bread", Completed: true},
	}

	data, err := persist.Encode(items)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfg.Persistence.File.Path, data, 0o644))

	a, err := app.New(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, items, a.Store().Snapshot())
}

func TestApp_RefusesUnreadableSnapshot(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "unsupported version", data: `{"V9":{"items":[]}}`},
		{name: "corrupt", data: `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			require.NoError(t, os.WriteFile(cfg.Persistence.File.Path, []byte(tt.data), 0o644))

			a, err := app.New(context.Background(), cfg, logger.Discard())
			require.Error(t, err)
			assert.Nil(t, a)
		})
	}
}

func TestApp_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Persistence.Backend = "tape"

	_, err := app.New(context.Background(), cfg, logger.Discard())
	require.Error(t, err)
}
