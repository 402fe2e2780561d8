package main

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"devoid_client/client"
	"devoid_client/core"
	"devoid_client/db"
	"devoid_client/gateway"
)

func testAppConfig(t *testing.T) *core.Config {
	return &core.Config{
		Endpoint:           "ws://gen.test/ws",
		Service:            "discord",
		Token:              "service-token",
		RetryDelay:         5 * time.Millisecond,
		ReconnectCooldown:  10 * time.Millisecond,
		HandlerConcurrency: 4,
		DefaultQueueSize:   2,
		JournalPath:        filepath.Join(t.TempDir(), "journal.db"),
		MetricsAddr:        "127.0.0.1:0",
	}
}

func runApp(t *testing.T, a *app, ctx context.Context) <-chan int {
	t.Helper()
	codes := make(chan int, 1)
	go func() { codes <- a.run(ctx) }()
	return codes
}

func waitCode(t *testing.T, codes <-chan int) int {
	t.Helper()
	select {
	case code := <-codes:
		return code
	case <-time.After(5 * time.Second):
		t.Fatal("app did not exit")
		return -1
	}
}

func TestApp_AuthRejectedExitCode(t *testing.T) {
	disableColor(t)
	dialer := gateway.NewMockDialer(gateway.DialResult{Err: gateway.ErrAuthRejected})
	a := &app{
		cfg:        testAppConfig(t),
		logger:     zaptest.NewLogger(t),
		out:        io.Discard,
		clientOpts: []client.Option{client.WithDialer(dialer)},
	}

	code := waitCode(t, runApp(t, a, context.Background()))
	assert.Equal(t, core.ExitCodeAuthRejected, code)
}

func TestApp_SubmitsBatchAfterConnecting(t *testing.T) {
	disableColor(t)
	cfg := testAppConfig(t)
	conn := gateway.NewMockConn()
	dialer := gateway.NewMockDialer(gateway.DialResult{Conn: conn})
	a := &app{
		cfg:    cfg,
		logger: zaptest.NewLogger(t),
		out:    io.Discard,
		batch: []batchRequest{{
			Kind:     "text2img",
			Executor: "automatic1111",
			UserID:   "42",
			Repeat:   3,
			Payload:  map[string]any{"prompt": "a lighthouse"},
		}},
		clientOpts: []client.Option{client.WithDialer(dialer)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	codes := runApp(t, a, ctx)

	require.Eventually(t, func() bool { return len(conn.Written()) == 1 }, 2*time.Second, 5*time.Millisecond,
		"first request is sent, the rest wait in the user buffer")

	var sent map[string]any
	require.NoError(t, json.Unmarshal(conn.Written()[0], &sent))
	assert.Equal(t, "text2img", sent["gen_type"])

	cancel()
	assert.Equal(t, core.ExitCodeSuccess, waitCode(t, codes))

	database, err := db.Open(cfg.JournalPath)
	require.NoError(t, err)
	defer database.Close()
	n, err := db.NewRepository(database).CountConnectionEvents(context.Background(), db.ConnectionEstablished)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
