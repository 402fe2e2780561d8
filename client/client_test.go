package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"devoid_client/gateway"
	"devoid_client/messages"
	"devoid_client/queue"
)

func testConfig() Config {
	return Config{
		Endpoint:          "ws://gen.test/ws",
		Service:           "discord",
		Token:             "service-token",
		RetryDelay:        5 * time.Millisecond,
		ReconnectCooldown: 10 * time.Millisecond,
	}
}

func responseFrame(status messages.GenStatus, user string) []byte {
	data, _ := json.Marshal(map[string]any{
		"message_type": "response",
		"object_id":    "obj-" + user,
		"executor":     "automatic1111",
		"gen_type":     "text2img",
		"gen_status":   string(status),
		"result":       map[string]any{"content": "https://cdn.test/" + user + ".png"},
		"service_info": map[string]any{"user_id": user},
	})
	return data
}

func params(user string, capacity int) GenerationParams {
	return GenerationParams{
		Executor:         messages.ExecutorAutomatic1111,
		UserID:           user,
		ChatID:           7,
		MessageID:        11,
		Payload:          map[string]any{"prompt": "a lighthouse", "steps": 12},
		MaxUserQueueSize: capacity,
	}
}

func startClient(t *testing.T, c *GeneratorClient) {
	t.Helper()
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, c.Stop(ctx))
	})
}

func waitConnected(t *testing.T, c *GeneratorClient) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == gateway.Connected },
		2*time.Second, 5*time.Millisecond)
}

func TestBuildRequest(t *testing.T) {
	p := params("u1", 1)
	p.Extra = map[string]any{"guild": "g-1"}
	req, err := BuildRequest(messages.GenTypeText2Img, p)
	require.NoError(t, err)

	v, ok := req.ServiceInfo().Get("chat_id")
	require.True(t, ok)
	assert.EqualValues(t, 7, v)
	v, _ = req.ServiceInfo().Get("guild")
	assert.Equal(t, "g-1", v)

	payload, ok := req.Payload().(*messages.Automatic1111Payload)
	require.True(t, ok)
	assert.Equal(t, 12, payload.Steps)
	assert.Equal(t, "a lighthouse", payload.Prompt)
}

func TestSubmit_Validation(t *testing.T) {
	c := New(testConfig(), WithLogger(zaptest.NewLogger(t)), WithDialer(gateway.NewMockDialer()))
	ctx := context.Background()

	p := params("u1", 1)
	p.Executor = messages.ExecutorKandinsky
	assert.ErrorIs(t, c.Img2Img(ctx, p), messages.ErrUnsupportedOperation)

	p = params("u1", 1)
	assert.ErrorIs(t, c.Mix2Img(ctx, p), messages.ErrUnsupportedOperation)

	p = params("", 1)
	assert.ErrorIs(t, c.Text2Img(ctx, p), messages.ErrMissingUserID)

	p = params("u1", 0)
	assert.ErrorIs(t, c.Text2Img(ctx, p), queue.ErrInvalidCapacity)

	p = params("u1", 1)
	p.Executor = "midjourney"
	assert.ErrorIs(t, c.Text2Img(ctx, p), messages.ErrUnknownExecutor)
}

func TestSubmit_NotConnected(t *testing.T) {
	c := New(testConfig(), WithLogger(zaptest.NewLogger(t)), WithDialer(gateway.NewMockDialer()))
	err := c.Text2Img(context.Background(), params("u1", 1))
	assert.ErrorIs(t, err, gateway.ErrNotConnected)

	if state, ok := c.QueueSnapshot("u1"); ok {
		assert.Zero(t, state.Occupied, "failed admission must be rolled back")
	}
}

func TestClient_EndToEnd(t *testing.T) {
	conn := gateway.NewMockConn()
	dialer := gateway.NewMockDialer(gateway.DialResult{Conn: conn})
	var connected []string
	var connMu sync.Mutex
	c := New(testConfig(),
		WithLogger(zaptest.NewLogger(t)),
		WithDialer(dialer),
		WithOnConnected(func(s string) {
			connMu.Lock()
			connected = append(connected, s)
			connMu.Unlock()
		}),
	)

	var (
		mu     sync.Mutex
		seen   []messages.GenStatus
		doneCh = make(chan *messages.Response, 4)
	)
	record := func(_ context.Context, r *messages.Response) error {
		mu.Lock()
		seen = append(seen, r.Status)
		mu.Unlock()
		return nil
	}
	c.OnQueued(record)
	c.OnGenerating(record)
	c.OnDone(func(_ context.Context, r *messages.Response) error {
		doneCh <- r
		return nil
	})

	startClient(t, c)
	waitConnected(t, c)
	assert.NotEmpty(t, c.SessionID())

	calls := dialer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "ws://gen.test/ws/discord", calls[0].URL)
	assert.Equal(t, "service-token", calls[0].Header.Get("Authorization"))

	ctx := context.Background()
	require.NoError(t, c.Text2Img(ctx, params("u1", 2)))
	require.NoError(t, c.Text2Img(ctx, params("u1", 2)))
	err := c.Text2Img(ctx, params("u1", 2))
	assert.ErrorIs(t, err, queue.ErrQueueFull)

	require.Len(t, conn.Written(), 1, "only one request in flight per user")
	var sent map[string]any
	require.NoError(t, json.Unmarshal(conn.Written()[0], &sent))
	assert.Equal(t, "request", sent["message_type"])
	info := sent["service_info"].(map[string]any)
	assert.Equal(t, "u1", info["user_id"])
	assert.EqualValues(t, 7, info["chat_id"])

	conn.Push(responseFrame(messages.StatusQueued, "u1"))
	conn.Push(responseFrame(messages.StatusGenerating, "u1"))
	conn.Push(responseFrame(messages.StatusDone, "u1"))

	select {
	case r := <-doneCh:
		assert.Equal(t, "obj-u1", r.ObjectID)
		require.NotNil(t, r.Result)
		assert.Equal(t, "https://cdn.test/u1.png", r.Result.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("done handler not called")
	}

	require.Eventually(t, func() bool { return len(conn.Written()) == 2 }, 2*time.Second, 5*time.Millisecond,
		"next buffered request is sent after the terminal response")
	state, ok := c.QueueSnapshot("u1")
	require.True(t, ok)
	assert.Equal(t, 1, state.Occupied)
	assert.True(t, state.InFlight)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)

	connMu.Lock()
	assert.Len(t, connected, 1)
	connMu.Unlock()
}

func TestClient_ReconnectResetsBuffersAfterHandlers(t *testing.T) {
	first := gateway.NewMockConn()
	second := gateway.NewMockConn()
	dialer := gateway.NewMockDialer(gateway.DialResult{Conn: first}, gateway.DialResult{Conn: second})
	c := New(testConfig(), WithLogger(zaptest.NewLogger(t)), WithDialer(dialer))

	type observation struct {
		err      error
		inFlight bool
	}
	observed := make(chan observation, 1)
	c.OnConnectionError(func(_ context.Context, err error) error {
		state, ok := c.QueueSnapshot("u1")
		observed <- observation{err: err, inFlight: ok && state.InFlight}
		return nil
	})

	startClient(t, c)
	waitConnected(t, c)
	require.NoError(t, c.Text2Img(context.Background(), params("u1", 1)))

	readErr := errors.New("connection reset by peer")
	first.Fail(readErr)

	select {
	case obs := <-observed:
		assert.ErrorIs(t, obs.err, readErr)
		assert.True(t, obs.inFlight, "handlers see the buffers before they are reset")
	case <-time.After(2 * time.Second):
		t.Fatal("connection error handler not called")
	}

	require.Eventually(t, func() bool { return len(dialer.Calls()) == 2 }, 2*time.Second, 5*time.Millisecond)
	waitConnected(t, c)
	_, ok := c.QueueSnapshot("u1")
	assert.False(t, ok, "buffers are discarded after a lost connection")

	// The user can submit again on the new connection.
	require.NoError(t, c.Text2Img(context.Background(), params("u1", 1)))
	assert.Len(t, second.Written(), 1)
}

func TestClient_AuthRejectedCallsFatalHandler(t *testing.T) {
	dialer := gateway.NewMockDialer(gateway.DialResult{Err: gateway.ErrAuthRejected})
	fatal := make(chan error, 1)
	c := New(testConfig(),
		WithLogger(zaptest.NewLogger(t)),
		WithDialer(dialer),
		WithFatalHandler(func(err error) { fatal <- err }),
	)
	startClient(t, c)

	select {
	case err := <-fatal:
		assert.ErrorIs(t, err, gateway.ErrAuthRejected)
	case <-time.After(2 * time.Second):
		t.Fatal("fatal handler not called")
	}
	<-c.Done()
	assert.ErrorIs(t, c.Err(), gateway.ErrAuthRejected)
	assert.Equal(t, gateway.Disconnected, c.State())
}

func TestClient_StartTwice(t *testing.T) {
	c := New(testConfig(), WithLogger(zaptest.NewLogger(t)), WithDialer(gateway.NewMockDialer()))
	startClient(t, c)
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}
