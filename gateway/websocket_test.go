package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeService upgrades requests that carry the expected token and echoes
// one canned response per received request.
func fakeService(t *testing.T, token string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/broken/svc" {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, _, err := ws.ReadMessage()
			if err != nil {
				return
			}
			_ = ws.WriteMessage(websocket.TextMessage, frame("queued", "u1"))
		}
	}))
}

func wsURL(server *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + path
}

func TestWebsocketDialer_RoundTrip(t *testing.T) {
	server := fakeService(t, "good")
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "good")
	d := &WebsocketDialer{HandshakeTimeout: time.Second}

	conn, err := d.Dial(context.Background(), wsURL(server, "/ws/svc"), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(context.Background(), []byte(`{"message_type":"request"}`)))
	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"gen_status":"queued"`)
	assert.NoError(t, conn.Ping(context.Background()))
}

func TestWebsocketDialer_AuthRejected(t *testing.T) {
	server := fakeService(t, "good")
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "bad")
	_, err := (&WebsocketDialer{}).Dial(context.Background(), wsURL(server, "/ws/svc"), header)
	assert.ErrorIs(t, err, ErrAuthRejected)
}

func TestWebsocketDialer_TransientStatus(t *testing.T) {
	server := fakeService(t, "good")
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "good")
	_, err := (&WebsocketDialer{}).Dial(context.Background(), wsURL(server, "/broken/svc"), header)

	var tce *TransientConnectError
	require.ErrorAs(t, err, &tce)
	assert.Equal(t, http.StatusServiceUnavailable, tce.StatusCode)
	assert.NotErrorIs(t, err, ErrAuthRejected)
}

func TestWebsocketDialer_Refused(t *testing.T) {
	server := fakeService(t, "good")
	url := wsURL(server, "/ws/svc")
	server.Close()

	_, err := (&WebsocketDialer{HandshakeTimeout: time.Second}).Dial(context.Background(), url, http.Header{})
	var tce *TransientConnectError
	require.ErrorAs(t, err, &tce)
	assert.Zero(t, tce.StatusCode)
}

func TestWebsocketDialer_ReadLimit(t *testing.T) {
	server := fakeService(t, "good")
	defer server.Close()

	header := http.Header{}
	header.Set("Authorization", "good")
	d := &WebsocketDialer{HandshakeTimeout: time.Second, ReadLimit: 16}

	conn, err := d.Dial(context.Background(), wsURL(server, "/ws/svc"), header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(context.Background(), []byte(`{"message_type":"request"}`)))
	_, err = conn.ReadMessage()
	assert.ErrorIs(t, err, websocket.ErrReadLimit)
}
