package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OCAP2/campaign/pkg/streaming"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer acks every request with an id, and pushes a "hello" message
// right after the upgrade.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("secret") != "s3cret" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		hello, _ := streaming.Marshal("hello", 0, map[string]int{"n": 1})
		if err := c.WriteMessage(ws.TextMessage, hello); err != nil {
			return
		}

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil || env.ID == 0 {
				continue
			}
			ack := streaming.AckMessage{Type: streaming.TypeAck, For: env.Type, ID: env.ID, Payload: env.Payload}
			if env.Type == "fail" {
				ack.Error = "boom"
			}
			data, _ := json.Marshal(ack)
			if err := c.WriteMessage(ws.TextMessage, data); err != nil {
				return
			}
		}
	}))
}

func dial(t *testing.T, srv *httptest.Server, onMessage func(streaming.Envelope)) *Conn {
	t.Helper()
	c := New(slog.Default(), onMessage)
	require.NoError(t, c.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "s3cret"))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDial_BadSecret(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	c := New(slog.Default(), nil)
	err := c.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "websocket dial failed")
}

func TestDial_InvalidURL(t *testing.T) {
	c := New(slog.Default(), nil)
	err := c.Dial("://nope", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid websocket URL")
}

func TestRequest_MatchesID(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	c := dial(t, srv, nil)

	data, err := streaming.Marshal("ping", 7, map[string]string{"v": "x"})
	require.NoError(t, err)

	ack, err := c.Request(context.Background(), 7, data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), ack.ID)
	assert.Equal(t, "ping", ack.For)
	assert.JSONEq(t, `{"v":"x"}`, string(ack.Payload))
}

func TestRequest_Error(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	c := dial(t, srv, nil)

	data, err := streaming.Marshal("fail", 1, nil)
	require.NoError(t, err)

	_, err = c.Request(context.Background(), 1, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRequest_ContextCancelled(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	c := dial(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// id 0 is never acked by the server
	data, _ := streaming.Marshal("ping", 0, nil)
	_, err := c.Request(ctx, 99, data)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRequest_AfterClose(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	c := dial(t, srv, nil)
	require.NoError(t, c.Close())

	_, err := c.Request(context.Background(), 1, []byte(`{}`))
	assert.True(t, errors.Is(err, ErrClosed))
	// closing twice is a no-op
	assert.NoError(t, c.Close())
}

func TestOnMessage(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	got := make(chan streaming.Envelope, 1)
	dial(t, srv, func(env streaming.Envelope) { got <- env })

	select {
	case env := <-got:
		assert.Equal(t, "hello", env.Type)
		assert.JSONEq(t, `{"n":1}`, string(env.Payload))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed message")
	}
}

func TestRetryDelays(t *testing.T) {
	var got []time.Duration
	for attempt, d := range retryDelays(7, time.Second, 30*time.Second) {
		assert.Equal(t, len(got)+1, attempt)
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)

	for attempt := range retryDelays(10, time.Second, time.Minute) {
		if attempt == 2 {
			break
		}
	}
}
