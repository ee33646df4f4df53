package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"algotrader/internal/types"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(func(*http.Request) bool { return true })
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastReachesAllObservers(t *testing.T) {
	hub, url := startHub(t)

	first := dial(t, url)
	second := dial(t, url)
	time.Sleep(50 * time.Millisecond) // let registrations land

	hub.Publish(types.Event{Name: types.EventDateUpdated, Payload: map[string]string{"backtest_date": "02/01/2024"}})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var event struct {
			Name    string          `json:"event"`
			Payload json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(msg, &event))
		assert.Equal(t, types.EventDateUpdated, event.Name)
		assert.Contains(t, string(event.Payload), "02/01/2024")
	}
}

func TestPublishWithoutObserversDoesNotBlock(t *testing.T) {
	hub, _ := startHub(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.Publish(types.Event{Name: types.EventTradesUpdated, Payload: i})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no observers connected")
	}
}

func TestSlowObserverIsDroppedWithoutBlockingBroadcast(t *testing.T) {
	hub := NewHub(func(*http.Request) bool { return true })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// Registered directly so the send buffer fills deterministically
	// instead of draining into a socket.
	slow := &client{hub: hub, send: make(chan []byte, 1)}
	fast := &client{hub: hub, send: make(chan []byte, 64)}
	hub.register <- slow
	hub.register <- fast

	const events = 10
	for i := 0; i < events; i++ {
		hub.Publish(types.Event{Name: types.EventTradesUpdated, Payload: i})
	}

	deadline := time.After(2 * time.Second)
	for received := 0; received < events; received++ {
		select {
		case <-fast.send:
		case <-deadline:
			t.Fatalf("broadcast stalled behind a slow observer after %d events", received)
		}
	}

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "slow observer was not dropped")
}

func TestServeWSAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(func(*http.Request) bool { return true })
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.done

	errCh := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errCh <- hub.ServeWS(w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeWS hung registering against a stopped hub")
	}
}

func TestDisconnectedObserverIsRemoved(t *testing.T) {
	hub, url := startHub(t)

	conn := dial(t, url)
	time.Sleep(50 * time.Millisecond)
	conn.Close()
	time.Sleep(50 * time.Millisecond)

	// Must not panic or block after the observer went away.
	hub.Publish(types.Event{Name: types.EventBacktestUpdated, Payload: nil})
	time.Sleep(50 * time.Millisecond)
}
