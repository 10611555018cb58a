package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/types"
)

func dial(t *testing.T, ctx context.Context, ts *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) types.Event {
	t.Helper()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev types.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestWebSocketPushesEvents(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f.server.Hub().Start(ctx)
	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn, _, err := dial(t, ctx, ts, "http://allowed.test")
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.server.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	// Saved includes are not pushed; the source edit is
	require.NoError(t, f.repo.SaveInclude(ctx, &types.Include{LocalID: "page-2", ExcerptID: "greeting"}))
	f.clk.Advance(time.Minute)
	_, err = f.repo.EditSource(ctx, "greeting", doctree.FromText("Hi {{name}}"))
	require.NoError(t, err)

	ev := readEvent(t, ctx, conn)
	assert.Equal(t, types.EventSourceUpdated, ev.Type)
	assert.Equal(t, "greeting", ev.SourceID)
	assert.Equal(t, t0.Add(time.Minute), ev.Timestamp.UTC())

	rr := f.do(t, http.MethodPost, "/api/includes/page-1/update", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	ev = readEvent(t, ctx, conn)
	assert.Equal(t, types.EventIncludeSynced, ev.Type)
	assert.Equal(t, "page-1", ev.LocalID)
}

func TestWebSocketOrigin(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	tests := []struct {
		name   string
		origin string
	}{
		{"foreign origin", "https://evil.com"},
		{"missing origin", ""},
		{"non http scheme", "file://allowed.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := dial(t, ctx, ts, tt.origin)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		})
	}
	assert.Zero(t, f.server.Hub().Clients())
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	conn, _, err := dial(t, ctx, ts, "http://allowed.test")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.server.Hub().Clients() == 1 }, time.Second, 5*time.Millisecond)

	f.server.Hub().Close()
	assert.Zero(t, f.server.Hub().Clients())

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	// A closed hub still upgrades but drops the client at once
	late, _, err := dial(t, ctx, ts, "http://allowed.test")
	require.NoError(t, err)
	_, _, err = late.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	assert.Zero(t, f.server.Hub().Clients())
}

func TestBroadcastDropsSlowClient(t *testing.T) {
	f := setup(t)
	hub := f.server.Hub()

	c := &client{send: make(chan []byte, 1)}
	require.True(t, hub.register(c))

	hub.Broadcast([]byte("one"))
	assert.Equal(t, 1, hub.Clients())
	hub.Broadcast([]byte("two"))
	assert.Zero(t, hub.Clients())

	assert.Equal(t, "one", string(<-c.send))
	_, open := <-c.send
	assert.False(t, open)
}
