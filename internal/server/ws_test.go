package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsEnvelope mirrors the server's event wrapper with raw payload.
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env wsEnvelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

// readEventNamed reads until an event with the given name arrives, skipping
// interleaved events of other types.
func readEventNamed(t *testing.T, conn *websocket.Conn, name string) wsEnvelope {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		env := readEvent(t, conn)
		if env.Event == name {
			return env
		}
	}
	t.Fatalf("no %s event received", name)
	return wsEnvelope{}
}

func TestWSRequestStats(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	send(t, conn, map[string]any{"type": "request_stats"})

	env := readEvent(t, conn)
	assert.Equal(t, "stats_update", env.Event)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "local", snap["source"])
	assert.Equal(t, 12.5, snap["cpu_percent"])
}

func TestWSRequestSSHStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	send(t, conn, map[string]any{"type": "request_ssh_status"})

	env := readEvent(t, conn)
	assert.Equal(t, "ssh_status_update", env.Event)

	var status map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, "local", status["mode"])
}

func TestWSStartRealtimeStreams(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	send(t, conn, map[string]any{"type": "start_realtime_updates", "interval_seconds": 1})

	// The server acknowledges with a status event, then streams stats.
	env := readEventNamed(t, conn, "ssh_status_update")
	assert.Equal(t, "ssh_status_update", env.Event)

	env = readEventNamed(t, conn, "stats_update")
	var snap map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "local", snap["source"])

	assert.True(t, svc.Scheduler().Status().Running)

	send(t, conn, map[string]any{"type": "stop_realtime_updates"})
}

func TestWSUnknownMessage(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	send(t, conn, map[string]any{"type": "bogus"})

	env := readEvent(t, conn)
	assert.Equal(t, "error", env.Event)

	var body map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Contains(t, body["error"], "bogus")
}

func TestWSInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))

	env := readEvent(t, conn)
	assert.Equal(t, "error", env.Event)
}

func TestWSBroadcastStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)

	// Wait for the client to register before broadcasting.
	require.Eventually(t, func() bool {
		return srv.Hub().ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.Hub().BroadcastStatus()

	env := readEvent(t, conn)
	assert.Equal(t, "ssh_status_update", env.Event)
}

func TestWSHubClose(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn := dialWS(t, ts)
	require.Eventually(t, func() bool {
		return srv.Hub().ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.Hub().Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	require.Eventually(t, func() bool {
		return srv.Hub().ClientCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}
