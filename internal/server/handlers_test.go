package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostbeat/hostbeat/internal/errors"
	"github.com/hostbeat/hostbeat/internal/logger"
	"github.com/hostbeat/hostbeat/internal/metrics"
	"github.com/hostbeat/hostbeat/internal/monitor"
	"github.com/hostbeat/hostbeat/internal/session"
	"github.com/hostbeat/hostbeat/pkg/sshutil"
)

// stubLocal is a canned local metrics source.
type stubLocal struct{}

func (stubLocal) Collect(ctx context.Context) (*metrics.Snapshot, error) {
	return &metrics.Snapshot{
		CPUPercent:       12.5,
		Source:           metrics.OriginLocal,
		MemUnit:          metrics.MemUnitMB,
		ConnectionStatus: metrics.StatusLocal,
		Timestamp:        time.Now(),
	}, nil
}

// stubClient satisfies sshutil.SSHClient.
type stubClient struct{ host string }

func (c *stubClient) Exec(cmd string) ([]byte, []byte, int, error) { return []byte(""), nil, 0, nil }
func (c *stubClient) IsAlive() bool      { return true }
func (c *stubClient) Close() error       { return nil }
func (c *stubClient) GetHost() string    { return c.host }
func (c *stubClient) GetAddress() string { return c.host + ":22" }

// newTestServer builds a server whose sessions dial a fake, failing for
// hosts listed in failHosts.
func newTestServer(t *testing.T, failHosts map[string]error) (*Server, *monitor.Service) {
	t.Helper()

	factory := func() *session.Session {
		return session.New(
			session.WithLogger(logger.Noop()),
			session.WithDialFunc(func(settings sshutil.Settings, timeout time.Duration) (sshutil.SSHClient, error) {
				if err, ok := failHosts[settings.Hostname]; ok {
					return nil, err
				}
				return &stubClient{host: settings.Hostname}, nil
			}),
		)
	}

	svc := monitor.NewService(
		monitor.WithLocalSource(stubLocal{}),
		monitor.WithSessionFactory(factory),
		monitor.WithServiceLogger(logger.Noop()),
	)
	t.Cleanup(svc.Close)

	return New(svc, Config{Version: "test"}, logger.Noop()), svc
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "hostbeat", body["service"])
}

func TestVersion(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/version", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "test", body["version"])
}

func TestMetricsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	for _, path := range []string{"/metrics", "/metrics/local"} {
		rec := doJSON(t, h, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var snap metrics.Snapshot
		decode(t, rec, &snap)
		assert.Equal(t, metrics.OriginLocal, snap.Source, path)
		assert.Equal(t, 12.5, snap.CPUPercent, path)
	}
}

func TestMetricsRemoteWithoutConnection(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/metrics/remote", nil)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, errors.ErrConnect, body["code"])
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/metrics", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/connection/configure", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfigureValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	// Missing hostname.
	rec := doJSON(t, h, http.MethodPost, "/connection/configure", profileRequest{Username: "deploy"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, errors.ErrConfig, body["code"])
	assert.Equal(t, false, body["success"])

	// Malformed JSON.
	req := httptest.NewRequest(http.MethodPost, "/connection/configure", bytes.NewReader([]byte("{nope")))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestConfigureConnectDisconnectFlow(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/connection/configure", profileRequest{
		Hostname: "db.example.com",
		Username: "deploy",
		Password: "secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/connection/connect", keyRequest{
		Hostname: "db.example.com",
		Username: "deploy",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp connectionResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "connected", resp.ConnectionStatus)
	assert.Equal(t, monitor.ModeRemote, resp.Mode)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "db.example.com", resp.Session.Hostname)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = doJSON(t, h, http.MethodGet, "/connection/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status monitor.ConnectionStatus
	decode(t, rec, &status)
	assert.Equal(t, monitor.ModeRemote, status.Mode)
	require.Len(t, status.Profiles, 1)
	assert.True(t, status.Profiles[0].Active)

	rec = doJSON(t, h, http.MethodPost, "/connection/disconnect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "local", resp.ConnectionStatus)
	assert.Equal(t, monitor.ModeLocal, resp.Mode)
	assert.Equal(t, monitor.ModeLocal, svc.Mode())
}

func TestConnectWithoutBody(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	h := srv.Handler()

	// Nothing configured yet.
	rec := doJSON(t, h, http.MethodPost, "/connection/connect", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody map[string]any
	decode(t, rec, &errBody)
	assert.Equal(t, false, errBody["success"])
	assert.Equal(t, "error", errBody["connection_status"])
	assert.Equal(t, errors.ErrConfig, errBody["code"])

	rec = doJSON(t, h, http.MethodPost, "/connection/configure", profileRequest{
		Hostname: "db.example.com",
		Username: "deploy",
		Password: "secret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// A bodiless connect picks up the profile configured last.
	rec = doJSON(t, h, http.MethodPost, "/connection/connect", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp connectionResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "connected", resp.ConnectionStatus)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "db.example.com", resp.Session.Hostname)
	assert.Equal(t, monitor.ModeRemote, svc.Mode())
}

func TestRemoveEndpoint(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/connection/switch", profileRequest{
		Hostname: "db.example.com",
		Username: "deploy",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, monitor.ModeRemote, svc.Mode())

	// Removing the active profile drops back to local.
	rec = doJSON(t, h, http.MethodPost, "/connection/remove", keyRequest{
		Hostname: "db.example.com",
		Username: "deploy",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp connectionResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "local", resp.ConnectionStatus)
	assert.Empty(t, resp.Profiles)
	assert.Equal(t, monitor.ModeLocal, svc.Mode())

	// Removing it again is an error.
	rec = doJSON(t, h, http.MethodPost, "/connection/remove", keyRequest{
		Hostname: "db.example.com",
		Username: "deploy",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var errBody map[string]any
	decode(t, rec, &errBody)
	assert.Equal(t, false, errBody["success"])
	assert.Equal(t, "error", errBody["connection_status"])
}

func TestConnectUnknownProfile(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/connection/connect", keyRequest{
		Hostname: "unknown.example.com",
		Username: "deploy",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConnectFailure(t *testing.T) {
	srv, svc := newTestServer(t, map[string]error{
		"db.example.com": fmt.Errorf("dial tcp: i/o timeout"),
	})
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/connection/configure", profileRequest{
		Hostname: "db.example.com",
		Username: "deploy",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/connection/connect", keyRequest{
		Hostname: "db.example.com",
		Username: "deploy",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "error", body["connection_status"])
	assert.Equal(t, errors.ErrConnect, body["code"])
	assert.Equal(t, monitor.ModeLocal, svc.Mode())
}

func TestSwitchEndpoint(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/connection/switch", profileRequest{
		Hostname: "web.example.com",
		Username: "deploy",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp connectionResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "connected", resp.ConnectionStatus)
	assert.Equal(t, monitor.ModeRemote, resp.Mode)
	assert.Equal(t, "web.example.com", resp.Session.Hostname)
	assert.Equal(t, monitor.ModeRemote, svc.Mode())
}

func TestSchedulerEndpoints(t *testing.T) {
	srv, svc := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/scheduler/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status monitor.SchedulerStatus
	decode(t, rec, &status)
	assert.False(t, status.Running)

	rec = doJSON(t, h, http.MethodPost, "/scheduler/start", intervalRequest{IntervalSeconds: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &status)
	assert.True(t, status.Running)
	assert.Equal(t, 5*time.Second, svc.Scheduler().Interval())

	rec = doJSON(t, h, http.MethodPost, "/scheduler/interval", intervalRequest{IntervalSeconds: 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10*time.Second, svc.Scheduler().Interval())

	rec = doJSON(t, h, http.MethodPost, "/scheduler/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &status)
	assert.False(t, status.Running)
}

func TestIntervalClamping(t *testing.T) {
	tests := []struct {
		in   int
		want time.Duration
	}{
		{in: 0, want: time.Second},
		{in: -3, want: time.Second},
		{in: 5, want: 5 * time.Second},
		{in: 999, want: 60 * time.Second},
	}

	for _, tt := range tests {
		got := intervalRequest{IntervalSeconds: tt.in}.duration()
		assert.Equal(t, tt.want, got, "interval %d", tt.in)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = doJSON(t, h, http.MethodOptions, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
