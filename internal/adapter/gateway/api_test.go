package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permgate/internal/domain"
	"permgate/internal/infra/middleware"
	"permgate/internal/usecase/eventbus"
)

func startRESTServer(t *testing.T, fx *coordFixture, bus domain.EventBus) *Server {
	t.Helper()
	srv := NewServer(bus, newTestAuth(), "127.0.0.1:0", testLogger())
	srv.Use(middleware.SecurityHeaders)
	RegisterRESTHandlers(srv, HandlerDeps{Coordinator: fx.coord, Logger: testLogger(), Version: "1.2.3"})
	startServer(t, srv)
	return srv
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestStatusEndpoint(t *testing.T) {
	fx := newCoordFixture(t)
	require.NoError(t, fx.coord.CheckAll(context.Background()))
	srv := startRESTServer(t, fx, &testBus{})

	resp := get(t, "http://"+srv.BoundAddr()+"/api/v1/status", "viewer-token")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	var st StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "permgate", st.Name)
	assert.Equal(t, "1.2.3", st.Version)
	assert.True(t, st.CheckedAll)
	assert.Equal(t, 2, st.Permissions)
	assert.Equal(t, 1, st.Passing)
	assert.Equal(t, 0, st.Clients)
}

func TestPermissionsEndpoint(t *testing.T) {
	fx := newCoordFixture(t)
	require.NoError(t, fx.coord.CheckAll(context.Background()))
	srv := startRESTServer(t, fx, &testBus{})

	resp := get(t, "http://"+srv.BoundAddr()+"/api/v1/permissions?token=test-token", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body PermissionsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.True(t, body.CheckedAll)
	assert.True(t, body.Permissions[domain.PermissionLogin].Pass)
	assert.Equal(t, "pip unsupported", body.Permissions[domain.PermissionPIP].Msg)
}

func TestRESTRequiresToken(t *testing.T) {
	srv := startRESTServer(t, newCoordFixture(t), &testBus{})

	for _, path := range []string{"/api/v1/status", "/api/v1/permissions", "/metrics"} {
		resp := get(t, "http://"+srv.BoundAddr()+path, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestRESTMethodNotAllowed(t *testing.T) {
	srv := startRESTServer(t, newCoordFixture(t), &testBus{})

	req, err := http.NewRequest(http.MethodPost, "http://"+srv.BoundAddr()+"/api/v1/permissions?token=test-token", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newCoordFixture(t)
	bus := eventbus.New(testLogger())
	t.Cleanup(bus.Close)
	srv := startRESTServer(t, fx, bus)

	payload, err := json.Marshal(domain.PermissionUpdate{
		Type:       domain.BroadcastPermissionUpdate,
		Permission: domain.PermissionLogin,
		Value:      true,
	})
	require.NoError(t, err)
	bus.Publish(context.Background(), domain.Event{Type: domain.EventPermissionUpdate, Payload: payload})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventSweepCompleted})

	require.Eventually(t, func() bool {
		resp := get(t, "http://"+srv.BoundAddr()+"/metrics", "test-token")
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body := string(b)
		return strings.Contains(body, `permgate_permission_updates_total{permission="login",value="true"} 1`) &&
			strings.Contains(body, "permgate_permission_sweeps_total 1") &&
			strings.Contains(body, "go_goroutines")
	}, 2*time.Second, 20*time.Millisecond)
}
