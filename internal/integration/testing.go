// Package integration wires the real stores, feeds, coordinator and
// gateway together for end-to-end tests.
package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"permgate/internal/adapter/browser"
	"permgate/internal/adapter/cookie"
	"permgate/internal/adapter/gateway"
	"permgate/internal/adapter/grantstore"
	"permgate/internal/adapter/provider"
	"permgate/internal/domain"
	"permgate/internal/infra/logger"
	"permgate/internal/usecase/eventbus"
	"permgate/internal/usecase/permission"
)

// Token is the admin token the stack's gateway accepts.
const Token = "integration-token"

// Stack is a running permgate instance backed by files in a temp dir.
type Stack struct {
	Dir         string
	CookieFile  string
	Cookies     *cookie.FileStore
	Grants      *grantstore.FileStore
	Coordinator *permission.Coordinator
	Gateway     *gateway.Server
	Watcher     *permission.FeedWatcher
}

// SkipIfShort skips integration tests in short mode.
func SkipIfShort(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// NewTestContext creates a context with timeout for integration tests.
func NewTestContext(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewStack starts the coordinator, both feeds and the gateway. pip is the
// static picture-in-picture result. Everything stops when the test ends.
func NewStack(t *testing.T, pip bool) *Stack {
	t.Helper()
	log := logger.Discard()
	dir := t.TempDir()

	s := &Stack{Dir: dir, CookieFile: filepath.Join(dir, "cookies.txt")}
	s.WriteCookies(t)
	grantsFile := filepath.Join(dir, "grants.yaml")
	require.NoError(t, os.WriteFile(grantsFile, []byte("granted: []\n"), 0o600))

	s.Cookies = cookie.NewFileStore(s.CookieFile)
	s.Grants = grantstore.NewFileStore(grantstore.WithPath(grantsFile))

	bus := eventbus.New(log)
	t.Cleanup(bus.Close)

	coord, err := permission.NewCoordinator(permission.CoordinatorDeps{
		Catalogue: permission.DefaultCatalogue(),
		Providers: map[domain.PermissionName]domain.Provider{
			domain.PermissionLogin: provider.NewLogin(s.Cookies, "", ""),
			domain.PermissionNotifications: permission.NewCallbackProvider(domain.PermissionNotifications,
				provider.PlatformQuery(s.Grants, domain.PermissionNotifications), log),
			domain.PermissionPIP: provider.NewPIP(browser.StaticProbe(pip)),
			domain.PermissionDownloads: permission.NewCallbackProvider(domain.PermissionDownloads,
				provider.PlatformQuery(s.Grants, domain.PermissionDownloads), log),
		},
		Bus:    bus,
		Logger: log,
	})
	require.NoError(t, err)
	s.Coordinator = coord

	ctx, cancel := context.WithCancel(context.Background())

	s.Gateway = gateway.NewServer(bus, gateway.NewStaticTokenAuth([]gateway.TokenEntry{
		{Token: Token, Name: "integration", Roles: []string{gateway.RoleAdmin}},
	}), "127.0.0.1:0", log)
	deps := gateway.HandlerDeps{Coordinator: coord, Logger: log, Version: "test"}
	gateway.RegisterHandlers(s.Gateway, deps)
	gateway.RegisterRESTHandlers(s.Gateway, deps)
	go func() { _ = s.Gateway.Start(ctx) }()
	require.Eventually(t, func() bool { return s.Gateway.BoundAddr() != "" },
		3*time.Second, 5*time.Millisecond, "gateway did not start in time")

	s.Watcher = permission.NewFeedWatcher(coord, permission.WithWatcherLogger(log))
	require.NoError(t, s.Watcher.WatchCookies(ctx, cookie.NewFeed(s.Cookies, 20*time.Millisecond, log)))
	require.NoError(t, s.Watcher.WatchGrants(ctx, grantstore.NewFeed(s.Grants, 20*time.Millisecond, log)))

	t.Cleanup(func() {
		cancel()
		s.Watcher.Wait()
		_ = s.Gateway.Stop(context.Background())
	})
	return s
}

// WriteCookies replaces the cookie file with the given name=value pairs
// for .bilibili.com, each expiring in a day.
func (s *Stack) WriteCookies(t *testing.T, pairs ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("# Netscape HTTP Cookie File\n")
	expires := time.Now().Add(24 * time.Hour).Unix()
	for _, p := range pairs {
		name, value, _ := strings.Cut(p, "=")
		fmt.Fprintf(&b, ".bilibili.com\tTRUE\t/\tFALSE\t%d\t%s\t%s\n", expires, name, value)
	}
	require.NoError(t, os.WriteFile(s.CookieFile, []byte(b.String()), 0o600))
}

// Client is a gateway connection.
type Client struct {
	t  *testing.T
	ws *websocket.Conn
	id uint64
}

// Dial connects an admin client to the stack's gateway.
func (s *Stack) Dial(t *testing.T) *Client {
	t.Helper()
	ctx := NewTestContext(t, 3*time.Second)
	ws, _, err := websocket.Dial(ctx, "ws://"+s.Gateway.BoundAddr()+"/ws?token="+Token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	require.Eventually(t, func() bool { return s.Gateway.ClientCount() > 0 }, 2*time.Second, 5*time.Millisecond)
	return &Client{t: t, ws: ws}
}

// Call sends a request and returns its request ID.
func (c *Client) Call(method string, payload any) uint64 {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	c.id++
	ctx := NewTestContext(c.t, 2*time.Second)
	require.NoError(c.t, wsjson.Write(ctx, c.ws, gateway.Frame{
		Type: gateway.FrameTypeRequest, ID: c.id, Method: method, Payload: raw,
	}))
	return c.id
}

// Next reads frames until match accepts one or the timeout passes.
func (c *Client) Next(timeout time.Duration, match func(gateway.Frame) bool) gateway.Frame {
	c.t.Helper()
	ctx := NewTestContext(c.t, timeout)
	for {
		var f gateway.Frame
		require.NoError(c.t, wsjson.Read(ctx, c.ws, &f), "no matching frame before timeout")
		if match(f) {
			return f
		}
	}
}

// IsPermissionUpdate matches a forwarded broadcast for name with value.
func IsPermissionUpdate(name domain.PermissionName, value bool) func(gateway.Frame) bool {
	return func(f gateway.Frame) bool {
		if f.Type != gateway.FrameTypeEvent || f.Event != string(domain.EventPermissionUpdate) {
			return false
		}
		var u domain.PermissionUpdate
		if json.Unmarshal(f.Payload, &u) != nil {
			return false
		}
		return u.Permission == name && u.Value == value
	}
}

// IsSetPermission matches a remote feature notification for name with value.
func IsSetPermission(name domain.PermissionName, value bool) func(gateway.Frame) bool {
	return func(f gateway.Frame) bool {
		if f.Type != gateway.FrameTypeEvent || f.Event != gateway.EventSetPermission {
			return false
		}
		var ev gateway.SetPermissionEvent
		if json.Unmarshal(f.Payload, &ev) != nil {
			return false
		}
		return ev.Permission == name && ev.Value == value
	}
}

// IsResponse matches the response to request id.
func IsResponse(id uint64) func(gateway.Frame) bool {
	return func(f gateway.Frame) bool { return f.Type == gateway.FrameTypeResponse && f.ID == id }
}
