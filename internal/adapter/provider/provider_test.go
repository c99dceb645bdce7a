package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"permgate/internal/adapter/browser"
	"permgate/internal/adapter/cookie"
	"permgate/internal/adapter/grantstore"
	"permgate/internal/domain"
	"permgate/internal/usecase/permission"
)

type fakeCookies struct {
	c   *cookie.Cookie
	err error

	gotURL, gotName string
}

func (f *fakeCookies) Lookup(rawURL, name string) (*cookie.Cookie, error) {
	f.gotURL, f.gotName = rawURL, name
	return f.c, f.err
}

func TestLogin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tests := []struct {
		name string
		c    *cookie.Cookie
		want bool
	}{
		{"missing", nil, false},
		{"session cookie", &cookie.Cookie{Name: DefaultLoginCookie}, false},
		{"expired", &cookie.Cookie{Expires: now.Add(-time.Second)}, false},
		{"valid", &cookie.Cookie{Expires: now.Add(time.Hour)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCookies{c: tt.c}
			l := NewLogin(fc, "", "")
			l.now = func() time.Time { return now }

			v, err := l.Check(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Pass)
			assert.Equal(t, DefaultLoginURL, fc.gotURL)
			assert.Equal(t, DefaultLoginCookie, fc.gotName)
		})
	}
}

func TestLoginLookupError(t *testing.T) {
	boom := errors.New("unreadable")
	_, err := NewLogin(&fakeCookies{err: boom}, "", "").Check(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPlatformQueryThroughCallbackProvider(t *testing.T) {
	store := grantstore.NewFileStore(grantstore.WithPath(filepath.Join(t.TempDir(), "grants.yaml")))
	require.NoError(t, store.Grant("downloads"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	downloads := permission.NewCallbackProvider(domain.PermissionDownloads,
		PlatformQuery(store, domain.PermissionDownloads), logger)
	v, err := downloads.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Pass)

	notifications := permission.NewCallbackProvider(domain.PermissionNotifications,
		PlatformQuery(store, domain.PermissionNotifications), logger)
	v, err = notifications.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, v.Pass)
}

func TestPIP(t *testing.T) {
	v, err := NewPIP(browser.StaticProbe(true)).Check(context.Background())
	require.NoError(t, err)
	assert.True(t, v.Pass)

	v, err = NewPIP(browser.StaticProbe(false)).Check(context.Background())
	require.NoError(t, err)
	assert.False(t, v.Pass)
}
