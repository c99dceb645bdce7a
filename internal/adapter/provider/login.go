// Package provider implements the permission checks the coordinator runs.
package provider

import (
	"context"
	"time"

	"permgate/internal/adapter/cookie"
	"permgate/internal/domain"
)

// Default login cookie lookup.
const (
	DefaultLoginURL    = "http://interface.bilibili.com/"
	DefaultLoginCookie = "DedeUserID"
)

// CookieLookup finds the cookie called name that would be sent to rawURL.
type CookieLookup interface {
	Lookup(rawURL, name string) (*cookie.Cookie, error)
}

// Login passes while the session cookie exists and has not expired.
type Login struct {
	cookies CookieLookup
	url     string
	name    string
	now     func() time.Time
}

// NewLogin creates a login provider. Empty url or name use the defaults.
func NewLogin(cookies CookieLookup, url, name string) *Login {
	if url == "" {
		url = DefaultLoginURL
	}
	if name == "" {
		name = DefaultLoginCookie
	}
	return &Login{cookies: cookies, url: url, name: name, now: time.Now}
}

// Check implements domain.Provider. Session cookies without an expiry fail.
func (l *Login) Check(context.Context) (domain.Verdict, error) {
	c, err := l.cookies.Lookup(l.url, l.name)
	if err != nil {
		return domain.Verdict{}, err
	}
	return domain.Verdict{Pass: c != nil && !c.ExpiredAt(l.now())}, nil
}

var _ domain.Provider = (*Login)(nil)
