package gateway

import (
	"crypto/subtle"
	"slices"

	"permgate/internal/domain"
)

// RoleAdmin allows mutating RPCs (features.load, permissions.recheck).
const RoleAdmin = "admin"

// ClientInfo holds metadata about an authenticated gateway client.
type ClientInfo struct {
	Name  string
	Roles []string
}

// HasRole reports whether the client carries role. Clients without any
// roles are treated as admins, matching tokens issued before roles existed.
func (c ClientInfo) HasRole(role string) bool {
	if len(c.Roles) == 0 {
		return true
	}
	return slices.Contains(c.Roles, role)
}

// Authenticator validates incoming gateway connections.
type Authenticator interface {
	Authenticate(token string) (ClientInfo, error)
}

// TokenEntry binds a bearer token to a client identity.
type TokenEntry struct {
	Token string
	Name  string
	Roles []string
}

type authEntry struct {
	token []byte
	info  ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from a set of token entries.
// Entries with an empty token are skipped.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(entries))}
	for _, e := range entries {
		if e.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(e.Token),
			info:  ClientInfo{Name: e.Name, Roles: slices.Clone(e.Roles)},
		})
	}
	return a
}

// Authenticate returns a copy of the client info bound to token.
func (s *StaticTokenAuth) Authenticate(token string) (ClientInfo, error) {
	tokenBytes := []byte(token)
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 {
			info := e.info
			info.Roles = slices.Clone(e.info.Roles)
			return info, nil
		}
	}
	return ClientInfo{}, domain.ErrGatewayAuthFailed
}

// OpenAuth accepts every connection. Only use it on loopback listeners.
type OpenAuth struct{}

// Authenticate always succeeds with an anonymous admin identity.
func (OpenAuth) Authenticate(string) (ClientInfo, error) {
	return ClientInfo{Name: "anonymous"}, nil
}
