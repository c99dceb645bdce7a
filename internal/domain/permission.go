package domain

import "context"

// PermissionName identifies one checkable capability in the catalogue.
type PermissionName string

const (
	PermissionLogin         PermissionName = "login"
	PermissionNotifications PermissionName = "notifications"
	PermissionPIP           PermissionName = "pip"
	PermissionDownloads     PermissionName = "downloads"
)

// PermissionDescriptor holds the human-readable text for a permission.
type PermissionDescriptor struct {
	ErrorMsg    string `json:"errorMsg"    yaml:"error_msg"`
	Description string `json:"description" yaml:"description"`
}

// Verdict is the outcome of checking one permission.
type Verdict struct {
	Pass bool   `json:"pass"`
	Msg  string `json:"msg"`
}

// PermissionMap maps each checked permission to its latest verdict.
type PermissionMap map[PermissionName]Verdict

// Clone returns an independent copy of m.
func (m PermissionMap) Clone() PermissionMap {
	out := make(PermissionMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EligibilityResult is returned to a feature after its permissions are evaluated.
// On success Data is empty; on failure it lists every failing verdict.
type EligibilityResult struct {
	Pass bool      `json:"pass"`
	Msg  string    `json:"msg"`
	Data []Verdict `json:"data,omitempty"`
}

// Feature is a host-registered unit that needs permissions before it may activate.
type Feature interface {
	Name() string
	Permissions() []PermissionName
	// KnownPermission reports the last value delivered to this feature for name.
	// ok is false when the feature has not been told anything about name yet.
	KnownPermission(name PermissionName) (value bool, ok bool)
	// SetPermission is invoked when the feature's view of name is out of date.
	SetPermission(name PermissionName, value bool)
}

// Provider queries an external source for the current verdict of one permission.
// A returned error is a fault in the query mechanism, not a negative verdict.
type Provider interface {
	Check(ctx context.Context) (Verdict, error)
}

// ProviderFunc adapts an ordinary function to Provider.
type ProviderFunc func(ctx context.Context) (Verdict, error)

func (f ProviderFunc) Check(ctx context.Context) (Verdict, error) { return f(ctx) }

// CookieChange is reported by a cookie-change feed.
type CookieChange struct {
	Name    string `json:"name"`
	Domain  string `json:"domain"`
	Removed bool   `json:"removed"`
}

// CookieFeed streams cookie changes until ctx is done.
type CookieFeed interface {
	Watch(ctx context.Context) (<-chan CookieChange, error)
}

// GrantFeed streams the names of newly granted capabilities until ctx is done.
type GrantFeed interface {
	Watch(ctx context.Context) (<-chan []string, error)
}
