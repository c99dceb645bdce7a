// Package featuresdk provides types and helpers for permgate feature authors.
//
// NOTE: This package re-exports internal/domain via type aliases, so it is
// only usable from inside the permgate module.
package featuresdk

import (
	"slices"
	"sync"

	"permgate/internal/domain"
)

// Re-exported domain types for feature authors.
type (
	Feature           = domain.Feature
	PermissionName    = domain.PermissionName
	Verdict           = domain.Verdict
	EligibilityResult = domain.EligibilityResult
)

// Re-exported permission names.
const (
	PermissionLogin         = domain.PermissionLogin
	PermissionNotifications = domain.PermissionNotifications
	PermissionPIP           = domain.PermissionPIP
	PermissionDownloads     = domain.PermissionDownloads
)

// ChangeFunc is invoked after a feature's view of a permission changes.
//
// It runs outside the coordinator's locks and may check or load other
// features. A notification caused by such a nested call can be delivered
// after the nested call returns, by whichever goroutine is delivering for
// that permission.
type ChangeFunc func(name PermissionName, value bool)

// BaseFeature implements Feature with a goroutine-safe record of the last
// value delivered for each permission. Embed it or use it directly.
type BaseFeature struct {
	name        string
	permissions []PermissionName

	mu       sync.RWMutex
	known    map[PermissionName]bool
	onChange ChangeFunc
}

// Option configures a BaseFeature.
type Option func(*BaseFeature)

// OnChange registers fn to observe permission changes.
func OnChange(fn ChangeFunc) Option {
	return func(f *BaseFeature) { f.onChange = fn }
}

// NewBaseFeature creates a feature named name that needs perms.
func NewBaseFeature(name string, perms []PermissionName, opts ...Option) *BaseFeature {
	f := &BaseFeature{
		name:        name,
		permissions: slices.Clone(perms),
		known:       make(map[PermissionName]bool),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Name returns the feature name.
func (f *BaseFeature) Name() string { return f.name }

// Permissions returns the declared permission list.
func (f *BaseFeature) Permissions() []PermissionName { return f.permissions }

// KnownPermission reports the last value delivered for name.
func (f *BaseFeature) KnownPermission(name PermissionName) (bool, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.known[name]
	return v, ok
}

// SetPermission records value and calls the change callback, if any.
func (f *BaseFeature) SetPermission(name PermissionName, value bool) {
	f.mu.Lock()
	f.known[name] = value
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil {
		fn(name, value)
	}
}

// Known returns a copy of every value delivered so far.
func (f *BaseFeature) Known() map[PermissionName]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[PermissionName]bool, len(f.known))
	for k, v := range f.known {
		out[k] = v
	}
	return out
}

// Eligible reports whether every declared permission is known and true.
// It reflects delivered values only and never queries a provider.
func (f *BaseFeature) Eligible() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.permissions {
		if !f.known[p] {
			return false
		}
	}
	return true
}

var _ Feature = (*BaseFeature)(nil)
