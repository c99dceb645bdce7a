package permission

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"permgate/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingBus delivers events synchronously so counts are exact.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func() { return func() {} }
func (b *recordingBus) Close()                                  {}

func (b *recordingBus) updates(t *testing.T, name domain.PermissionName) []domain.PermissionUpdate {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.PermissionUpdate
	for _, e := range b.events {
		if e.Type != domain.EventPermissionUpdate {
			continue
		}
		var u domain.PermissionUpdate
		require.NoError(t, json.Unmarshal(e.Payload, &u))
		if u.Permission == name {
			out = append(out, u)
		}
	}
	return out
}

func (b *recordingBus) count(t domain.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// scriptedProvider returns a settable verdict and counts calls.
type scriptedProvider struct {
	mu    sync.Mutex
	v     domain.Verdict
	err   error
	calls atomic.Int32
}

func newScripted(pass bool, msg string) *scriptedProvider {
	return &scriptedProvider{v: domain.Verdict{Pass: pass, Msg: msg}}
}

func (p *scriptedProvider) set(pass bool, msg string) {
	p.mu.Lock()
	p.v = domain.Verdict{Pass: pass, Msg: msg}
	p.mu.Unlock()
}

func (p *scriptedProvider) Check(context.Context) (domain.Verdict, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.v, p.err
}

type setCall struct {
	name  domain.PermissionName
	value bool
}

// testFeature remembers delivered values and records every callback.
type testFeature struct {
	name  string
	perms []domain.PermissionName

	mu    sync.Mutex
	known map[domain.PermissionName]bool
	calls []setCall
}

func newFeature(name string, perms ...domain.PermissionName) *testFeature {
	return &testFeature{name: name, perms: perms, known: make(map[domain.PermissionName]bool)}
}

func (f *testFeature) Name() string                         { return f.name }
func (f *testFeature) Permissions() []domain.PermissionName { return f.perms }

func (f *testFeature) KnownPermission(name domain.PermissionName) (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.known[name]
	return v, ok
}

func (f *testFeature) SetPermission(name domain.PermissionName, value bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.known[name] = value
	f.calls = append(f.calls, setCall{name: name, value: value})
}

func (f *testFeature) callsFor(name domain.PermissionName, value bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.name == name && c.value == value {
			n++
		}
	}
	return n
}

func testCatalogue(t *testing.T, names ...domain.PermissionName) *Catalogue {
	t.Helper()
	entries := make([]Entry, 0, len(names))
	for _, n := range names {
		entries = append(entries, Entry{
			Name:       n,
			Descriptor: domain.PermissionDescriptor{ErrorMsg: string(n) + " missing", Description: string(n)},
		})
	}
	c, err := NewCatalogue(entries...)
	require.NoError(t, err)
	return c
}

func newTestCoordinator(t *testing.T, bus domain.EventBus, providers map[domain.PermissionName]domain.Provider) *Coordinator {
	t.Helper()
	names := make([]domain.PermissionName, 0, len(providers))
	for _, n := range []domain.PermissionName{
		domain.PermissionLogin, domain.PermissionNotifications, domain.PermissionPIP, domain.PermissionDownloads,
	} {
		if _, ok := providers[n]; ok {
			names = append(names, n)
		}
	}
	c, err := NewCoordinator(CoordinatorDeps{
		Catalogue: testCatalogue(t, names...),
		Providers: providers,
		Bus:       bus,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	return c
}
