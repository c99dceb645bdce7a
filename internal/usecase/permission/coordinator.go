package permission

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/singleflight"

	"permgate/internal/domain"
	"permgate/internal/infra/tracer"
	"permgate/internal/usecase/eventbus"
)

const sweepKey = "sweep"

// CoordinatorDeps holds injected dependencies for the coordinator.
type CoordinatorDeps struct {
	Catalogue *Catalogue
	Providers map[domain.PermissionName]domain.Provider
	Bus       domain.EventBus // optional, nil = no broadcasts
	Logger    *slog.Logger
}

// Coordinator caches permission verdicts, evaluates feature eligibility
// and notifies subscribed features when a verdict transitions.
//
// Lock order: a per-name mutex before mu. Verdicts are decided under the
// per-name mutex and the resulting notifications are queued per name in the
// same order; callbacks run only after every lock is released, so they may
// call back into the coordinator.
type Coordinator struct {
	catalogue *Catalogue
	providers map[domain.PermissionName]domain.Provider
	bus       domain.EventBus
	logger    *slog.Logger

	// nameLocks and outboxes are built once and never mutated.
	nameLocks map[domain.PermissionName]*sync.Mutex
	outboxes  map[domain.PermissionName]*outbox

	mu       sync.Mutex
	cache    domain.PermissionMap
	features map[string]domain.Feature
	index    map[domain.PermissionName][]domain.Feature

	checkedAll atomic.Bool
	sweeps     singleflight.Group
}

// NewCoordinator validates that every catalogue entry has exactly one provider.
func NewCoordinator(deps CoordinatorDeps) (*Coordinator, error) {
	if deps.Catalogue == nil {
		return nil, fmt.Errorf("coordinator: %w: nil catalogue", domain.ErrInvalidInput)
	}
	for _, name := range deps.Catalogue.Names() {
		if deps.Providers[name] == nil {
			return nil, fmt.Errorf("coordinator: %w: no provider for %q", domain.ErrInvalidInput, name)
		}
	}
	for name := range deps.Providers {
		if !deps.Catalogue.Contains(name) {
			return nil, fmt.Errorf("coordinator: %w: provider %q has no catalogue entry", domain.ErrInvalidInput, name)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		catalogue: deps.Catalogue,
		providers: make(map[domain.PermissionName]domain.Provider, len(deps.Providers)),
		bus:       deps.Bus,
		logger:    logger.With("component", "permission"),
		nameLocks: make(map[domain.PermissionName]*sync.Mutex, deps.Catalogue.Len()),
		outboxes:  make(map[domain.PermissionName]*outbox, deps.Catalogue.Len()),
		cache:     make(domain.PermissionMap),
		features:  make(map[string]domain.Feature),
		index:     make(map[domain.PermissionName][]domain.Feature),
	}
	for name, p := range deps.Providers {
		c.providers[name] = p
		c.nameLocks[name] = &sync.Mutex{}
		c.outboxes[name] = &outbox{}
	}
	return c, nil
}

// Catalogue returns the coordinator's catalogue.
func (c *Coordinator) Catalogue() *Catalogue { return c.catalogue }

// Load registers f under its name, replacing any earlier registration,
// and returns its eligibility.
func (c *Coordinator) Load(ctx context.Context, f domain.Feature) (domain.EligibilityResult, error) {
	c.mu.Lock()
	c.features[f.Name()] = f
	c.mu.Unlock()

	c.logger.Debug("feature loaded", "feature", f.Name(), "permissions", len(f.Permissions()))
	c.publish(ctx, domain.EventFeatureLoaded, map[string]any{
		"feature":     f.Name(),
		"permissions": f.Permissions(),
	})
	return c.Check(ctx, f)
}

// Feature returns the feature registered under name.
func (c *Coordinator) Feature(name string) (domain.Feature, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.features[name]
	return f, ok
}

// Check runs the first full sweep if it has not completed yet, then
// evaluates f against the cache. A feature with no permissions passes
// without waiting for any provider.
func (c *Coordinator) Check(ctx context.Context, f domain.Feature) (res domain.EligibilityResult, err error) {
	ctx, span := tracer.StartSpan(ctx, "permission.check", tracer.KeyFeature.String(f.Name()))
	defer tracer.Finish(span, &err)

	if len(f.Permissions()) == 0 {
		return domain.EligibilityResult{Pass: true}, nil
	}
	if !c.checkedAll.Load() {
		if err := c.CheckAll(ctx); err != nil {
			return domain.EligibilityResult{}, domain.WrapOp("Coordinator.Check", err)
		}
	}
	res = c.CheckOne(f)
	span.SetAttributes(tracer.KeyPass.Bool(res.Pass))
	return res, nil
}

// CheckAll runs every provider concurrently and returns once all have
// settled. Concurrent calls share one in-flight sweep. If ctx ends first
// CheckAll returns its error while the sweep continues in the background.
func (c *Coordinator) CheckAll(ctx context.Context) error {
	ch := c.sweeps.DoChan(sweepKey, func() (any, error) {
		c.sweep(context.WithoutCancel(ctx))
		return nil, nil
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) sweep(ctx context.Context) {
	ctx, span := tracer.StartSpan(ctx, "permission.sweep", tracer.KeyCount.Int(c.catalogue.Len()))
	defer tracer.Finish(span, nil)

	c.logger.Debug("sweep started", "permissions", c.catalogue.Len())
	var wg conc.WaitGroup
	for _, name := range c.catalogue.Names() {
		name := name
		wg.Go(func() { c.run(ctx, name) })
	}
	wg.Wait()
	c.checkedAll.Store(true)
	c.logger.Debug("sweep completed")

	c.publish(ctx, domain.EventSweepCompleted, c.Snapshot())
}

// HasCheckedAll reports whether a full sweep has completed.
func (c *Coordinator) HasCheckedAll() bool { return c.checkedAll.Load() }

// Recheck re-runs one provider and funnels its verdict through the update path.
func (c *Coordinator) Recheck(ctx context.Context, name domain.PermissionName) (v domain.Verdict, err error) {
	ctx, span := tracer.StartSpan(ctx, "permission.recheck", tracer.KeyPermission.String(string(name)))
	defer tracer.Finish(span, &err)

	if !c.catalogue.Contains(name) {
		return domain.Verdict{}, domain.NewDomainError("Coordinator.Recheck", domain.ErrUndefinedPermission, string(name))
	}
	v = c.run(ctx, name)
	span.SetAttributes(tracer.KeyPass.Bool(v.Pass))
	return v, nil
}

// CheckOne evaluates f against the current cache and subscribes f to each
// known permission it declares. Callers should go through Check so the
// cache is populated first.
func (c *Coordinator) CheckOne(f domain.Feature) domain.EligibilityResult {
	perms := f.Permissions()
	if len(perms) == 0 {
		return domain.EligibilityResult{Pass: true}
	}

	var failing []domain.Verdict
	for _, name := range perms {
		if !c.catalogue.Contains(name) {
			failing = append(failing, domain.Verdict{Msg: fmt.Sprintf("Undefined permission: %s", name)})
			continue
		}
		v, ok := c.subscribe(f, name)
		if !ok {
			failing = append(failing, domain.Verdict{Msg: fmt.Sprintf("Unchecked permission: %s", name)})
			continue
		}
		if !v.Pass {
			failing = append(failing, v)
		}
	}
	if len(failing) > 0 {
		return domain.EligibilityResult{Pass: false, Data: failing}
	}
	return domain.EligibilityResult{Pass: true}
}

// subscribe appends f to the index for name, reads the cached verdict and
// queues a catch-up notification for f. It is delivered before subscribe
// returns unless another goroutine is already delivering for name, in which
// case that goroutine delivers it.
func (c *Coordinator) subscribe(f domain.Feature, name domain.PermissionName) (domain.Verdict, bool) {
	lock := c.nameLocks[name]
	box := c.outboxes[name]

	lock.Lock()
	c.mu.Lock()
	c.index[name] = append(c.index[name], f)
	v, ok := c.cache[name]
	c.mu.Unlock()
	if ok {
		box.push(notification{feature: f, value: v.Pass})
	}
	lock.Unlock()

	c.deliver(name, box)
	return v, ok
}

// Release removes f from every permission index and drops its registration
// if f is still the feature registered under its name. Notifications already
// queued for f are still delivered. f must be a comparable value, such as a
// pointer.
func (c *Coordinator) Release(f domain.Feature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, subs := range c.index {
		kept := slices.DeleteFunc(slices.Clone(subs), func(s domain.Feature) bool { return s == f })
		if len(kept) == 0 {
			delete(c.index, name)
			continue
		}
		c.index[name] = kept
	}
	if cur, ok := c.features[f.Name()]; ok && cur == f {
		delete(c.features, f.Name())
	}
}

// Subscribers returns the number of index entries for name. Repeated checks
// of one feature add repeated entries.
func (c *Coordinator) Subscribers(name domain.PermissionName) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index[name])
}

// Snapshot returns a copy of the permission map.
func (c *Coordinator) Snapshot() domain.PermissionMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Clone()
}

// run queries one provider, normalizes faults into a failing verdict and
// writes the result through UpdatePermission.
func (c *Coordinator) run(ctx context.Context, name domain.PermissionName) domain.Verdict {
	desc, _ := c.catalogue.Lookup(name)

	v, err := c.query(ctx, name)
	if err != nil {
		c.logger.Warn("permission provider fault", "permission", name, "error", err)
		v = domain.Verdict{Pass: false}
	}
	if !v.Pass && v.Msg == "" {
		v.Msg = desc.ErrorMsg
	}
	c.UpdatePermission(ctx, name, v)
	return v
}

func (c *Coordinator) query(ctx context.Context, name domain.PermissionName) (v domain.Verdict, err error) {
	p := c.providers[name]

	var pc panics.Catcher
	pc.Try(func() { v, err = p.Check(ctx) })
	if r := pc.Recovered(); r != nil {
		return domain.Verdict{}, domain.NewDomainError("Provider.Check", domain.ErrProviderFault,
			fmt.Sprintf("%s: panic: %v", name, r.Value))
	}
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("%w: %s: %w", domain.ErrProviderFault, name, err)
	}
	return v, nil
}

// UpdatePermission is the single write path for verdicts. A changed pass
// value overwrites the cache and emits a broadcast; every subscriber whose
// last known value differs is then notified, changed or not.
//
// Notifications for one name are delivered in the order their verdicts were
// decided. When no other goroutine is delivering for name they have all run
// by the time UpdatePermission returns.
func (c *Coordinator) UpdatePermission(ctx context.Context, name domain.PermissionName, v domain.Verdict) {
	lock, ok := c.nameLocks[name]
	if !ok {
		c.logger.Error("update for undefined permission ignored", "permission", name)
		return
	}
	box := c.outboxes[name]

	lock.Lock()
	c.mu.Lock()
	prev, cached := c.cache[name]
	changed := !cached || prev.Pass != v.Pass
	if changed {
		c.cache[name] = v
	}
	subs := slices.Clone(c.index[name])
	c.mu.Unlock()

	if changed {
		c.logger.Info("permission transitioned", "permission", name, "pass", v.Pass, "msg", v.Msg)
		c.publish(ctx, domain.EventPermissionUpdate, domain.PermissionUpdate{
			Type:       domain.BroadcastPermissionUpdate,
			Permission: name,
			Value:      v.Pass,
			Msg:        v.Msg,
		})
	}
	for _, f := range subs {
		box.push(notification{feature: f, value: v.Pass})
	}
	lock.Unlock()

	c.deliver(name, box)
}

type notification struct {
	feature domain.Feature
	value   bool
}

// outbox is the ordered notification queue of one permission. At most one
// goroutine drains it at a time.
type outbox struct {
	mu       sync.Mutex
	queue    []notification
	draining bool
}

func (b *outbox) push(n notification) {
	b.mu.Lock()
	b.queue = append(b.queue, n)
	b.mu.Unlock()
}

// claim makes the caller the drainer unless someone already is.
func (b *outbox) claim() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.draining {
		return false
	}
	b.draining = true
	return true
}

func (b *outbox) pop() (notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		b.draining = false
		return notification{}, false
	}
	n := b.queue[0]
	b.queue[0] = notification{}
	b.queue = b.queue[1:]
	return n, true
}

func (c *Coordinator) deliver(name domain.PermissionName, box *outbox) {
	if !box.claim() {
		return
	}
	for {
		n, ok := box.pop()
		if !ok {
			return
		}
		c.notify(n.feature, name, n.value)
	}
}

// notify delivers value to f when f's last known value differs. A
// panicking callback is logged and does not affect other subscribers.
func (c *Coordinator) notify(f domain.Feature, name domain.PermissionName, value bool) {
	if known, ok := f.KnownPermission(name); ok && known == value {
		return
	}
	var pc panics.Catcher
	pc.Try(func() { f.SetPermission(name, value) })
	if r := pc.Recovered(); r != nil {
		c.logger.Error("feature permission callback panicked",
			"feature", f.Name(),
			"permission", name,
			"panic", r.Value,
		)
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType domain.EventType, payload any) {
	if c.bus == nil {
		return
	}
	ev, err := eventbus.NewEvent(eventType, payload)
	if err != nil {
		c.logger.Warn("failed to build event", "event", string(eventType), "error", err)
		return
	}
	c.bus.Publish(ctx, ev)
}
