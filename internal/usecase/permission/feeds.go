package permission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"permgate/internal/domain"
)

// Default session cookie filter for the cookie-change feed.
const (
	DefaultSessionCookie = "bili_jct"
	DefaultSessionDomain = ".bilibili.com"
)

// WatcherOption configures a FeedWatcher.
type WatcherOption func(*FeedWatcher)

// WithSessionCookie sets the cookie name and domain that trigger a login recheck.
func WithSessionCookie(name, domain string) WatcherOption {
	return func(w *FeedWatcher) {
		w.cookieName = name
		w.cookieDomain = domain
	}
}

// WithMinInterval spaces successive feed-driven rechecks at least d apart.
// Zero disables pacing.
func WithMinInterval(d time.Duration) WatcherOption {
	return func(w *FeedWatcher) {
		if d > 0 {
			w.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *FeedWatcher) { w.logger = l }
}

// FeedWatcher turns external change feeds into coordinator rechecks.
type FeedWatcher struct {
	coord        *Coordinator
	cookieName   string
	cookieDomain string
	limiter      *rate.Limiter
	logger       *slog.Logger
	wg           sync.WaitGroup
}

// NewFeedWatcher creates a watcher bound to coord.
func NewFeedWatcher(coord *Coordinator, opts ...WatcherOption) *FeedWatcher {
	w := &FeedWatcher{
		coord:        coord,
		cookieName:   DefaultSessionCookie,
		cookieDomain: DefaultSessionDomain,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "permission.feeds")
	return w
}

// WatchCookies rechecks login whenever feed reports a change to the
// session cookie. A nil feed is tolerated.
func (w *FeedWatcher) WatchCookies(ctx context.Context, feed domain.CookieFeed) error {
	if feed == nil {
		w.logger.Debug("no cookie feed, login will not be rechecked on cookie change")
		return nil
	}
	changes, err := feed.Watch(ctx)
	if err != nil {
		return domain.WrapOp("FeedWatcher.WatchCookies", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ch, ok := <-changes:
				if !ok {
					return
				}
				if ch.Name != w.cookieName || ch.Domain != w.cookieDomain {
					continue
				}
				w.logger.Debug("session cookie changed", "removed", ch.Removed)
				w.recheck(ctx, domain.PermissionLogin)
			}
		}
	}()
	return nil
}

// WatchGrants rechecks every known permission reported as newly granted.
// Unknown names are ignored. A nil feed is tolerated.
func (w *FeedWatcher) WatchGrants(ctx context.Context, feed domain.GrantFeed) error {
	if feed == nil {
		w.logger.Debug("no grant feed, permissions will not be rechecked on grant")
		return nil
	}
	batches, err := feed.Watch(ctx)
	if err != nil {
		return domain.WrapOp("FeedWatcher.WatchGrants", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case batch, ok := <-batches:
				if !ok {
					return
				}
				seen := make(map[domain.PermissionName]struct{}, len(batch))
				for _, raw := range batch {
					name := domain.PermissionName(raw)
					if _, dup := seen[name]; dup {
						continue
					}
					seen[name] = struct{}{}
					if !w.coord.Catalogue().Contains(name) {
						w.logger.Debug("ignoring grant for unknown permission", "permission", raw)
						continue
					}
					w.recheck(ctx, name)
				}
			}
		}
	}()
	return nil
}

// Wait blocks until every feed goroutine has returned.
func (w *FeedWatcher) Wait() { w.wg.Wait() }

func (w *FeedWatcher) recheck(ctx context.Context, name domain.PermissionName) {
	if err := w.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := w.coord.Recheck(ctx, name); err != nil {
		w.logger.Warn("feed recheck failed", "permission", name, "error", err)
	}
}
