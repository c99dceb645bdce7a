package cookie

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"permgate/internal/domain"
	"permgate/internal/infra/filewatch"
)

var _ domain.CookieFeed = (*Feed)(nil)

// Feed reports cookie additions, value changes and removals in a
// cookies.txt file.
type Feed struct {
	store    *FileStore
	debounce time.Duration
	logger   *slog.Logger
}

// NewFeed creates a feed over store. A zero debounce uses the default.
func NewFeed(store *FileStore, debounce time.Duration, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{store: store, debounce: debounce, logger: logger.With("component", "cookie.feed")}
}

// Watch starts watching the cookie file. The channel is closed when ctx is done.
func (f *Feed) Watch(ctx context.Context) (<-chan domain.CookieChange, error) {
	initial, err := f.store.All()
	if err != nil {
		return nil, err
	}
	prev := index(initial)

	out := make(chan domain.CookieChange, 16)
	var mu sync.Mutex
	closed := false

	onChange := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		all, err := f.store.All()
		if err != nil {
			f.logger.Warn("reload cookie file failed", "path", f.store.Path(), "error", err)
			return
		}
		next := index(all)
		for _, ch := range diff(prev, next) {
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
		prev = next
	}

	if err := filewatch.Watch(ctx, f.store.Path(), f.debounce, f.logger, onChange); err != nil {
		return nil, domain.WrapOp("cookie.Feed.Watch", err)
	}
	go func() {
		<-ctx.Done()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

func index(cookies []Cookie) map[string]Cookie {
	m := make(map[string]Cookie, len(cookies))
	for _, c := range cookies {
		m[c.key()] = c
	}
	return m
}

func diff(prev, next map[string]Cookie) []domain.CookieChange {
	var out []domain.CookieChange
	for k, c := range next {
		if old, ok := prev[k]; !ok || old.Value != c.Value || !old.Expires.Equal(c.Expires) {
			out = append(out, domain.CookieChange{Name: c.Name, Domain: c.Domain})
		}
	}
	for k, c := range prev {
		if _, ok := next[k]; !ok {
			out = append(out, domain.CookieChange{Name: c.Name, Domain: c.Domain, Removed: true})
		}
	}
	return out
}
