package grantstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"permgate/internal/domain"
	"permgate/internal/infra/filewatch"
)

var _ domain.GrantFeed = (*Feed)(nil)

// Feed reports capabilities that become granted in a FileStore.
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
	return &Feed{store: store, debounce: debounce, logger: logger.With("component", "grantstore.feed")}
}

// Watch streams batches of newly granted names. Revocations are not
// reported. The channel is closed when ctx is done.
func (f *Feed) Watch(ctx context.Context) (<-chan []string, error) {
	initial, err := f.store.Load()
	if err != nil {
		return nil, err
	}
	prev := initial.Clone()

	out := make(chan []string, 4)
	var mu sync.Mutex
	closed := false

	onChange := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		next, err := f.store.Load()
		if err != nil {
			f.logger.Warn("reload grant store failed", "path", f.store.ConfigPath(), "error", err)
			return
		}
		var added []string
		for _, name := range next.Granted {
			if !prev.Has(name) {
				added = append(added, name)
			}
		}
		prev = next
		if len(added) == 0 {
			return
		}
		f.logger.Debug("capabilities granted", "names", added)
		select {
		case out <- added:
		case <-ctx.Done():
		}
	}

	if err := filewatch.Watch(ctx, f.store.ConfigPath(), f.debounce, f.logger, onChange); err != nil {
		return nil, domain.WrapOp("grantstore.Feed.Watch", err)
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
