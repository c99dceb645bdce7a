package permission

import (
	"context"
	"log/slog"
	"sync/atomic"

	"permgate/internal/domain"
)

// SettleFunc reports the outcome of a callback-style query. Only the first
// call is honoured; later calls return ErrDoubleSettlement.
type SettleFunc func(v domain.Verdict, err error) error

// CallbackQuery starts a query that reports through settle, either before
// returning or later from another goroutine.
type CallbackQuery func(ctx context.Context, settle SettleFunc)

type settlement struct {
	v   domain.Verdict
	err error
}

// CallbackProvider adapts a callback-style host API to domain.Provider.
// Each Check call settles exactly once.
type CallbackProvider struct {
	name   domain.PermissionName
	query  CallbackQuery
	logger *slog.Logger
}

// NewCallbackProvider wraps query for the named permission.
func NewCallbackProvider(name domain.PermissionName, query CallbackQuery, logger *slog.Logger) *CallbackProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CallbackProvider{name: name, query: query, logger: logger}
}

// Check runs the query and waits for its first settlement or for ctx.
func (p *CallbackProvider) Check(ctx context.Context) (domain.Verdict, error) {
	done := make(chan settlement, 1)
	var settled atomic.Bool

	settle := func(v domain.Verdict, err error) error {
		if !settled.CompareAndSwap(false, true) {
			p.logger.Error("rejected second provider settlement",
				"permission", p.name,
				"pass", v.Pass,
				"msg", v.Msg,
			)
			return domain.NewDomainError("CallbackProvider.Settle", domain.ErrDoubleSettlement, string(p.name))
		}
		done <- settlement{v: v, err: err}
		return nil
	}

	p.query(ctx, settle)

	select {
	case s := <-done:
		return s.v, s.err
	case <-ctx.Done():
		return domain.Verdict{}, ctx.Err()
	}
}
