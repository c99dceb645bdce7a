package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"permgate/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 3
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the probe circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PIPProbe answers whether picture-in-picture is available.
type PIPProbe interface {
	PictureInPictureEnabled(ctx context.Context) (bool, error)
}

// BreakerProbe wraps a probe with a circuit breaker so a missing or
// crashing browser fails fast instead of stalling every recheck.
type BreakerProbe struct {
	inner   PIPProbe
	breaker *gobreaker.CircuitBreaker[bool]
}

// NewBreakerProbe wraps inner. Zero config fields use defaults.
func NewBreakerProbe(inner PIPProbe, cfg BreakerConfig, logger *slog.Logger) *BreakerProbe {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultCBMaxFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultCBTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultCBInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        "probe:pip",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return &BreakerProbe{inner: inner, breaker: cb}
}

// PictureInPictureEnabled routes the probe through the breaker.
func (p *BreakerProbe) PictureInPictureEnabled(ctx context.Context) (bool, error) {
	ok, err := p.breaker.Execute(func() (bool, error) {
		return p.inner.PictureInPictureEnabled(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, fmt.Errorf("%w: circuit open: %v", domain.ErrProbeUnavailable, err)
	}
	return ok, err
}

// State returns the current breaker state.
func (p *BreakerProbe) State() gobreaker.State { return p.breaker.State() }

var (
	_ PIPProbe = (*BreakerProbe)(nil)
	_ PIPProbe = (*ChromeProbe)(nil)
	_ PIPProbe = StaticProbe(false)
)
