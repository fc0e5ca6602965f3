package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker is a per-provider circuit breaker. After FailureThreshold consecutive
// transient failures the breaker opens and rejects calls until ResetTimeout has
// passed, then allows a single probe.
type Breaker struct {
	provider         string
	failureThreshold int
	resetTimeout     time.Duration

	mu                  sync.Mutex
	open                bool
	consecutiveFailures int
	lastFailure         time.Time

	nowFunc func() time.Time
}

// NewBreaker creates a breaker for the named provider.
func NewBreaker(provider string, failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		provider:         provider,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		nowFunc:          time.Now,
	}
}

// Execute runs fn through the breaker. Returns ErrCircuitOpen without calling
// fn if the breaker is open and the reset timeout has not elapsed.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open && b.nowFunc().Sub(b.lastFailure) < b.resetTimeout {
		return eris.Wrapf(ErrCircuitOpen, "resilience: %s", b.provider)
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !IsTransient(err) {
		if b.open {
			zap.L().Info("circuit closed", zap.String("provider", b.provider))
		}
		b.open = false
		b.consecutiveFailures = 0
		return
	}

	b.consecutiveFailures++
	b.lastFailure = b.nowFunc()
	if b.consecutiveFailures >= b.failureThreshold && !b.open {
		b.open = true
		zap.L().Warn("circuit opened",
			zap.String("provider", b.provider),
			zap.Int("consecutive_failures", b.consecutiveFailures),
		)
	}
}

// Open reports whether the breaker is currently rejecting calls.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open && b.nowFunc().Sub(b.lastFailure) < b.resetTimeout
}
