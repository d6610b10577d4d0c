package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned without calling Telegram while the breaker is open.
var ErrUnavailable = errors.New("bot api unavailable")

const (
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
)

// Breaker fails calls fast after consecutive transport failures. Errors that
// Telegram answered with, such as Forbidden or BadRequest, do not count.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker opens after maxFailures consecutive transport failures and lets
// one probe through after cooldown.
func NewBreaker(name string, maxFailures uint32, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || KindOf(err) != KindUnknown
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(op string, fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Op: op, Kind: KindUnknown, Err: ErrUnavailable}
	}
	return err
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}
