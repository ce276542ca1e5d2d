package backend

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"infergate/internal/core"
)

// Default circuit breaker settings.
const (
	defaultFailureThreshold uint32        = 5
	defaultBreakerTimeout   time.Duration = 30 * time.Second
	defaultBreakerInterval  time.Duration = 60 * time.Second
)

var errCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures the per-model circuit breakers.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the circuit opens.
	FailureThreshold uint32
	// Timeout is how long the circuit stays open before a half-open probe.
	Timeout time.Duration
}

// breakerSet lazily creates one breaker per model, so a failing model
// server does not shed traffic for the others.
type breakerSet struct {
	mu       sync.Mutex
	settings CircuitBreakerConfig
	byModel  map[string]*gobreaker.CircuitBreaker[[]byte]
}

func newBreakerSet(cfg CircuitBreakerConfig) *breakerSet {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	return &breakerSet{
		settings: cfg,
		byModel:  make(map[string]*gobreaker.CircuitBreaker[[]byte]),
	}
}

func (s *breakerSet) get(model string) *gobreaker.CircuitBreaker[[]byte] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cb, ok := s.byModel[model]; ok {
		return cb
	}

	threshold := s.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "backend:" + model,
		MaxRequests: 1, // one probe in half-open state
		Interval:    defaultBreakerInterval,
		Timeout:     s.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: isBreakerSuccess,
	})
	s.byModel[model] = cb
	return cb
}

// State reports the breaker state of model; models never called are closed.
func (s *breakerSet) State(model string) gobreaker.State {
	s.mu.Lock()
	cb, ok := s.byModel[model]
	s.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// isBreakerSuccess keeps client-side rejections and caller cancellations
// from counting against the backend.
func isBreakerSuccess(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Type != core.ErrorTypeBackendUnavailable
	}
	return false
}

// breakerError maps gobreaker's rejections to a backend unavailable error.
func breakerError(model string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return core.NewBackendUnavailableError(model, errors.Join(errCircuitOpen, err))
	}
	return err
}

// BreakerState returns the circuit state for model.
func (c *Client) BreakerState(model string) gobreaker.State {
	return c.breakers.State(model)
}
