package saga

import (
	"context"
	"errors"
	"sync"
	"time"

	"fulfillment/internal/inventory"
	"fulfillment/internal/orders"
	"fulfillment/internal/payments"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	MaxFailures  int
	ResetTimeout time.Duration
	Now          func() time.Time
}

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker stops calls to a collaborator after repeated failures.
// The orchestrator never retries, so a tripped breaker surfaces to the
// caller as a dependency error immediately.
type CircuitBreaker struct {
	mu         sync.Mutex
	maxFails   int
	resetAfter time.Duration
	now        func() time.Time

	state          circuitState
	failures       int
	openedAt       time.Time
	halfOpenFlight bool
}

// NewCircuitBreaker constructs a circuit breaker with sane defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	maxFails := cfg.MaxFailures
	if maxFails < 1 {
		maxFails = 1
	}
	resetAfter := cfg.ResetTimeout
	if resetAfter <= 0 {
		resetAfter = 2 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		maxFails:   maxFails,
		resetAfter: resetAfter,
		now:        now,
		state:      circuitClosed,
	}
}

// Execute runs the given function while enforcing breaker state.
func (c *CircuitBreaker) Execute(fn func() error) error {
	if c == nil {
		return fn()
	}

	now := c.now()

	c.mu.Lock()
	switch c.state {
	case circuitOpen:
		if now.Sub(c.openedAt) < c.resetAfter {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
		c.state = circuitHalfOpen
	case circuitHalfOpen:
		if c.halfOpenFlight {
			c.mu.Unlock()
			return ErrCircuitOpen
		}
	}
	if c.state == circuitHalfOpen {
		c.halfOpenFlight = true
	}
	c.mu.Unlock()

	err := fn()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == circuitHalfOpen {
		c.halfOpenFlight = false
	}

	if err == nil {
		c.state = circuitClosed
		c.failures = 0
		return nil
	}

	if c.state == circuitHalfOpen {
		c.state = circuitOpen
		c.openedAt = now
		c.failures = 0
		return err
	}

	c.failures++
	if c.failures >= c.maxFails {
		c.state = circuitOpen
		c.openedAt = now
	}
	return err
}

// RateLimiter is a token-bucket limiter for outbound calls.
type RateLimiter struct {
	mu    sync.Mutex
	rate  time.Duration
	burst int
	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	tokens int
	last   time.Time
}

// NewRateLimiter constructs a limiter that refills one token every rate.
func NewRateLimiter(rate time.Duration, burst int) *RateLimiter {
	limiter := &RateLimiter{
		rate:  rate,
		burst: burst,
		now:   time.Now,
		sleep: sleepWithContext,
	}
	limiter.tokens = burst
	limiter.last = limiter.now()
	return limiter
}

// Wait blocks until a token is available or the context ends.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil || r.rate <= 0 || r.burst <= 0 {
		if ctx == nil {
			return nil
		}
		return ctx.Err()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		now := r.now()
		r.refill(now)
		if r.tokens > 0 {
			r.tokens--
			r.mu.Unlock()
			return nil
		}
		wait := r.rate - now.Sub(r.last)
		r.mu.Unlock()
		if wait <= 0 {
			continue
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RateLimiter) refill(now time.Time) {
	if r.rate <= 0 {
		r.tokens = r.burst
		r.last = now
		return
	}
	elapsed := now.Sub(r.last)
	if elapsed < r.rate {
		return
	}
	add := int(elapsed / r.rate)
	if add <= 0 {
		return
	}
	r.tokens += add
	if r.tokens > r.burst {
		r.tokens = r.burst
	}
	r.last = r.last.Add(time.Duration(add) * r.rate)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// guarded applies limiter and breaker around one outbound call.
func guarded(ctx context.Context, limiter *RateLimiter, breaker *CircuitBreaker, fn func() error) error {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if breaker != nil {
		return breaker.Execute(fn)
	}
	return fn()
}

// NewReliableInventoryClient wraps an InventoryClient with a breaker and limiter.
func NewReliableInventoryClient(base InventoryClient, limiter *RateLimiter, breaker *CircuitBreaker) *ReliableInventoryClient {
	return &ReliableInventoryClient{base: base, limiter: limiter, breaker: breaker}
}

// ReliableInventoryClient guards inventory calls.
type ReliableInventoryClient struct {
	base    InventoryClient
	limiter *RateLimiter
	breaker *CircuitBreaker
}

func (c *ReliableInventoryClient) CheckAvailability(ctx context.Context, reqs []inventory.Requirement) (inventory.Availability, error) {
	var avail inventory.Availability
	err := guarded(ctx, c.limiter, c.breaker, func() error {
		var callErr error
		avail, callErr = c.base.CheckAvailability(ctx, reqs)
		return callErr
	})
	return avail, err
}

func (c *ReliableInventoryClient) AdjustStock(ctx context.Context, itemID string, delta int) (int, error) {
	var quantity int
	err := guarded(ctx, c.limiter, c.breaker, func() error {
		var callErr error
		quantity, callErr = c.base.AdjustStock(ctx, itemID, delta)
		return callErr
	})
	return quantity, err
}

// NewReliableOrderClient wraps an OrderClient with a breaker and limiter.
func NewReliableOrderClient(base OrderClient, limiter *RateLimiter, breaker *CircuitBreaker) *ReliableOrderClient {
	return &ReliableOrderClient{base: base, limiter: limiter, breaker: breaker}
}

// ReliableOrderClient guards order calls.
type ReliableOrderClient struct {
	base    OrderClient
	limiter *RateLimiter
	breaker *CircuitBreaker
}

func (c *ReliableOrderClient) CreateOrder(ctx context.Context, customerID string, items []orders.LineItem, total float64, meta orders.Meta) (orders.Order, error) {
	var order orders.Order
	err := guarded(ctx, c.limiter, c.breaker, func() error {
		var callErr error
		order, callErr = c.base.CreateOrder(ctx, customerID, items, total, meta)
		return callErr
	})
	return order, err
}

// NewReliablePaymentClient wraps a PaymentClient with a breaker and limiter.
func NewReliablePaymentClient(base PaymentClient, limiter *RateLimiter, breaker *CircuitBreaker) *ReliablePaymentClient {
	return &ReliablePaymentClient{base: base, limiter: limiter, breaker: breaker}
}

// ReliablePaymentClient guards payment calls.
type ReliablePaymentClient struct {
	base    PaymentClient
	limiter *RateLimiter
	breaker *CircuitBreaker
}

func (c *ReliablePaymentClient) CreatePayment(ctx context.Context, orderID string, amount float64, method string) (payments.Payment, error) {
	var payment payments.Payment
	err := guarded(ctx, c.limiter, c.breaker, func() error {
		var callErr error
		payment, callErr = c.base.CreatePayment(ctx, orderID, amount, method)
		return callErr
	})
	return payment, err
}

func (c *ReliablePaymentClient) ConfirmPayment(ctx context.Context, paymentID string) (payments.Payment, error) {
	var payment payments.Payment
	err := guarded(ctx, c.limiter, c.breaker, func() error {
		var callErr error
		payment, callErr = c.base.ConfirmPayment(ctx, paymentID)
		return callErr
	})
	return payment, err
}

func (c *ReliablePaymentClient) Revenue(ctx context.Context) (float64, error) {
	var revenue float64
	err := guarded(ctx, c.limiter, c.breaker, func() error {
		var callErr error
		revenue, callErr = c.base.Revenue(ctx)
		return callErr
	})
	return revenue, err
}
