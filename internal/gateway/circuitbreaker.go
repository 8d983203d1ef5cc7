package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// BreakerState is the state of a gateway's circuit.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

const (
	defaultFailureThreshold         = 5
	defaultOpenStateTimeout         = 30 * time.Second
	defaultHalfOpenSuccessThreshold = 2
)

// Breaker trips after consecutive transport failures and short-circuits
// further calls while open. Declines do not count as failures: a processor
// that answers "insufficient funds" is healthy.
//
// A short-circuited call surfaces as a ProcessingError so the engine records
// a failed payment instead of aborting the whole orchestration.
type Breaker struct {
	mu                       sync.Mutex
	state                    BreakerState
	consecutiveFailures      int
	consecutiveSuccesses     int
	openUntil                time.Time
	failureThreshold         int
	openStateTimeout         time.Duration
	halfOpenSuccessThreshold int
}

// NewBreaker returns a closed breaker with default thresholds.
func NewBreaker() *Breaker {
	return &Breaker{
		failureThreshold:         defaultFailureThreshold,
		openStateTimeout:         defaultOpenStateTimeout,
		halfOpenSuccessThreshold: defaultHalfOpenSuccessThreshold,
	}
}

// NewBreakerWithSettings returns a breaker with custom thresholds.
func NewBreakerWithSettings(failThreshold int, openTimeout time.Duration, halfOpenSuccess int) *Breaker {
	return &Breaker{
		failureThreshold:         failThreshold,
		openStateTimeout:         openTimeout,
		halfOpenSuccessThreshold: halfOpenSuccess,
	}
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Now().After(b.openUntil) {
			b.state = BreakerHalfOpen
			b.consecutiveSuccesses = 0
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openUntil = time.Now().Add(b.openStateTimeout)
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openUntil = time.Now().Add(b.openStateTimeout)
		b.consecutiveFailures = 0
		b.consecutiveSuccesses = 0
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.consecutiveFailures = 0
	case BreakerHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.halfOpenSuccessThreshold {
			b.state = BreakerClosed
			b.consecutiveFailures = 0
			b.consecutiveSuccesses = 0
		}
	}
}

// State returns the current breaker state for monitoring.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// WithBreaker decorates a gateway with the given breaker.
func WithBreaker(gw PaymentGateway, b *Breaker) PaymentGateway {
	return &breakerGateway{next: gw, breaker: b}
}

type breakerGateway struct {
	next    PaymentGateway
	breaker *Breaker
}

func (g *breakerGateway) PaymentType() payment.PaymentType { return g.next.PaymentType() }

func (g *breakerGateway) call(fn func() error) error {
	if !g.breaker.allow() {
		return &payment.ProcessingError{
			Reason: "gateway circuit open for payment type " + string(g.next.PaymentType()),
		}
	}
	err := fn()
	if err != nil && !isProcessing(err) {
		g.breaker.recordFailure()
	} else {
		g.breaker.recordSuccess()
	}
	return err
}

func (g *breakerGateway) PreAuthorize(ctx context.Context, p *payment.OrderPayment, billing *order.Address) error {
	return g.call(func() error { return g.next.PreAuthorize(ctx, p, billing) })
}

func (g *breakerGateway) Capture(ctx context.Context, p *payment.OrderPayment) error {
	return g.call(func() error { return g.next.Capture(ctx, p) })
}

func (g *breakerGateway) ReversePreAuthorization(ctx context.Context, p *payment.OrderPayment) error {
	return g.call(func() error { return g.next.ReversePreAuthorization(ctx, p) })
}

func (g *breakerGateway) VoidCaptureOrCredit(ctx context.Context, p *payment.OrderPayment) error {
	return g.call(func() error { return g.next.VoidCaptureOrCredit(ctx, p) })
}

func (g *breakerGateway) FinalizeShipment(ctx context.Context, shipment *order.OrderShipment) error {
	return g.call(func() error { return g.next.FinalizeShipment(ctx, shipment) })
}
