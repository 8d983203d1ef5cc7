package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// Metrics holds the prometheus collectors shared by instrumented gateways.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds and registers the gateway collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Gateway calls by payment type, operation and outcome.",
		}, []string{"payment_type", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settlement",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Gateway call latency by payment type and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"payment_type", "operation"}),
	}
	reg.MustRegister(m.calls, m.duration)
	return m
}

// WithMetrics decorates a gateway so every call is counted and timed.
func WithMetrics(gw PaymentGateway, m *Metrics) PaymentGateway {
	return &metricsGateway{next: gw, metrics: m}
}

type metricsGateway struct {
	next    PaymentGateway
	metrics *Metrics
}

func (g *metricsGateway) PaymentType() payment.PaymentType { return g.next.PaymentType() }

func (g *metricsGateway) observe(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case isProcessing(err):
		outcome = "declined"
	default:
		outcome = "error"
	}
	pt := string(g.next.PaymentType())
	g.metrics.calls.WithLabelValues(pt, op, outcome).Inc()
	g.metrics.duration.WithLabelValues(pt, op).Observe(time.Since(start).Seconds())
}

func isProcessing(err error) bool {
	var pe *payment.ProcessingError
	return errors.As(err, &pe)
}

func (g *metricsGateway) PreAuthorize(ctx context.Context, p *payment.OrderPayment, billing *order.Address) error {
	start := time.Now()
	err := g.next.PreAuthorize(ctx, p, billing)
	g.observe("pre_authorize", start, err)
	return err
}

func (g *metricsGateway) Capture(ctx context.Context, p *payment.OrderPayment) error {
	start := time.Now()
	err := g.next.Capture(ctx, p)
	g.observe("capture", start, err)
	return err
}

func (g *metricsGateway) ReversePreAuthorization(ctx context.Context, p *payment.OrderPayment) error {
	start := time.Now()
	err := g.next.ReversePreAuthorization(ctx, p)
	g.observe("reverse_pre_authorization", start, err)
	return err
}

func (g *metricsGateway) VoidCaptureOrCredit(ctx context.Context, p *payment.OrderPayment) error {
	start := time.Now()
	err := g.next.VoidCaptureOrCredit(ctx, p)
	g.observe("void_capture_or_credit", start, err)
	return err
}

func (g *metricsGateway) FinalizeShipment(ctx context.Context, shipment *order.OrderShipment) error {
	start := time.Now()
	err := g.next.FinalizeShipment(ctx, shipment)
	g.observe("finalize_shipment", start, err)
	return err
}
