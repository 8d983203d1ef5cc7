// Package handler decides, per payment type, which concrete ledger entries a
// settlement operation must attempt. Handlers never call gateways; they build
// candidate OrderPayments from a template and the shipment being processed,
// and the orchestrator executes them.
package handler

import (
	"github.com/shopspring/decimal"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// PaymentHandler is the per-type candidate policy.
//
// The Candidates methods receive the batch built so far ("current") so a
// handler can compute the amount still uncovered; they return only the
// entries they contribute.
type PaymentHandler interface {
	PaymentType() payment.PaymentType

	// BeforeInitializePayments returns order-level pre-authorization
	// candidates, or nil when the type needs none.
	BeforeInitializePayments(template *payment.OrderPayment, ord *order.Order) ([]*payment.OrderPayment, error)

	AuthorizationCandidates(template *payment.OrderPayment, ord *order.Order,
		shipment *order.OrderShipment, current []*payment.OrderPayment) ([]*payment.OrderPayment, error)

	CaptureCandidates(auth *payment.OrderPayment, ord *order.Order,
		shipment *order.OrderShipment, current []*payment.OrderPayment) ([]*payment.OrderPayment, error)

	ReversalCandidates(auth *payment.OrderPayment, ord *order.Order,
		shipment *order.OrderShipment) ([]*payment.OrderPayment, error)

	// CanAuthorizePartly reports whether the type tolerates an authorization
	// batch that covers less than the shipment total.
	CanAuthorizePartly(ord *order.Order, shipment *order.OrderShipment) bool

	// CanCapture reports whether the given authorization can settle amount.
	CanCapture(auth *payment.OrderPayment, amount decimal.Decimal) bool
}

// Registry maps payment types to their handlers. Construction stays outside
// the orchestrator so callers control which types are enabled.
type Registry struct {
	handlers map[payment.PaymentType]PaymentHandler
}

// NewRegistry builds a registry from the given handlers.
func NewRegistry(hs ...PaymentHandler) *Registry {
	m := make(map[payment.PaymentType]PaymentHandler, len(hs))
	for _, h := range hs {
		m[h.PaymentType()] = h
	}
	return &Registry{handlers: m}
}

// NewDefaultRegistry registers every handler this package ships.
func NewDefaultRegistry() *Registry {
	return NewRegistry(
		NewCardHandler(),
		NewGiftCertificateHandler(),
		NewPayPalExpressHandler(),
		NewExchangeHandler(),
	)
}

// Handler resolves the handler for a payment type. A missing handler is a
// configuration fault.
func (r *Registry) Handler(t payment.PaymentType) (PaymentHandler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, &payment.ServiceError{Msg: "no payment handler registered for payment type " + string(t)}
	}
	return h, nil
}
