// Package gatewaytest provides a scripted in-memory PaymentGateway for
// tests. It records every call and can be programmed to decline or error on
// specific operations.
package gatewaytest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// Call is one recorded gateway invocation.
type Call struct {
	Op        string
	PaymentID uuid.UUID
	Method    payment.PaymentType
	Tx        payment.TransactionType
	Amount    decimal.Decimal
}

// Gateway is a fake processor. Respond, when set, is consulted before every
// call; returning a non-nil error injects it as the call's outcome (use
// *payment.ProcessingError for declines, anything else for transport faults).
type Gateway struct {
	Type    payment.PaymentType
	Respond func(op string, p *payment.OrderPayment) error

	Calls              []Call
	FinalizedShipments []string
}

// New returns a gateway that approves everything.
func New(t payment.PaymentType) *Gateway {
	return &Gateway{Type: t}
}

func (g *Gateway) PaymentType() payment.PaymentType { return g.Type }

func (g *Gateway) call(op string, p *payment.OrderPayment) error {
	g.Calls = append(g.Calls, Call{
		Op:        op,
		PaymentID: p.ID,
		Method:    p.Method,
		Tx:        p.TransactionType,
		Amount:    p.Amount,
	})
	if g.Respond != nil {
		return g.Respond(op, p)
	}
	return nil
}

func (g *Gateway) PreAuthorize(_ context.Context, p *payment.OrderPayment, _ *order.Address) error {
	if err := g.call("pre_authorize", p); err != nil {
		return err
	}
	if p.AuthorizationCode == "" {
		p.AuthorizationCode = fmt.Sprintf("AUTH-%08x", len(g.Calls))
	}
	return nil
}

func (g *Gateway) Capture(_ context.Context, p *payment.OrderPayment) error {
	return g.call("capture", p)
}

func (g *Gateway) ReversePreAuthorization(_ context.Context, p *payment.OrderPayment) error {
	return g.call("reverse_pre_authorization", p)
}

func (g *Gateway) VoidCaptureOrCredit(_ context.Context, p *payment.OrderPayment) error {
	return g.call("void_capture_or_credit", p)
}

func (g *Gateway) FinalizeShipment(_ context.Context, s *order.OrderShipment) error {
	g.FinalizedShipments = append(g.FinalizedShipments, s.ShipmentNumber)
	return nil
}

// CallCount returns how many times the named operation was invoked.
func (g *Gateway) CallCount(op string) int {
	n := 0
	for _, c := range g.Calls {
		if c.Op == op {
			n++
		}
	}
	return n
}
