// Package gateway defines the contract a payment processor integration must
// satisfy, plus decorators (metrics, circuit breaking) that wrap any
// implementation. The engine resolves one gateway per (store, payment type)
// pair and calls it synchronously; a gateway call blocks until the processor
// answers or the supplied context is done.
package gateway

import (
	"context"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// PaymentGateway executes transactions for one payment type.
//
// An expected decline must be returned as *payment.ProcessingError; any other
// error is treated as fatal by the engine and aborts the orchestration call.
type PaymentGateway interface {
	PaymentType() payment.PaymentType

	PreAuthorize(ctx context.Context, p *payment.OrderPayment, billing *order.Address) error
	Capture(ctx context.Context, p *payment.OrderPayment) error
	ReversePreAuthorization(ctx context.Context, p *payment.OrderPayment) error
	VoidCaptureOrCredit(ctx context.Context, p *payment.OrderPayment) error

	// FinalizeShipment tells the processor the shipment is settled and no
	// follow-on transactions will reference it.
	FinalizeShipment(ctx context.Context, shipment *order.OrderShipment) error
}
