package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// ProcessShipmentPayment captures funds for a shipment: it first adjusts the
// shipment's authorizations, then captures every active hold in capture
// order, and finally reverses gift certificate holds the capture did not
// consume so their balances are not held indefinitely.
//
// The shipment must report IsReadyForFundsCapture; otherwise an
// InvalidShipmentStateError is returned. A failed adjustment is returned
// untouched — capture never proceeds on an inconsistent authorization state.
// For a zero-total shipment the call is a no-op and returns a nil result.
func (o *Orchestrator) ProcessShipmentPayment(ctx context.Context, ord *order.Order,
	shipment *order.OrderShipment) (*payment.Result, error) {

	ctx, span := o.tracer.Start(ctx, "Orchestrator.ProcessShipmentPayment")
	defer span.End()

	if !shipment.IsReadyForFundsCapture() {
		return nil, &payment.InvalidShipmentStateError{Status: string(shipment.Status)}
	}

	adjusted, err := o.AdjustShipmentPayment(ctx, ord, shipment, nil)
	if err != nil {
		return adjusted, err
	}
	if adjusted == nil || !adjusted.OK() {
		return adjusted, nil
	}

	result := payment.NewResult()
	result.AddProcessedPayments(adjusted.ProcessedPayments)

	var captures []*payment.OrderPayment
	for _, auth := range o.AllActiveAuthorizationPayments(ord, shipment) {
		h, err := o.handlers.Handler(auth.Method)
		if err != nil {
			return result, err
		}
		contributed, err := h.CaptureCandidates(auth, ord, shipment, captures)
		if err != nil {
			return result, err
		}
		captures = append(captures, contributed...)
	}

	if err := o.captureBatch(ctx, ord, captures, result); err != nil {
		return result, err
	}
	if !result.OK() {
		return result, nil
	}

	// A certificate hold can go unused when the shipment total dropped after
	// it was placed and fewer holds now settle the full amount.
	unusedReversals, err := o.reversalCandidates(ord, shipment,
		ord.ActiveGiftCertificateAuths(shipment.ShipmentNumber))
	if err != nil {
		return result, err
	}
	if err := o.reverseBatch(ctx, ord, unusedReversals, result, true); err != nil {
		return result, err
	}
	return result, nil
}

// CancelShipmentPayment reverses every active authorization of a
// cancellable shipment.
func (o *Orchestrator) CancelShipmentPayment(ctx context.Context, ord *order.Order,
	shipment *order.OrderShipment) (*payment.Result, error) {

	ctx, span := o.tracer.Start(ctx, "Orchestrator.CancelShipmentPayment")
	defer span.End()

	if !shipment.IsCancellable() {
		return nil, &payment.ServiceError{
			Msg: "shipment is not in a state that allows it to be cancelled: " + string(shipment.Status),
		}
	}

	result := payment.NewResult()
	reversals, err := o.reversalCandidates(ord, shipment, o.AllActiveAuthorizationPayments(ord, shipment))
	if err != nil {
		return nil, err
	}
	if err := o.reverseBatch(ctx, ord, reversals, result, true); err != nil {
		return result, err
	}
	return result, nil
}

// CancelOrderPayments cancels every shipment of a cancellable order. A
// failure on one shipment does not prevent attempting the rest; the merged
// result carries the processed payments of all shipments so the caller sees
// the full picture even under partial failure.
func (o *Orchestrator) CancelOrderPayments(ctx context.Context, ord *order.Order) (*payment.Result, error) {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.CancelOrderPayments")
	defer span.End()

	if !ord.IsCancellable() {
		return nil, &payment.ServiceError{Msg: "order is not cancellable"}
	}

	result := payment.NewResult()
	var errs []error
	for _, shipment := range ord.Shipments() {
		shipmentResult, err := o.CancelShipmentPayment(ctx, ord, shipment)
		if shipmentResult != nil {
			result.AddProcessedPayments(shipmentResult.ProcessedPayments)
			if !shipmentResult.OK() {
				result.Fail(shipmentResult.Cause)
			}
		}
		if err != nil {
			o.logger.Error("cancelling shipment payment failed",
				zap.String("order", ord.OrderNumber),
				zap.String("shipment", shipment.ShipmentNumber),
				zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return result, &payment.ServiceError{Msg: "cancel order payments", Err: errors.Join(errs...)}
	}
	return result, nil
}

// CompensationError pairs a payment with the error that prevented rolling
// it back.
type CompensationError struct {
	Payment *payment.OrderPayment
	Err     error
}

// RollBackPayments best-effort reverses previously approved payments,
// typically the processed list of an earlier failed result. Authorizations
// are reversed, captures voided or credited; other entries are skipped.
// Each payment is compensated independently: a failure is collected and the
// remaining payments are still attempted, because compensation must not
// itself block forward progress. No new ledger entries are created.
func (o *Orchestrator) RollBackPayments(ctx context.Context, ord *order.Order,
	payments []*payment.OrderPayment) []CompensationError {

	ctx, span := o.tracer.Start(ctx, "Orchestrator.RollBackPayments")
	defer span.End()

	var failures []CompensationError
	for _, p := range payments {
		if p.Status != payment.StatusApproved {
			continue
		}

		gw, err := o.gateways.Resolve(ord, p.Method)
		if err != nil {
			o.logger.Error("cannot roll back order payment", zap.String("order", ord.OrderNumber), zap.Error(err))
			failures = append(failures, CompensationError{Payment: p, Err: err})
			continue
		}

		switch p.TransactionType {
		case payment.TxAuthorization:
			err = gw.ReversePreAuthorization(ctx, p)
		case payment.TxCapture:
			err = gw.VoidCaptureOrCredit(ctx, p)
		default:
			continue
		}
		if err != nil {
			o.logger.Error("cannot roll back order payment",
				zap.String("order", ord.OrderNumber),
				zap.String("payment_type", string(p.Method)),
				zap.Error(err))
			failures = append(failures, CompensationError{Payment: p, Err: err})
		}
	}
	return failures
}

// FinalizeShipment tells the conventional gateway the shipment is settled.
// Fully gift-certificate-funded shipments have no conventional hold and the
// call is a no-op.
func (o *Orchestrator) FinalizeShipment(ctx context.Context, ord *order.Order, shipment *order.OrderShipment) error {
	ctx, span := o.tracer.Start(ctx, "Orchestrator.FinalizeShipment")
	defer span.End()

	auth := ord.ActiveConventionalAuth(shipment.ShipmentNumber)
	if auth == nil {
		return nil
	}
	gw, err := o.gateways.Resolve(ord, auth.Method)
	if err != nil {
		return err
	}
	if err := gw.FinalizeShipment(ctx, shipment); err != nil {
		return &payment.ServiceError{Msg: "finalize shipment " + shipment.ShipmentNumber, Err: err}
	}
	return nil
}
