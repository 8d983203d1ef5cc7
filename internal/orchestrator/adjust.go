package orchestrator

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// AdditionalAuthAmount computes how much authorization the shipment still
// needs on top of its active holds. Zero means no re-authorization is
// required — either the holds already cover the total, or the active
// conventional hold can settle the remaining capture amount by itself, in
// which case re-authorizing would be pointless churn.
func (o *Orchestrator) AdditionalAuthAmount(ord *order.Order, shipment *order.OrderShipment) (decimal.Decimal, error) {
	required := ord.FullAuthorizationAmount(shipment)
	authByGC := ord.AuthorizedByGiftCertificates(shipment.ShipmentNumber)
	authByConventional := ord.AuthorizedByConventional(shipment.ShipmentNumber)
	additional := required.Sub(authByGC.Add(authByConventional))

	if !additional.IsPositive() {
		return decimal.Zero, nil
	}

	if conv := ord.ActiveConventionalAuth(shipment.ShipmentNumber); conv != nil {
		h, err := o.handlers.Handler(conv.Method)
		if err != nil {
			return decimal.Zero, err
		}
		if h.CanCapture(conv, required.Sub(authByGC)) {
			return decimal.Zero, nil
		}
	}
	return additional, nil
}

// AdjustShipmentPayment re-authorizes a shipment whose total changed. When
// additional authorization is needed it authorizes the new hold first and
// only then reverses the superseded ones, so the shipment never passes
// through a state with no valid authorization; if the new authorization
// fails, nothing is reversed.
//
// A nil template selects the most recently created active authorization
// (gift certificate preferred) as the re-authorization template; with no
// active authorization at all there is nothing to adjust against and a
// ServiceError is returned. For a zero-total shipment the call is a no-op
// and returns a nil result.
//
// Reversal declines after a successful new authorization are recorded as
// failed payments and set the result's Cause, but do not flip the result
// code and do not stop the remaining reversals. That partial success is
// deliberate: compensation must not block forward progress.
func (o *Orchestrator) AdjustShipmentPayment(ctx context.Context, ord *order.Order,
	shipment *order.OrderShipment, template *payment.OrderPayment) (*payment.Result, error) {

	ctx, span := o.tracer.Start(ctx, "Orchestrator.AdjustShipmentPayment")
	defer span.End()

	o.logger.Debug("adjusting shipment payment",
		zap.String("order", ord.OrderNumber),
		zap.String("shipment", shipment.ShipmentNumber))

	if template == nil {
		if shipment.Total.IsZero() {
			return nil, nil
		}
		template = o.adjustmentTemplate(ord, shipment)
		if template == nil {
			return nil, &payment.ServiceError{Msg: "no matching authorization payment found"}
		}
	}

	result := payment.NewResult()

	additional, err := o.AdditionalAuthAmount(ord, shipment)
	if err != nil {
		return nil, err
	}
	if !additional.IsPositive() {
		return result, nil
	}

	h, err := o.handlers.Handler(template.Method)
	if err != nil {
		return nil, err
	}
	newAuths, err := h.AuthorizationCandidates(template, ord, shipment, nil)
	if err != nil {
		return nil, err
	}

	// Snapshot the reversals before authorizing: they must reference the
	// pre-adjustment holds.
	reversals, err := o.reversalCandidates(ord, shipment, o.AllActiveAuthorizationPayments(ord, shipment))
	if err != nil {
		return nil, err
	}

	if err := o.authorizeShipment(ctx, ord, shipment, newAuths, result, true); err != nil {
		return result, err
	}
	if !result.OK() {
		return result, nil
	}

	if err := o.reverseBatch(ctx, ord, reversals, result, false); err != nil {
		return result, err
	}
	return result, nil
}

// adjustmentTemplate picks the payment to re-authorize from: the newest
// active gift certificate hold if any, else the conventional hold.
func (o *Orchestrator) adjustmentTemplate(ord *order.Order, shipment *order.OrderShipment) *payment.OrderPayment {
	if gcAuths := ord.ActiveGiftCertificateAuths(shipment.ShipmentNumber); len(gcAuths) > 0 {
		return gcAuths[len(gcAuths)-1]
	}
	return ord.ActiveConventionalAuth(shipment.ShipmentNumber)
}
