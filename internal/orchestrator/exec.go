package orchestrator

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

const paymentFatalFail = "exception occurred while processing payments"

// record appends an attempted payment to the order's history and to the
// result, in that order. Every attempted payment is recorded exactly once,
// whatever its outcome.
func record(ord *order.Order, result *payment.Result, p *payment.OrderPayment) {
	ord.AddPayment(p)
	result.AddProcessedPayment(p)
}

// authorizeShipment runs the sufficiency guard and then authorizes the
// candidate batch. With fullAuth set, a batch whose total does not cover the
// shipment's required authorization amount fails before any gateway call.
func (o *Orchestrator) authorizeShipment(ctx context.Context, ord *order.Order, shipment *order.OrderShipment,
	candidates []*payment.OrderPayment, result *payment.Result, fullAuth bool) error {

	if len(candidates) == 0 {
		return nil
	}
	if fullAuth {
		required := ord.FullAuthorizationAmount(shipment)
		available := sumAmounts(candidates)
		if available.LessThan(required) {
			result.Fail(&payment.InsufficientFundError{Required: required, Available: available})
			return nil
		}
	}
	return o.preAuthorizeBatch(ctx, ord, candidates, result)
}

// preAuthorizeBatch authorizes payments one by one against the order's
// billing address. A decline fails the payment and stops the batch; an
// unexpected gateway error is fatal. Either way the attempted payment lands
// in the history first.
func (o *Orchestrator) preAuthorizeBatch(ctx context.Context, ord *order.Order,
	payments []*payment.OrderPayment, result *payment.Result) error {

	for _, p := range payments {
		gw, err := o.gateways.Resolve(ord, p.Method)
		if err != nil {
			record(ord, result, p)
			return err
		}

		o.logger.Debug("calling gateway pre-authorize",
			zap.String("order", ord.OrderNumber),
			zap.String("payment_type", string(p.Method)),
			zap.String("amount", p.Amount.String()))

		err = gw.PreAuthorize(ctx, p, &ord.BillingAddress)
		switch {
		case err == nil:
			p.Status = payment.StatusApproved
			record(ord, result, p)
		case isProcessingError(err):
			o.logger.Debug("authorization was unsuccessful", zap.Error(err))
			p.Status = payment.StatusFailed
			record(ord, result, p)
			result.Fail(err)
			return nil
		default:
			record(ord, result, p)
			return &payment.ServiceError{Msg: paymentFatalFail, Err: err}
		}
	}
	return nil
}

// captureBatch settles capture payments in batch order, fail-fast on the
// first decline. Entries that are not captures are skipped.
func (o *Orchestrator) captureBatch(ctx context.Context, ord *order.Order,
	payments []*payment.OrderPayment, result *payment.Result) error {

	for _, p := range payments {
		if p.TransactionType != payment.TxCapture {
			continue
		}
		gw, err := o.gateways.Resolve(ord, p.Method)
		if err != nil {
			record(ord, result, p)
			return err
		}

		o.logger.Debug("capturing payment",
			zap.String("order", ord.OrderNumber),
			zap.String("payment_type", string(p.Method)),
			zap.String("amount", p.Amount.String()))

		err = gw.Capture(ctx, p)
		switch {
		case err == nil:
			p.Status = payment.StatusApproved
			record(ord, result, p)
		case isProcessingError(err):
			o.logger.Debug("capture was unsuccessful", zap.Error(err))
			p.Status = payment.StatusFailed
			record(ord, result, p)
			result.Fail(err)
			return nil
		default:
			record(ord, result, p)
			return &payment.ServiceError{Msg: paymentFatalFail, Err: err}
		}
	}
	return nil
}

// reverseBatch releases authorization holds. With failFast set (cancellation
// paths) the first decline fails the result and stops the batch. Without it
// (post-adjustment reversal of superseded holds) each decline is recorded
// and the remaining reversals still run: the new authorization already
// covers the shipment, so a stuck old hold must not fail the adjustment.
func (o *Orchestrator) reverseBatch(ctx context.Context, ord *order.Order,
	payments []*payment.OrderPayment, result *payment.Result, failFast bool) error {

	for _, p := range payments {
		if p.TransactionType != payment.TxReverseAuthorization {
			continue
		}
		gw, err := o.gateways.Resolve(ord, p.Method)
		if err != nil {
			record(ord, result, p)
			return err
		}

		o.logger.Debug("reversing authorization",
			zap.String("order", ord.OrderNumber),
			zap.String("payment_type", string(p.Method)),
			zap.String("amount", p.Amount.String()))

		err = gw.ReversePreAuthorization(ctx, p)
		switch {
		case err == nil:
			p.Status = payment.StatusApproved
			record(ord, result, p)
		case isProcessingError(err):
			p.Status = payment.StatusFailed
			record(ord, result, p)
			if failFast {
				result.Fail(err)
				return nil
			}
			o.logger.Warn("reversal was unsuccessful, continuing with remaining reversals", zap.Error(err))
			result.SetCause(err)
		default:
			record(ord, result, p)
			return &payment.ServiceError{Msg: paymentFatalFail, Err: err}
		}
	}
	return nil
}

// reversalCandidates asks each authorization's handler for the entries that
// release it.
func (o *Orchestrator) reversalCandidates(ord *order.Order, shipment *order.OrderShipment,
	auths []*payment.OrderPayment) ([]*payment.OrderPayment, error) {

	var reversals []*payment.OrderPayment
	for _, auth := range auths {
		h, err := o.handlers.Handler(auth.Method)
		if err != nil {
			return nil, err
		}
		contributed, err := h.ReversalCandidates(auth, ord, shipment)
		if err != nil {
			return nil, err
		}
		reversals = append(reversals, contributed...)
	}
	return reversals, nil
}

func isProcessingError(err error) bool {
	var pe *payment.ProcessingError
	return errors.As(err, &pe)
}
