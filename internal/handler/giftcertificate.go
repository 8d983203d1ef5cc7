package handler

import (
	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// GiftCertificateHandler holds and settles stored-value certificates. A
// certificate can only cover up to its balance, so one shipment may carry
// several gift certificate authorizations followed by a conventional one for
// the remainder.
type GiftCertificateHandler struct {
	base
}

func NewGiftCertificateHandler() *GiftCertificateHandler {
	return &GiftCertificateHandler{base{method: payment.TypeGiftCertificate}}
}

func (h *GiftCertificateHandler) AuthorizationCandidates(template *payment.OrderPayment, ord *order.Order,
	shipment *order.OrderShipment, current []*payment.OrderPayment) ([]*payment.OrderPayment, error) {

	gc := template.GiftCertificate
	if gc == nil {
		return nil, &payment.ServiceError{Msg: "gift certificate template payment has no certificate"}
	}

	covered, err := currentAuthTotal(current)
	if err != nil {
		return nil, err
	}
	remaining := ord.FullAuthorizationAmount(shipment).Sub(covered)
	if !remaining.IsPositive() {
		return nil, nil
	}

	amount := decimalMin(remaining, gc.Balance)
	if !amount.IsPositive() {
		return nil, nil
	}
	p, err := h.newAuthPayment(template, ord, shipment, amount)
	if err != nil {
		return nil, err
	}
	return []*payment.OrderPayment{p}, nil
}

// CaptureCandidates settles at most the authorized amount; a certificate
// authorization that the running total no longer needs contributes nothing
// and is reversed by the unused-certificate cleanup after capture.
func (h *GiftCertificateHandler) CaptureCandidates(auth *payment.OrderPayment, ord *order.Order,
	shipment *order.OrderShipment, current []*payment.OrderPayment) ([]*payment.OrderPayment, error) {

	captured, err := currentCaptureTotal(current)
	if err != nil {
		return nil, err
	}
	remaining := ord.CaptureAmount(shipment).Sub(captured)
	if !remaining.IsPositive() {
		return nil, nil
	}

	amount := decimalMin(remaining, auth.Amount)
	return []*payment.OrderPayment{h.newCapturePayment(auth, ord, shipment, amount)}, nil
}
