package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// base carries the candidate construction shared by all handlers.
type base struct {
	method payment.PaymentType
}

func (b base) PaymentType() payment.PaymentType { return b.method }

func (b base) BeforeInitializePayments(*payment.OrderPayment, *order.Order) ([]*payment.OrderPayment, error) {
	return nil, nil
}

func (b base) CanAuthorizePartly(*order.Order, *order.OrderShipment) bool { return false }

func (b base) CanCapture(auth *payment.OrderPayment, amount decimal.Decimal) bool {
	return auth.Amount.GreaterThanOrEqual(amount)
}

// currentAuthTotal sums the batch built so far, rejecting entries that are
// not authorizations.
func currentAuthTotal(current []*payment.OrderPayment) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range current {
		if p.TransactionType != payment.TxAuthorization {
			return decimal.Zero, &payment.ServiceError{Msg: "authorization batch contains a non-authorization payment"}
		}
		total = total.Add(p.Amount)
	}
	return total, nil
}

func currentCaptureTotal(current []*payment.OrderPayment) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range current {
		if p.TransactionType != payment.TxCapture {
			return decimal.Zero, &payment.ServiceError{Msg: "capture batch contains a non-capture payment"}
		}
		total = total.Add(p.Amount)
	}
	return total, nil
}

func (b base) newAuthPayment(template *payment.OrderPayment, ord *order.Order,
	shipment *order.OrderShipment, amount decimal.Decimal) (*payment.OrderPayment, error) {

	if !amount.IsPositive() {
		return nil, &payment.ServiceError{Msg: "cannot create an authorization payment for a non-positive amount"}
	}

	p := &payment.OrderPayment{
		ID:              uuid.New(),
		Amount:          amount,
		Currency:        ord.Currency,
		TransactionType: payment.TxAuthorization,
		Status:          payment.StatusPending,
		Method:          b.method,
		CreatedAt:       time.Now(),
		ShipmentNumber:  shipment.ShipmentNumber,
		ReferenceID:     shipment.ShipmentNumber,
		IPAddress:       ord.IPAddress,
	}
	p.CopyInstrumentInfo(template)
	p.CopyFollowOnInfo(template)
	p.ReferenceID = shipment.ShipmentNumber
	if p.Email == "" {
		p.Email = ord.CustomerEmail
	}
	return p, nil
}

func (b base) newCapturePayment(auth *payment.OrderPayment, ord *order.Order,
	shipment *order.OrderShipment, amount decimal.Decimal) *payment.OrderPayment {

	p := &payment.OrderPayment{
		ID:              uuid.New(),
		Amount:          amount,
		Currency:        ord.Currency,
		TransactionType: payment.TxCapture,
		Status:          payment.StatusPending,
		Method:          b.method,
		CreatedAt:       time.Now(),
		ShipmentNumber:  shipment.ShipmentNumber,
		AuthorizedBy:    auth.ID,
	}
	p.CopyInstrumentInfo(auth)
	p.CopyFollowOnInfo(auth)
	if p.Email == "" {
		p.Email = ord.CustomerEmail
	}
	return p
}

func (b base) newReversePayment(auth *payment.OrderPayment, shipment *order.OrderShipment) *payment.OrderPayment {
	p := &payment.OrderPayment{
		ID:              uuid.New(),
		Amount:          auth.Amount,
		Currency:        auth.Currency,
		TransactionType: payment.TxReverseAuthorization,
		Status:          payment.StatusPending,
		Method:          b.method,
		CreatedAt:       time.Now(),
		ShipmentNumber:  shipment.ShipmentNumber,
		AuthorizedBy:    auth.ID,
	}
	p.CopyInstrumentInfo(auth)
	p.CopyFollowOnInfo(auth)
	return p
}

// AuthorizationCandidates covers the amount the batch so far leaves open
// with a single authorization.
func (b base) AuthorizationCandidates(template *payment.OrderPayment, ord *order.Order,
	shipment *order.OrderShipment, current []*payment.OrderPayment) ([]*payment.OrderPayment, error) {

	covered, err := currentAuthTotal(current)
	if err != nil {
		return nil, err
	}
	remaining := ord.FullAuthorizationAmount(shipment).Sub(covered)
	if !remaining.IsPositive() {
		return nil, nil
	}
	p, err := b.newAuthPayment(template, ord, shipment, remaining)
	if err != nil {
		return nil, err
	}
	return []*payment.OrderPayment{p}, nil
}

// CaptureCandidates settles whatever the batch so far leaves open against
// the given authorization.
func (b base) CaptureCandidates(auth *payment.OrderPayment, ord *order.Order,
	shipment *order.OrderShipment, current []*payment.OrderPayment) ([]*payment.OrderPayment, error) {

	captured, err := currentCaptureTotal(current)
	if err != nil {
		return nil, err
	}
	remaining := ord.CaptureAmount(shipment).Sub(captured)
	if !remaining.IsPositive() {
		return nil, nil
	}
	return []*payment.OrderPayment{b.newCapturePayment(auth, ord, shipment, remaining)}, nil
}

// ReversalCandidates releases the given authorization in full.
func (b base) ReversalCandidates(auth *payment.OrderPayment, _ *order.Order,
	shipment *order.OrderShipment) ([]*payment.OrderPayment, error) {

	if auth == nil {
		return nil, nil
	}
	return []*payment.OrderPayment{b.newReversePayment(auth, shipment)}, nil
}
