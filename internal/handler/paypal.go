package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// captureExceedFactor is how far above its authorization a PayPal hold may be
// captured without re-authorizing.
var captureExceedFactor = decimal.NewFromFloat(1.15)

// PayPalExpressHandler models wallet flows that pre-authorize at the order
// level. Once the order carries a PayPal authorization, shipments may be
// authorized partly (or not at all) because the order-level hold backs them.
type PayPalExpressHandler struct {
	base
}

func NewPayPalExpressHandler() *PayPalExpressHandler {
	return &PayPalExpressHandler{base{method: payment.TypePayPalExpress}}
}

// BeforeInitializePayments creates the order-level transaction the wallet
// requires before any shipment hold can be placed.
func (h *PayPalExpressHandler) BeforeInitializePayments(template *payment.OrderPayment, ord *order.Order) ([]*payment.OrderPayment, error) {
	if !ord.Total.IsPositive() {
		return nil, &payment.ServiceError{Msg: "cannot create an order payment for a non-positive amount"}
	}
	p := &payment.OrderPayment{
		ID:              uuid.New(),
		Amount:          ord.Total,
		Currency:        ord.Currency,
		TransactionType: payment.TxOrder,
		Status:          payment.StatusPending,
		Method:          payment.TypePayPalExpress,
		CreatedAt:       time.Now(),
		ReferenceID:     ord.OrderNumber,
		IPAddress:       ord.IPAddress,
	}
	p.CopyInstrumentInfo(template)
	p.CopyFollowOnInfo(template)
	p.ReferenceID = ord.OrderNumber
	if p.Email == "" {
		p.Email = ord.CustomerEmail
	}
	return []*payment.OrderPayment{p}, nil
}

// AuthorizationCandidates places an order-level authorization unless one
// already backs the order.
func (h *PayPalExpressHandler) AuthorizationCandidates(template *payment.OrderPayment, ord *order.Order,
	shipment *order.OrderShipment, current []*payment.OrderPayment) ([]*payment.OrderPayment, error) {

	if h.CanAuthorizePartly(ord, shipment) {
		return nil, nil
	}

	covered, err := currentAuthTotal(current)
	if err != nil {
		return nil, err
	}
	remaining := ord.FullAuthorizationAmount(shipment).Sub(covered)
	if !remaining.IsPositive() {
		return nil, nil
	}

	p, err := h.newAuthPayment(template, ord, shipment, remaining)
	if err != nil {
		return nil, err
	}
	// The hold lives at the order level so electronic shipments can capture
	// against it during checkout.
	p.ShipmentNumber = ""
	p.ReferenceID = ord.OrderNumber
	if orderAuth := ord.ActiveOrderAuthorization(); orderAuth != nil {
		p.AuthorizationCode = orderAuth.AuthorizationCode
	}
	return []*payment.OrderPayment{p}, nil
}

func (h *PayPalExpressHandler) CanAuthorizePartly(ord *order.Order, _ *order.OrderShipment) bool {
	for _, p := range ord.Payments() {
		if p.Method == payment.TypePayPalExpress && p.TransactionType == payment.TxAuthorization {
			return true
		}
	}
	return false
}

func (h *PayPalExpressHandler) CanCapture(auth *payment.OrderPayment, amount decimal.Decimal) bool {
	return auth.Amount.Mul(captureExceedFactor).GreaterThanOrEqual(amount)
}

func decimalMin(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
