package handler

import "github.com/yourorg/settlement-engine/internal/payment"

// CardHandler is the conventional stored-card/token policy: one full
// authorization per shipment, full capture, full reversal.
type CardHandler struct {
	base
}

func NewCardHandler() *CardHandler {
	return &CardHandler{base{method: payment.TypeCreditCard}}
}
