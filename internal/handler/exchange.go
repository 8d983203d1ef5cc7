package handler

import "github.com/yourorg/settlement-engine/internal/payment"

// ExchangeHandler covers return-and-exchange orders, which settle through a
// store-level exchange gateway but otherwise follow the conventional policy.
type ExchangeHandler struct {
	base
}

func NewExchangeHandler() *ExchangeHandler {
	return &ExchangeHandler{base{method: payment.TypeReturnAndExchange}}
}
