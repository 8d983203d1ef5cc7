package payment

import "github.com/shopspring/decimal"

// GiftCertificate is a stored-value instrument that can fund part of an
// order. Balance is the amount still available to hold.
type GiftCertificate struct {
	Code     string
	Balance  decimal.Decimal
	Currency string
}
