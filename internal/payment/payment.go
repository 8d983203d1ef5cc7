// Package payment holds the ledger entry type shared by the settlement
// engine and its collaborators. An OrderPayment records exactly one attempted
// gateway transaction; once it has been approved or failed it is never
// mutated again, and corrections are always expressed as new entries.
package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentType identifies the instrument behind a payment.
type PaymentType string

const (
	TypeCreditCard        PaymentType = "CREDITCARD"
	TypePayPalExpress     PaymentType = "PAYPAL_EXPRESS"
	TypeGiftCertificate   PaymentType = "GIFT_CERTIFICATE"
	TypeReturnAndExchange PaymentType = "RETURN_AND_EXCHANGE"
)

// Conventional reports whether the type is a card/token style instrument as
// opposed to a gift certificate.
func (t PaymentType) Conventional() bool {
	return t != TypeGiftCertificate
}

// TransactionType is the kind of gateway operation a ledger entry records.
type TransactionType string

const (
	// TxOrder is an order-level pre-authorization placed before any
	// shipment-level holds (PayPal-style flows).
	TxOrder                TransactionType = "ORDER"
	TxAuthorization        TransactionType = "AUTHORIZATION"
	TxReverseAuthorization TransactionType = "REVERSE_AUTHORIZATION"
	TxCapture              TransactionType = "CAPTURE"
	TxCredit               TransactionType = "CREDIT"
)

// Status is the lifecycle state of a ledger entry.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusFailed   Status = "FAILED"
)

// OrderPayment is one attempted transaction against a payment instrument.
//
// ShipmentNumber ties the entry to a shipment; it is empty for order-level
// entries. AuthorizedBy links follow-on entries (captures, reversals) to the
// authorization they consume or release, which is how the ledger decides
// whether an authorization is still active.
type OrderPayment struct {
	ID              uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	TransactionType TransactionType
	Status          Status
	Method          PaymentType
	CreatedAt       time.Time

	ShipmentNumber string
	ReferenceID    string
	AuthorizedBy   uuid.UUID

	AuthorizationCode string
	RequestToken      string
	GatewayToken      string
	Email             string
	IPAddress         string

	GiftCertificate *GiftCertificate
}

// NewTemplate builds a template payment describing an intended method. It is
// never sent to a gateway itself; handlers derive concrete entries from it.
func NewTemplate(method PaymentType) *OrderPayment {
	return &OrderPayment{
		ID:     uuid.New(),
		Method: method,
		Status: StatusPending,
	}
}

// CopyInstrumentInfo copies the instrument identification of src: gateway
// token, gift certificate reference and contact email.
func (p *OrderPayment) CopyInstrumentInfo(src *OrderPayment) {
	p.GatewayToken = src.GatewayToken
	p.GiftCertificate = src.GiftCertificate
	p.Email = src.Email
}

// CopyFollowOnInfo copies the fields a follow-on transaction needs to
// reference an earlier one at the gateway.
func (p *OrderPayment) CopyFollowOnInfo(src *OrderPayment) {
	p.AuthorizationCode = src.AuthorizationCode
	p.RequestToken = src.RequestToken
	p.ReferenceID = src.ReferenceID
}

// LessByCreatedAt orders payments ascending by creation time, breaking ties
// by ID so sorts are reproducible. Pass it to sort.SliceStable.
func LessByCreatedAt(a, b *OrderPayment) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID.String() < b.ID.String()
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
