// Package order models the order aggregate the settlement engine operates
// on. The Order is the sole owner of its shipments and of the append-only
// payment history; payments reference shipments by number rather than by
// pointer, so the aggregate can be copied, snapshotted and reloaded freely.
package order

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/settlement-engine/internal/payment"
)

// Status drives the order-level cancellation predicate.
type Status string

const (
	StatusCreated          Status = "CREATED"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusOnHold           Status = "ON_HOLD"
	StatusAwaitingExchange Status = "AWAITING_EXCHANGE"
	StatusPartiallyShipped Status = "PARTIALLY_SHIPPED"
	StatusCompleted        Status = "COMPLETED"
	StatusCancelled        Status = "CANCELLED"
)

// Address is the billing address handed to gateways on authorization.
type Address struct {
	FirstName  string
	LastName   string
	Street     string
	City       string
	SubCountry string
	Country    string
	Zip        string
	Phone      string
}

// Order is the aggregate root. Mutation happens only through its methods and
// only from a single writer at a time; the engine assumes the caller
// serializes orchestration calls per order.
type Order struct {
	OrderNumber    string
	StoreCode      string
	Currency       string
	Locale         string
	CustomerEmail  string
	IPAddress      string
	BillingAddress Address
	Status         Status
	Total          decimal.Decimal
	Exchange       bool

	shipments []*OrderShipment
	payments  []*payment.OrderPayment
}

// New creates an empty order aggregate.
func New(orderNumber, storeCode, currency string) *Order {
	return &Order{
		OrderNumber: orderNumber,
		StoreCode:   storeCode,
		Currency:    currency,
		Status:      StatusInProgress,
	}
}

// IsCancellable reports whether authorization holds on this order may still
// be released. Shipped and completed orders hold settled funds.
func (o *Order) IsCancellable() bool {
	switch o.Status {
	case StatusCompleted, StatusCancelled, StatusPartiallyShipped:
		return false
	}
	return true
}

// AddShipment attaches a shipment to the order.
func (o *Order) AddShipment(s *OrderShipment) {
	o.shipments = append(o.shipments, s)
}

// Shipments returns the order's shipments in creation order.
func (o *Order) Shipments() []*OrderShipment {
	return o.shipments
}

// Shipment returns the shipment with the given number, or nil.
func (o *Order) Shipment(shipmentNumber string) *OrderShipment {
	for _, s := range o.shipments {
		if s.ShipmentNumber == shipmentNumber {
			return s
		}
	}
	return nil
}

// AddPayment appends an attempted payment to the history. The history is
// append-only: entries are never removed or replaced.
func (o *Order) AddPayment(p *payment.OrderPayment) {
	o.payments = append(o.payments, p)
}

// Payments returns the payment history in append order. Callers must treat
// the returned slice as read-only.
func (o *Order) Payments() []*payment.OrderPayment {
	return o.payments
}

// FullAuthorizationAmount is the amount a shipment must have authorized
// before funds can be captured.
func (o *Order) FullAuthorizationAmount(s *OrderShipment) decimal.Decimal {
	return s.Total
}

// CaptureAmount is the amount to settle for a shipment.
func (o *Order) CaptureAmount(s *OrderShipment) decimal.Decimal {
	return s.Total
}

// reversedOrCaptured reports whether a later approved follow-on entry
// consumed or released the given authorization.
func (o *Order) reversedOrCaptured(auth *payment.OrderPayment, includeCaptures bool) bool {
	for _, p := range o.payments {
		if p.Status != payment.StatusApproved || p.AuthorizedBy != auth.ID {
			continue
		}
		if p.TransactionType == payment.TxReverseAuthorization {
			return true
		}
		if includeCaptures && p.TransactionType == payment.TxCapture {
			return true
		}
	}
	return false
}

// ActiveGiftCertificateAuths returns the shipment's approved gift certificate
// authorizations that have been neither reversed nor captured, ascending by
// creation time.
func (o *Order) ActiveGiftCertificateAuths(shipmentNumber string) []*payment.OrderPayment {
	return o.giftCertificateAuths(shipmentNumber, true)
}

// NonRevertedGiftCertificateAuths is the same query but keeps authorizations
// that were captured, excluding only reversed ones. It backs "last payment"
// lookups such as adjustment templates.
func (o *Order) NonRevertedGiftCertificateAuths(shipmentNumber string) []*payment.OrderPayment {
	return o.giftCertificateAuths(shipmentNumber, false)
}

func (o *Order) giftCertificateAuths(shipmentNumber string, excludeCaptured bool) []*payment.OrderPayment {
	var auths []*payment.OrderPayment
	for _, p := range o.payments {
		if p.ShipmentNumber != shipmentNumber ||
			p.Method != payment.TypeGiftCertificate ||
			p.TransactionType != payment.TxAuthorization ||
			p.Status != payment.StatusApproved {
			continue
		}
		if o.reversedOrCaptured(p, excludeCaptured) {
			continue
		}
		auths = append(auths, p)
	}
	sort.SliceStable(auths, func(i, j int) bool {
		return payment.LessByCreatedAt(auths[i], auths[j])
	})
	return auths
}

// ActiveConventionalAuth returns the shipment's single active conventional
// (non gift certificate) authorization, or nil. When several conventional
// authorizations were approved over time only the most recent unconsumed one
// is active.
func (o *Order) ActiveConventionalAuth(shipmentNumber string) *payment.OrderPayment {
	return o.conventionalAuth(shipmentNumber, true)
}

// NonRevertedConventionalAuth is the capture-tolerant variant of
// ActiveConventionalAuth.
func (o *Order) NonRevertedConventionalAuth(shipmentNumber string) *payment.OrderPayment {
	return o.conventionalAuth(shipmentNumber, false)
}

func (o *Order) conventionalAuth(shipmentNumber string, excludeCaptured bool) *payment.OrderPayment {
	var found *payment.OrderPayment
	for _, p := range o.payments {
		if p.ShipmentNumber != shipmentNumber ||
			!p.Method.Conventional() ||
			p.TransactionType != payment.TxAuthorization ||
			p.Status != payment.StatusApproved {
			continue
		}
		if o.reversedOrCaptured(p, excludeCaptured) {
			continue
		}
		if found == nil || payment.LessByCreatedAt(found, p) {
			found = p
		}
	}
	return found
}

// ActiveOrderAuthorization returns the approved, unreversed order-level
// authorization, if any. Order-level entries carry no shipment number.
func (o *Order) ActiveOrderAuthorization() *payment.OrderPayment {
	for _, p := range o.payments {
		if p.ShipmentNumber != "" ||
			p.TransactionType != payment.TxAuthorization ||
			p.Status != payment.StatusApproved {
			continue
		}
		if !o.reversedOrCaptured(p, false) {
			return p
		}
	}
	return nil
}

// AuthorizedByGiftCertificates sums the shipment's active gift certificate
// authorization amounts.
func (o *Order) AuthorizedByGiftCertificates(shipmentNumber string) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range o.ActiveGiftCertificateAuths(shipmentNumber) {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// AuthorizedByConventional returns the active conventional authorization
// amount, or zero when there is none.
func (o *Order) AuthorizedByConventional(shipmentNumber string) decimal.Decimal {
	if auth := o.ActiveConventionalAuth(shipmentNumber); auth != nil {
		return auth.Amount
	}
	return decimal.Zero
}

// PaymentByID returns the history entry with the given id, or nil.
func (o *Order) PaymentByID(id uuid.UUID) *payment.OrderPayment {
	for _, p := range o.payments {
		if p.ID == id {
			return p
		}
	}
	return nil
}
