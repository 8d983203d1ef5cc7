package order

import "github.com/shopspring/decimal"

// ShipmentStatus drives the cancellation and capture predicates.
type ShipmentStatus string

const (
	ShipmentStatusOnHold           ShipmentStatus = "ON_HOLD"
	ShipmentStatusInventoryAssigned ShipmentStatus = "INVENTORY_ASSIGNED"
	ShipmentStatusReleased         ShipmentStatus = "RELEASED"
	ShipmentStatusShipped          ShipmentStatus = "SHIPPED"
	ShipmentStatusCancelled        ShipmentStatus = "CANCELLED"
)

// OrderShipment is one deliverable unit of an order. Total is what the
// shipment's authorizations must cover and what capture settles.
type OrderShipment struct {
	ShipmentNumber string
	Total          decimal.Decimal
	Status         ShipmentStatus
}

// IsCancellable reports whether the shipment's holds may still be released.
func (s *OrderShipment) IsCancellable() bool {
	switch s.Status {
	case ShipmentStatusShipped, ShipmentStatusCancelled:
		return false
	}
	return true
}

// IsReadyForFundsCapture reports whether funds may be captured for this
// shipment.
func (s *OrderShipment) IsReadyForFundsCapture() bool {
	return s.Status == ShipmentStatusReleased
}
