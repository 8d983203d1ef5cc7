package payment

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ProcessingError is an expected, per-payment gateway decline. The engine
// converts it into a failed ledger entry and a Result cause; it is never
// rethrown to the caller.
type ProcessingError struct {
	Reason string
	Err    error
}

func (e *ProcessingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment processing failed: %s: %v", e.Reason, e.Err)
	}
	return "payment processing failed: " + e.Reason
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// InsufficientFundError is the guard failure raised when a candidate batch
// cannot cover the required authorization amount. No gateway call precedes it.
type InsufficientFundError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundError) Error() string {
	return fmt.Sprintf("not enough balance to process the payment: required %s, available %s",
		e.Required, e.Available)
}

// ServiceError is a fatal orchestration failure: misconfiguration or an
// unexpected gateway error. It propagates to the surrounding workflow.
type ServiceError struct {
	Msg string
	Err error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *ServiceError) Unwrap() error { return e.Err }

// InvalidShipmentStateError reports a capture attempt against a shipment
// whose state does not allow funds capture.
type InvalidShipmentStateError struct {
	Status string
}

func (e *InvalidShipmentStateError) Error() string {
	return "shipment is not in a state that allows funds capture: " + e.Status
}
