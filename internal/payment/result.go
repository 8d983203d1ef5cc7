package payment

// Code is the aggregate outcome of an orchestration call.
type Code string

const (
	CodeOK     Code = "OK"
	CodeFailed Code = "FAILED"
)

// Result aggregates the payments processed by one orchestration call in
// processing order, together with the outcome code and the failure cause.
// It is a transport value back to the caller and is never persisted.
type Result struct {
	Code              Code
	ProcessedPayments []*OrderPayment
	Cause             error
}

// NewResult returns an empty OK result.
func NewResult() *Result {
	return &Result{Code: CodeOK}
}

// AddProcessedPayment appends one attempted payment to the result.
func (r *Result) AddProcessedPayment(p *OrderPayment) {
	r.ProcessedPayments = append(r.ProcessedPayments, p)
}

// AddProcessedPayments appends the payments of another batch, preserving
// their order.
func (r *Result) AddProcessedPayments(ps []*OrderPayment) {
	r.ProcessedPayments = append(r.ProcessedPayments, ps...)
}

// Fail marks the result failed with the given cause.
func (r *Result) Fail(cause error) {
	r.Code = CodeFailed
	r.Cause = cause
}

// SetCause records a failure cause without flipping the result code. Used for
// best-effort compensation where individual failures do not fail the call.
func (r *Result) SetCause(cause error) {
	r.Cause = cause
}

// OK reports whether the result code is CodeOK.
func (r *Result) OK() bool {
	return r.Code == CodeOK
}
