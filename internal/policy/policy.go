// Package policy evaluates configurable review rules against a payment
// before the engine sends it to a gateway. Rules are govaluate expressions
// over the payment's attributes; any rule that evaluates to true flags the
// payment for manual review.
package policy

import (
	"fmt"

	"github.com/Knetic/govaluate"
	"github.com/shopspring/decimal"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// Decision is the outcome of evaluating all rules against one payment.
type Decision struct {
	RequireReview bool
	MatchedRules  []string
}

type rule struct {
	name string
	expr *govaluate.EvaluableExpression
}

// Enforcer holds the compiled rule set. It is immutable after construction
// and safe for concurrent use.
type Enforcer struct {
	rules []rule
}

// NewEnforcer compiles the named expressions. Expressions may reference
// amount, currency, method, order_total, store_code and shipment_count, for
// example:
//
//	amount > 1000 && method == 'CREDITCARD'
func NewEnforcer(expressions map[string]string) (*Enforcer, error) {
	e := &Enforcer{}
	for name, raw := range expressions {
		expr, err := govaluate.NewEvaluableExpression(raw)
		if err != nil {
			return nil, fmt.Errorf("compiling review rule %q: %w", name, err)
		}
		e.rules = append(e.rules, rule{name: name, expr: expr})
	}
	return e, nil
}

// Evaluate runs every rule against the payment template in the context of
// its order. A rule evaluating to a non-boolean is a configuration fault.
func (e *Enforcer) Evaluate(ord *order.Order, template *payment.OrderPayment, amount decimal.Decimal) (Decision, error) {
	params := map[string]interface{}{
		"amount":         amount.InexactFloat64(),
		"currency":       ord.Currency,
		"method":         string(template.Method),
		"order_total":    ord.Total.InexactFloat64(),
		"store_code":     ord.StoreCode,
		"shipment_count": len(ord.Shipments()),
	}

	var decision Decision
	for _, r := range e.rules {
		out, err := r.expr.Evaluate(params)
		if err != nil {
			return Decision{}, fmt.Errorf("evaluating review rule %q: %w", r.name, err)
		}
		matched, ok := out.(bool)
		if !ok {
			return Decision{}, fmt.Errorf("review rule %q did not evaluate to a boolean", r.name)
		}
		if matched {
			decision.RequireReview = true
			decision.MatchedRules = append(decision.MatchedRules, r.name)
		}
	}
	return decision, nil
}
