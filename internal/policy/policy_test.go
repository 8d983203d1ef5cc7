package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

func testOrder() *order.Order {
	ord := order.New("10001", "MOBEE", "USD")
	ord.Total = decimal.RequireFromString("1200")
	ord.AddShipment(&order.OrderShipment{ShipmentNumber: "S1"})
	return ord
}

func TestEnforcerFlagsMatchingRules(t *testing.T) {
	e, err := NewEnforcer(map[string]string{
		"high_value_card": "amount > 1000 && method == 'CREDITCARD'",
		"foreign":         "currency != 'USD'",
	})
	require.NoError(t, err)

	tpl := payment.NewTemplate(payment.TypeCreditCard)
	decision, err := e.Evaluate(testOrder(), tpl, decimal.RequireFromString("1200"))
	require.NoError(t, err)

	assert.True(t, decision.RequireReview)
	assert.Equal(t, []string{"high_value_card"}, decision.MatchedRules)
}

func TestEnforcerNoMatch(t *testing.T) {
	e, err := NewEnforcer(map[string]string{
		"high_value": "amount > 1000",
	})
	require.NoError(t, err)

	decision, err := e.Evaluate(testOrder(), payment.NewTemplate(payment.TypeCreditCard),
		decimal.RequireFromString("50"))
	require.NoError(t, err)
	assert.False(t, decision.RequireReview)
	assert.Empty(t, decision.MatchedRules)
}

func TestEnforcerRejectsInvalidExpression(t *testing.T) {
	_, err := NewEnforcer(map[string]string{"broken": "amount >"})
	require.Error(t, err)
}

func TestEnforcerRejectsNonBooleanRule(t *testing.T) {
	e, err := NewEnforcer(map[string]string{"arith": "amount + 1"})
	require.NoError(t, err)

	_, err = e.Evaluate(testOrder(), payment.NewTemplate(payment.TypeCreditCard), decimal.RequireFromString("50"))
	require.Error(t, err)
}
