package payment

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConventional(t *testing.T) {
	assert.True(t, TypeCreditCard.Conventional())
	assert.True(t, TypePayPalExpress.Conventional())
	assert.True(t, TypeReturnAndExchange.Conventional())
	assert.False(t, TypeGiftCertificate.Conventional())
}

func TestResultFailSetsCodeAndCause(t *testing.T) {
	r := NewResult()
	require.True(t, r.OK())

	cause := &ProcessingError{Reason: "declined"}
	r.Fail(cause)
	assert.False(t, r.OK())
	assert.Equal(t, cause, r.Cause)
}

func TestResultSetCauseKeepsCode(t *testing.T) {
	r := NewResult()
	r.SetCause(&ProcessingError{Reason: "reversal declined"})
	assert.True(t, r.OK())
	assert.NotNil(t, r.Cause)
}

func TestCopyFollowOnInfo(t *testing.T) {
	src := &OrderPayment{
		AuthorizationCode: "AUTH-1",
		RequestToken:      "REQ-1",
		ReferenceID:       "S1",
		GatewayToken:      "tok_4242",
		Email:             "customer@example.com",
	}
	var dst OrderPayment
	dst.CopyFollowOnInfo(src)
	assert.Equal(t, "AUTH-1", dst.AuthorizationCode)
	assert.Equal(t, "REQ-1", dst.RequestToken)
	assert.Equal(t, "S1", dst.ReferenceID)
	assert.Empty(t, dst.GatewayToken)

	dst.CopyInstrumentInfo(src)
	assert.Equal(t, "tok_4242", dst.GatewayToken)
	assert.Equal(t, "customer@example.com", dst.Email)
}

func TestLessByCreatedAt(t *testing.T) {
	earlier := NewTemplate(TypeCreditCard)
	earlier.CreatedAt = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	later := NewTemplate(TypeCreditCard)
	later.CreatedAt = earlier.CreatedAt.Add(time.Second)

	assert.True(t, LessByCreatedAt(earlier, later))
	assert.False(t, LessByCreatedAt(later, earlier))

	// Equal timestamps fall back to the ID so the order is still total.
	later.CreatedAt = earlier.CreatedAt
	assert.Equal(t, earlier.ID.String() < later.ID.String(), LessByCreatedAt(earlier, later))
}

func TestErrorUnwrapping(t *testing.T) {
	inner := errors.New("socket closed")
	se := &ServiceError{Msg: "gateway call failed", Err: inner}
	assert.ErrorIs(t, se, inner)

	ife := &InsufficientFundError{
		Required:  decimal.RequireFromString("100"),
		Available: decimal.RequireFromString("50"),
	}
	assert.Contains(t, ife.Error(), "100")
	assert.Contains(t, ife.Error(), "50")
}
