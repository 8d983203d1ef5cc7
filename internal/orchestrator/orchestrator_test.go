package orchestrator

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/settlement-engine/internal/gateway"
	"github.com/yourorg/settlement-engine/internal/gateway/gatewaytest"
	"github.com/yourorg/settlement-engine/internal/handler"
	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
	"github.com/yourorg/settlement-engine/internal/store"
)

type fixture struct {
	orch   *Orchestrator
	cardGW *gatewaytest.Gateway
	gcGW   *gatewaytest.Gateway
	ppGW   *gatewaytest.Gateway
}

func newFixture() *fixture {
	f := &fixture{
		cardGW: gatewaytest.New(payment.TypeCreditCard),
		gcGW:   gatewaytest.New(payment.TypeGiftCertificate),
		ppGW:   gatewaytest.New(payment.TypePayPalExpress),
	}
	repo := store.NewInMemoryRepository()
	repo.Add(&store.Store{
		Code: "MOBEE",
		Gateways: map[payment.PaymentType]gateway.PaymentGateway{
			payment.TypeCreditCard:      f.cardGW,
			payment.TypeGiftCertificate: f.gcGW,
			payment.TypePayPalExpress:   f.ppGW,
		},
	})
	f.orch = New(store.NewResolver(repo), handler.NewDefaultRegistry(), zap.NewNop())
	return f
}

// newOrder builds an order with one shipment per total, numbered S1, S2, ...
func newOrder(totals ...string) *order.Order {
	ord := order.New("20000-1", "MOBEE", "USD")
	ord.CustomerEmail = "customer@example.com"
	sum := decimal.Zero
	for i, t := range totals {
		total := decimal.RequireFromString(t)
		ord.AddShipment(&order.OrderShipment{
			ShipmentNumber: "S" + string(rune('1'+i)),
			Total:          total,
			Status:         order.ShipmentStatusInventoryAssigned,
		})
		sum = sum.Add(total)
	}
	ord.Total = sum
	return ord
}

func cardTemplate() *payment.OrderPayment {
	tpl := payment.NewTemplate(payment.TypeCreditCard)
	tpl.GatewayToken = "tok_4242"
	return tpl
}

func gcTemplate(balance string) *payment.OrderPayment {
	tpl := payment.NewTemplate(payment.TypeGiftCertificate)
	tpl.GiftCertificate = &payment.GiftCertificate{Code: "GC-100", Balance: decimal.RequireFromString(balance), Currency: "USD"}
	return tpl
}

func decline(reason string, ops ...string) func(op string, p *payment.OrderPayment) error {
	return func(op string, _ *payment.OrderPayment) error {
		for _, o := range ops {
			if op == o {
				return &payment.ProcessingError{Reason: reason}
			}
		}
		return nil
	}
}

func TestInitializePaymentsAuthorizesEachShipment(t *testing.T) {
	f := newFixture()
	ord := newOrder("25.50", "74.50")

	result, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)
	require.True(t, result.OK())

	require.Len(t, result.ProcessedPayments, 2)
	assert.Equal(t, 2, f.cardGW.CallCount("pre_authorize"))
	for i, want := range []string{"25.5", "74.5"} {
		p := result.ProcessedPayments[i]
		assert.Equal(t, payment.TxAuthorization, p.TransactionType)
		assert.Equal(t, payment.StatusApproved, p.Status)
		assert.Equal(t, want, p.Amount.String())
		assert.NotEmpty(t, p.AuthorizationCode)
	}
	assert.Equal(t, "S1", result.ProcessedPayments[0].ShipmentNumber)
	assert.Equal(t, "S2", result.ProcessedPayments[1].ShipmentNumber)
	assert.Len(t, ord.Payments(), 2)
}

func TestInitializePaymentsConsumesGiftCertificatesFirst(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	certs := []*payment.GiftCertificate{
		{Code: "GC-A", Balance: decimal.RequireFromString("30"), Currency: "USD"},
	}

	result, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), certs)
	require.NoError(t, err)
	require.True(t, result.OK())
	require.Len(t, result.ProcessedPayments, 2)

	first, second := result.ProcessedPayments[0], result.ProcessedPayments[1]
	assert.Equal(t, payment.TypeGiftCertificate, first.Method)
	assert.Equal(t, "30", first.Amount.String())
	assert.Equal(t, payment.TypeCreditCard, second.Method)
	assert.Equal(t, "70", second.Amount.String())
}

func TestInitializePaymentsInsufficientFundsSkipsGateway(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")

	// A certificate holding less than the shipment total and no conventional
	// instrument to cover the rest.
	result, err := f.orch.InitializePayments(context.Background(), ord, gcTemplate("50"), nil)
	require.NoError(t, err)
	require.False(t, result.OK())

	var ife *payment.InsufficientFundError
	require.ErrorAs(t, result.Cause, &ife)
	assert.Equal(t, "100", ife.Required.String())
	assert.Equal(t, "50", ife.Available.String())

	assert.Zero(t, f.gcGW.CallCount("pre_authorize"))
	assert.Zero(t, f.cardGW.CallCount("pre_authorize"))
	assert.Empty(t, ord.Payments())
}

func TestInitializePaymentsDeclineRecordsFailedPayment(t *testing.T) {
	f := newFixture()
	f.cardGW.Respond = decline("card declined", "pre_authorize")
	ord := newOrder("100")

	result, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)
	require.False(t, result.OK())

	var pe *payment.ProcessingError
	require.ErrorAs(t, result.Cause, &pe)

	require.Len(t, ord.Payments(), 1)
	assert.Equal(t, payment.StatusFailed, ord.Payments()[0].Status)
}

func TestInitializePaymentsPayPalAuthorizesAtOrderLevel(t *testing.T) {
	f := newFixture()
	ord := newOrder("60", "40")
	tpl := payment.NewTemplate(payment.TypePayPalExpress)
	tpl.GatewayToken = "EC-TOKEN"

	result, err := f.orch.InitializePayments(context.Background(), ord, tpl, nil)
	require.NoError(t, err)
	require.True(t, result.OK())

	var orders, auths int
	for _, p := range ord.Payments() {
		switch p.TransactionType {
		case payment.TxOrder:
			orders++
			assert.Equal(t, "100", p.Amount.String())
		case payment.TxAuthorization:
			auths++
			assert.Empty(t, p.ShipmentNumber)
			assert.Equal(t, ord.OrderNumber, p.ReferenceID)
		}
	}
	assert.Equal(t, 1, orders)
	// One order-level hold backs both shipments.
	assert.Equal(t, 1, auths)
}

func TestInitializeNewShipmentPayment(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	added := &order.OrderShipment{
		ShipmentNumber: "S2",
		Total:          decimal.RequireFromString("40"),
		Status:         order.ShipmentStatusInventoryAssigned,
	}
	ord.AddShipment(added)

	result, err := f.orch.InitializeNewShipmentPayment(context.Background(), ord, added, cardTemplate())
	require.NoError(t, err)
	require.True(t, result.OK())
	require.Len(t, result.ProcessedPayments, 1)
	assert.Equal(t, "40", result.ProcessedPayments[0].Amount.String())
	assert.Equal(t, "S2", result.ProcessedPayments[0].ShipmentNumber)
}

func TestAdjustShipmentPaymentNoChangeIsNoOp(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	result, err := f.orch.AdjustShipmentPayment(context.Background(), ord, ord.Shipment("S1"), nil)
	require.NoError(t, err)
	require.True(t, result.OK())
	assert.Empty(t, result.ProcessedPayments)
	assert.Equal(t, 1, f.cardGW.CallCount("pre_authorize"))
	assert.Zero(t, f.cardGW.CallCount("reverse_pre_authorization"))
}

func TestAdjustShipmentPaymentAuthorizesBeforeReversing(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)
	oldAuth := ord.ActiveConventionalAuth("S1")
	require.NotNil(t, oldAuth)

	ord.Shipment("S1").Total = decimal.RequireFromString("150")

	result, err := f.orch.AdjustShipmentPayment(context.Background(), ord, ord.Shipment("S1"), nil)
	require.NoError(t, err)
	require.True(t, result.OK())

	calls := f.cardGW.Calls
	require.Len(t, calls, 3)
	assert.Equal(t, "pre_authorize", calls[1].Op)
	assert.Equal(t, "150", calls[1].Amount.String())
	assert.Equal(t, "reverse_pre_authorization", calls[2].Op)
	assert.Equal(t, "100", calls[2].Amount.String())

	active := ord.ActiveConventionalAuth("S1")
	require.NotNil(t, active)
	assert.Equal(t, "150", active.Amount.String())
	assert.NotEqual(t, oldAuth.ID, active.ID)
}

func TestAdjustShipmentPaymentFailedAuthLeavesHoldsIntact(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)
	oldAuth := ord.ActiveConventionalAuth("S1")

	f.cardGW.Respond = decline("limit exceeded", "pre_authorize")
	ord.Shipment("S1").Total = decimal.RequireFromString("150")

	result, err := f.orch.AdjustShipmentPayment(context.Background(), ord, ord.Shipment("S1"), nil)
	require.NoError(t, err)
	require.False(t, result.OK())

	assert.Zero(t, f.cardGW.CallCount("reverse_pre_authorization"))
	active := ord.ActiveConventionalAuth("S1")
	require.NotNil(t, active)
	assert.Equal(t, oldAuth.ID, active.ID)
}

func TestAdjustShipmentPaymentReversalDeclineKeepsResultOK(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	f.cardGW.Respond = decline("hold not found", "reverse_pre_authorization")
	ord.Shipment("S1").Total = decimal.RequireFromString("150")

	result, err := f.orch.AdjustShipmentPayment(context.Background(), ord, ord.Shipment("S1"), nil)
	require.NoError(t, err)

	// The shipment is fully covered by the new hold, so a stuck old hold is
	// reported through Cause without failing the adjustment.
	assert.True(t, result.OK())
	require.NotNil(t, result.Cause)

	last := result.ProcessedPayments[len(result.ProcessedPayments)-1]
	assert.Equal(t, payment.TxReverseAuthorization, last.TransactionType)
	assert.Equal(t, payment.StatusFailed, last.Status)
}

func TestAdjustShipmentPaymentNoActiveHoldFails(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")

	_, err := f.orch.AdjustShipmentPayment(context.Background(), ord, ord.Shipment("S1"), nil)
	var se *payment.ServiceError
	require.ErrorAs(t, err, &se)
}

func TestAdjustShipmentPaymentZeroTotalIsNoOp(t *testing.T) {
	f := newFixture()
	ord := newOrder("0")

	result, err := f.orch.AdjustShipmentPayment(context.Background(), ord, ord.Shipment("S1"), nil)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestProcessShipmentPaymentCapturesInGiftCertificateOrder(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	certs := []*payment.GiftCertificate{
		{Code: "GC-A", Balance: decimal.RequireFromString("30"), Currency: "USD"},
	}
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), certs)
	require.NoError(t, err)

	ord.Shipment("S1").Status = order.ShipmentStatusReleased

	result, err := f.orch.ProcessShipmentPayment(context.Background(), ord, ord.Shipment("S1"))
	require.NoError(t, err)
	require.True(t, result.OK())

	require.Equal(t, 1, f.gcGW.CallCount("capture"))
	require.Equal(t, 1, f.cardGW.CallCount("capture"))
	assert.Equal(t, "30", f.gcGW.Calls[len(f.gcGW.Calls)-1].Amount.String())
	assert.Equal(t, "70", f.cardGW.Calls[len(f.cardGW.Calls)-1].Amount.String())

	// Both holds are consumed.
	assert.Nil(t, ord.ActiveConventionalAuth("S1"))
	assert.Empty(t, ord.ActiveGiftCertificateAuths("S1"))
}

func TestProcessShipmentPaymentRequiresReleasedShipment(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	_, err = f.orch.ProcessShipmentPayment(context.Background(), ord, ord.Shipment("S1"))
	var ise *payment.InvalidShipmentStateError
	require.ErrorAs(t, err, &ise)
	assert.Zero(t, f.cardGW.CallCount("capture"))
}

func TestProcessShipmentPaymentReversesUnusedCertificates(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	certs := []*payment.GiftCertificate{
		{Code: "GC-A", Balance: decimal.RequireFromString("30"), Currency: "USD"},
		{Code: "GC-B", Balance: decimal.RequireFromString("30"), Currency: "USD"},
	}
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), certs)
	require.NoError(t, err)

	// The shipment shrank after authorization; one certificate now covers it.
	ord.Shipment("S1").Total = decimal.RequireFromString("25")
	ord.Shipment("S1").Status = order.ShipmentStatusReleased

	result, err := f.orch.ProcessShipmentPayment(context.Background(), ord, ord.Shipment("S1"))
	require.NoError(t, err)
	require.True(t, result.OK())

	assert.Equal(t, 1, f.gcGW.CallCount("capture"))
	assert.Equal(t, "25", f.gcGW.Calls[len(f.gcGW.Calls)-2].Amount.String())
	assert.Zero(t, f.cardGW.CallCount("capture"))

	// The second certificate's hold was released.
	assert.Equal(t, 1, f.gcGW.CallCount("reverse_pre_authorization"))
	assert.Empty(t, ord.ActiveGiftCertificateAuths("S1"))
}

func TestProcessShipmentPaymentCaptureDeclineFailsResult(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	f.cardGW.Respond = decline("capture rejected", "capture")
	ord.Shipment("S1").Status = order.ShipmentStatusReleased

	result, err := f.orch.ProcessShipmentPayment(context.Background(), ord, ord.Shipment("S1"))
	require.NoError(t, err)
	require.False(t, result.OK())

	last := result.ProcessedPayments[len(result.ProcessedPayments)-1]
	assert.Equal(t, payment.TxCapture, last.TransactionType)
	assert.Equal(t, payment.StatusFailed, last.Status)
}

func TestCancelShipmentPaymentReversesAllHolds(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	certs := []*payment.GiftCertificate{
		{Code: "GC-A", Balance: decimal.RequireFromString("30"), Currency: "USD"},
	}
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), certs)
	require.NoError(t, err)

	result, err := f.orch.CancelShipmentPayment(context.Background(), ord, ord.Shipment("S1"))
	require.NoError(t, err)
	require.True(t, result.OK())

	assert.Equal(t, 1, f.gcGW.CallCount("reverse_pre_authorization"))
	assert.Equal(t, 1, f.cardGW.CallCount("reverse_pre_authorization"))
	assert.Empty(t, ord.ActiveGiftCertificateAuths("S1"))
	assert.Nil(t, ord.ActiveConventionalAuth("S1"))
}

func TestCancelShipmentPaymentRejectsShippedShipment(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	ord.Shipment("S1").Status = order.ShipmentStatusShipped
	_, err = f.orch.CancelShipmentPayment(context.Background(), ord, ord.Shipment("S1"))
	var se *payment.ServiceError
	require.ErrorAs(t, err, &se)
	assert.Zero(t, f.cardGW.CallCount("reverse_pre_authorization"))
}

func TestCancelOrderPaymentsContinuesAfterShipmentFailure(t *testing.T) {
	f := newFixture()
	ord := newOrder("60", "40")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	f.cardGW.Respond = func(op string, p *payment.OrderPayment) error {
		if op == "reverse_pre_authorization" && p.ShipmentNumber == "S1" {
			return assert.AnError
		}
		return nil
	}

	result, err := f.orch.CancelOrderPayments(context.Background(), ord)
	require.Error(t, err)

	// The second shipment was still cancelled.
	assert.Equal(t, 2, f.cardGW.CallCount("reverse_pre_authorization"))
	assert.Nil(t, ord.ActiveConventionalAuth("S2"))
	require.NotNil(t, result)
	assert.NotEmpty(t, result.ProcessedPayments)
}

func TestCancelOrderPaymentsRejectsCompletedOrder(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	ord.Status = order.StatusCompleted

	_, err := f.orch.CancelOrderPayments(context.Background(), ord)
	var se *payment.ServiceError
	require.ErrorAs(t, err, &se)
}

func TestRollBackPaymentsCompensatesApprovedEntries(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	ord.Shipment("S1").Status = order.ShipmentStatusReleased
	_, err = f.orch.ProcessShipmentPayment(context.Background(), ord, ord.Shipment("S1"))
	require.NoError(t, err)

	failures := f.orch.RollBackPayments(context.Background(), ord, append(ord.Payments()[:0:0], ord.Payments()...))
	assert.Empty(t, failures)
	assert.Equal(t, 1, f.cardGW.CallCount("reverse_pre_authorization"))
	assert.Equal(t, 1, f.cardGW.CallCount("void_capture_or_credit"))
}

func TestRollBackPaymentsCollectsFailuresAndContinues(t *testing.T) {
	f := newFixture()
	ord := newOrder("60", "40")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	reversed := 0
	f.cardGW.Respond = func(op string, _ *payment.OrderPayment) error {
		if op != "reverse_pre_authorization" {
			return nil
		}
		reversed++
		if reversed == 1 {
			return assert.AnError
		}
		return nil
	}

	failures := f.orch.RollBackPayments(context.Background(), ord, ord.Payments())
	require.Len(t, failures, 1)
	assert.Equal(t, 2, f.cardGW.CallCount("reverse_pre_authorization"))
}

func TestFinalizeShipment(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)

	require.NoError(t, f.orch.FinalizeShipment(context.Background(), ord, ord.Shipment("S1")))
	assert.Equal(t, []string{"S1"}, f.cardGW.FinalizedShipments)
}

func TestFinalizeShipmentNoConventionalHoldIsNoOp(t *testing.T) {
	f := newFixture()
	ord := newOrder("50")
	_, err := f.orch.InitializePayments(context.Background(), ord, gcTemplate("50"), nil)
	require.NoError(t, err)

	require.NoError(t, f.orch.FinalizeShipment(context.Background(), ord, ord.Shipment("S1")))
	assert.Empty(t, f.gcGW.FinalizedShipments)
	assert.Empty(t, f.cardGW.FinalizedShipments)
}

func TestLedgerIsAppendOnly(t *testing.T) {
	f := newFixture()
	ord := newOrder("100")
	_, err := f.orch.InitializePayments(context.Background(), ord, cardTemplate(), nil)
	require.NoError(t, err)
	firstID := ord.Payments()[0].ID

	ord.Shipment("S1").Total = decimal.RequireFromString("150")
	_, err = f.orch.AdjustShipmentPayment(context.Background(), ord, ord.Shipment("S1"), nil)
	require.NoError(t, err)

	// The superseded authorization is still in the history, joined by the new
	// hold and the reversal that released it.
	require.Len(t, ord.Payments(), 3)
	assert.Equal(t, firstID, ord.Payments()[0].ID)
	assert.Equal(t, firstID, ord.Payments()[2].AuthorizedBy)
}
