package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/settlement-engine/internal/gateway"
	"github.com/yourorg/settlement-engine/internal/gateway/gatewaytest"
	"github.com/yourorg/settlement-engine/internal/handler"
	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/orchestrator"
	"github.com/yourorg/settlement-engine/internal/payment"
	"github.com/yourorg/settlement-engine/internal/policy"
	"github.com/yourorg/settlement-engine/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type capturingPublisher struct {
	orders []string
	events int
}

func (p *capturingPublisher) PublishResult(_ context.Context, ord *order.Order, result *payment.Result) error {
	p.orders = append(p.orders, ord.OrderNumber)
	p.events += len(result.ProcessedPayments)
	return nil
}

type serverFixture struct {
	router    *gin.Engine
	cardGW    *gatewaytest.Gateway
	publisher *capturingPublisher
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cardGW := gatewaytest.New(payment.TypeCreditCard)
	gcGW := gatewaytest.New(payment.TypeGiftCertificate)
	repo := store.NewInMemoryRepository()
	repo.Add(&store.Store{
		Code: "MOBEE",
		Gateways: map[payment.PaymentType]gateway.PaymentGateway{
			payment.TypeCreditCard:      cardGW,
			payment.TypeGiftCertificate: gcGW,
		},
	})
	engine := orchestrator.New(store.NewResolver(repo), handler.NewDefaultRegistry(), zap.NewNop())

	enforcer, err := policy.NewEnforcer(map[string]string{
		"high_value": "amount > 1000",
	})
	require.NoError(t, err)

	publisher := &capturingPublisher{}
	srv := NewServer(engine, nil, enforcer, nil, publisher, zap.NewNop())
	return &serverFixture{
		router:    srv.Routes(prometheus.NewRegistry()),
		cardGW:    cardGW,
		publisher: publisher,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func initializeBody(total string) map[string]any {
	return map[string]any{
		"store_code": "MOBEE",
		"currency":   "USD",
		"total":      total,
		"shipments": []map[string]any{
			{"shipment_number": "S1", "total": total},
		},
		"payment": map[string]any{"method": "CREDITCARD", "gateway_token": "tok_4242"},
	}
}

func TestInitializeEndpoint(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("100"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp resultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "OK", resp.Code)
	require.Len(t, resp.Payments, 1)
	assert.Equal(t, "AUTHORIZATION", resp.Payments[0].TransactionType)
	assert.Equal(t, "APPROVED", resp.Payments[0].Status)

	assert.Equal(t, []string{"20000-1"}, f.publisher.orders)
	assert.Equal(t, 1, f.publisher.events)
}

func TestInitializeEndpointRejectsDuplicateOrder(t *testing.T) {
	f := newServerFixture(t)

	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("100")).Code)
	assert.Equal(t, http.StatusConflict,
		f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("100")).Code)
}

func TestInitializeEndpointDeclineReturns402(t *testing.T) {
	f := newServerFixture(t)
	f.cardGW.Respond = func(op string, _ *payment.OrderPayment) error {
		return &payment.ProcessingError{Reason: "card declined"}
	}

	w := f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("100"))
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	var resp resultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "FAILED", resp.Code)
	assert.Contains(t, resp.Cause, "card declined")
}

func TestInitializeEndpointFlagsHighValuePayments(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("5000"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp resultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.ReviewFlags, 1)
	assert.Equal(t, resp.Payments[0].ID, resp.ReviewFlags[0])
}

func TestCaptureFlow(t *testing.T) {
	f := newServerFixture(t)

	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("100")).Code)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/v1/orders/20000-1/shipments/S1/release", nil).Code)

	w := f.do(t, http.MethodPost, "/v1/orders/20000-1/shipments/S1/capture", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.cardGW.CallCount("capture"))
	assert.Equal(t, []string{"S1"}, f.cardGW.FinalizedShipments)
}

func TestCaptureRequiresReleasedShipment(t *testing.T) {
	f := newServerFixture(t)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("100")).Code)

	w := f.do(t, http.MethodPost, "/v1/orders/20000-1/shipments/S1/capture", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdjustEndpointUpdatesShipmentTotal(t *testing.T) {
	f := newServerFixture(t)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("100")).Code)

	w := f.do(t, http.MethodPost, "/v1/orders/20000-1/shipments/S1/adjust", map[string]any{"total": "150"})
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 2, f.cardGW.CallCount("pre_authorize"))
	assert.Equal(t, 1, f.cardGW.CallCount("reverse_pre_authorization"))
}

func TestCancelOrderEndpoint(t *testing.T) {
	f := newServerFixture(t)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("100")).Code)

	w := f.do(t, http.MethodPost, "/v1/orders/20000-1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.cardGW.CallCount("reverse_pre_authorization"))

	// Cancelled orders cannot be cancelled again.
	w = f.do(t, http.MethodPost, "/v1/orders/20000-1/cancel", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestLedgerEndpoint(t *testing.T) {
	f := newServerFixture(t)
	require.Equal(t, http.StatusOK,
		f.do(t, http.MethodPost, "/v1/orders/20000-1/payments/initialize", initializeBody("100")).Code)

	w := f.do(t, http.MethodGet, "/v1/orders/20000-1/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OrderNumber string            `json:"order_number"`
		Payments    []paymentResponse `json:"payments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "20000-1", resp.OrderNumber)
	assert.Len(t, resp.Payments, 1)
}

func TestUnknownOrderReturns404(t *testing.T) {
	f := newServerFixture(t)
	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPost, "/v1/orders/99999/cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound,
		f.do(t, http.MethodPost, "/v1/orders/99999/shipments/S1/capture", nil).Code)
}
