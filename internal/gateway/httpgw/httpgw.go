// Package httpgw is a PaymentGateway client for remote processors speaking a
// small JSON protocol: one POST per operation, declined transactions answered
// with HTTP 402 and a machine-readable reason.
package httpgw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

const defaultTimeout = 10 * time.Second

// Gateway talks to one remote processor endpoint for one payment type.
type Gateway struct {
	paymentType payment.PaymentType
	baseURL     string
	httpClient  *http.Client
}

// New builds a gateway client. A nil client gets a default with a 10s
// timeout.
func New(paymentType payment.PaymentType, baseURL string, client *http.Client) *Gateway {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Gateway{paymentType: paymentType, baseURL: baseURL, httpClient: client}
}

func (g *Gateway) PaymentType() payment.PaymentType { return g.paymentType }

type transactionRequest struct {
	IdempotencyKey    string          `json:"idempotency_key"`
	Reference         string          `json:"reference"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	GatewayToken      string          `json:"gateway_token,omitempty"`
	AuthorizationCode string          `json:"authorization_code,omitempty"`
	RequestToken      string          `json:"request_token,omitempty"`
	GiftCertificate   string          `json:"gift_certificate,omitempty"`
	BillingAddress    *order.Address  `json:"billing_address,omitempty"`
}

type transactionResponse struct {
	AuthorizationCode string `json:"authorization_code"`
	RequestToken      string `json:"request_token"`
	Declined          bool   `json:"declined"`
	Reason            string `json:"reason"`
}

func newRequest(p *payment.OrderPayment, billing *order.Address) transactionRequest {
	req := transactionRequest{
		IdempotencyKey:    p.ID.String() + "-" + uuid.NewString(),
		Reference:         p.ReferenceID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		GatewayToken:      p.GatewayToken,
		AuthorizationCode: p.AuthorizationCode,
		RequestToken:      p.RequestToken,
		BillingAddress:    billing,
	}
	if p.GiftCertificate != nil {
		req.GiftCertificate = p.GiftCertificate.Code
	}
	return req
}

func (g *Gateway) post(ctx context.Context, op string, body any, p *payment.OrderPayment) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("httpgw: encode %s request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/"+op, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("httpgw: build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("httpgw: %s call: %w", op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("httpgw: read %s response: %w", op, err)
	}

	var tr transactionResponse
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &tr); err != nil {
			return fmt.Errorf("httpgw: decode %s response: %w", op, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired || tr.Declined:
		return &payment.ProcessingError{Reason: declineReason(tr.Reason)}
	case resp.StatusCode >= 400:
		return fmt.Errorf("httpgw: %s returned status %d", op, resp.StatusCode)
	}

	if p != nil {
		if tr.AuthorizationCode != "" {
			p.AuthorizationCode = tr.AuthorizationCode
		}
		if tr.RequestToken != "" {
			p.RequestToken = tr.RequestToken
		}
	}
	return nil
}

func declineReason(reason string) string {
	if reason == "" {
		return "transaction declined"
	}
	return reason
}

func (g *Gateway) PreAuthorize(ctx context.Context, p *payment.OrderPayment, billing *order.Address) error {
	return g.post(ctx, "authorize", newRequest(p, billing), p)
}

func (g *Gateway) Capture(ctx context.Context, p *payment.OrderPayment) error {
	return g.post(ctx, "capture", newRequest(p, nil), p)
}

func (g *Gateway) ReversePreAuthorization(ctx context.Context, p *payment.OrderPayment) error {
	return g.post(ctx, "reverse", newRequest(p, nil), p)
}

func (g *Gateway) VoidCaptureOrCredit(ctx context.Context, p *payment.OrderPayment) error {
	return g.post(ctx, "void", newRequest(p, nil), p)
}

func (g *Gateway) FinalizeShipment(ctx context.Context, s *order.OrderShipment) error {
	body := map[string]string{"shipment_number": s.ShipmentNumber}
	return g.post(ctx, "finalize", body, nil)
}
