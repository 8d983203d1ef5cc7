package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yourorg/settlement-engine/internal/contract"
	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/orchestrator"
	"github.com/yourorg/settlement-engine/internal/payment"
	"github.com/yourorg/settlement-engine/internal/policy"
)

// Persister saves an order's ledger after an orchestration call. Nil-able:
// the daemon runs without Postgres when no DSN is configured.
type Persister interface {
	SaveSnapshot(ctx context.Context, ord *order.Order) error
}

// Publisher emits processed payments to downstream consumers.
type Publisher interface {
	PublishResult(ctx context.Context, ord *order.Order, result *payment.Result) error
}

// Server exposes the settlement engine over HTTP. Orders are held in memory
// and mutated only under their per-order lock, honoring the engine's
// single-caller requirement.
type Server struct {
	engine    *orchestrator.Orchestrator
	validator *contract.Validator
	enforcer  *policy.Enforcer
	persister Persister
	publisher Publisher
	logger    *zap.Logger

	mu     sync.Mutex
	orders map[string]*orderEntry
}

type orderEntry struct {
	mu  sync.Mutex
	ord *order.Order
}

func NewServer(engine *orchestrator.Orchestrator, validator *contract.Validator,
	enforcer *policy.Enforcer, persister Persister, publisher Publisher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:    engine,
		validator: validator,
		enforcer:  enforcer,
		persister: persister,
		publisher: publisher,
		logger:    logger,
		orders:    make(map[string]*orderEntry),
	}
}

// Routes builds the gin engine. The prometheus registry backs /metrics.
func (s *Server) Routes(registry *prometheus.Registry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("settlementd"))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	v1 := r.Group("/v1")
	v1.POST("/orders/:orderNumber/payments/initialize", s.initializePayments)
	v1.GET("/orders/:orderNumber/payments", s.listPayments)
	v1.POST("/orders/:orderNumber/cancel", s.cancelOrder)
	v1.POST("/orders/:orderNumber/shipments", s.addShipment)
	v1.POST("/orders/:orderNumber/shipments/:shipmentNumber/release", s.releaseShipment)
	v1.POST("/orders/:orderNumber/shipments/:shipmentNumber/adjust", s.adjustShipment)
	v1.POST("/orders/:orderNumber/shipments/:shipmentNumber/capture", s.captureShipment)
	v1.POST("/orders/:orderNumber/shipments/:shipmentNumber/cancel", s.cancelShipment)
	v1.POST("/orders/:orderNumber/shipments/:shipmentNumber/finalize", s.finalizeShipment)
	return r
}

type addressRequest struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type shipmentRequest struct {
	ShipmentNumber string `json:"shipment_number" binding:"required"`
	Total          string `json:"total" binding:"required"`
}

type paymentTemplateRequest struct {
	Method            string `json:"method" binding:"required"`
	ReferenceID       string `json:"reference_id"`
	AuthorizationCode string `json:"authorization_code"`
	RequestToken      string `json:"request_token"`
	GatewayToken      string `json:"gateway_token"`
	Email             string `json:"email"`
}

type giftCertificateRequest struct {
	Code     string `json:"code" binding:"required"`
	Balance  string `json:"balance" binding:"required"`
	Currency string `json:"currency"`
}

type initializeRequest struct {
	StoreCode        string                   `json:"store_code" binding:"required"`
	Currency         string                   `json:"currency" binding:"required"`
	Locale           string                   `json:"locale"`
	CustomerEmail    string                   `json:"customer_email"`
	IPAddress        string                   `json:"ip_address"`
	Total            string                   `json:"total" binding:"required"`
	Exchange         bool                     `json:"exchange"`
	BillingAddress   addressRequest           `json:"billing_address"`
	Shipments        []shipmentRequest        `json:"shipments" binding:"required"`
	Payment          paymentTemplateRequest   `json:"payment" binding:"required"`
	GiftCertificates []giftCertificateRequest `json:"gift_certificates"`
}

type resultResponse struct {
	Code         string            `json:"code"`
	Cause        string            `json:"cause,omitempty"`
	Payments     []paymentResponse `json:"payments"`
	ReviewFlags  []string          `json:"review_flags,omitempty"`
	RolledBack   bool              `json:"rolled_back,omitempty"`
	Compensation []string          `json:"compensation_failures,omitempty"`
}

type paymentResponse struct {
	ID              string `json:"id"`
	ShipmentNumber  string `json:"shipment_number,omitempty"`
	Method          string `json:"method"`
	TransactionType string `json:"transaction_type"`
	Status          string `json:"status"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
}

func (s *Server) initializePayments(c *gin.Context) {
	orderNumber := c.Param("orderNumber")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reading request body: " + err.Error()})
		return
	}
	if s.validator != nil {
		if err := s.validator.Validate(body); err != nil {
			var ve *contract.ValidationError
			if errors.As(err, &ve) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "problems": ve.Problems})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var req initializeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ord, template, certs, err := buildOrder(orderNumber, &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, created := s.register(ord)
	if !created {
		c.JSON(http.StatusConflict, gin.H{"error": "order " + orderNumber + " already initialized"})
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	result, err := s.engine.InitializePayments(c.Request.Context(), ord, template, certs)
	s.finish(c, ord, result, err, true)
}

func (s *Server) addShipment(c *gin.Context) {
	var req struct {
		Shipment shipmentRequest        `json:"shipment" binding:"required"`
		Payment  paymentTemplateRequest `json:"payment" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, ok := s.lookup(c.Param("orderNumber"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	total, err := decimal.NewFromString(req.Shipment.Total)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shipment total: " + err.Error()})
		return
	}
	shipment := &order.OrderShipment{
		ShipmentNumber: req.Shipment.ShipmentNumber,
		Total:          total,
		Status:         order.ShipmentStatusInventoryAssigned,
	}
	entry.ord.AddShipment(shipment)

	result, err := s.engine.InitializeNewShipmentPayment(c.Request.Context(), entry.ord, shipment,
		buildTemplate(&req.Payment, entry.ord))
	s.finish(c, entry.ord, result, err, false)
}

func (s *Server) releaseShipment(c *gin.Context) {
	entry, shipment, ok := s.lookupShipment(c)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	shipment.Status = order.ShipmentStatusReleased
	c.JSON(http.StatusOK, gin.H{"shipment_number": shipment.ShipmentNumber, "status": string(shipment.Status)})
}

func (s *Server) adjustShipment(c *gin.Context) {
	entry, shipment, ok := s.lookupShipment(c)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	var req struct {
		Total *string `json:"total"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Total != nil {
		total, err := decimal.NewFromString(*req.Total)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid total: " + err.Error()})
			return
		}
		shipment.Total = total
	}

	result, err := s.engine.AdjustShipmentPayment(c.Request.Context(), entry.ord, shipment, nil)
	s.finish(c, entry.ord, result, err, false)
}

func (s *Server) captureShipment(c *gin.Context) {
	entry, shipment, ok := s.lookupShipment(c)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	result, err := s.engine.ProcessShipmentPayment(c.Request.Context(), entry.ord, shipment)
	if err == nil && result != nil && result.OK() {
		if ferr := s.engine.FinalizeShipment(c.Request.Context(), entry.ord, shipment); ferr != nil {
			s.logger.Warn("finalize after capture failed",
				zap.String("order", entry.ord.OrderNumber),
				zap.String("shipment", shipment.ShipmentNumber),
				zap.Error(ferr))
		} else {
			shipment.Status = order.ShipmentStatusShipped
		}
	}
	s.finish(c, entry.ord, result, err, false)
}

func (s *Server) cancelShipment(c *gin.Context) {
	entry, shipment, ok := s.lookupShipment(c)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	result, err := s.engine.CancelShipmentPayment(c.Request.Context(), entry.ord, shipment)
	if err == nil && result != nil && result.OK() {
		shipment.Status = order.ShipmentStatusCancelled
	}
	s.finish(c, entry.ord, result, err, false)
}

func (s *Server) cancelOrder(c *gin.Context) {
	entry, ok := s.lookup(c.Param("orderNumber"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	result, err := s.engine.CancelOrderPayments(c.Request.Context(), entry.ord)
	if err == nil && result != nil && result.OK() {
		entry.ord.Status = order.StatusCancelled
		for _, shipment := range entry.ord.Shipments() {
			shipment.Status = order.ShipmentStatusCancelled
		}
	}
	s.finish(c, entry.ord, result, err, false)
}

func (s *Server) finalizeShipment(c *gin.Context) {
	entry, shipment, ok := s.lookupShipment(c)
	if !ok {
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := s.engine.FinalizeShipment(c.Request.Context(), entry.ord, shipment); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipment_number": shipment.ShipmentNumber, "finalized": true})
}

func (s *Server) listPayments(c *gin.Context) {
	entry, ok := s.lookup(c.Param("orderNumber"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
		return
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	payments := entry.ord.Payments()
	resp := make([]paymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, toPaymentResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"order_number": entry.ord.OrderNumber, "payments": resp})
}

// finish maps an orchestration outcome to an HTTP response, persisting and
// publishing the processed payments first. A fatal error on the initialize
// path rolls the approved payments back before responding.
func (s *Server) finish(c *gin.Context, ord *order.Order, result *payment.Result, err error, rollbackOnError bool) {
	ctx := c.Request.Context()

	if s.persister != nil {
		if perr := s.persister.SaveSnapshot(ctx, ord); perr != nil {
			s.logger.Error("persisting order snapshot failed", zap.String("order", ord.OrderNumber), zap.Error(perr))
		}
	}
	if s.publisher != nil && result != nil {
		if perr := s.publisher.PublishResult(ctx, ord, result); perr != nil {
			s.logger.Error("publishing settlement events failed", zap.String("order", ord.OrderNumber), zap.Error(perr))
		}
	}

	if err != nil {
		resp := gin.H{"error": err.Error()}
		if rollbackOnError && result != nil {
			failures := s.engine.RollBackPayments(ctx, ord, result.ProcessedPayments)
			resp["rolled_back"] = true
			if len(failures) > 0 {
				msgs := make([]string, 0, len(failures))
				for _, f := range failures {
					msgs = append(msgs, f.Payment.ID.String()+": "+f.Err.Error())
				}
				resp["compensation_failures"] = msgs
			}
		}
		var ise *payment.InvalidShipmentStateError
		if errors.As(err, &ise) {
			c.JSON(http.StatusConflict, resp)
			return
		}
		c.JSON(http.StatusBadGateway, resp)
		return
	}

	c.JSON(statusFor(result), s.toResultResponse(ord, result))
}

func statusFor(result *payment.Result) int {
	if result != nil && !result.OK() {
		return http.StatusPaymentRequired
	}
	return http.StatusOK
}

func (s *Server) toResultResponse(ord *order.Order, result *payment.Result) resultResponse {
	resp := resultResponse{Code: "OK"}
	if result == nil {
		return resp
	}
	if !result.OK() {
		resp.Code = "FAILED"
	}
	if result.Cause != nil {
		resp.Cause = result.Cause.Error()
	}
	for _, p := range result.ProcessedPayments {
		resp.Payments = append(resp.Payments, toPaymentResponse(p))
		if s.enforcer != nil {
			decision, err := s.enforcer.Evaluate(ord, p, p.Amount)
			if err != nil {
				s.logger.Warn("review policy evaluation failed", zap.Error(err))
				continue
			}
			if decision.RequireReview {
				resp.ReviewFlags = append(resp.ReviewFlags, p.ID.String())
			}
		}
	}
	return resp
}

func toPaymentResponse(p *payment.OrderPayment) paymentResponse {
	return paymentResponse{
		ID:              p.ID.String(),
		ShipmentNumber:  p.ShipmentNumber,
		Method:          string(p.Method),
		TransactionType: string(p.TransactionType),
		Status:          string(p.Status),
		Amount:          p.Amount.String(),
		Currency:        p.Currency,
	}
}

func (s *Server) register(ord *order.Order) (*orderEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[ord.OrderNumber]; exists {
		return nil, false
	}
	entry := &orderEntry{ord: ord}
	s.orders[ord.OrderNumber] = entry
	return entry, true
}

func (s *Server) lookup(orderNumber string) (*orderEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.orders[orderNumber]
	return entry, ok
}

func (s *Server) lookupShipment(c *gin.Context) (*orderEntry, *order.OrderShipment, bool) {
	entry, ok := s.lookup(c.Param("orderNumber"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown order"})
		return nil, nil, false
	}
	shipment := entry.ord.Shipment(c.Param("shipmentNumber"))
	if shipment == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown shipment"})
		return nil, nil, false
	}
	return entry, shipment, true
}

func buildOrder(orderNumber string, req *initializeRequest) (*order.Order, *payment.OrderPayment, []*payment.GiftCertificate, error) {
	total, err := decimal.NewFromString(req.Total)
	if err != nil {
		return nil, nil, nil, errors.New("invalid order total: " + err.Error())
	}

	ord := &order.Order{
		OrderNumber:   orderNumber,
		StoreCode:     req.StoreCode,
		Currency:      req.Currency,
		Locale:        req.Locale,
		CustomerEmail: req.CustomerEmail,
		IPAddress:     req.IPAddress,
		Total:         total,
		Exchange:      req.Exchange,
		Status:        order.StatusInProgress,
		BillingAddress: order.Address{
			Street:     req.BillingAddress.Street,
			City:       req.BillingAddress.City,
			SubCountry: req.BillingAddress.Region,
			Zip:        req.BillingAddress.Zip,
			Country:    req.BillingAddress.Country,
		},
	}
	for _, sr := range req.Shipments {
		shipTotal, err := decimal.NewFromString(sr.Total)
		if err != nil {
			return nil, nil, nil, errors.New("invalid shipment total: " + err.Error())
		}
		ord.AddShipment(&order.OrderShipment{
			ShipmentNumber: sr.ShipmentNumber,
			Total:          shipTotal,
			Status:         order.ShipmentStatusInventoryAssigned,
		})
	}

	certs := make([]*payment.GiftCertificate, 0, len(req.GiftCertificates))
	for _, gc := range req.GiftCertificates {
		balance, err := decimal.NewFromString(gc.Balance)
		if err != nil {
			return nil, nil, nil, errors.New("invalid gift certificate balance: " + err.Error())
		}
		currency := gc.Currency
		if currency == "" {
			currency = req.Currency
		}
		certs = append(certs, &payment.GiftCertificate{Code: gc.Code, Balance: balance, Currency: currency})
	}

	return ord, buildTemplate(&req.Payment, ord), certs, nil
}

func buildTemplate(req *paymentTemplateRequest, ord *order.Order) *payment.OrderPayment {
	tpl := payment.NewTemplate(payment.PaymentType(req.Method))
	tpl.Currency = ord.Currency
	tpl.ReferenceID = req.ReferenceID
	tpl.AuthorizationCode = req.AuthorizationCode
	tpl.RequestToken = req.RequestToken
	tpl.GatewayToken = req.GatewayToken
	tpl.Email = req.Email
	tpl.IPAddress = ord.IPAddress
	tpl.CreatedAt = time.Now()
	return tpl
}
