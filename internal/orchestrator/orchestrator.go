// Package orchestrator sequences handler and gateway calls to authorize,
// adjust, capture and cancel payments for an order's shipments. It is purely
// sequential: every gateway call blocks, and the caller must serialize
// orchestration calls against the same order.
//
// Expected failures (a declined authorization, insufficient candidate funds)
// are reported through the returned Result so callers can branch on the
// result code; misconfiguration and unexpected gateway errors come back as a
// *payment.ServiceError.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/settlement-engine/internal/gateway"
	"github.com/yourorg/settlement-engine/internal/handler"
	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// GatewayResolver maps an (order, payment type) pair to the gateway that
// executes it.
type GatewayResolver interface {
	Resolve(ord *order.Order, t payment.PaymentType) (gateway.PaymentGateway, error)
}

// HandlerRegistry resolves the candidate policy for a payment type.
type HandlerRegistry interface {
	Handler(t payment.PaymentType) (handler.PaymentHandler, error)
}

// Orchestrator is the settlement engine. Construct it with New; the zero
// value is not usable.
type Orchestrator struct {
	gateways GatewayResolver
	handlers HandlerRegistry
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates an Orchestrator. Resolver and registry construction stays with
// the caller so the enabled payment types are explicit.
func New(gateways GatewayResolver, handlers HandlerRegistry, logger *zap.Logger) *Orchestrator {
	if gateways == nil {
		panic("gateway resolver cannot be nil")
	}
	if handlers == nil {
		panic("handler registry cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gateways: gateways,
		handlers: handlers,
		logger:   logger,
		tracer:   otel.Tracer("orchestrator"),
	}
}

// InitializePayments creates authorization payments for every shipment of
// the order and processes them through the appropriate gateways. The
// template describes the chosen conventional method; each gift certificate
// becomes its own template so certificates are consumed before the
// conventional instrument.
//
// A declined authorization marks that payment failed and stops the batch it
// belongs to; payments already approved in the same call stay approved and
// must be compensated explicitly via RollBackPayments.
func (o *Orchestrator) InitializePayments(ctx context.Context, ord *order.Order,
	template *payment.OrderPayment, giftCertificates []*payment.GiftCertificate) (*payment.Result, error) {

	ctx, span := o.tracer.Start(ctx, "Orchestrator.InitializePayments")
	defer span.End()

	templates := giftCertificateTemplates(giftCertificates)
	templates = append(templates, template)

	result := payment.NewResult()

	convHandler, err := o.handlers.Handler(template.Method)
	if err != nil {
		return nil, err
	}

	initPayments, err := convHandler.BeforeInitializePayments(template, ord)
	if err != nil {
		return nil, err
	}
	if len(initPayments) > 0 {
		if err := o.preAuthorizeBatch(ctx, ord, initPayments, result); err != nil {
			return result, err
		}
		if !result.OK() {
			return result, nil
		}
	}

	for _, shipment := range ord.Shipments() {
		var candidates []*payment.OrderPayment
		for _, tpl := range templates {
			h, err := o.handlers.Handler(tpl.Method)
			if err != nil {
				return result, err
			}
			contributed, err := h.AuthorizationCandidates(tpl, ord, shipment, candidates)
			if err != nil {
				return result, err
			}
			candidates = append(candidates, contributed...)
		}
		fullAuth := !convHandler.CanAuthorizePartly(ord, shipment)
		if err := o.authorizeShipment(ctx, ord, shipment, candidates, result, fullAuth); err != nil {
			return result, err
		}
	}

	return result, nil
}

// InitializeNewShipmentPayment authorizes a shipment added to an already
// initialized order.
func (o *Orchestrator) InitializeNewShipmentPayment(ctx context.Context, ord *order.Order,
	shipment *order.OrderShipment, template *payment.OrderPayment) (*payment.Result, error) {

	ctx, span := o.tracer.Start(ctx, "Orchestrator.InitializeNewShipmentPayment")
	defer span.End()

	result := payment.NewResult()

	h, err := o.handlers.Handler(template.Method)
	if err != nil {
		return nil, err
	}
	candidates, err := h.AuthorizationCandidates(template, ord, shipment, nil)
	if err != nil {
		return nil, err
	}
	if err := o.authorizeShipment(ctx, ord, shipment, candidates, result, true); err != nil {
		return result, err
	}
	return result, nil
}

// AllActiveAuthorizationPayments returns the shipment's active
// authorizations in capture order: gift certificate holds ascending by
// creation time, then the conventional hold if one exists. The ordering is
// what makes capture and reversal sequences reproducible.
func (o *Orchestrator) AllActiveAuthorizationPayments(ord *order.Order, shipment *order.OrderShipment) []*payment.OrderPayment {
	payments := ord.ActiveGiftCertificateAuths(shipment.ShipmentNumber)
	if conv := ord.ActiveConventionalAuth(shipment.ShipmentNumber); conv != nil {
		payments = append(payments, conv)
	}
	return payments
}

// AllAuthorizationPayments is the same view over non-reverted (though
// possibly captured) authorizations, used for last-payment lookups.
func (o *Orchestrator) AllAuthorizationPayments(ord *order.Order, shipment *order.OrderShipment) []*payment.OrderPayment {
	payments := ord.NonRevertedGiftCertificateAuths(shipment.ShipmentNumber)
	if conv := ord.NonRevertedConventionalAuth(shipment.ShipmentNumber); conv != nil {
		payments = append(payments, conv)
	}
	return payments
}

// LastAuthorizationPayment returns the most recently created non-reverted
// authorization for the shipment, or nil.
func (o *Orchestrator) LastAuthorizationPayment(ord *order.Order, shipment *order.OrderShipment) *payment.OrderPayment {
	payments := o.AllAuthorizationPayments(ord, shipment)
	if len(payments) == 0 {
		return nil
	}
	sort.SliceStable(payments, func(i, j int) bool {
		return payment.LessByCreatedAt(payments[j], payments[i])
	})
	return payments[0]
}

func giftCertificateTemplates(giftCertificates []*payment.GiftCertificate) []*payment.OrderPayment {
	templates := make([]*payment.OrderPayment, 0, len(giftCertificates)+1)
	for _, gc := range giftCertificates {
		tpl := payment.NewTemplate(payment.TypeGiftCertificate)
		tpl.GiftCertificate = gc
		tpl.CreatedAt = time.Now()
		templates = append(templates, tpl)
	}
	return templates
}

func sumAmounts(payments []*payment.OrderPayment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}
