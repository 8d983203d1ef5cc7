// Package events publishes payment outcomes to Kafka so downstream systems
// (fulfillment, finance, fraud) can react without polling the engine.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// PaymentEvent is the wire form of one processed ledger entry.
type PaymentEvent struct {
	OrderNumber     string    `json:"order_number"`
	ShipmentNumber  string    `json:"shipment_number,omitempty"`
	PaymentID       string    `json:"payment_id"`
	Method          string    `json:"method"`
	TransactionType string    `json:"transaction_type"`
	Status          string    `json:"status"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// NewPaymentEvent builds the event for one ledger entry.
func NewPaymentEvent(ord *order.Order, p *payment.OrderPayment) PaymentEvent {
	return PaymentEvent{
		OrderNumber:     ord.OrderNumber,
		ShipmentNumber:  p.ShipmentNumber,
		PaymentID:       p.ID.String(),
		Method:          string(p.Method),
		TransactionType: string(p.TransactionType),
		Status:          string(p.Status),
		Amount:          p.Amount.String(),
		Currency:        p.Currency,
		OccurredAt:      p.CreatedAt,
	}
}

// Publisher writes payment events to one topic, keyed by order number so an
// order's events stay in one partition and arrive in order.
type Publisher struct {
	w *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *Publisher) Close() error {
	return p.w.Close()
}

// PublishResult emits one event per processed payment in the result.
func (p *Publisher) PublishResult(ctx context.Context, ord *order.Order, result *payment.Result) error {
	if result == nil || len(result.ProcessedPayments) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(result.ProcessedPayments))
	for _, processed := range result.ProcessedPayments {
		value, err := json.Marshal(NewPaymentEvent(ord, processed))
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ord.OrderNumber),
			Value: value,
			Headers: []kafka.Header{
				{Key: "content-type", Value: []byte("application/json")},
			},
		})
	}
	return p.w.WriteMessages(ctx, msgs...)
}
