// Package repository persists order payment ledgers in Postgres. The
// payments table is append-only: rows are inserted once and never updated,
// except for the status transition recorded when a gateway call completes.
package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/yourorg/settlement-engine/internal/order"
	"github.com/yourorg/settlement-engine/internal/payment"
)

// PaymentRepository stores order headers and their payment ledgers.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// SaveSnapshot upserts the order header and inserts any ledger entries not
// yet persisted, in one transaction. Existing payment rows only have their
// status refreshed; all other columns are written once.
func (r *PaymentRepository) SaveSnapshot(ctx context.Context, ord *order.Order) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning snapshot tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO settlement.orders (order_number, store_code, currency, status, total)
		VALUES ($1, $2, $3, $4, $5::numeric)
		ON CONFLICT (order_number) DO UPDATE SET status = EXCLUDED.status, total = EXCLUDED.total
	`, ord.OrderNumber, ord.StoreCode, ord.Currency, string(ord.Status), ord.Total.String())
	if err != nil {
		return fmt.Errorf("upserting order %s: %w", ord.OrderNumber, err)
	}

	batch := &pgx.Batch{}
	for _, p := range ord.Payments() {
		var authorizedBy *string
		if p.AuthorizedBy != uuid.Nil {
			s := p.AuthorizedBy.String()
			authorizedBy = &s
		}
		batch.Queue(`
			INSERT INTO settlement.payments
				(id, order_number, shipment_number, method, transaction_type, status,
				 amount, currency, reference_id, authorized_by, authorization_code, created_at)
			VALUES
				($1::uuid, $2, $3, $4, $5, $6,
				 $7::numeric, $8, $9, $10::uuid, $11, $12)
			ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status
		`,
			p.ID.String(),
			ord.OrderNumber,
			p.ShipmentNumber,
			string(p.Method),
			string(p.TransactionType),
			string(p.Status),
			p.Amount.String(),
			p.Currency,
			p.ReferenceID,
			authorizedBy,
			p.AuthorizationCode,
			p.CreatedAt,
		)
	}
	if batch.Len() > 0 {
		br := tx.SendBatch(ctx, batch)
		if err := br.Close(); err != nil {
			return fmt.Errorf("inserting payments for order %s: %w", ord.OrderNumber, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing snapshot for order %s: %w", ord.OrderNumber, err)
	}
	return nil
}

// PaymentsByOrder returns the persisted ledger in creation order.
func (r *PaymentRepository) PaymentsByOrder(ctx context.Context, orderNumber string) ([]*payment.OrderPayment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, shipment_number, method, transaction_type, status,
		       amount::text, currency, reference_id, COALESCE(authorized_by::text, ''), authorization_code, created_at
		FROM settlement.payments
		WHERE order_number = $1
		ORDER BY created_at, id
	`, orderNumber)
	if err != nil {
		return nil, fmt.Errorf("querying payments for order %s: %w", orderNumber, err)
	}
	defer rows.Close()

	var payments []*payment.OrderPayment
	for rows.Next() {
		var (
			p                        payment.OrderPayment
			id, amount, authorizedBy string
			method, txType, status   string
		)
		if err := rows.Scan(&id, &p.ShipmentNumber, &method, &txType, &status,
			&amount, &p.Currency, &p.ReferenceID, &authorizedBy, &p.AuthorizationCode, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning payment row: %w", err)
		}
		p.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing payment id %q: %w", id, err)
		}
		p.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parsing payment amount %q: %w", amount, err)
		}
		if authorizedBy != "" {
			p.AuthorizedBy, err = uuid.Parse(authorizedBy)
			if err != nil {
				return nil, fmt.Errorf("parsing authorized_by %q: %w", authorizedBy, err)
			}
		}
		p.Method = payment.PaymentType(method)
		p.TransactionType = payment.TransactionType(txType)
		p.Status = payment.Status(status)
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}
