package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewStore constructs a Store backed by a pgx connection pool.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool *pgxpool.Pool
}

// FindByOrderID loads the orchestrator view of an order. The lookup key is
// the external order identifier, not the row's primary key.
func (s *pgStore) FindByOrderID(ctx context.Context, orderID string) (Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT order_id, customer_name, customer_email, customer_phone,
items, total_minor, currency, payment_status, status,
merchant_order_id, gateway_transaction_id, payment_completed_at
FROM orders WHERE order_id = $1`, orderID)

	var (
		o           Order
		phone       sql.NullString
		merchantID  sql.NullString
		txnID       sql.NullString
		completedAt sql.NullTime
	)
	err := row.Scan(&o.OrderID, &o.CustomerName, &o.CustomerEmail, &phone,
		&o.Items, &o.TotalMinor, &o.Currency, &o.PaymentStatus, &o.Status,
		&merchantID, &txnID, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("order: find %s: %w", orderID, err)
	}
	o.CustomerPhone = phone.String
	o.MerchantOrderID = merchantID.String
	o.GatewayTransactionID = txnID.String
	if completedAt.Valid {
		o.PaymentCompletedAt = completedAt.Time
	}
	return o, nil
}

// MarkCompleted commits the settlement in a single conditional write. The
// WHERE clause is the idempotency guard: a row already in the completed
// payment state is never touched, and the returned flag reports whether
// this call was the one that applied the transition.
func (s *pgStore) MarkCompleted(ctx context.Context, p CompleteParams) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE orders
SET payment_status = 'completed',
    status = 'confirmed',
    merchant_order_id = $2,
    gateway_transaction_id = $3,
    payment_completed_at = $4,
    updated_at = now()
WHERE order_id = $1 AND payment_status <> 'completed'`,
		p.OrderID, p.MerchantOrderID, p.GatewayTransactionID, p.CompletedAt)
	if err != nil {
		return false, fmt.Errorf("order: mark completed %s: %w", p.OrderID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertSession records a payment session initiation attempt. Sessions are
// append only; repeated initiations for the same order produce distinct
// merchant order IDs and distinct rows.
func (s *pgStore) InsertSession(ctx context.Context, sr SessionRecord) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO payment_sessions (merchant_order_id, order_id, amount_minor, redirect_url, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		sr.MerchantOrderID, sr.OrderID, sr.AmountMinor, sr.RedirectURL, sr.CreatedAt, sr.ExpiresAt)
	if err != nil {
		return fmt.Errorf("order: insert session %s: %w", sr.MerchantOrderID, err)
	}
	return nil
}

// RecordVerification appends an audit row for one settlement attempt.
func (s *pgStore) RecordVerification(ctx context.Context, v VerificationRecord) error {
	var payload any
	if len(v.Payload) > 0 {
		payload = []byte(v.Payload)
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO payment_events (order_id, merchant_order_id, state, gateway_code, payload, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		v.OrderID, v.MerchantOrderID, v.State, v.GatewayCode, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("order: record verification %s: %w", v.OrderID, err)
	}
	return nil
}
