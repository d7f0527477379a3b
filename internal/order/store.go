package order

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound reports that no order exists for the given lookup key. It is
// deliberately distinct from transient store failures: callers must not retry
// it.
var ErrNotFound = errors.New("order: not found")

// PaymentStatus enumerates the order's payment lifecycle.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Status enumerates the order's fulfillment state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// Order is the restricted view of an order record the orchestrator works
// with. The store owns the full document; only these fields are read or
// written here.
type Order struct {
	OrderID              string
	CustomerName         string
	CustomerEmail        string
	CustomerPhone        string
	Items                json.RawMessage
	TotalMinor           int64
	Currency             string
	PaymentStatus        PaymentStatus
	Status               Status
	MerchantOrderID      string
	GatewayTransactionID string
	PaymentCompletedAt   time.Time
}

// SessionRecord captures one payment session initiation attempt.
type SessionRecord struct {
	MerchantOrderID string
	OrderID         string
	AmountMinor     int64
	RedirectURL     string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// CompleteParams carries the fields written by the settlement commit.
type CompleteParams struct {
	OrderID              string
	MerchantOrderID      string
	GatewayTransactionID string
	CompletedAt          time.Time
}

// VerificationRecord is an informational log row for a settlement attempt.
type VerificationRecord struct {
	OrderID         string
	MerchantOrderID string
	State           string
	GatewayCode     string
	Payload         json.RawMessage
}

// Store is the persistence contract the orchestrator consumes. MarkCompleted
// is the idempotency guard: it must apply only when the order's payment
// status is not already completed, and report whether it did.
type Store interface {
	FindByOrderID(ctx context.Context, orderID string) (Order, error)
	MarkCompleted(ctx context.Context, p CompleteParams) (bool, error)
	InsertSession(ctx context.Context, s SessionRecord) error
	RecordVerification(ctx context.Context, v VerificationRecord) error
}
