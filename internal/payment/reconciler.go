package payment

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kayra-commerce/payments-api/internal/gateway"
	"github.com/kayra-commerce/payments-api/internal/order"
)

// Outcome reports what a reconciliation did. Exactly one of Committed and
// AlreadySettled is true when State is completed; both are false otherwise.
type Outcome struct {
	Order          order.Order
	State          gateway.State
	Committed      bool
	AlreadySettled bool
}

// Reconciler folds a verified gateway state into the order store. The only
// write that can change an order's terminal state is the conditional commit
// inside MarkCompleted; every other state leaves the order untouched so a
// later retry can still settle it.
type Reconciler struct {
	Store order.Store
	Log   zerolog.Logger
}

// Reconcile applies the verification result for one order. Non-completed
// states are recorded for audit only. The commit is idempotent: when the
// order is already settled the outcome says so instead of failing.
func (r Reconciler) Reconcile(ctx context.Context, orderID, merchantOrderID string, vr gateway.VerificationResult) (Outcome, error) {
	o, err := r.Store.FindByOrderID(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}

	if err := r.Store.RecordVerification(ctx, order.VerificationRecord{
		OrderID:         orderID,
		MerchantOrderID: merchantOrderID,
		State:           string(vr.State),
		GatewayCode:     vr.Code,
		Payload:         vr.Raw,
	}); err != nil {
		// audit only, never blocks settlement
		r.Log.Warn().Err(err).Str("order_id", orderID).Msg("payment: verification audit write failed")
	}

	if vr.State != gateway.StateCompleted {
		return Outcome{Order: o, State: vr.State}, nil
	}

	applied, err := r.Store.MarkCompleted(ctx, order.CompleteParams{
		OrderID:              orderID,
		MerchantOrderID:      merchantOrderID,
		GatewayTransactionID: vr.TransactionID,
		CompletedAt:          time.Now().UTC(),
	})
	if err != nil {
		return Outcome{}, err
	}

	if !applied {
		// the store kept the earlier winner's values, do not overlay ours
		return Outcome{Order: o, State: gateway.StateCompleted, AlreadySettled: true}, nil
	}

	o.PaymentStatus = order.PaymentCompleted
	o.Status = order.StatusConfirmed
	o.MerchantOrderID = merchantOrderID
	if vr.TransactionID != "" {
		o.GatewayTransactionID = vr.TransactionID
	}
	return Outcome{Order: o, State: gateway.StateCompleted, Committed: true}, nil
}
