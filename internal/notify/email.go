package notify

import (
	"encoding/json"

	"github.com/kayra-commerce/payments-api/internal/order"
)

// KindOrderConfirmation is the queue kind for confirmation email jobs.
const KindOrderConfirmation = "order-confirmation"

// Customer identifies the confirmation recipient.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ConfirmationPayload is the body posted to the email service once an order
// settles. Field names are part of the email service's contract.
type ConfirmationPayload struct {
	Customer      Customer        `json:"customer"`
	OrderID       string          `json:"orderId"`
	Items         json.RawMessage `json:"items"`
	Total         int64           `json:"total"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"paymentMethod"`
	TransactionID string          `json:"transactionId,omitempty"`
}

// BuildConfirmation assembles the confirmation payload from a settled order.
func BuildConfirmation(o order.Order, paymentMethod string) ConfirmationPayload {
	items := o.Items
	if len(items) == 0 {
		items = json.RawMessage("[]")
	}
	return ConfirmationPayload{
		Customer: Customer{
			Name:  o.CustomerName,
			Email: o.CustomerEmail,
		},
		OrderID:       o.OrderID,
		Items:         items,
		Total:         o.TotalMinor,
		Currency:      o.Currency,
		PaymentMethod: paymentMethod,
		TransactionID: o.GatewayTransactionID,
	}
}
