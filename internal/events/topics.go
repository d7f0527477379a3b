package events

// Topic constants for domain events emitted by the payment lifecycle.
const (
	TopicPaymentCompleted = "payment.completed"
	TopicPaymentFailed    = "payment.failed"
	TopicPaymentExpired   = "payment.expired"
	TopicSessionCreated   = "payment.session_created"
)
