package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/kayra-commerce/payments-api/internal/common"
	"github.com/kayra-commerce/payments-api/internal/events"
	"github.com/kayra-commerce/payments-api/internal/gateway"
	"github.com/kayra-commerce/payments-api/internal/notify"
	"github.com/kayra-commerce/payments-api/internal/obs"
	"github.com/kayra-commerce/payments-api/internal/order"
	"github.com/kayra-commerce/payments-api/internal/resilience"
)

// CredentialSource provides gateway credentials. Satisfied by
// *gateway.TokenSource.
type CredentialSource interface {
	Credential(ctx context.Context) (gateway.Credential, error)
	Invalidate()
}

// GatewayAPI covers the two gateway operations the orchestrator drives.
type GatewayAPI interface {
	CreateSession(ctx context.Context, cred gateway.Credential, req gateway.SessionRequest) (gateway.SessionResponse, error)
	FetchStatus(ctx context.Context, cred gateway.Credential, merchantOrderID string) (gateway.VerificationResult, error)
}

// InitiateInput is the validated request for opening a payment session.
type InitiateInput struct {
	OrderID       string `json:"orderId" validate:"required,max=64"`
	AmountMinor   int64  `json:"amount" validate:"required,gt=0"`
	CustomerName  string `json:"customerName" validate:"required,max=200"`
	CustomerEmail string `json:"customerEmail" validate:"required,email"`
	CustomerPhone string `json:"customerPhone" validate:"omitempty,max=20"`
}

// InitiateResult is returned to the caller so it can redirect the buyer.
type InitiateResult struct {
	MerchantOrderID string    `json:"merchantOrderId"`
	RedirectURL     string    `json:"redirectUrl"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// SettleInput identifies the session to verify and commit.
type SettleInput struct {
	OrderID         string `json:"orderId" validate:"required,max=64"`
	MerchantOrderID string `json:"merchantOrderId" validate:"required,max=128"`
}

// SettleResult reports the verified state. Committed and AlreadySettled
// mirror the reconciliation outcome; the caller treats both as success.
type SettleResult struct {
	OrderID        string        `json:"orderId"`
	State          gateway.State `json:"status"`
	Committed      bool          `json:"committed"`
	AlreadySettled bool          `json:"alreadySettled"`
}

// Service is the orchestrator façade over token acquisition, the gateway
// client, the reconciler and the event bus.
type Service struct {
	Tokens        CredentialSource
	Gateway       GatewayAPI
	Store         order.Store
	Reconciler    Reconciler
	Bus           *events.Bus
	Validate      *validator.Validate
	Log           zerolog.Logger
	RedirectBase  string
	SessionTTL    time.Duration
	RetryBase     time.Duration
	RetryMax      int
	RetryJitter   float64
	PaymentMethod string
}

func (s *Service) paymentMethod() string {
	if s.PaymentMethod == "" {
		return "phonepe"
	}
	return s.PaymentMethod
}

// MerchantOrderID derives the per-attempt session identifier. The timestamp
// suffix makes repeated initiations for one order distinct.
func MerchantOrderID(orderID string, now time.Time) string {
	return fmt.Sprintf("TXN_%s_%d", orderID, now.UnixMilli())
}

// Initiate opens a checkout session and returns the redirect target.
// Session creation is never retried: a retried create could leave duplicate
// live sessions at the gateway.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (InitiateResult, error) {
	if err := s.Validate.Struct(in); err != nil {
		return InitiateResult{}, common.NewAppError(common.CodeValidation, "invalid initiate request", http.StatusBadRequest, err)
	}

	cred, err := s.Tokens.Credential(ctx)
	if err != nil {
		s.recordInitiate("auth_failed")
		return InitiateResult{}, common.NewAppError(common.CodeAuthFailed, "gateway authentication failed", http.StatusBadGateway, err)
	}

	merchantOrderID := MerchantOrderID(in.OrderID, time.Now())
	sessReq := gateway.SessionRequest{
		MerchantOrderID: merchantOrderID,
		AmountMinor:     in.AmountMinor,
		ExpireAfter:     s.SessionTTL,
		CustomerName:    in.CustomerName,
		CustomerPhone:   in.CustomerPhone,
		CustomerEmail:   in.CustomerEmail,
		RedirectURL:     s.redirectURL(in.OrderID),
	}
	sess, err := s.Gateway.CreateSession(ctx, cred, sessReq)
	if err != nil && credentialRejected(err) {
		// a rejected token never opened a session, so one repeat with a
		// fresh credential cannot double-create
		if fresh, refreshErr := s.refreshCredential(ctx); refreshErr == nil {
			sess, err = s.Gateway.CreateSession(ctx, fresh, sessReq)
		}
	}
	if err != nil {
		s.recordInitiate("gateway_error")
		return InitiateResult{}, common.NewAppError(common.CodeGatewayError, "payment session could not be created", http.StatusBadGateway, err)
	}

	if err := s.Store.InsertSession(ctx, order.SessionRecord{
		MerchantOrderID: merchantOrderID,
		OrderID:         in.OrderID,
		AmountMinor:     in.AmountMinor,
		RedirectURL:     sess.RedirectURL,
		CreatedAt:       time.Now().UTC(),
		ExpiresAt:       sess.ExpiresAt,
	}); err != nil {
		// the session exists at the gateway, losing the local record is not fatal
		s.Log.Warn().Err(err).Str("merchant_order_id", merchantOrderID).Msg("payment: session record write failed")
	}

	s.emit(ctx, events.TopicSessionCreated, in.OrderID, map[string]any{
		"merchantOrderId": merchantOrderID,
		"amount":          in.AmountMinor,
		"expiresAt":       sess.ExpiresAt,
	})

	s.recordInitiate("success")
	return InitiateResult{
		MerchantOrderID: merchantOrderID,
		RedirectURL:     sess.RedirectURL,
		ExpiresAt:       sess.ExpiresAt,
	}, nil
}

// Settle verifies the gateway state for a session and commits it onto the
// order. Only the status fetch is retried; the commit is idempotent so the
// whole call can be safely repeated by the caller.
func (s *Service) Settle(ctx context.Context, in SettleInput) (SettleResult, error) {
	if err := s.Validate.Struct(in); err != nil {
		return SettleResult{}, common.NewAppError(common.CodeValidation, "invalid settle request", http.StatusBadRequest, err)
	}
	if !strings.HasPrefix(in.MerchantOrderID, "TXN_"+in.OrderID+"_") {
		return SettleResult{}, common.NewAppError(common.CodeValidation, "merchantOrderId does not belong to order", http.StatusBadRequest, nil)
	}

	cred, err := s.Tokens.Credential(ctx)
	if err != nil {
		s.recordSettlement("auth_failed")
		return SettleResult{}, common.NewAppError(common.CodeAuthFailed, "gateway authentication failed", http.StatusBadGateway, err)
	}

	vr, err := s.fetchStatusWithRetry(ctx, cred, in.MerchantOrderID)
	if err != nil {
		s.recordSettlement("gateway_error")
		return SettleResult{}, common.NewAppError(common.CodeGatewayError, "payment status could not be verified", http.StatusBadGateway, err)
	}

	// the commit must not be abandoned mid-write when the caller disconnects
	commitCtx := context.WithoutCancel(ctx)
	outcome, err := s.Reconciler.Reconcile(commitCtx, in.OrderID, in.MerchantOrderID, vr)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			s.recordSettlement("order_not_found")
			return SettleResult{}, common.NewAppError(common.CodeOrderNotFound, "order not found", http.StatusNotFound, err)
		}
		s.recordSettlement("store_error")
		return SettleResult{}, common.NewAppError(common.CodeStoreError, "order state could not be updated", http.StatusInternalServerError, err)
	}

	switch {
	case outcome.Committed:
		s.recordSettlement("committed")
		s.emitCompleted(commitCtx, outcome.Order)
	case outcome.AlreadySettled:
		s.recordSettlement("already_settled")
	default:
		s.recordSettlement(string(outcome.State))
		s.emitTerminal(commitCtx, in, vr)
	}

	return SettleResult{
		OrderID:        in.OrderID,
		State:          outcome.State,
		Committed:      outcome.Committed,
		AlreadySettled: outcome.AlreadySettled,
	}, nil
}

// Status re-verifies the gateway state without committing anything. Used by
// the read-only poll endpoint.
func (s *Service) Status(ctx context.Context, in SettleInput) (gateway.VerificationResult, error) {
	if err := s.Validate.Struct(in); err != nil {
		return gateway.VerificationResult{}, common.NewAppError(common.CodeValidation, "invalid status request", http.StatusBadRequest, err)
	}
	cred, err := s.Tokens.Credential(ctx)
	if err != nil {
		return gateway.VerificationResult{}, common.NewAppError(common.CodeAuthFailed, "gateway authentication failed", http.StatusBadGateway, err)
	}
	vr, err := s.Gateway.FetchStatus(ctx, cred, in.MerchantOrderID)
	if err != nil && credentialRejected(err) {
		if fresh, refreshErr := s.refreshCredential(ctx); refreshErr == nil {
			vr, err = s.Gateway.FetchStatus(ctx, fresh, in.MerchantOrderID)
		}
	}
	if err != nil {
		return gateway.VerificationResult{}, common.NewAppError(common.CodeGatewayError, "payment status could not be verified", http.StatusBadGateway, err)
	}
	return vr, nil
}

func (s *Service) fetchStatusWithRetry(ctx context.Context, cred gateway.Credential, merchantOrderID string) (gateway.VerificationResult, error) {
	attempts := s.RetryMax
	if attempts <= 0 {
		attempts = 1
	}
	base := s.RetryBase
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	var lastErr error
	refreshed := false
	for attempt := 1; attempt <= attempts; attempt++ {
		vr, err := s.Gateway.FetchStatus(ctx, cred, merchantOrderID)
		if err == nil {
			return vr, nil
		}
		lastErr = err
		var gwErr *gateway.Error
		if !errors.As(err, &gwErr) {
			break
		}
		if credentialRejected(err) && !refreshed {
			fresh, refreshErr := s.refreshCredential(ctx)
			if refreshErr != nil {
				break
			}
			cred = fresh
			refreshed = true
			// the rejected call does not consume a verification attempt
			attempt--
			continue
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(resilience.Backoff(base, attempt, s.RetryJitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			return gateway.VerificationResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return gateway.VerificationResult{}, lastErr
}

// refreshCredential discards a credential the gateway refused and fetches a
// replacement for an immediate retry.
func (s *Service) refreshCredential(ctx context.Context) (gateway.Credential, error) {
	s.Tokens.Invalidate()
	return s.Tokens.Credential(ctx)
}

// credentialRejected reports whether the gateway refused the presented token
// before its advertised expiry.
func credentialRejected(err error) bool {
	var gwErr *gateway.Error
	return errors.As(err, &gwErr) && gwErr.Status == http.StatusUnauthorized
}

func (s *Service) emitCompleted(ctx context.Context, o order.Order) {
	s.emit(ctx, events.TopicPaymentCompleted, o.OrderID, notify.BuildConfirmation(o, s.paymentMethod()))
}

// emitTerminal publishes the non-completed terminal outcomes so downstream
// consumers can react to abandoned payments. Pending is not terminal and
// emits nothing.
func (s *Service) emitTerminal(ctx context.Context, in SettleInput, vr gateway.VerificationResult) {
	var topic string
	switch vr.State {
	case gateway.StateFailed:
		topic = events.TopicPaymentFailed
	case gateway.StateExpired:
		topic = events.TopicPaymentExpired
	default:
		return
	}
	s.emit(ctx, topic, in.OrderID, map[string]any{
		"merchantOrderId": in.MerchantOrderID,
		"state":           vr.State,
		"code":            vr.Code,
	})
}

func (s *Service) emit(ctx context.Context, topic, orderID string, payload any) {
	if s.Bus == nil {
		return
	}
	if _, err := s.Bus.Emit(ctx, topic, orderID, payload); err != nil {
		// best-effort, the settlement outcome stands regardless
		s.Log.Error().Err(err).Str("topic", topic).Str("order_id", orderID).Msg("payment: event dispatch failed")
	}
}

func (s *Service) redirectURL(orderID string) string {
	base := strings.TrimRight(s.RedirectBase, "/")
	return fmt.Sprintf("%s/payment/callback?orderId=%s", base, orderID)
}

func (s *Service) recordInitiate(result string) {
	if obs.SessionInitiateTotal != nil {
		obs.SessionInitiateTotal.WithLabelValues(result).Inc()
	}
}

func (s *Service) recordSettlement(result string) {
	if obs.SettlementTotal != nil {
		obs.SettlementTotal.WithLabelValues(result).Inc()
	}
}
