package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kayra-commerce/payments-api/internal/obs"
)

// State is the canonical four-state verification vocabulary. Everything the
// gateway reports is normalised onto it before it reaches the reconciler.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateExpired   State = "expired"
)

// Credential is a short-lived bearer credential issued by the gateway.
// It is owned by the TokenSource and never persisted.
type Credential struct {
	Value     string
	Scheme    string
	ExpiresAt time.Time
}

// Authorization renders the credential as an Authorization header value.
func (c Credential) Authorization() string {
	scheme := strings.TrimSpace(c.Scheme)
	if scheme == "" {
		scheme = "O-Bearer"
	}
	return scheme + " " + c.Value
}

func (c Credential) usable(skew time.Duration, now time.Time) bool {
	if c.Value == "" {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-skew))
}

// SessionRequest carries the information required to open a checkout session.
type SessionRequest struct {
	MerchantOrderID string
	AmountMinor     int64
	ExpireAfter     time.Duration
	CustomerName    string
	CustomerPhone   string
	CustomerEmail   string
	RedirectURL     string
}

// SessionResponse is the normalised result of a createSession call.
type SessionResponse struct {
	RedirectURL string
	ExpiresAt   time.Time
	Raw         json.RawMessage
}

// VerificationResult is the normalised result of a status fetch. Raw carries
// the gateway payload for operator diagnostics only; callers must branch on
// State alone.
type VerificationResult struct {
	State         State
	Code          string
	Message       string
	TransactionID string
	Raw           json.RawMessage
}

// Client issues the three gateway operations over HTTP. Each operation is a
// single outbound call; retry policy belongs to the orchestrator.
type Client struct {
	HTTP         *http.Client
	BaseURL      string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
}

func (c *Client) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 5 * time.Second
	}
	return c.Timeout
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

// Authenticate exchanges the client credentials for a bearer credential.
func (c *Client) Authenticate(ctx context.Context) (Credential, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.ClientID)
	form.Set("client_secret", c.ClientSecret)

	status, body, err := c.do(ctx, "authenticate", http.MethodPost, "/v1/oauth/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), "")
	if err != nil {
		return Credential{}, &AuthError{Reason: err.Error()}
	}

	var payload struct {
		Success bool `json:"success"`
		Data    struct {
			Token     string `json:"token"`
			ExpiresIn int64  `json:"expiresIn"`
		} `json:"data"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if decodeErr := json.Unmarshal(body, &payload); decodeErr != nil {
		return Credential{}, &AuthError{Status: status, Body: string(body), Reason: "malformed token response"}
	}
	if status < 200 || status >= 300 || !payload.Success || payload.Data.Token == "" {
		reason := strings.TrimSpace(payload.Message)
		if reason == "" {
			reason = "token request rejected"
		}
		return Credential{}, &AuthError{Status: status, Body: string(body), Reason: reason}
	}
	expiresIn := payload.Data.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return Credential{
		Value:     payload.Data.Token,
		Scheme:    "O-Bearer",
		ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// CreateSession opens a checkout session for the given merchant order.
// Success requires both a 2xx status and a redirect target in the body.
func (c *Client) CreateSession(ctx context.Context, cred Credential, req SessionRequest) (SessionResponse, error) {
	expireAfter := req.ExpireAfter
	if expireAfter <= 0 {
		expireAfter = 30 * time.Minute
	}
	payload := map[string]any{
		"merchantOrderId": req.MerchantOrderID,
		"amount":          req.AmountMinor,
		"expireAfter":     int64(expireAfter.Seconds()),
		"metaInfo": map[string]string{
			"udf1": req.CustomerName,
			"udf2": req.CustomerPhone,
			"udf3": req.CustomerEmail,
		},
		"paymentFlow": map[string]any{
			"type": "PG_CHECKOUT",
			"merchantUrls": map[string]string{
				"redirectUrl": req.RedirectURL,
			},
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return SessionResponse{}, &Error{Op: "createSession", Err: err}
	}

	status, body, err := c.do(ctx, "create_session", http.MethodPost, "/checkout/v2/pay", "application/json", bytes.NewReader(encoded), cred.Authorization())
	if err != nil {
		return SessionResponse{}, &Error{Op: "createSession", Err: err}
	}

	var resp struct {
		RedirectURL string `json:"redirectUrl"`
		ExpireAt    int64  `json:"expireAt"`
	}
	if decodeErr := json.Unmarshal(body, &resp); decodeErr != nil {
		return SessionResponse{}, &Error{Op: "createSession", Status: status, Body: string(body), Err: decodeErr}
	}
	if status < 200 || status >= 300 || strings.TrimSpace(resp.RedirectURL) == "" {
		return SessionResponse{}, &Error{Op: "createSession", Status: status, Body: string(body)}
	}
	expiresAt := time.Now().Add(expireAfter)
	if resp.ExpireAt > 0 {
		expiresAt = time.UnixMilli(resp.ExpireAt)
	}
	return SessionResponse{
		RedirectURL: resp.RedirectURL,
		ExpiresAt:   expiresAt,
		Raw:         body,
	}, nil
}

// FetchStatus retrieves the authoritative payment state for a merchant order.
func (c *Client) FetchStatus(ctx context.Context, cred Credential, merchantOrderID string) (VerificationResult, error) {
	path := fmt.Sprintf("/checkout/v2/order/%s/status?details=true", url.PathEscape(merchantOrderID))
	status, body, err := c.do(ctx, "fetch_status", http.MethodGet, path, "application/json", nil, cred.Authorization())
	if err != nil {
		return VerificationResult{}, &Error{Op: "fetchStatus", Err: err}
	}
	if status < 200 || status >= 300 {
		return VerificationResult{}, &Error{Op: "fetchStatus", Status: status, Body: string(body)}
	}

	var resp struct {
		State         string `json:"state"`
		Code          string `json:"code"`
		Message       string `json:"message"`
		TransactionID string `json:"transactionId"`
	}
	if decodeErr := json.Unmarshal(body, &resp); decodeErr != nil {
		return VerificationResult{}, &Error{Op: "fetchStatus", Status: status, Body: string(body), Err: decodeErr}
	}
	return VerificationResult{
		State:         mapState(resp.State),
		Code:          resp.Code,
		Message:       resp.Message,
		TransactionID: resp.TransactionID,
		Raw:           body,
	}, nil
}

// mapState normalises the gateway vocabulary onto the canonical four states.
// Unrecognised values map to pending: an ambiguous gateway response must never
// unlock fulfillment.
func mapState(state string) State {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "COMPLETED":
		return StateCompleted
	case "FAILED":
		return StateFailed
	case "EXPIRED":
		return StateExpired
	case "PENDING":
		return StatePending
	default:
		return StatePending
	}
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, authorization string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	result := "success"
	if err != nil {
		result = "error"
	}
	if obs.GatewayCallLatency != nil {
		obs.GatewayCallLatency.WithLabelValues(op, result).Observe(obs.DurationMillis(time.Since(start)))
	}
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}
