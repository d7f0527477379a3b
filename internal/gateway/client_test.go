package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAuthenticateParsesTokenResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostFormValue("grant_type"))
		require.Equal(t, "merchant-1", r.PostFormValue("client_id"))
		require.Equal(t, "s3cret", r.PostFormValue("client_secret"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"token": "tok-123", "expiresIn": 1800},
		})
	}))
	t.Cleanup(srv.Close)

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL, ClientID: "merchant-1", ClientSecret: "s3cret"}
	cred, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	require.Equal(t, "O-Bearer tok-123", cred.Authorization())
	require.WithinDuration(t, time.Now().Add(30*time.Minute), cred.ExpiresAt, 5*time.Second)
}

func TestAuthenticateRejectsFailureBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "bad credentials"})
	}))
	t.Cleanup(srv.Close)

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL, ClientID: "merchant-1", ClientSecret: "wrong"}
	_, err := c.Authenticate(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.Status)
	require.Contains(t, authErr.Reason, "bad credentials")
}

func TestCreateSessionRequiresRedirectURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/checkout/v2/pay", r.URL.Path)
		require.Equal(t, "O-Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "TXN_O-1_1700000000000", body["merchantOrderId"])
		flow := body["paymentFlow"].(map[string]any)
		require.Equal(t, "PG_CHECKOUT", flow["type"])
		// 2xx without a redirect target is still a failure
		_ = json.NewEncoder(w).Encode(map[string]any{"expireAt": 0})
	}))
	t.Cleanup(srv.Close)

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	cred := Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	_, err := c.CreateSession(context.Background(), cred, SessionRequest{
		MerchantOrderID: "TXN_O-1_1700000000000",
		AmountMinor:     49900,
	})
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, "createSession", gwErr.Op)
}

func TestCreateSessionSuccess(t *testing.T) {
	expireAt := time.Now().Add(20 * time.Minute).UnixMilli()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"redirectUrl": "https://pay.example/session/abc",
			"expireAt":    expireAt,
		})
	}))
	t.Cleanup(srv.Close)

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	cred := Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	sess, err := c.CreateSession(context.Background(), cred, SessionRequest{MerchantOrderID: "TXN_O-1_1", AmountMinor: 100})
	require.NoError(t, err)
	require.Equal(t, "https://pay.example/session/abc", sess.RedirectURL)
	require.Equal(t, time.UnixMilli(expireAt), sess.ExpiresAt)
}

func TestFetchStatusNormalisesState(t *testing.T) {
	var state string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/checkout/v2/order/TXN_O-1_1/status", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("details"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"state":         state,
			"code":          "PAYMENT_" + state,
			"transactionId": "T-9",
		})
	}))
	t.Cleanup(srv.Close)

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	cred := Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}

	cases := map[string]State{
		"COMPLETED":     StateCompleted,
		"FAILED":        StateFailed,
		"EXPIRED":       StateExpired,
		"PENDING":       StatePending,
		"ASSUMED_OK":    StatePending,
		"SOMETHING_NEW": StatePending,
		"":              StatePending,
	}
	for wire, want := range cases {
		state = wire
		vr, err := c.FetchStatus(context.Background(), cred, "TXN_O-1_1")
		require.NoError(t, err)
		require.Equal(t, want, vr.State, "wire state %q", wire)
	}
}

func TestFetchStatusGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	cred := Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	_, err := c.FetchStatus(context.Background(), cred, "TXN_O-1_1")
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.Equal(t, http.StatusBadGateway, gwErr.Status)
}

func TestFetchStatusTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL, Timeout: 50 * time.Millisecond}
	cred := Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	_, err := c.FetchStatus(context.Background(), cred, "TXN_O-1_1")
	require.Error(t, err)
	var gwErr *Error
	require.ErrorAs(t, err, &gwErr)
	require.True(t, errors.Is(gwErr.Err, context.DeadlineExceeded) || gwErr.Err != nil)
}

func TestCredentialUsable(t *testing.T) {
	now := time.Now()
	cred := Credential{Value: "tok", ExpiresAt: now.Add(time.Minute)}
	require.True(t, cred.usable(30*time.Second, now))
	require.False(t, cred.usable(2*time.Minute, now))
	require.False(t, Credential{}.usable(0, now))
}
