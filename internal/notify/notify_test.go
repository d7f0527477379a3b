package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kayra-commerce/payments-api/internal/events"
	"github.com/kayra-commerce/payments-api/internal/lock"
	"github.com/kayra-commerce/payments-api/internal/notify"
	"github.com/kayra-commerce/payments-api/internal/order"
	"github.com/kayra-commerce/payments-api/internal/queue"
	"github.com/kayra-commerce/payments-api/internal/resilience"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func settledOrder() order.Order {
	return order.Order{
		OrderID:              "O-1",
		CustomerName:         "Asha",
		CustomerEmail:        "asha@example.com",
		Items:                json.RawMessage(`[{"sku":"A1","qty":2}]`),
		TotalMinor:           49900,
		Currency:             "INR",
		GatewayTransactionID: "T-9",
	}
}

func TestBuildConfirmation(t *testing.T) {
	p := notify.BuildConfirmation(settledOrder(), "phonepe")
	require.Equal(t, "O-1", p.OrderID)
	require.Equal(t, "Asha", p.Customer.Name)
	require.Equal(t, "asha@example.com", p.Customer.Email)
	require.Equal(t, int64(49900), p.Total)
	require.Equal(t, "INR", p.Currency)
	require.Equal(t, "phonepe", p.PaymentMethod)
	require.Equal(t, "T-9", p.TransactionID)

	empty := notify.BuildConfirmation(order.Order{OrderID: "O-2"}, "phonepe")
	require.JSONEq(t, "[]", string(empty.Items))
}

func TestEnqueuerOnlyHandlesCompletedTopic(t *testing.T) {
	client := newRedis(t)
	enq := notify.Enqueuer{
		Queue:   queue.Enqueuer{R: client, Prefix: "test"},
		Enabled: true,
	}
	ctx := context.Background()

	payload, _ := json.Marshal(notify.BuildConfirmation(settledOrder(), "phonepe"))
	err := enq.Notify(ctx, events.Event{Topic: events.TopicPaymentFailed, OrderID: "O-1", Payload: payload})
	require.NoError(t, err)
	depth, _ := client.ZCard(ctx, "test:queue:"+notify.KindOrderConfirmation).Result()
	require.Zero(t, depth)

	err = enq.Notify(ctx, events.Event{Topic: events.TopicPaymentCompleted, OrderID: "O-1", Payload: payload})
	require.NoError(t, err)
	depth, _ = client.ZCard(ctx, "test:queue:"+notify.KindOrderConfirmation).Result()
	require.Equal(t, int64(1), depth)
}

func TestEnqueuerDisabled(t *testing.T) {
	client := newRedis(t)
	enq := notify.Enqueuer{Queue: queue.Enqueuer{R: client, Prefix: "test"}}

	err := enq.Notify(context.Background(), events.Event{Topic: events.TopicPaymentCompleted, OrderID: "O-1", Payload: []byte("{}")})
	require.NoError(t, err)
	depth, _ := client.ZCard(context.Background(), "test:queue:"+notify.KindOrderConfirmation).Result()
	require.Zero(t, depth)
}

func TestSenderPostsContractPayload(t *testing.T) {
	var got notify.ConfirmationPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(srv.Close)

	sender := notify.Sender{
		HTTP:       resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		ServiceURL: srv.URL,
	}
	p := notify.BuildConfirmation(settledOrder(), "phonepe")
	require.NoError(t, sender.Send(context.Background(), p))
	require.Equal(t, p.OrderID, got.OrderID)
	require.Equal(t, p.Customer, got.Customer)
}

func TestSenderRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	sender := notify.Sender{
		HTTP:       resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
		ServiceURL: srv.URL,
	}
	err := sender.Send(context.Background(), notify.BuildConfirmation(settledOrder(), "phonepe"))
	require.Error(t, err)
}

func TestDeliveryWorkerDeliversUnderLock(t *testing.T) {
	client := newRedis(t)

	var delivered int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	worker := notify.DeliveryWorker{
		Sender: notify.Sender{
			HTTP:       resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
			ServiceURL: srv.URL,
		},
		Locker:  lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL: time.Second,
		Log:     zerolog.Nop(),
	}

	payload, _ := json.Marshal(notify.BuildConfirmation(settledOrder(), "phonepe"))
	err := worker.Handle(context.Background(), queue.Job{
		Kind:           notify.KindOrderConfirmation,
		Payload:        payload,
		IdempotencyKey: "O-1",
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&delivered))
}

func TestDeliveryWorkerDropsMalformedJobs(t *testing.T) {
	client := newRedis(t)
	worker := notify.DeliveryWorker{
		Locker: lock.Locker{R: client},
		Log:    zerolog.Nop(),
	}

	// undecodable payloads can never succeed, must not be retried
	err := worker.Handle(context.Background(), queue.Job{Payload: []byte("not json")})
	require.NoError(t, err)

	// missing recipient likewise
	err = worker.Handle(context.Background(), queue.Job{Payload: []byte(`{"orderId":"O-1"}`)})
	require.NoError(t, err)
}

func TestDeliveryWorkerReturnsErrorForRetry(t *testing.T) {
	client := newRedis(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	worker := notify.DeliveryWorker{
		Sender: notify.Sender{
			HTTP:       resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1},
			ServiceURL: srv.URL,
		},
		Locker:  lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL: time.Second,
		Log:     zerolog.Nop(),
	}

	payload, _ := json.Marshal(notify.BuildConfirmation(settledOrder(), "phonepe"))
	err := worker.Handle(context.Background(), queue.Job{Payload: payload, IdempotencyKey: "O-1"})
	require.Error(t, err)
}
