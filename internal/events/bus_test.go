package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, ev Event) error {
	n.events = append(n.events, ev)
	return n.err
}

func TestEmitFansOutToAllNotifiers(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{}
	bus := &Bus{Notifiers: []Notifier{a, nil, b}}

	ev, err := bus.Emit(context.Background(), TopicPaymentCompleted, "O-1", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Equal(t, TopicPaymentCompleted, ev.Topic)
	require.Equal(t, "O-1", ev.OrderID)
	require.JSONEq(t, `{"k":"v"}`, string(ev.Payload))
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
}

func TestEmitOneFailureDoesNotStopOthers(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("smtp down")}
	healthy := &recordingNotifier{}
	bus := &Bus{Notifiers: []Notifier{failing, healthy}}

	_, err := bus.Emit(context.Background(), TopicPaymentCompleted, "O-1", nil)
	require.Error(t, err)
	require.Len(t, healthy.events, 1)
}

func TestEmitValidatesInput(t *testing.T) {
	bus := &Bus{}

	_, err := bus.Emit(context.Background(), " ", "O-1", nil)
	require.Error(t, err)

	_, err = bus.Emit(context.Background(), TopicPaymentCompleted, "", nil)
	require.Error(t, err)
}

func TestEncodePayloadVariants(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		want    string
		wantErr bool
	}{
		{name: "nil", payload: nil, want: "{}"},
		{name: "empty bytes", payload: []byte{}, want: "{}"},
		{name: "raw json", payload: json.RawMessage(`{"a":1}`), want: `{"a":1}`},
		{name: "string", payload: `{"b":2}`, want: `{"b":2}`},
		{name: "struct", payload: struct {
			C int `json:"c"`
		}{C: 3}, want: `{"c":3}`},
		{name: "invalid bytes", payload: []byte("not json"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := encodePayload(tc.payload)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.JSONEq(t, tc.want, string(got))
		})
	}
}
