package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("broker down")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaPublisher_Dispatch(t *testing.T) {
	fw := &fakeWriter{}
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	p := newKafkaPublisherWith(fw, func() time.Time { return at })
	tabID := uuid.Must(uuid.NewV4())

	err := p.Dispatch(context.Background(), PaymentRecorded{
		TabID:         tabID,
		OrderID:       "SO-0001",
		InvoiceNumber: "SINV-0001",
		ModeOfPayment: "Cash",
		Amount:        decimal.RequireFromString("207.00"),
	})
	require.NoError(t, err)
	require.Len(t, fw.msgs, 1)
	assert.Equal(t, tabID.String(), string(fw.msgs[0].Key))

	var env Envelope
	require.NoError(t, json.Unmarshal(fw.msgs[0].Value, &env))
	assert.Equal(t, "PaymentRecorded", env.Type)
	assert.True(t, env.OccurredAt.Equal(at))

	var payload PaymentRecorded
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "SINV-0001", payload.InvoiceNumber)
	assert.True(t, payload.Amount.Equal(decimal.RequireFromString("207")))

	require.NoError(t, p.Close())
	assert.True(t, fw.closed)
}

func TestKafkaPublisher_DispatchFailure(t *testing.T) {
	p := newKafkaPublisherWith(&fakeWriter{fail: true}, time.Now)

	err := p.Dispatch(context.Background(), OrderConfirmed{TabID: uuid.Must(uuid.NewV4()), OrderID: "SO-1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "events: write OrderConfirmed")
}

func TestLogPublisher_Dispatch(t *testing.T) {
	assert.NoError(t, LogPublisher{}.Dispatch(context.Background(), OrderSaved{OrderID: "SO-1"}))
}
