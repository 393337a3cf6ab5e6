package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearshare/internal/events"
	"gearshare/internal/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newPublisher(w *fakeWriter) *KafkaPublisher {
	logger := zerolog.Nop()
	return NewKafkaPublisher(w, &logger)
}

func TestDeliver(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w)

	n := &models.Notification{ID: 1, EventKey: "booking:3:accepted:owner", EventType: models.EventAccepted, RecipientRole: models.RoleOwner}
	require.NoError(t, p.Deliver(context.Background(), n))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "booking:3:accepted:owner", string(w.msgs[0].Key))
	assert.Equal(t, "event-type", w.msgs[0].Headers[0].Key)

	var decoded models.Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, n.EventKey, decoded.EventKey)
}

func TestForwardFromBus(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisher(w)
	bus := events.NewEventBus()
	bus.SubscribeAll(p.Forward)

	b := &models.Booking{ID: 12, Status: models.StatusPending, Start: time.Now()}
	require.NoError(t, bus.PublishJSON(events.EventBookingStatusChanged, events.PayloadFor(b, models.StatusPreCreate, 1)))
	require.NoError(t, bus.PublishJSON("heartbeat", map[string]string{"ok": "yes"}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "12", string(w.msgs[0].Key))
	assert.Equal(t, "heartbeat", string(w.msgs[1].Key))
}

func TestWriteErrorsAndClose(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newPublisher(w)

	assert.Error(t, p.Deliver(context.Background(), &models.Notification{EventKey: "k"}))

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Deliver(context.Background(), &models.Notification{EventKey: "k"}), ErrPublisherClosed)
}

func TestNewWriter(t *testing.T) {
	logger := zerolog.Nop()
	w := NewWriter([]string{"localhost:9092"}, "gearshare.notifications", &logger)
	assert.Equal(t, "gearshare.notifications", w.Topic)
	assert.Equal(t, kafka.RequireAll, w.RequiredAcks)
}
