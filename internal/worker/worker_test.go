package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gearshare/internal/config"
	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/models"
)

func TestEmitAndDeliver(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{}
	worker := newTestWorker(db, nil, config.WorkerConfig{}, sink)

	ctx := context.Background()
	n := testNotification("booking:1:request:owner")
	if err := worker.Emit(ctx, n); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if handled := worker.RunOnce(ctx); handled != 1 {
		t.Fatalf("expected 1 handled, got %d", handled)
	}

	got := loadNotification(t, db, n.EventKey)
	if got.Status != models.NotificationCompleted {
		t.Fatalf("expected status=completed, got %s", got.Status)
	}
	if got.ProcessedAt == nil {
		t.Fatalf("expected processed_at set")
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", sink.count())
	}
}

func TestEmitDuplicateKey(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{}
	worker := newTestWorker(db, nil, config.WorkerConfig{}, sink)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := worker.Emit(ctx, testNotification("booking:1:accepted:renter")); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	for worker.RunOnce(ctx) > 0 {
	}

	if sink.count() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", sink.count())
	}
}

func TestEmitValidation(t *testing.T) {
	worker := newTestWorker(newTestDB(t), nil, config.WorkerConfig{})
	ctx := context.Background()

	if err := worker.Emit(ctx, &models.Notification{RecipientRole: models.RoleOwner}); err == nil {
		t.Fatalf("expected error for empty event key")
	}
	if err := worker.Emit(ctx, &models.Notification{EventKey: "k"}); err == nil {
		t.Fatalf("expected error for missing recipient")
	}
}

func TestDeliverRetry(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{err: errors.New("boom")}
	worker := newTestWorker(db, nil, config.WorkerConfig{MaxRetries: 3, InitialDelay: time.Second}, sink)

	ctx := context.Background()
	n := testNotification("booking:2:denied:renter")
	if err := worker.Emit(ctx, n); err != nil {
		t.Fatalf("emit: %v", err)
	}
	worker.RunOnce(ctx)

	got := loadNotification(t, db, n.EventKey)
	if got.Status != models.NotificationRetry {
		t.Fatalf("expected status=retry, got %s", got.Status)
	}
	if got.RetryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", got.RetryCount)
	}
	if got.NextRetryAt == nil || got.NextRetryAt.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", got.NextRetryAt)
	}
}

func TestDeliverFail(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{err: errors.New("fatal")}
	worker := newTestWorker(db, nil, config.WorkerConfig{MaxRetries: 1}, sink)

	ctx := context.Background()
	n := testNotification("booking:3:ended:owner")
	_ = worker.Emit(ctx, n)
	worker.RunOnce(ctx)

	got := loadNotification(t, db, n.EventKey)
	if got.Status != models.NotificationFailed {
		t.Fatalf("expected status=failed, got %s", got.Status)
	}
}

func TestPartialSinkFailureRetriesAll(t *testing.T) {
	db := newTestDB(t)
	good := &fakeSink{name: "good"}
	bad := &fakeSink{name: "bad", err: errors.New("down")}
	worker := newTestWorker(db, nil, config.WorkerConfig{MaxRetries: 3}, good, bad)

	ctx := context.Background()
	n := testNotification("booking:4:payout:owner")
	_ = worker.Emit(ctx, n)
	worker.RunOnce(ctx)

	if good.count() != 1 || bad.count() != 1 {
		t.Fatalf("expected both sinks called once, got good=%d bad=%d", good.count(), bad.count())
	}
	if got := loadNotification(t, db, n.EventKey); got.Status != models.NotificationRetry {
		t.Fatalf("expected status=retry, got %s", got.Status)
	}
}

func TestRedisQueueAndDeadLetter(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer s.Close()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	db := newTestDB(t)
	sink := &fakeSink{err: errors.New("fatal")}
	worker := newTestWorker(db, client, config.WorkerConfig{MaxRetries: 1}, sink)

	ctx := context.Background()
	n := testNotification("booking:5:receipt:renter")
	if err := worker.Emit(ctx, n); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if _, ok := worker.tryLocalQueue(); ok {
		t.Fatalf("expected redis to be used instead of the local queue")
	}
	if l, _ := s.List(redisQueueKey); len(l) != 1 {
		t.Fatalf("expected 1 queued item in redis, got %d", len(l))
	}

	if handled := worker.RunOnce(ctx); handled != 1 {
		t.Fatalf("expected 1 handled, got %d", handled)
	}
	if l, _ := s.List(deadLetterKey); len(l) != 1 {
		t.Fatalf("expected dead letter entry, got %d", len(l))
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	sink := &fakeSink{}
	worker := newTestWorker(db, nil, config.WorkerConfig{PollInterval: 10 * time.Millisecond}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	_ = worker.Emit(ctx, testNotification("booking:6:request:owner"))
	deadline := time.Now().Add(2 * time.Second)
	for sink.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
	if sink.count() != 1 {
		t.Fatalf("expected 1 delivery, got %d", sink.count())
	}
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestRetryPolicyDo(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond}
	ctx := context.Background()

	calls := 0
	err := policy.Do(ctx, func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("expected success on third attempt, got err=%v calls=%d", err, calls)
	}

	calls = 0
	err = policy.Do(ctx, func(int) error {
		calls++
		return errors.New("always")
	})
	if err == nil || calls != 3 {
		t.Fatalf("expected error after 3 attempts, got err=%v calls=%d", err, calls)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	calls = 0
	_ = RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour}.Do(cancelled, func(int) error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Fatalf("expected cancellation to stop retries, got %d calls", calls)
	}

	stop := errors.New("stop")
	calls = 0
	err = policy.Do(ctx, func(int) error {
		calls++
		return Permanent(stop)
	})
	if err != stop || calls != 1 {
		t.Fatalf("expected permanent error to end retries at once, got err=%v calls=%d", err, calls)
	}
}

// Helpers

type fakeSink struct {
	mu    sync.Mutex
	name  string
	err   error
	calls int
}

func (f *fakeSink) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeSink) Deliver(ctx context.Context, n *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testNotification(key string) *models.Notification {
	return &models.Notification{
		EventKey:       key,
		EventType:      models.EventRequest,
		BookingID:      1,
		RecipientEmail: "bob@example.com",
		RecipientRole:  models.RoleOwner,
		TemplateData:   map[string]any{"item_name": "Leica M6"},
	}
}

func newTestWorker(db *database.DB, client *redis.Client, cfg config.WorkerConfig, sinks ...*fakeSink) *NotificationWorker {
	logger := zerolog.Nop()
	out := make([]domain.NotificationSink, 0, len(sinks))
	for _, s := range sinks {
		out = append(out, s)
	}
	return NewNotificationWorker(db, out, client, cfg, &logger)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.Nop()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadNotification(t *testing.T, db *database.DB, key string) *models.Notification {
	t.Helper()
	n, err := db.GetNotificationByKey(context.Background(), key)
	if err != nil {
		t.Fatalf("load notification: %v", err)
	}
	return n
}
