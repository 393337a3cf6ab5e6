package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"gearshare/internal/config"
	"gearshare/internal/domain"
	"gearshare/internal/metrics"
	"gearshare/internal/models"
)

const (
	redisQueueKey = "gearshare:notifications:queue"
	deadLetterKey = "gearshare:notifications:deadletter"
)

// NotificationWorker persists notifications under their unique event key and
// delivers them to every configured sink. Delivery is at least once; sinks
// receive the event key to deduplicate.
type NotificationWorker struct {
	store        domain.NotificationStore
	sinks        []domain.NotificationSink
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan models.Notification
	pollInterval time.Duration
	lease        time.Duration
	batchSize    int
	id           string
	logger       zerolog.Logger
}

// NewNotificationWorker builds a worker with sane defaults.
func NewNotificationWorker(store domain.NotificationStore, sinks []domain.NotificationSink, redisClient *redis.Client, cfg config.WorkerConfig, logger *zerolog.Logger) *NotificationWorker {
	retry := PolicyFromConfig(cfg)
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	lease := cfg.Lease
	if lease <= 0 {
		lease = time.Minute
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	id := uuid.NewString()
	return &NotificationWorker{
		store:        store,
		sinks:        sinks,
		redis:        redisClient,
		retryPolicy:  retry,
		queue:        make(chan models.Notification, models.NotificationQueueSize),
		pollInterval: pollInterval,
		lease:        lease,
		batchSize:    batchSize,
		id:           id,
		logger:       logger.With().Str("component", "notification_worker").Str("worker_id", id).Logger(),
	}
}

// Emit stores the notification and schedules it. A notification whose event
// key was already stored is silently dropped.
func (w *NotificationWorker) Emit(ctx context.Context, n *models.Notification) error {
	if n.EventKey == "" {
		return errors.New("event key is required")
	}
	if n.RecipientEmail == "" && n.RecipientRole == "" {
		return errors.New("recipient is required")
	}

	created, err := w.store.CreateNotification(ctx, n)
	if err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}
	if !created {
		w.logger.Debug().Str("event_key", n.EventKey).Msg("Duplicate notification ignored")
		return nil
	}

	// Try redis first so that other workers can pick it up.
	if w.redis != nil {
		if err := w.pushRedis(ctx, redisQueueKey, n); err != nil {
			w.logger.Warn().Err(err).Msg("Redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- *n:
	default:
		w.logger.Warn().Int64("notification_id", n.ID).Msg("In-memory queue full, notification left to polling")
	}
	return nil
}

// Start launches main loop; stops when ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Int("sinks", len(w.sinks)).Msg("Notification worker started")
	defer w.logger.Info().Msg("Notification worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		if w.RunOnce(ctx) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// RunOnce drains one source (local queue, Redis, then the store) and returns
// how many notifications were handled.
func (w *NotificationWorker) RunOnce(ctx context.Context) int {
	if n, ok := w.tryLocalQueue(); ok {
		w.process(ctx, &n)
		return 1
	}

	if n, ok := w.tryRedis(ctx); ok {
		w.process(ctx, &n)
		return 1
	}

	pending, err := w.store.GetPendingNotifications(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to fetch pending notifications")
		return 0
	}
	for i := range pending {
		w.process(ctx, &pending[i])
	}
	return len(pending)
}

func (w *NotificationWorker) tryLocalQueue() (models.Notification, bool) {
	select {
	case n := <-w.queue:
		return n, true
	default:
		return models.Notification{}, false
	}
}

func (w *NotificationWorker) tryRedis(ctx context.Context) (models.Notification, bool) {
	if w.redis == nil {
		return models.Notification{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) && !errors.Is(err, redis.Nil) {
			w.logger.Warn().Err(err).Msg("Redis BRPOP error")
		}
		return models.Notification{}, false
	}
	if len(res) != 2 {
		return models.Notification{}, false
	}
	var n models.Notification
	if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
		w.logger.Error().Err(err).Msg("Failed to decode queued notification")
		return models.Notification{}, false
	}
	return n, true
}

func (w *NotificationWorker) process(ctx context.Context, n *models.Notification) {
	claimed, err := w.store.ClaimNotification(ctx, n.ID, w.lease)
	if err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to claim notification")
		return
	}
	if !claimed {
		return
	}

	log := w.logger.With().Int64("notification_id", n.ID).Str("event_key", n.EventKey).Logger()

	var failures []string
	for _, sink := range w.sinks {
		if err := sink.Deliver(ctx, n); err != nil {
			metrics.IncNotification(sink.Name(), "error")
			log.Warn().Err(err).Str("sink", sink.Name()).Msg("Notification delivery failed")
			failures = append(failures, fmt.Sprintf("%s: %v", sink.Name(), err))
			continue
		}
		metrics.IncNotification(sink.Name(), "ok")
	}

	if len(failures) > 0 {
		w.retryOrFail(ctx, n, errors.New(strings.Join(failures, "; ")))
		return
	}

	if err := w.store.UpdateNotificationStatus(ctx, n.ID, models.NotificationCompleted, "", nil); err != nil {
		log.Error().Err(err).Msg("Failed to mark notification completed")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, n *models.Notification, cause error) {
	attempt := n.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		if err := w.store.UpdateNotificationStatus(ctx, n.ID, models.NotificationFailed, cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to mark notification failed")
		}
		w.pushDeadLetter(ctx, n)
		return
	}

	next := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateNotificationStatus(ctx, n.ID, models.NotificationRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Failed to schedule notification retry")
	}
}

func (w *NotificationWorker) pushRedis(ctx context.Context, key string, n *models.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, n *models.Notification) {
	if w.redis == nil {
		return
	}
	if err := w.pushRedis(ctx, deadLetterKey, n); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("Dead letter push failed")
	}
}
