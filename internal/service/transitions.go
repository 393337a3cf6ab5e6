package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gearshare/internal/apperr"
	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/events"
	"gearshare/internal/metrics"
	"gearshare/internal/models"
	"gearshare/internal/notify"
	"gearshare/internal/worker"
)

// maxTransitionAttempts bounds reloads after optimistic-lock conflicts.
const maxTransitionAttempts = 5

// errStatusMoved means another transition committed while a gateway call
// was running, so the post-payment status must not be written over it.
var errStatusMoved = errors.New("booking status changed during the payment")

type notice struct {
	event string
	role  string
}

// transition is the committed result of one status change.
type transition struct {
	booking  *models.Booking
	previous string
	notices  []notice
	events   []string
}

// UpdateStatus moves a booking to target on behalf of actorID. Side effects
// run only after the new status is committed.
func (s *BookingService) UpdateStatus(ctx context.Context, actorID, bookingID int64, target, preauthRef string) (*models.Booking, error) {
	for attempt := 1; ; attempt++ {
		b, err := s.load(ctx, bookingID)
		if err != nil {
			return nil, err
		}

		role := b.RoleOf(actorID)
		if role == "" {
			metrics.IncTransition(target, "forbidden")
			return nil, apperr.Authorization("only the renter or the owner may change this booking")
		}
		if !models.IsSettableStatus(target) {
			metrics.IncTransition(target, "invalid")
			return nil, apperr.Validation("status cannot be set", map[string]any{"status": target})
		}
		if required := models.RequiredRole(target); required != role {
			metrics.IncTransition(target, "forbidden")
			return nil, apperr.Authorization("only the " + required + " may set status " + target)
		}

		t, err := s.apply(ctx, b, target, preauthRef)
		if errors.Is(err, database.ErrConcurrentModification) && attempt < maxTransitionAttempts {
			s.logger.Debug().Int64("booking_id", bookingID).Int("attempt", attempt).Msg("Booking changed concurrently, reloading")
			continue
		}
		if err != nil {
			metrics.IncTransition(target, "error")
			return nil, transitionError(err)
		}

		metrics.IncTransition(target, "ok")
		s.logger.Info().
			Int64("booking_id", bookingID).
			Int64("actor_id", actorID).
			Str("from", t.previous).
			Str("status", t.booking.Status).
			Msg("Booking status changed")
		s.afterCommit(ctx, t, actorID)
		return t.booking, nil
	}
}

func (s *BookingService) apply(ctx context.Context, b *models.Booking, target, preauthRef string) (*transition, error) {
	// Повторный отказ возвращает интервал, только если это еще не сделано.
	if target == models.StatusDenied && b.Status == models.StatusDenied {
		if b.ReleasedAt != nil {
			return &transition{booking: b, previous: b.Status}, nil
		}
		if err := s.releaseInterval(ctx, b); err != nil {
			if errors.Is(err, database.ErrConcurrentModification) {
				return nil, err
			}
			return nil, apperr.Internal("failed to release interval", err)
		}
		return &transition{booking: b, previous: b.Status}, nil
	}
	if !models.CanTransition(b.Status, target) {
		return nil, apperr.Validation("illegal status transition", map[string]any{"from": b.Status, "to": target})
	}

	switch target {
	case models.StatusPending:
		return s.toPending(ctx, b, preauthRef)
	case models.StatusDenied:
		return s.toDenied(ctx, b)
	case models.StatusAccepted:
		return s.toAccepted(ctx, b)
	case models.StatusEndedDenied:
		return s.toEndedDenied(ctx, b)
	default:
		return s.toReturned(ctx, b, target)
	}
}

func (s *BookingService) toPending(ctx context.Context, b *models.Booking, preauthRef string) (*transition, error) {
	preauthID := b.PreauthID
	switch {
	case preauthID == "" && preauthRef == "":
		return nil, apperr.Validation("booking has no pre-authorization", nil)
	case preauthID == "":
		preauthID = preauthRef
	case preauthRef != "" && preauthRef != preauthID:
		return nil, apperr.Validation("pre-authorization does not belong to this booking", map[string]any{"preauth_id": preauthRef})
	}

	status, err := s.payments.PreauthStatus(ctx, preauthID)
	if err != nil {
		return nil, err
	}
	if status != models.PreauthWaiting {
		return nil, apperr.Payment("pre-authorization is not awaiting capture", nil).
			WithDetails(map[string]any{"preauth_status": status})
	}

	prev := b.Status
	b.Status = models.StatusPending
	b.PreauthID = preauthID
	b.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateBookingWithVersion(ctx, b); err != nil {
		return nil, err
	}
	return &transition{
		booking:  b,
		previous: prev,
		notices:  []notice{{models.EventRequest, models.RoleOwner}, {models.EventReservation, models.RoleRenter}},
		events:   []string{events.EventBookingStatusChanged},
	}, nil
}

// toDenied commits the status together with the release marker before
// giving the interval back, so a failed restore can be repeated by denying
// again. A deny is refused once a capture has been started.
func (s *BookingService) toDenied(ctx context.Context, b *models.Booking) (*transition, error) {
	state, err := s.payments.CaptureState(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if state != domain.LedgerAbsent {
		return nil, apperr.Conflict("payment capture for this booking has already started")
	}

	prev := b.Status
	now := s.now().UTC()
	b.Status = models.StatusDenied
	b.RespondedAt = &now
	b.ReleasedAt = &now
	b.UpdatedAt = now
	if err := s.store.UpdateBookingWithVersion(ctx, b); err != nil {
		return nil, err
	}

	t := &transition{
		booking:  b,
		previous: prev,
		notices:  []notice{{models.EventDenied, models.RoleRenter}, {models.EventDenied, models.RoleOwner}},
		events:   []string{events.EventBookingStatusChanged},
	}
	if err := s.releaseInterval(ctx, b); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", b.ID).Msg("Booking denied but interval not released, deny again to retry")
		s.afterCommit(ctx, t, b.OwnerID)
		return nil, apperr.Internal("booking denied but the interval could not be released", err)
	}
	return t, nil
}

// releaseInterval hands the booked span back to the free set. The release
// marker is committed first, so of two concurrent denies only the one whose
// write wins restores. A failed restore clears the marker again.
func (s *BookingService) releaseInterval(ctx context.Context, b *models.Booking) error {
	if b.ReleasedAt == nil {
		now := s.now().UTC()
		b.ReleasedAt = &now
		b.UpdatedAt = now
		if err := s.store.UpdateBookingWithVersion(ctx, b); err != nil {
			b.ReleasedAt = nil
			return err
		}
	}

	if err := s.restoreInterval(ctx, b); err != nil {
		b.ReleasedAt = nil
		if uerr := s.store.UpdateBookingWithVersion(context.WithoutCancel(ctx), b); uerr != nil {
			s.logger.Error().Err(uerr).Int64("booking_id", b.ID).
				Msg("Interval not released and release marker not cleared, reconcile required")
		}
		return err
	}
	return nil
}

func (s *BookingService) toAccepted(ctx context.Context, b *models.Booking) (*transition, error) {
	prev := b.Status
	if err := s.payments.Capture(ctx, b); err != nil {
		return nil, err
	}

	saved, err := s.persistAfterPayment(ctx, b, prev, models.StatusAccepted, "capture", func(cur *models.Booking, now time.Time) {
		cur.Status = models.StatusAccepted
		cur.RespondedAt = stamp(cur.RespondedAt, now)
		cur.CapturedAt = stamp(cur.CapturedAt, now)
	})
	if err != nil {
		return nil, err
	}
	return &transition{
		booking:  saved,
		previous: prev,
		notices: []notice{
			{models.EventAccepted, models.RoleRenter},
			{models.EventAccepted, models.RoleOwner},
			{models.EventReceipt, models.RoleRenter},
			{models.EventReceipt, models.RoleOwner},
		},
		events: []string{events.EventBookingStatusChanged, events.EventPaymentCaptured},
	}, nil
}

func (s *BookingService) toEndedDenied(ctx context.Context, b *models.Booking) (*transition, error) {
	prev := b.Status
	now := s.now().UTC()
	b.Status = models.StatusEndedDenied
	b.RenterEndedAt = stamp(b.RenterEndedAt, now)
	b.OwnerEndedAt = stamp(b.OwnerEndedAt, now)
	b.UpdatedAt = now
	if err := s.store.UpdateBookingWithVersion(ctx, b); err != nil {
		return nil, err
	}
	return &transition{booking: b, previous: prev, events: []string{events.EventBookingStatusChanged}}, nil
}

// toReturned records one party's return. The second return pays the owner
// out and ends the booking.
func (s *BookingService) toReturned(ctx context.Context, b *models.Booking, target string) (*transition, error) {
	prev := b.Status
	actingRole, otherRole := models.RoleRenter, models.RoleOwner
	otherReturned := models.StatusOwnerReturned
	if target == models.StatusOwnerReturned {
		actingRole, otherRole = models.RoleOwner, models.RoleRenter
		otherReturned = models.StatusRenterReturned
	}

	if b.Status != otherReturned {
		now := s.now().UTC()
		b.Status = target
		stampEnded(b, actingRole, now)
		b.UpdatedAt = now
		if err := s.store.UpdateBookingWithVersion(ctx, b); err != nil {
			return nil, err
		}
		return &transition{
			booking:  b,
			previous: prev,
			notices:  []notice{{models.EventReturned, otherRole}},
			events:   []string{events.EventBookingStatusChanged},
		}, nil
	}

	if err := s.payments.Payout(ctx, b); err != nil {
		return nil, err
	}
	saved, err := s.persistAfterPayment(ctx, b, prev, models.StatusEnded, "payout", func(cur *models.Booking, now time.Time) {
		cur.Status = models.StatusEnded
		stampEnded(cur, models.RoleRenter, now)
		stampEnded(cur, models.RoleOwner, now)
		cur.PayoutAt = stamp(cur.PayoutAt, now)
	})
	if err != nil {
		return nil, err
	}
	return &transition{
		booking:  saved,
		previous: prev,
		notices: []notice{
			{models.EventReturned, otherRole},
			{models.EventEnded, models.RoleRenter},
			{models.EventEnded, models.RoleOwner},
			{models.EventPayout, models.RoleOwner},
		},
		events: []string{events.EventBookingStatusChanged, events.EventPayoutSent},
	}, nil
}

// persistAfterPayment writes the status that follows an irreversible gateway
// call. The write is retried on a fresh copy, never the gateway call, and
// only while the fresh copy is still in the from status.
func (s *BookingService) persistAfterPayment(ctx context.Context, b *models.Booking, from, to, op string, mutate func(cur *models.Booking, now time.Time)) (*models.Booking, error) {
	ctx = context.WithoutCancel(ctx)
	cur := b
	var saved *models.Booking

	err := s.retry.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			fresh, err := s.store.GetBooking(ctx, b.ID)
			if err != nil {
				return err
			}
			switch fresh.Status {
			case to:
				// Записано параллельным вызовом той же операции.
				saved = fresh
				return nil
			case from:
				cur = fresh
			default:
				return worker.Permanent(fmt.Errorf("%w: %s -> %s", errStatusMoved, from, fresh.Status))
			}
		}
		now := s.now().UTC()
		mutate(cur, now)
		cur.UpdatedAt = now
		if err := s.store.UpdateBookingWithVersion(ctx, cur); err != nil {
			return err
		}
		saved = cur
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).
			Int64("booking_id", b.ID).
			Str("operation", op).
			Msg("Gateway operation succeeded but status was not saved, reconcile required")
		if errors.Is(err, errStatusMoved) {
			return nil, apperr.Conflict(op + " succeeded but the booking was changed concurrently, reconcile required")
		}
		return nil, apperr.Internal(op+" succeeded but the booking could not be updated", err)
	}
	return saved, nil
}

func (s *BookingService) afterCommit(ctx context.Context, t *transition, actorID int64) {
	if len(t.notices) > 0 && s.notifier != nil {
		extra := s.describeItem(ctx, t.booking)
		for _, n := range t.notices {
			msg := notify.ForBooking(t.booking, n.event, n.role, extra)
			if err := s.notifier.Emit(ctx, msg); err != nil {
				s.logger.Warn().Err(err).Str("event_key", msg.EventKey).Msg("Failed to emit notification")
			}
		}
	}
	for _, e := range t.events {
		s.publishEvent(e, t.booking, t.previous, actorID)
	}
}

// describeItem returns the category's notification fields, or nil when the
// item can no longer be read.
func (s *BookingService) describeItem(ctx context.Context, b *models.Booking) map[string]any {
	category, ok := s.categories.Category(b.Category)
	if !ok {
		return nil
	}
	item, err := category.ReadSnapshot(ctx, b.ItemID)
	if err != nil {
		return nil
	}
	return category.DescribeForNotification(item)
}

func stamp(existing *time.Time, now time.Time) *time.Time {
	if existing != nil {
		return existing
	}
	return &now
}

func stampEnded(b *models.Booking, role string, now time.Time) {
	if role == models.RoleOwner {
		b.OwnerEndedAt = stamp(b.OwnerEndedAt, now)
		return
	}
	b.RenterEndedAt = stamp(b.RenterEndedAt, now)
}

func transitionError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, database.ErrConcurrentModification) {
		return apperr.Conflict("booking was modified concurrently, try again")
	}
	return apperr.Internal("failed to update booking", err)
}
