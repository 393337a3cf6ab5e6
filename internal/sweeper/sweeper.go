// Package sweeper periodically scans live bookings and emits time-based
// reminders. It never changes a booking's status.
package sweeper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gearshare/internal/config"
	"gearshare/internal/domain"
	"gearshare/internal/metrics"
	"gearshare/internal/models"
	"gearshare/internal/notify"
)

const pageSize = 500

type BookingLister interface {
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

type Sweeper struct {
	bookings BookingLister
	notifier domain.Notifier
	cfg      config.SweeperConfig
	now      func() time.Time
	logger   zerolog.Logger
}

func New(bookings BookingLister, notifier domain.Notifier, cfg config.SweeperConfig, logger *zerolog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.ResponseReminderAfter <= 0 {
		cfg.ResponseReminderAfter = 24 * time.Hour
	}
	if cfg.PickupReminderBefore <= 0 {
		cfg.PickupReminderBefore = 24 * time.Hour
	}
	if cfg.ReturnGrace <= 0 {
		cfg.ReturnGrace = 24 * time.Hour
	}
	return &Sweeper{
		bookings: bookings,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With().Str("component", "sweeper").Logger(),
	}
}

// Start runs a sweep immediately and then on every interval until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	emitted, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Sweep failed")
		return
	}
	if emitted > 0 {
		s.logger.Info().Int("emitted", emitted).Msg("Sweep finished")
	}
}

// Sweep inspects every live booking once and returns how many notifications
// were handed to the notifier. Re-running it is harmless: the event keys
// are stable, so the queue drops repeats.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	emitted := 0

	var lastID int64
	for {
		page, err := s.bookings.ListBookings(ctx, models.BookingFilter{
			Statuses: models.LiveStatuses(),
			Limit:    pageSize,
			ByID:     true,
			AfterID:  lastID,
		})
		if err != nil {
			return emitted, err
		}
		for _, b := range page {
			if ctx.Err() != nil {
				return emitted, ctx.Err()
			}
			lastID = b.ID
			for _, n := range s.due(b, now) {
				if s.emit(ctx, b, n) {
					emitted++
				}
			}
		}
		if len(page) < pageSize {
			return emitted, nil
		}
	}
}

type reminder struct {
	event string
	role  string
}

func both(event string) []reminder {
	return []reminder{{event, models.RoleRenter}, {event, models.RoleOwner}}
}

// due returns the reminders b qualifies for at now.
func (s *Sweeper) due(b *models.Booking, now time.Time) []reminder {
	var out []reminder
	overdue := now.After(b.End.Add(s.cfg.ReturnGrace))

	switch b.Status {
	case models.StatusPending:
		if now.Sub(b.RequestedAt) > s.cfg.ResponseReminderAfter {
			out = append(out, reminder{models.EventResponseReminder, models.RoleOwner})
		}
	case models.StatusAccepted:
		if now.Before(b.Start) && b.Start.Sub(now) <= s.cfg.PickupReminderBefore {
			out = append(out, both(models.EventPickupReminder)...)
		}
		if now.After(b.End) {
			out = append(out, both(models.EventRentalPeriodEnded)...)
		}
		if overdue {
			out = append(out, both(models.EventReturnOverdue)...)
		}
	case models.StatusRenterReturned:
		if overdue {
			out = append(out, reminder{models.EventConfirmReturnReminder, models.RoleOwner})
		}
	case models.StatusOwnerReturned:
		if overdue {
			out = append(out, reminder{models.EventConfirmReturnReminder, models.RoleRenter})
		}
	}
	return out
}

func (s *Sweeper) emit(ctx context.Context, b *models.Booking, r reminder) bool {
	n := notify.ForBooking(b, r.event, r.role, nil)
	if err := s.notifier.Emit(ctx, n); err != nil {
		s.logger.Warn().Err(err).Str("event_key", n.EventKey).Msg("Failed to emit reminder")
		return false
	}
	metrics.IncSweep(r.event)
	return true
}
