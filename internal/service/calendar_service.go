package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"gearshare/internal/apperr"
	"gearshare/internal/availability"
	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/models"
)

// Calendar is the owner-facing side of the availability calendar.
type Calendar interface {
	GetCalendar(ctx context.Context, itemID int64) ([]models.Interval, error)
	SetCalendar(ctx context.Context, itemID int64, inputs []availability.IntervalInput) ([]models.Interval, error)
}

// CalendarService lets item owners publish free intervals.
type CalendarService struct {
	calendar  Calendar
	directory domain.Directory
	logger    *zerolog.Logger
}

func NewCalendarService(calendar Calendar, directory domain.Directory, logger *zerolog.Logger) *CalendarService {
	return &CalendarService{calendar: calendar, directory: directory, logger: logger}
}

func (s *CalendarService) GetCalendar(ctx context.Context, itemID int64) ([]models.Interval, error) {
	if _, err := s.item(ctx, itemID); err != nil {
		return nil, err
	}
	return s.calendar.GetCalendar(ctx, itemID)
}

// SetCalendar replaces the item's free intervals. Only the owner may do it.
func (s *CalendarService) SetCalendar(ctx context.Context, actorID, itemID int64, inputs []availability.IntervalInput) ([]models.Interval, error) {
	item, err := s.item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != actorID {
		return nil, apperr.Authorization("only the owner may edit the calendar")
	}

	set, err := s.calendar.SetCalendar(ctx, itemID, inputs)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("item_id", itemID).Int("intervals", len(set)).Msg("Calendar replaced")
	return set, nil
}

func (s *CalendarService) item(ctx context.Context, itemID int64) (*models.ItemSnapshot, error) {
	item, err := s.directory.GetItemSnapshot(ctx, itemID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, apperr.NotFoundWithID("item", itemID)
	}
	if err != nil {
		return nil, apperr.Internal("failed to load item", err)
	}
	return item, nil
}
