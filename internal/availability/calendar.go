package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gearshare/internal/apperr"
	"gearshare/internal/models"
)

// Store persists free intervals. UpdateAvailability must run fn and write
// its result inside one transaction.
type Store interface {
	GetAvailability(ctx context.Context, itemID int64) ([]models.Interval, error)
	ReplaceAvailability(ctx context.Context, itemID int64, intervals []models.Interval) error
	UpdateAvailability(ctx context.Context, itemID int64, fn func([]models.Interval) ([]models.Interval, error)) error
}

// IntervalInput is an owner-supplied calendar entry.
type IntervalInput struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

type Calendar struct {
	store  Store
	logger zerolog.Logger
}

func NewCalendar(store Store, logger *zerolog.Logger) *Calendar {
	return &Calendar{
		store:  store,
		logger: logger.With().Str("component", "calendar").Logger(),
	}
}

// SetCalendar replaces every free interval of the item. An empty list clears it.
func (c *Calendar) SetCalendar(ctx context.Context, itemID int64, inputs []IntervalInput) ([]models.Interval, error) {
	parsed := make([]models.Interval, 0, len(inputs))
	for i, in := range inputs {
		iv, err := ParseInterval(in)
		if err != nil {
			return nil, apperr.Validation(err.Error(), map[string]any{"index": i})
		}
		parsed = append(parsed, iv)
	}

	normalized := Normalize(parsed)
	if err := c.store.ReplaceAvailability(ctx, itemID, normalized); err != nil {
		return nil, apperr.Internal("replace calendar", err)
	}

	c.logger.Info().
		Int64("item_id", itemID).
		Int("intervals", len(normalized)).
		Msg("Calendar replaced")
	return normalized, nil
}

func (c *Calendar) GetCalendar(ctx context.Context, itemID int64) ([]models.Interval, error) {
	intervals, err := c.store.GetAvailability(ctx, itemID)
	if err != nil {
		return nil, apperr.Internal("load calendar", err)
	}
	return intervals, nil
}

// RemoveInterval reserves [start, end). It fails with a conflict when the span is not free.
func (c *Calendar) RemoveInterval(ctx context.Context, itemID int64, start, end time.Time) error {
	span := models.NewInterval(start, end)
	if !span.Valid() {
		return apperr.Validation("end must be after start", nil)
	}

	err := c.store.UpdateAvailability(ctx, itemID, func(free []models.Interval) ([]models.Interval, error) {
		next, err := Subtract(free, span)
		if err != nil {
			return nil, err
		}
		return mustBeDisjoint(next)
	})
	if errors.Is(err, ErrNotFree) {
		return apperr.Conflict(fmt.Sprintf("item %d is not available for %s", itemID, span))
	}
	if err != nil {
		return apperr.Internal("remove interval", err)
	}

	c.logger.Debug().Int64("item_id", itemID).Stringer("span", span).Msg("Interval removed")
	return nil
}

// RestoreInterval releases [start, end) back to the free set. It is idempotent.
func (c *Calendar) RestoreInterval(ctx context.Context, itemID int64, start, end time.Time) error {
	span := models.NewInterval(start, end)
	if !span.Valid() {
		return apperr.Validation("end must be after start", nil)
	}

	err := c.store.UpdateAvailability(ctx, itemID, func(free []models.Interval) ([]models.Interval, error) {
		return mustBeDisjoint(Restore(free, span))
	})
	if err != nil {
		return apperr.Internal("restore interval", err)
	}

	c.logger.Debug().Int64("item_id", itemID).Stringer("span", span).Msg("Interval restored")
	return nil
}

// mustBeDisjoint aborts a calendar write that would store overlapping
// intervals, which only happens when the stored set was already broken.
func mustBeDisjoint(next []models.Interval) ([]models.Interval, error) {
	if !Disjoint(next) {
		return nil, ErrOverlap
	}
	return next, nil
}

var inputLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// ParseInterval parses an owner entry. Bounds without a zone are read as UTC.
func ParseInterval(in IntervalInput) (models.Interval, error) {
	start, err := parseBound("start", in.Start)
	if err != nil {
		return models.Interval{}, err
	}
	end, err := parseBound("end", in.End)
	if err != nil {
		return models.Interval{}, err
	}

	iv := models.NewInterval(start, end)
	if !iv.Valid() {
		return models.Interval{}, fmt.Errorf("end %q must be after start %q", in.End, in.Start)
	}
	return iv, nil
}

func parseBound(name, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%s %q is not a valid date", name, value)
}
