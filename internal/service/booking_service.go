package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"gearshare/internal/apperr"
	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/events"
	"gearshare/internal/models"
	"gearshare/internal/pricing"
	"gearshare/internal/worker"
)

// Payments is the money side of the booking lifecycle.
type Payments interface {
	PreAuthorize(ctx context.Context, b *models.Booking, cardID, returnURL string) (*models.PreAuthResult, error)
	PreauthStatus(ctx context.Context, preauthID string) (string, error)
	Capture(ctx context.Context, b *models.Booking) error
	CaptureState(ctx context.Context, bookingID int64) (domain.LedgerState, error)
	Payout(ctx context.Context, b *models.Booking) error
}

// Deps groups the collaborators of BookingService.
type Deps struct {
	Store      domain.BookingStore
	Directory  domain.Directory
	Calendar   domain.AvailabilityCalendar
	Categories domain.CategoryRegistry
	Rates      domain.ExchangeRates
	Payments   Payments
	Notifier   domain.Notifier
	Events     domain.EventPublisher
	// Retry governs status writes after irreversible gateway calls and
	// interval restores.
	Retry worker.RetryPolicy
}

// BookingService is the booking lifecycle state machine.
type BookingService struct {
	store      domain.BookingStore
	directory  domain.Directory
	calendar   domain.AvailabilityCalendar
	categories domain.CategoryRegistry
	rates      domain.ExchangeRates
	payments   Payments
	notifier   domain.Notifier
	eventBus   domain.EventPublisher
	retry      worker.RetryPolicy
	validate   *validator.Validate
	now        func() time.Time
	logger     *zerolog.Logger
}

func NewBookingService(deps Deps, logger *zerolog.Logger) *BookingService {
	retry := deps.Retry
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 200 * time.Millisecond
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = 5 * time.Second
	}

	return &BookingService{
		store:      deps.Store,
		directory:  deps.Directory,
		calendar:   deps.Calendar,
		categories: deps.Categories,
		rates:      deps.Rates,
		payments:   deps.Payments,
		notifier:   deps.Notifier,
		eventBus:   deps.Events,
		retry:      retry,
		validate:   newValidator(),
		now:        time.Now,
		logger:     logger,
	}
}

// Create prices the request, reserves the interval, persists the booking and
// places the card hold. Any failure after the reservation gives the interval
// back, and a persisted booking is marked failed.
func (s *BookingService) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	start, end := req.Start.UTC(), req.End.UTC()

	category, ok := s.categories.Category(req.Category)
	if !ok {
		return nil, apperr.Validation("unknown category", map[string]any{"category": req.Category})
	}
	item, err := category.ReadSnapshot(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	if item.OwnerID == req.RenterID {
		return nil, apperr.Validation("owners cannot rent their own items", map[string]any{"item_id": item.ID})
	}

	users, err := s.directory.GetUsers(ctx, []int64{req.RenterID, item.OwnerID})
	if err != nil {
		return nil, storeError(err, "user")
	}
	renter, owner := users[0], users[1]

	fx, err := s.rates.Rate(ctx, item.Currency, renter.Currency)
	if err != nil {
		return nil, apperr.Internal("exchange rate unavailable", err)
	}
	ownerRates := pricing.Rates{Day: item.DayRate, Week: item.WeekRate, Month: item.MonthRate}
	renterRates := pricing.ConvertRates(ownerRates, fx)

	ownerPrice := pricing.RoundCents(ownerRates.Price(start, end))
	renterPrice := pricing.RoundCents(renterRates.Price(start, end))
	if ownerPrice <= 0 || renterPrice <= 0 {
		return nil, apperr.Validation("item has no price for this period", map[string]any{"item_id": item.ID})
	}

	renterWallet, err := s.directory.GetWallet(ctx, renter.ID, renter.Currency)
	if err != nil {
		return nil, storeError(err, "wallet")
	}
	ownerWallet, err := s.directory.GetWallet(ctx, owner.ID, item.Currency)
	if err != nil {
		return nil, storeError(err, "wallet")
	}

	// Интервал снимаем до записи бронирования, чтобы гонка отсекалась сразу.
	if err := s.calendar.RemoveInterval(ctx, item.ID, start, end); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	booking := &models.Booking{
		ItemID:         item.ID,
		Category:       category.Name(),
		ItemName:       item.Name,
		PickupLocation: category.PickupLocation(item),
		RenterID:       renter.ID,
		OwnerID:        owner.ID,
		Renter:         models.PartyFromProfile(renter, renterWallet.WalletID),
		Owner:          models.PartyFromProfile(owner, ownerWallet.WalletID),
		Start:          start,
		End:            end,
		OwnerPrice:     ownerPrice,
		OwnerFee:       pricing.Fee(ownerPrice, owner.SellerFeeRate),
		OwnerCurrency:  item.Currency,
		RenterPrice:    renterPrice,
		RenterFee:      pricing.Fee(renterPrice, renter.BuyerFeeRate),
		RenterCurrency: renter.Currency,
		Status:         models.StatusPreCreate,
		RequestedAt:    now,
		UpdatedAt:      now,
	}
	log := s.logger.With().Int64("item_id", item.ID).Int64("renter_id", renter.ID).Logger()

	if err := s.store.CreateBooking(ctx, booking); err != nil {
		s.compensateCreate(ctx, booking, false)
		return nil, apperr.Internal("failed to persist booking", err)
	}
	log = log.With().Int64("booking_id", booking.ID).Logger()

	hold, err := s.payments.PreAuthorize(ctx, booking, req.CardID, req.ReturnURL)
	if err != nil {
		log.Warn().Err(err).Msg("Pre-authorization failed, rolling back booking")
		s.compensateCreate(ctx, booking, true)
		return nil, err
	}

	booking.PreauthID = hold.PreauthID
	booking.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateBookingWithVersion(ctx, booking); err != nil {
		log.Error().Err(err).Str("preauth_id", hold.PreauthID).Msg("Failed to store pre-authorization, rolling back booking")
		s.compensateCreate(ctx, booking, true)
		return nil, apperr.Internal("failed to persist booking", err)
	}

	log.Info().Float64("renter_price", booking.RenterPrice).Str("currency", booking.RenterCurrency).Msg("Booking created")
	s.publishEvent(events.EventBookingCreated, booking, "", renter.ID)

	return &CreateResult{
		BookingID:       booking.ID,
		Status:          booking.Status,
		RenterPrice:     booking.RenterPrice,
		RenterFee:       booking.RenterFee,
		RenterCurrency:  booking.RenterCurrency,
		OwnerPrice:      booking.OwnerPrice,
		OwnerFee:        booking.OwnerFee,
		OwnerCurrency:   booking.OwnerCurrency,
		VerificationURL: hold.VerificationURL,
	}, nil
}

// compensateCreate undoes a partially created booking. It runs detached from
// the request context so that a cancelled client still gets its interval back.
func (s *BookingService) compensateCreate(ctx context.Context, b *models.Booking, persisted bool) {
	ctx = context.WithoutCancel(ctx)
	log := s.logger.With().Int64("item_id", b.ItemID).Int64("booking_id", b.ID).Logger()

	if err := s.restoreInterval(ctx, b); err != nil {
		log.Error().Err(err).Time("start", b.Start).Time("end", b.End).Msg("Failed to restore interval after failed create, reconcile required")
	}

	if !persisted {
		return
	}
	err := s.retry.Do(ctx, func(int) error {
		cur, err := s.store.GetBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		cur.Status = models.StatusFailed
		cur.UpdatedAt = s.now().UTC()
		return s.store.UpdateBookingWithVersion(ctx, cur)
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to mark booking failed")
		return
	}
	b.Status = models.StatusFailed
	s.publishEvent(events.EventBookingFailed, b, models.StatusPreCreate, b.RenterID)
}

func (s *BookingService) restoreInterval(ctx context.Context, b *models.Booking) error {
	return s.retry.Do(ctx, func(int) error {
		return s.calendar.RestoreInterval(ctx, b.ItemID, b.Start, b.End)
	})
}

// GetBooking returns a booking to one of its parties.
func (s *BookingService) GetBooking(ctx context.Context, actorID, bookingID int64) (*models.Booking, error) {
	b, err := s.load(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.IsParty(actorID) {
		return nil, apperr.Authorization("only the renter or the owner may view this booking")
	}
	return b, nil
}

func (s *BookingService) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	if filter.Limit <= 0 {
		filter.Limit = models.DefaultListLimit
	}
	list, err := s.store.ListBookings(ctx, filter)
	if err != nil {
		return nil, apperr.Internal("failed to list bookings", err)
	}
	return list, nil
}

func (s *BookingService) load(ctx context.Context, bookingID int64) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.NotFoundWithID("booking", bookingID)
		}
		return nil, apperr.Internal("failed to load booking", err)
	}
	return b, nil
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, previous string, actorID int64) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, events.PayloadFor(b, previous, actorID)); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

// storeError maps directory lookups to API errors.
func storeError(err error, resource string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, database.ErrNotFound) {
		return apperr.NotFound(resource)
	}
	return apperr.Internal("failed to load "+resource, err)
}
