package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearshare/internal/api"
	"gearshare/internal/apperr"
	"gearshare/internal/availability"
	"gearshare/internal/catalog"
	"gearshare/internal/config"
	"gearshare/internal/database"
	"gearshare/internal/domain"
	"gearshare/internal/events"
	"gearshare/internal/models"
	"gearshare/internal/notify"
	"gearshare/internal/payment"
	"gearshare/internal/pricing"
	"gearshare/internal/repository"
	"gearshare/internal/service"
	"gearshare/internal/worker"
)

const (
	renter   int64 = 1
	owner    int64 = 2
	stranger int64 = 3
	itemID   int64 = 7
)

type stack struct {
	client  *Client
	gateway *payment.SandboxGateway
	db      *database.DB
}

// newStack runs the real booking service behind the HTTP API on an sqlite
// in-memory database and the sandbox gateway.
func newStack(t *testing.T) *stack {
	t.Helper()
	logger := zerolog.Nop()
	ctx := context.Background()

	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, u := range []*models.UserProfile{
		{ID: renter, Name: "Alice", Email: "alice@example.com", Currency: "EUR", BuyerFeeRate: 10},
		{ID: owner, Name: "Bob", Email: "bob@example.com", Currency: "EUR", BankAccountID: "iban-2", SellerFeeRate: 15},
		{ID: stranger, Name: "Mallory", Email: "mallory@example.com", Currency: "EUR"},
	} {
		require.NoError(t, db.UpsertUser(ctx, u))
		require.NoError(t, db.UpsertWallet(ctx, &models.Wallet{UserID: u.ID, Currency: "EUR", WalletID: "w-" + u.Name}))
	}
	require.NoError(t, db.UpsertItem(ctx, &models.ItemSnapshot{
		ID: itemID, Category: "camera", OwnerID: owner, Name: "Leica M6", Currency: "EUR", DayRate: 10, IsActive: true,
	}))

	calendar := availability.NewCalendar(db, &logger)
	_, err = calendar.SetCalendar(ctx, itemID, []availability.IntervalInput{{Start: "2025-06-01", End: "2025-09-01"}})
	require.NoError(t, err)

	registry, err := catalog.NewRegistry([]config.CategoryConfig{{Name: "camera"}}, db)
	require.NoError(t, err)

	gw := payment.NewSandboxGateway("https://gearshare.test")
	platform := payment.NewPlatform("platform", map[string]string{"EUR": "w-platform"})
	notifications := worker.NewNotificationWorker(db, []domain.NotificationSink{notify.NewLogSink(&logger)}, nil, config.WorkerConfig{}, &logger)

	bookings := service.NewBookingService(service.Deps{
		Store:      db,
		Directory:  db,
		Calendar:   calendar,
		Categories: registry,
		Rates:      pricing.NewStaticRates(nil),
		Payments:   payment.NewOrchestrator(gw, repository.NewMemoryOperationLedger(time.Hour), platform, time.Second, &logger),
		Notifier:   notifications,
		Events:     events.NewEventBus(),
		Retry:      worker.RetryPolicy{MaxRetries: 2, InitialDelay: time.Millisecond},
	}, &logger)

	cfg := &config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{{Key: "partner", Extra: "secret"}},
		},
	}
	srv := api.NewHTTPServer(cfg, api.Deps{
		Bookings:  bookings,
		Calendars: service.NewCalendarService(calendar, db, &logger),
		Sandbox:   gw,
	}, &logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &stack{client: New(ts.URL, "partner", "secret"), gateway: gw, db: db}
}

func TestBookingLifecycleOverHTTP(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	res, err := s.client.CreateBooking(ctx, renter, CreateBookingInput{
		Category: "camera", ItemID: itemID, Start: start, End: start.Add(48 * time.Hour), CardID: "card-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPreCreate, res.Status)
	assert.Equal(t, 20.0, res.RenterPrice)
	assert.Equal(t, 2.0, res.RenterFee)
	assert.Contains(t, res.VerificationURL, "https://gearshare.test/sandbox/3ds/")

	b, err := s.client.GetBooking(ctx, renter, res.BookingID)
	require.NoError(t, err)
	require.NotEmpty(t, b.PreauthID)

	steps := []struct {
		actor  int64
		status string
	}{
		{renter, models.StatusPending},
		{owner, models.StatusAccepted},
		{renter, models.StatusRenterReturned},
		{owner, models.StatusOwnerReturned},
	}
	for _, step := range steps {
		b, err = s.client.UpdateStatus(ctx, step.actor, res.BookingID, step.status, "")
		require.NoError(t, err, step.status)
	}
	assert.Equal(t, models.StatusEnded, b.Status)

	kinds := map[string]int{}
	for _, op := range s.gateway.Operations() {
		kinds[op.Kind]++
	}
	assert.Equal(t, map[string]int{"capture": 1, "transfer": 1, "payout": 1}, kinds)

	list, err := s.client.ListBookings(ctx, owner, []string{models.StatusEnded}, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.BookingID, list[0].ID)

	pending, err := s.db.GetPendingNotifications(ctx, 100)
	require.NoError(t, err)
	assert.NotEmpty(t, pending, "transitions enqueue notifications")
}

func TestAPIErrors(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	start := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)

	res, err := s.client.CreateBooking(ctx, renter, CreateBookingInput{
		Category: "camera", ItemID: itemID, Start: start, End: start.Add(24 * time.Hour), CardID: "card-1",
	})
	require.NoError(t, err)

	_, err = s.client.GetBooking(ctx, stranger, res.BookingID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, string(apperr.KindAuthorization), apiErr.Code)

	_, err = s.client.CreateBooking(ctx, renter, CreateBookingInput{
		Category: "camera", ItemID: itemID, Start: start, End: start.Add(24 * time.Hour), CardID: "card-1",
	})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	_, err = s.client.UpdateStatus(ctx, owner, res.BookingID, models.StatusEnded, "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)

	bad := New(s.client.baseURL, "partner", "wrong")
	_, err = bad.GetBooking(ctx, renter, res.BookingID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid extra header", apiErr.Message)
}

func TestCalendarCache(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	s.client.UseRedisCache(rdb, time.Minute)

	free, err := s.client.GetCalendar(ctx, itemID)
	require.NoError(t, err)
	require.Len(t, free, 1)
	assert.True(t, mr.Exists(calendarCacheKey(itemID)))

	// Правка календаря в обход клиента: кэш отдаёт старое значение.
	logger := zerolog.Nop()
	_, err = availability.NewCalendar(s.db, &logger).SetCalendar(ctx, itemID, nil)
	require.NoError(t, err)
	cached, err := s.client.GetCalendar(ctx, itemID)
	require.NoError(t, err)
	assert.Len(t, cached, 1)

	_, err = s.client.SetCalendar(ctx, owner, itemID, []availability.IntervalInput{
		{Start: "2025-06-01", End: "2025-06-10"},
		{Start: "2025-06-20", End: "2025-07-01"},
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists(calendarCacheKey(itemID)))

	fresh, err := s.client.GetCalendar(ctx, itemID)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)

	_, err = s.client.SetCalendar(ctx, renter, itemID, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestSandboxPageDeclinesHold(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()
	start := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

	res, err := s.client.CreateBooking(ctx, renter, CreateBookingInput{
		Category: "camera", ItemID: itemID, Start: start, End: start.Add(24 * time.Hour), CardID: "card-1",
	})
	require.NoError(t, err)

	// Страница открывается браузером арендатора, без ключей API.
	u, err := url.Parse(res.VerificationURL)
	require.NoError(t, err)
	resp, err := http.Get(s.client.baseURL + u.Path + "?result=fail")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := s.client.GetBooking(ctx, renter, res.BookingID)
	require.NoError(t, err)
	_, err = s.client.UpdateStatus(ctx, renter, res.BookingID, models.StatusPending, b.PreauthID)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusPaymentRequired, apiErr.Status)
}
