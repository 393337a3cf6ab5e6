package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gearshare/internal/apperr"
	"gearshare/internal/availability"
	"gearshare/internal/config"
	"gearshare/internal/models"
	"gearshare/internal/service"
)

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) Create(ctx context.Context, req service.CreateRequest) (*service.CreateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CreateResult), args.Error(1)
}

func (m *mockBookings) GetBooking(ctx context.Context, actorID, bookingID int64) (*models.Booking, error) {
	args := m.Called(ctx, actorID, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockBookings) UpdateStatus(ctx context.Context, actorID, bookingID int64, target, preauthRef string) (*models.Booking, error) {
	args := m.Called(ctx, actorID, bookingID, target, preauthRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockBookings) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Booking), args.Error(1)
}

type mockCalendars struct {
	mock.Mock
}

func (m *mockCalendars) GetCalendar(ctx context.Context, itemID int64) ([]models.Interval, error) {
	args := m.Called(ctx, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Interval), args.Error(1)
}

func (m *mockCalendars) SetCalendar(ctx context.Context, actorID, itemID int64, inputs []availability.IntervalInput) ([]models.Interval, error) {
	args := m.Called(ctx, actorID, itemID, inputs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Interval), args.Error(1)
}

type fakeLedger struct {
	from, to time.Time
}

func (f *fakeLedger) Write(_ context.Context, w io.Writer, from, to time.Time) (int, error) {
	f.from, f.to = from, to
	_, err := w.Write([]byte("PK-xlsx"))
	return 1, err
}

type httpFixture struct {
	bookings  *mockBookings
	calendars *mockCalendars
	ledger    *fakeLedger
	handler   http.Handler
}

func newHTTPFixture(t *testing.T) *httpFixture {
	t.Helper()
	logger := zerolog.Nop()
	f := &httpFixture{bookings: new(mockBookings), calendars: new(mockCalendars), ledger: &fakeLedger{}}
	cfg := &config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true, Port: 0}}
	srv := NewHTTPServer(cfg, Deps{Bookings: f.bookings, Calendars: f.calendars, Ledger: f.ledger}, &logger)
	f.handler = srv.Handler()
	t.Cleanup(func() {
		f.bookings.AssertExpectations(t)
		f.calendars.AssertExpectations(t)
	})
	return f
}

func (f *httpFixture) do(method, path, actor, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.do(http.MethodGet, healthPath, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateBooking(t *testing.T) {
	f := newHTTPFixture(t)
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	f.bookings.On("Create", mock.Anything, service.CreateRequest{
		RenterID: 1, Category: "camera", ItemID: 7,
		Start: start, End: start.Add(48 * time.Hour), CardID: "card-1",
	}).Return(&service.CreateResult{BookingID: 10, Status: models.StatusPreCreate, RenterPrice: 20, VerificationURL: "https://3ds"}, nil)

	body := `{"category":"camera","item_id":7,"start":"2025-07-01T00:00:00Z","end":"2025-07-03T00:00:00Z","card_id":"card-1"}`
	rec := f.do(http.MethodPost, "/api/v1/bookings", "1", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	out := decodeJSON(t, rec)
	assert.Equal(t, float64(10), out["booking_id"])
	assert.Equal(t, "https://3ds", out["verification_url"])
}

func TestCreateBooking_Errors(t *testing.T) {
	f := newHTTPFixture(t)

	t.Run("NoActor", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/bookings", "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("BadJSON", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/api/v1/bookings", "1", `{"unknown":1}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Conflict", func(t *testing.T) {
		f.bookings.On("Create", mock.Anything, mock.MatchedBy(func(r service.CreateRequest) bool { return r.ItemID == 99 })).
			Return(nil, apperr.Conflict("interval is not available")).Once()
		rec := f.do(http.MethodPost, "/api/v1/bookings", "1", `{"category":"camera","item_id":99}`)
		assert.Equal(t, http.StatusConflict, rec.Code)

		out := decodeJSON(t, rec)
		errBody := out["error"].(map[string]any)
		assert.Equal(t, string(apperr.KindConflict), errBody["code"])
	})

	t.Run("InternalHidesCause", func(t *testing.T) {
		f.bookings.On("Create", mock.Anything, mock.MatchedBy(func(r service.CreateRequest) bool { return r.ItemID == 98 })).
			Return(nil, errors.New("sqlite: disk I/O error")).Once()
		rec := f.do(http.MethodPost, "/api/v1/bookings", "1", `{"item_id":98}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "sqlite")
	})
}

func TestGetBooking(t *testing.T) {
	f := newHTTPFixture(t)
	f.bookings.On("GetBooking", mock.Anything, int64(2), int64(5)).Return(&models.Booking{ID: 5, Status: models.StatusPending}, nil)
	f.bookings.On("GetBooking", mock.Anything, int64(3), int64(5)).Return(nil, apperr.Authorization("only the renter or the owner may view this booking"))

	rec := f.do(http.MethodGet, "/api/v1/bookings/5", "2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusPending, decodeJSON(t, rec)["status"])

	rec = f.do(http.MethodGet, "/api/v1/bookings/5", "3", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/bookings/abc", "2", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestListBookings(t *testing.T) {
	f := newHTTPFixture(t)
	f.bookings.On("ListBookings", mock.Anything, models.BookingFilter{
		PartyID: 2, ItemID: 7, Statuses: []string{"pending", "accepted"}, Limit: 10,
	}).Return([]*models.Booking(nil), nil)

	rec := f.do(http.MethodGet, "/api/v1/bookings?status=pending,accepted&item_id=7&limit=10", "2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decodeJSON(t, rec)["bookings"])

	rec = f.do(http.MethodGet, "/api/v1/bookings?limit=ten", "2", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestUpdateStatus(t *testing.T) {
	f := newHTTPFixture(t)
	f.bookings.On("UpdateStatus", mock.Anything, int64(2), int64(5), models.StatusAccepted, "").
		Return(&models.Booking{ID: 5, Status: models.StatusAccepted}, nil)
	f.bookings.On("UpdateStatus", mock.Anything, int64(2), int64(6), models.StatusAccepted, "").
		Return(nil, apperr.Payment("capture declined", nil))

	rec := f.do(http.MethodPost, "/api/v1/bookings/5/status", "2", `{"status":"accepted"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusAccepted, decodeJSON(t, rec)["status"])

	rec = f.do(http.MethodPost, "/api/v1/bookings/6/status", "2", `{"status":"accepted"}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestCalendarEndpoints(t *testing.T) {
	f := newHTTPFixture(t)
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	free := []models.Interval{models.NewInterval(day, day.AddDate(0, 1, 0))}
	inputs := []availability.IntervalInput{{Start: "2025-06-01", End: "2025-07-01"}}

	f.calendars.On("GetCalendar", mock.Anything, int64(7)).Return(free, nil)
	f.calendars.On("SetCalendar", mock.Anything, int64(2), int64(7), inputs).Return(free, nil)
	f.calendars.On("SetCalendar", mock.Anything, int64(1), int64(7), inputs).Return(nil, apperr.Authorization("only the owner may edit the calendar"))

	rec := f.do(http.MethodGet, "/api/v1/items/7/calendar", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	intervals := decodeJSON(t, rec)["intervals"].([]any)
	require.Len(t, intervals, 1)
	assert.Equal(t, "2025-06-01T00:00:00Z", intervals[0].(map[string]any)["start"])

	body := `{"intervals":[{"start":"2025-06-01","end":"2025-07-01"}]}`
	rec = f.do(http.MethodPut, "/api/v1/items/7/calendar", "2", body)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodPut, "/api/v1/items/7/calendar", "1", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLedgerReport(t *testing.T) {
	f := newHTTPFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/reports/bookings.xlsx?from=2025-07-01&to=2025-08-01", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "bookings_2025-07-01_2025-08-01.xlsx")
	assert.Equal(t, time.July, f.ledger.from.Month())

	rec = f.do(http.MethodGet, "/api/v1/reports/bookings.xlsx?from=2025-08-01&to=2025-07-01", "", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestNotFoundRoute(t *testing.T) {
	f := newHTTPFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/unknown", "1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
