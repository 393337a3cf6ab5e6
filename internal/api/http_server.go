package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"

	"gearshare/internal/apperr"
	"gearshare/internal/availability"
	"gearshare/internal/config"
	"gearshare/internal/metrics"
	"gearshare/internal/models"
	"gearshare/internal/payment"
	"gearshare/internal/service"
)

const healthPath = "/healthz"

// Bookings is the booking lifecycle as the API fronts see it.
type Bookings interface {
	Create(ctx context.Context, req service.CreateRequest) (*service.CreateResult, error)
	GetBooking(ctx context.Context, actorID, bookingID int64) (*models.Booking, error)
	UpdateStatus(ctx context.Context, actorID, bookingID int64, target, preauthRef string) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
}

type Calendars interface {
	GetCalendar(ctx context.Context, itemID int64) ([]models.Interval, error)
	SetCalendar(ctx context.Context, actorID, itemID int64, inputs []availability.IntervalInput) ([]models.Interval, error)
}

// LedgerWriter renders the booking ledger report.
type LedgerWriter interface {
	Write(ctx context.Context, w io.Writer, from, to time.Time) (int, error)
}

// Deps are the services behind the API. Ledger and Sandbox may be nil.
type Deps struct {
	Bookings  Bookings
	Calendars Calendars
	Ledger    LedgerWriter
	// Sandbox serves the sandbox gateway's verification pages.
	Sandbox http.Handler
}

// HTTPServer exposes the booking API over JSON/HTTP.
type HTTPServer struct {
	deps   Deps
	auth   *HTTPAuth
	router *httprouter.Router
	server *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(cfg *config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		deps:   deps,
		auth:   NewHTTPAuth(*cfg),
		router: httprouter.New(),
		logger: logger.With().Str("component", "http").Logger(),
	}

	r := srv.router
	r.GET(healthPath, srv.route("health", srv.handleHealth))
	r.POST("/api/v1/bookings", srv.route("create_booking", srv.handleCreateBooking))
	r.GET("/api/v1/bookings", srv.route("list_bookings", srv.handleListBookings))
	r.GET("/api/v1/bookings/:id", srv.route("get_booking", srv.handleGetBooking))
	r.POST("/api/v1/bookings/:id/status", srv.route("update_status", srv.handleUpdateStatus))
	r.GET("/api/v1/items/:id/calendar", srv.route("get_calendar", srv.handleGetCalendar))
	r.PUT("/api/v1/items/:id/calendar", srv.route("set_calendar", srv.handleSetCalendar))
	r.GET("/api/v1/reports/bookings.xlsx", srv.route("ledger_report", srv.handleLedgerReport))
	if deps.Sandbox != nil {
		r.Handler(http.MethodGet, payment.SandboxVerificationPath+":id", deps.Sandbox)
	}
	r.PanicHandler = srv.handlePanic

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.loggingMiddleware(s.auth.Wrap(s.router))
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return errors.New("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// route records per-endpoint metrics under a stable name.
func (s *HTTPServer) route(name string, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		rec, ok := w.(*statusRecorder)
		if !ok {
			rec = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		}
		h(rec, r, ps)
		metrics.IncHTTP(name, rec.status)
	}
}

func (s *HTTPServer) handlePanic(w http.ResponseWriter, r *http.Request, v interface{}) {
	s.logger.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("Handler panicked")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

type errorBody struct {
	Error *apperr.Error `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeAppError renders a service error. Causes are never sent to clients.
func (s *HTTPServer) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal("internal error", err)
	}
	if appErr.Kind == apperr.KindInternal {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, appErr.HTTPStatus(), errorBody{Error: appErr})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
