package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"gearshare/internal/config"
)

func authConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "web-key", Extra: "web-extra"},
				{Key: "ro-key", Extra: "ro-extra", Permissions: []string{permBookingsRead}},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 100, Burst: 200},
	}
}

func TestAuthInterceptor(t *testing.T) {
	interceptor := NewAuthInterceptor(authConfig()).Unary()

	var gotActor int64
	handler := func(ctx context.Context, _ any) (any, error) {
		gotActor, _ = actorFrom(ctx)
		return "ok", nil
	}
	info := &grpc.UnaryServerInfo{FullMethod: updateStatusMethod}

	call := func(pairs ...string) error {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
		_, err := interceptor(ctx, "req", info, handler)
		return err
	}

	t.Run("Success", func(t *testing.T) {
		err := call("x-api-key", "web-key", "x-api-extra", "web-extra", "x-actor-id", "42")
		assert.NoError(t, err)
		assert.Equal(t, int64(42), gotActor)
	})

	t.Run("MissingMetadata", func(t *testing.T) {
		_, err := interceptor(context.Background(), "req", info, handler)
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidKey", func(t *testing.T) {
		err := call("x-api-key", "nope", "x-api-extra", "web-extra", "x-actor-id", "42")
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("InvalidExtra", func(t *testing.T) {
		err := call("x-api-key", "web-key", "x-api-extra", "nope", "x-actor-id", "42")
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("PermissionDenied", func(t *testing.T) {
		err := call("x-api-key", "ro-key", "x-api-extra", "ro-extra", "x-actor-id", "42")
		assert.Equal(t, codes.PermissionDenied, status.Code(err))
	})

	t.Run("MissingActor", func(t *testing.T) {
		err := call("x-api-key", "web-key", "x-api-extra", "web-extra", "x-actor-id", "abc")
		assert.Equal(t, codes.Unauthenticated, status.Code(err))
	})

	t.Run("HealthIsPublic", func(t *testing.T) {
		_, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
		assert.NoError(t, err)
	})
}

func TestAuthInterceptor_RateLimit(t *testing.T) {
	cfg := authConfig()
	cfg.Auth.Enabled = false
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 1}
	interceptor := NewAuthInterceptor(cfg).Unary()

	handler := func(context.Context, any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: getBookingMethod}
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-api-key", "k", "x-actor-id", "1"))

	_, err := interceptor(ctx, "req", info, handler)
	assert.NoError(t, err)
	_, err = interceptor(ctx, "req", info, handler)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestHTTPAuth(t *testing.T) {
	auth := NewHTTPAuth(authConfig())
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := auth.Wrap(next)

	cases := []struct {
		name   string
		method string
		path   string
		key    string
		extra  string
		want   int
	}{
		{"Health", http.MethodGet, healthPath, "", "", http.StatusNoContent},
		{"SandboxPage", http.MethodGet, "/sandbox/3ds/pa-1", "", "", http.StatusNoContent},
		{"MissingHeaders", http.MethodGet, "/api/v1/bookings/1", "", "", http.StatusUnauthorized},
		{"InvalidKey", http.MethodGet, "/api/v1/bookings/1", "nope", "web-extra", http.StatusUnauthorized},
		{"FullAccess", http.MethodPost, "/api/v1/bookings", "web-key", "web-extra", http.StatusNoContent},
		{"ReadOnlyRead", http.MethodGet, "/api/v1/bookings/1", "ro-key", "ro-extra", http.StatusNoContent},
		{"ReadOnlyWrite", http.MethodPost, "/api/v1/bookings/1/status", "ro-key", "ro-extra", http.StatusForbidden},
		{"ReadOnlyCalendar", http.MethodPut, "/api/v1/items/1/calendar", "ro-key", "ro-extra", http.StatusForbidden},
		{"ReadOnlyReports", http.MethodGet, "/api/v1/reports/bookings.xlsx", "ro-key", "ro-extra", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
				req.Header.Set("X-API-Extra", tc.extra)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 0.001, Burst: 2})
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "limits are per key")

	assert.True(t, newRateLimiter(config.APIRateLimitConfig{}).Allow("a"), "zero rate disables limiting")
}

func TestParseActor(t *testing.T) {
	id, err := parseActor(" 7 ")
	assert.NoError(t, err)
	assert.Equal(t, int64(7), id)

	for _, raw := range []string{"", "0", "-3", "x"} {
		_, err := parseActor(raw)
		assert.ErrorIs(t, err, errMissingActor, raw)
	}
}
