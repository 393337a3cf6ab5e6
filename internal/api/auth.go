package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"gearshare/internal/config"
	"gearshare/internal/payment"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	actorHeaderDefault    = "x-actor-id"
	clientKeyUnknown      = "unknown"

	permBookingsRead  = "bookings:read"
	permBookingsWrite = "bookings:write"
	permCalendarWrite = "calendar:write"
	permReportsRead   = "reports:read"
)

var (
	errMissingKey       = errors.New("missing api key headers")
	errInvalidKey       = errors.New("invalid api key")
	errInvalidExtra     = errors.New("invalid extra header")
	errPermissionDenied = errors.New("permission denied")
	errRateLimited      = errors.New("rate limit exceeded")
	errMissingActor     = errors.New("missing or invalid actor id")
)

// keyring validates API clients. It is shared by the HTTP and gRPC fronts.
type keyring struct {
	cfg     config.APIConfig
	clients map[string]config.APIClientKey
	limiter *rateLimiter
}

func newKeyring(cfg config.APIConfig) *keyring {
	m := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		m[k.Key] = k
	}
	return &keyring{cfg: cfg, clients: m, limiter: newRateLimiter(cfg.RateLimit)}
}

func (k *keyring) apiKeyHeader() string { return headerName(k.cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault) }
func (k *keyring) extraHeader() string { return headerName(k.cfg.Auth.HeaderExtra, apiExtraHeaderDefault) }
func (k *keyring) actorHeader() string { return headerName(k.cfg.Auth.HeaderActor, actorHeaderDefault) }
func (k *keyring) authEnabled() bool { return k.cfg.Auth.Enabled }

// authenticate checks the key pair and the permission the call needs.
func (k *keyring) authenticate(apiKey, extra, required string) error {
	if apiKey == "" || extra == "" {
		return errMissingKey
	}
	client, ok := k.clients[apiKey]
	if !ok {
		return errInvalidKey
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return errInvalidExtra
	}

	// Пустой список прав означает полный доступ.
	if required == "" || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return errPermissionDenied
}

func headerName(configured, fallback string) string {
	h := strings.ToLower(strings.TrimSpace(configured))
	if h == "" {
		return fallback
	}
	return h
}

func parseActor(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, errMissingActor
	}
	return id, nil
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	keys *keyring
}

func NewHTTPAuth(cfg config.APIConfig) *HTTPAuth {
	return &HTTPAuth{keys: newKeyring(cfg)}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the sandbox page is opened by the renter's browser, which has no API key
		if r.URL.Path == healthPath || strings.HasPrefix(r.URL.Path, payment.SandboxVerificationPath) {
			next.ServeHTTP(w, r)
			return
		}

		if a.keys.authEnabled() {
			err := a.keys.authenticate(
				strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader())),
				strings.TrimSpace(r.Header.Get(a.keys.extraHeader())),
				requiredPermissionHTTP(r),
			)
			if err != nil {
				statusCode := http.StatusUnauthorized
				if errors.Is(err, errPermissionDenied) {
					statusCode = http.StatusForbidden
				}
				writeError(w, statusCode, err.Error())
				return
			}
		}

		if !a.keys.limiter.Allow(a.clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, errRateLimited.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Actor returns the acting user id set by the upstream session layer.
func (a *HTTPAuth) Actor(r *http.Request) (int64, error) {
	return parseActor(r.Header.Get(a.keys.actorHeader()))
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/reports/"):
		return permReportsRead
	case strings.HasPrefix(path, "/api/v1/items/") && r.Method == http.MethodPut:
		return permCalendarWrite
	case r.Method == http.MethodGet:
		return permBookingsRead
	default:
		return permBookingsWrite
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader())); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

// AuthInterceptor applies the same key and rate checks to gRPC calls.
type AuthInterceptor struct {
	keys *keyring
}

func NewAuthInterceptor(cfg config.APIConfig) *AuthInterceptor {
	return &AuthInterceptor{keys: newKeyring(cfg)}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if isPublicMethod(info.FullMethod) {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		if a.keys.authEnabled() {
			err := a.keys.authenticate(first(md.Get(a.keys.apiKeyHeader())), first(md.Get(a.keys.extraHeader())), requiredPermission(info.FullMethod))
			if errors.Is(err, errPermissionDenied) {
				return nil, status.Error(codes.PermissionDenied, err.Error())
			}
			if err != nil {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
		}

		if !a.keys.limiter.Allow(a.clientKey(ctx, md)) {
			return nil, status.Error(codes.ResourceExhausted, errRateLimited.Error())
		}

		actor, err := parseActor(first(md.Get(a.keys.actorHeader())))
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(withActor(ctx, actor), req)
	}
}

func requiredPermission(fullMethod string) string {
	switch fullMethod {
	case getBookingMethod:
		return permBookingsRead
	case updateStatusMethod:
		return permBookingsWrite
	default:
		return ""
	}
}

func (a *AuthInterceptor) clientKey(ctx context.Context, md metadata.MD) string {
	if apiKey := first(md.Get(a.keys.apiKeyHeader())); apiKey != "" {
		return apiKey
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}

type actorKey struct{}

func withActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func actorFrom(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorKey{}).(int64)
	return id, ok
}
